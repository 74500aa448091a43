package realtime

// Rooms is the many-to-many membership between connections and conversation
// ids. It is not safe for concurrent use; the Hub serializes access.
type Rooms struct {
	members map[string]map[Conn]struct{}
	joined  map[Conn]map[string]struct{}
}

// NewRooms returns an empty multiplexer.
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[Conn]struct{}),
		joined:  make(map[Conn]map[string]struct{}),
	}
}

// Join adds c to room. Joining twice is a no-op.
func (r *Rooms) Join(c Conn, room string) {
	m, ok := r.members[room]
	if !ok {
		m = make(map[Conn]struct{})
		r.members[room] = m
	}
	m[c] = struct{}{}

	j, ok := r.joined[c]
	if !ok {
		j = make(map[string]struct{})
		r.joined[c] = j
	}
	j[room] = struct{}{}
}

// Leave removes c from room. Leaving a room not joined is a no-op.
func (r *Rooms) Leave(c Conn, room string) {
	if m, ok := r.members[room]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(r.members, room)
		}
	}
	if j, ok := r.joined[c]; ok {
		delete(j, room)
		if len(j) == 0 {
			delete(r.joined, c)
		}
	}
}

// LeaveAll removes c from every room it joined.
func (r *Rooms) LeaveAll(c Conn) {
	for room := range r.joined[c] {
		if m, ok := r.members[room]; ok {
			delete(m, c)
			if len(m) == 0 {
				delete(r.members, room)
			}
		}
	}
	delete(r.joined, c)
}

// IsMember reports whether c has joined room.
func (r *Rooms) IsMember(c Conn, room string) bool {
	_, ok := r.members[room][c]
	return ok
}

// Members returns the connections joined to room.
func (r *Rooms) Members(room string) []Conn {
	m := r.members[room]
	out := make([]Conn, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

// Len is the number of non-empty rooms.
func (r *Rooms) Len() int {
	return len(r.members)
}
