package realtime

// Presence maps each online user to the one connection that most recently
// announced it. It is not safe for concurrent use; the Hub serializes access.
type Presence struct {
	byUser map[string]Conn
}

// NewPresence returns an empty registry.
func NewPresence() *Presence {
	return &Presence{byUser: make(map[string]Conn)}
}

// SetOnline maps userID to c, replacing any earlier connection.
func (p *Presence) SetOnline(userID string, c Conn) {
	p.byUser[userID] = c
}

// SetOffline removes the entry owned by c. ok is false when c owns no entry,
// e.g. because a newer connection for the same user replaced it.
func (p *Presence) SetOffline(c Conn) (userID string, ok bool) {
	for id, owner := range p.byUser {
		if owner == c {
			delete(p.byUser, id)
			return id, true
		}
	}
	return "", false
}

// Lookup returns the live connection for userID.
func (p *Presence) Lookup(userID string) (Conn, bool) {
	c, ok := p.byUser[userID]
	return c, ok
}

// Users returns the ids of every online user.
func (p *Presence) Users() []string {
	ids := make([]string, 0, len(p.byUser))
	for id := range p.byUser {
		ids = append(ids, id)
	}
	return ids
}
