package realtime

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func (f *fakeConn) named(name string) []Event {
	var out []Event
	for _, ev := range f.received() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestHub(t *testing.T, conns ...*fakeConn) *Hub {
	t.Helper()
	h := NewHub(zaptest.NewLogger(t))
	for _, c := range conns {
		require.True(t, h.Register(c))
	}
	return h
}

func statuses(c *fakeConn) []StatusPayload {
	var out []StatusPayload
	for _, ev := range c.named(EventUserStatus) {
		out = append(out, ev.Data.(StatusPayload))
	}
	return out
}

func TestSetOnlineBroadcastsToEveryConnection(t *testing.T) {
	a, b := newFakeConn("a"), newFakeConn("b")
	h := newTestHub(t, a, b)

	h.SetOnline("user-1", a)

	want := []StatusPayload{{UserID: "user-1", Status: StatusOnline}}
	assert.Equal(t, want, statuses(a))
	assert.Equal(t, want, statuses(b))

	got, ok := h.Lookup("user-1")
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestLastWriterWinsAndStaleDisconnectIsSilent(t *testing.T) {
	c1, c2, observer := newFakeConn("c1"), newFakeConn("c2"), newFakeConn("obs")
	h := newTestHub(t, c1, c2, observer)

	h.SetOnline("u", c1)
	h.SetOnline("u", c2)

	got, ok := h.Lookup("u")
	require.True(t, ok)
	assert.Same(t, c2, got)

	h.Unregister(c1)
	assert.True(t, h.IsOnline("u"), "stale disconnect must not mark the user offline")
	assert.Equal(t, []StatusPayload{
		{UserID: "u", Status: StatusOnline},
		{UserID: "u", Status: StatusOnline},
	}, statuses(observer))

	h.Unregister(c2)
	assert.False(t, h.IsOnline("u"))
	assert.Equal(t, StatusPayload{UserID: "u", Status: StatusOffline}, statuses(observer)[2])
}

func TestUnregisterWithoutPresenceEmitsNothing(t *testing.T) {
	anon, observer := newFakeConn("anon"), newFakeConn("obs")
	h := newTestHub(t, anon, observer)

	h.Unregister(anon)
	h.Unregister(anon)
	assert.Empty(t, observer.received())
}

func TestPublishReachesOnlyRoomMembers(t *testing.T) {
	c, other := newFakeConn("c"), newFakeConn("other")
	h := newTestHub(t, c, other)

	h.Join(c, "r1")
	h.Join(c, "r2")
	h.Join(c, "r1")

	assert.Equal(t, 1, h.Publish("r1", Event{Name: EventNewMessage, Data: "m1"}))
	assert.Equal(t, 1, h.Publish("r2", Event{Name: EventNewMessage, Data: "m2"}))
	assert.Equal(t, 0, h.Publish("r3", Event{Name: EventNewMessage, Data: "m3"}))

	assert.Len(t, c.named(EventNewMessage), 2)
	assert.Empty(t, other.received())

	h.Unregister(c)
	assert.Equal(t, 0, h.Publish("r1", Event{Name: EventNewMessage, Data: "after"}))
	assert.Equal(t, 0, h.Publish("r2", Event{Name: EventNewMessage, Data: "after"}))
	assert.Len(t, c.named(EventNewMessage), 2)

	_, _, rooms := h.Counts()
	assert.Zero(t, rooms)
}

func TestLeaveIsIdempotent(t *testing.T) {
	c := newFakeConn("c")
	h := newTestHub(t, c)

	h.Leave(c, "never-joined")
	h.Join(c, "r")
	h.Leave(c, "r")
	h.Leave(c, "r")

	assert.False(t, h.IsMember(c, "r"))
	assert.Equal(t, 0, h.Publish("r", Event{Name: EventNewMessage}))
}

func TestPublishExceptSkipsSender(t *testing.T) {
	sender, peer := newFakeConn("s"), newFakeConn("p")
	h := newTestHub(t, sender, peer)
	h.Join(sender, "r")
	h.Join(peer, "r")

	assert.Equal(t, 1, h.PublishExcept("r", Event{Name: EventTyping}, sender))
	assert.Empty(t, sender.named(EventTyping))
	assert.Len(t, peer.named(EventTyping), 1)
}

func TestPublishPreservesOrderPerConnection(t *testing.T) {
	c := newFakeConn("c")
	h := newTestHub(t, c)
	h.Join(c, "r")

	for i := 0; i < 50; i++ {
		h.Publish("r", Event{Name: EventNewMessage, Data: i})
	}

	got := c.named(EventNewMessage)
	require.Len(t, got, 50)
	for i, ev := range got {
		assert.Equal(t, i, ev.Data)
	}
}

func TestFullConnectionIsDroppedAndMarkedOffline(t *testing.T) {
	slow, fast := newFakeConn("slow"), newFakeConn("fast")
	h := newTestHub(t, slow, fast)
	h.SetOnline("slow-user", slow)
	h.Join(slow, "r")
	h.Join(fast, "r")

	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	assert.Equal(t, 1, h.Publish("r", Event{Name: EventNewMessage}))
	assert.True(t, slow.isClosed())
	assert.False(t, h.IsOnline("slow-user"))
	assert.False(t, h.IsMember(slow, "r"))
	assert.Contains(t, statuses(fast), StatusPayload{UserID: "slow-user", Status: StatusOffline})
}

func TestShutdownClosesConnectionsAndRefusesNew(t *testing.T) {
	a, b := newFakeConn("a"), newFakeConn("b")
	h := newTestHub(t, a, b)

	h.Shutdown()
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.False(t, h.Register(newFakeConn("late")))
}

func TestConcurrentHubUse(t *testing.T) {
	h := NewHub(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			h.Register(c)
			h.SetOnline(fmt.Sprintf("u%d", i), c)
			h.Join(c, "shared")
			h.Publish("shared", Event{Name: EventNewMessage, Data: i})
			if i%2 == 0 {
				h.Unregister(c)
			}
		}(i)
	}
	wg.Wait()

	online := h.OnlineUsers()
	sort.Strings(online)
	assert.Len(t, online, 10)
	conns, users, rooms := h.Counts()
	assert.Equal(t, 10, conns)
	assert.Equal(t, 10, users)
	assert.Equal(t, 1, rooms)
}
