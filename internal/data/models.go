package data

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no record, including
	// lookups by an identifier that is not well formed for the backend.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("record already exists")
)

// Message type tags.
const (
	TypeText  = "TEXT"
	TypeImage = "IMAGE"
	TypeVideo = "VIDEO"
	TypeAudio = "AUDIO"
)

// User is a registered account. Password holds the bcrypt hash.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PublicUser is the projection of a user other clients may see.
type PublicUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Public strips credentials from u.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email}
}

// Conversation is the unique thread between two distinct users.
type Conversation struct {
	ID        string    `json:"id"`
	UserAID   string    `json:"userAId"`
	UserBID   string    `json:"userBId"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// ConversationDetail is a conversation with both participants resolved.
type ConversationDetail struct {
	Conversation
	UserA PublicUser `json:"userA"`
	UserB PublicUser `json:"userB"`
}

// ConversationSummary is a listing row: the conversation, its participants
// and at most one message, the most recent.
type ConversationSummary struct {
	ConversationDetail
	Messages []*Message `json:"messages"`
}

// Message is an immutable entry in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewMessage carries the caller supplied fields of a message; the store
// assigns ID and CreatedAt.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Type           string
	Content        string
}

// PairKey returns the order independent key of a user pair, so {a,b} and
// {b,a} map to the same conversation.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// now is the server assigned timestamp. Millisecond precision is what every
// backend round-trips losslessly.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
