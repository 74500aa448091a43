package data

import (
	"context"

	"github.com/PaulBabatuyi/pairchat/internal/db"
)

// Store is the full persistence surface the chat service depends on. Both
// MongoStore and SQLStore satisfy it.
type Store interface {
	CreateUser(ctx context.Context, email, hashedPassword string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	ListUsersExcept(ctx context.Context, id string) ([]*User, error)

	ValidID(id string) bool
	FindConversationByPair(ctx context.Context, a, b string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	CreateConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error)

	CreateMessage(ctx context.Context, in NewMessage) (*Message, error)
	ListMessagesForConversation(ctx context.Context, conversationID string) ([]*Message, error)
}

// MongoStore groups the MongoDB collection stores.
type MongoStore struct {
	*UsersStore
	*ConversationsStore
	*MessagesStore
}

// NewMongoStore binds the stores to the client's collections.
func NewMongoStore(c *db.Client) *MongoStore {
	return &MongoStore{
		UsersStore:         NewUsersStore(c.UsersCollection()),
		ConversationsStore: NewConversationsStore(c.ConversationsCollection()),
		MessagesStore:      NewMessagesStore(c.MessagesCollection()),
	}
}

var (
	_ Store = (*MongoStore)(nil)
	_ Store = (*SQLStore)(nil)
)
