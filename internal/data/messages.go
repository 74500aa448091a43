package data

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type messageDoc struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	ConversationID bson.ObjectID `bson:"conversation_id"`
	SenderID       bson.ObjectID `bson:"sender_id"`
	Type           string        `bson:"type"`
	Content        string        `bson:"content"`
	CreatedAt      time.Time     `bson:"created_at"`
}

func (d *messageDoc) record() *Message {
	return &Message{
		ID:             d.ID.Hex(),
		ConversationID: d.ConversationID.Hex(),
		SenderID:       d.SenderID.Hex(),
		Type:           d.Type,
		Content:        d.Content,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// CreateMessage inserts a message document and returns the saved record.
func (m *MessagesStore) CreateMessage(ctx context.Context, in NewMessage) (*Message, error) {
	cid, err := bson.ObjectIDFromHex(in.ConversationID)
	if err != nil {
		return nil, ErrNotFound
	}
	sid, err := bson.ObjectIDFromHex(in.SenderID)
	if err != nil {
		return nil, ErrNotFound
	}

	doc := &messageDoc{
		// assigned here rather than by the server so ids follow insert order
		ID:             bson.NewObjectID(),
		ConversationID: cid,
		SenderID:       sid,
		Type:           in.Type,
		Content:        in.Content,
		CreatedAt:      now(),
	}
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return doc.record(), nil
}

// ListMessagesForConversation returns the full history of a conversation in
// ascending creation order, ties broken by id.
func (m *MessagesStore) ListMessagesForConversation(ctx context.Context, conversationID string) ([]*Message, error) {
	cid, err := bson.ObjectIDFromHex(conversationID)
	if err != nil {
		return []*Message{}, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.coll.Find(ctx, bson.M{"conversation_id": cid}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]*Message, 0, len(docs))
	for i := range docs {
		messages = append(messages, docs[i].record())
	}
	return messages, nil
}
