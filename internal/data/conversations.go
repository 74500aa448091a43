package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/db"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type conversationDoc struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	UserA     bson.ObjectID `bson:"user_a"`
	UserB     bson.ObjectID `bson:"user_b"`
	PairKey   string        `bson:"pair_key"`
	CreatedAt time.Time     `bson:"created_at"`
}

func (d *conversationDoc) record() *Conversation {
	return &Conversation{
		ID:        d.ID.Hex(),
		UserAID:   d.UserA.Hex(),
		UserBID:   d.UserB.Hex(),
		CreatedAt: d.CreatedAt.UTC(),
	}
}

// ConversationsStore provides conversation operations against MongoDB.
type ConversationsStore struct {
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using coll.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

// ValidID reports whether id is a hex ObjectID.
func (c *ConversationsStore) ValidID(id string) bool {
	_, err := bson.ObjectIDFromHex(id)
	return err == nil
}

// FindConversationByPair returns the conversation between a and b in either
// stored ordering.
func (c *ConversationsStore) FindConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	return c.findOne(ctx, bson.M{"pair_key": PairKey(a, b)})
}

// GetConversation finds a conversation by id.
func (c *ConversationsStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return c.findOne(ctx, bson.M{"_id": oid})
}

func (c *ConversationsStore) findOne(ctx context.Context, filter bson.M) (*Conversation, error) {
	var doc conversationDoc
	if err := c.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return doc.record(), nil
}

// CreateConversation inserts the conversation userA -> userB. If a
// conversation already exists for the unordered pair it returns ErrDuplicate.
func (c *ConversationsStore) CreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	a, err := bson.ObjectIDFromHex(userA)
	if err != nil {
		return nil, ErrNotFound
	}
	b, err := bson.ObjectIDFromHex(userB)
	if err != nil {
		return nil, ErrNotFound
	}

	doc := &conversationDoc{UserA: a, UserB: b, PairKey: PairKey(userA, userB), CreatedAt: now()}
	result, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	doc.ID = result.InsertedID.(bson.ObjectID)
	return doc.record(), nil
}

type summaryDoc struct {
	Conversation conversationDoc `bson:",inline"`
	UserADocs    []userDoc       `bson:"user_a_doc"`
	UserBDocs    []userDoc       `bson:"user_b_doc"`
	LastMessages []messageDoc    `bson:"last_messages"`
}

// ListConversationsForUser returns the conversations where userID is either
// participant, newest first, each with its latest message only.
func (c *ConversationsStore) ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	uid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		return []*ConversationSummary{}, nil
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "user_a", Value: uid}},
				bson.D{{Key: "user_b", Value: uid}},
			}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: db.UsersCollectionName},
			{Key: "localField", Value: "user_a"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "user_a_doc"},
		}}},
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: db.UsersCollectionName},
			{Key: "localField", Value: "user_b"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "user_b_doc"},
		}}},
		// only the newest message is needed for the preview
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: db.MessagesCollectionName},
			{Key: "let", Value: bson.D{{Key: "cid", Value: "$_id"}}},
			{Key: "pipeline", Value: bson.A{
				bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
					{Key: "$eq", Value: bson.A{"$conversation_id", "$$cid"}},
				}}}}},
				bson.D{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},
				bson.D{{Key: "$limit", Value: 1}},
			}},
			{Key: "as", Value: "last_messages"},
		}}},
	}

	cursor, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []summaryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	out := make([]*ConversationSummary, 0, len(docs))
	for i := range docs {
		d := &docs[i]
		s := &ConversationSummary{
			ConversationDetail: ConversationDetail{Conversation: *d.Conversation.record()},
			Messages:           make([]*Message, 0, 1),
		}
		if len(d.UserADocs) > 0 {
			s.UserA = d.UserADocs[0].record().Public()
		}
		if len(d.UserBDocs) > 0 {
			s.UserB = d.UserBDocs[0].record().Public()
		}
		for j := range d.LastMessages {
			s.Messages = append(s.Messages, d.LastMessages[j].record())
		}
		out = append(out, s)
	}
	return out, nil
}
