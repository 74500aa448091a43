// Package data provides the persistence collaborator: domain records and
// their MongoDB and SQL stores.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/normalize"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type userDoc struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Email     string        `bson:"email"`
	Password  string        `bson:"password"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

func (d *userDoc) record() *User {
	return &User{
		ID:        d.ID.Hex(),
		Email:     d.Email,
		Password:  d.Password,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// UsersStore performs user DB operations against MongoDB.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with hashed password. A taken email
// yields ErrDuplicate.
func (u *UsersStore) CreateUser(ctx context.Context, email, hashedPassword string) (*User, error) {
	ts := now()
	doc := &userDoc{
		Email:     normalize.Email(email),
		Password:  hashedPassword,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	result, err := u.coll.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	doc.ID = result.InsertedID.(bson.ObjectID)
	return doc.record(), nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return u.findOne(ctx, bson.M{"email": normalize.Email(email)})
}

// GetUserByID finds a user by its hex ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return u.findOne(ctx, bson.M{"_id": oid})
}

func (u *UsersStore) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var doc userDoc
	if err := u.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.record(), nil
}

// ListUsersExcept returns every user but id, ordered by email.
func (u *UsersStore) ListUsersExcept(ctx context.Context, id string) ([]*User, error) {
	filter := bson.M{}
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		filter["_id"] = bson.M{"$ne": oid}
	}

	cursor, err := u.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	users := make([]*User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].record())
	}
	return users, nil
}
