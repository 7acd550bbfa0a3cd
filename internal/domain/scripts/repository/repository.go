package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/scripts"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collection = "scripts"

type Script struct {
	coll *mongodriver.Collection
}

func NewScript(db *mongodriver.Database) *Script {
	return &Script{coll: db.Collection(collection)}
}

// EnsureIndexes creates the per-user history index (newest first).
func (r *Script) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("user_created_desc"),
	})
	if err != nil {
		return fmt.Errorf("scripts ensure indexes: %w", err)
	}
	return nil
}

// MongoDB stores milliseconds.
func toMS(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

// parseID treats a malformed id as a missing document.
func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, scripts.ErrNotFound
	}
	return oid, nil
}

func (r *Script) Create(ctx context.Context, s *scripts.Script) error {
	now := toMS(time.Now())
	s.CreatedAt = now
	s.UpdatedAt = now

	res, err := r.coll.InsertOne(ctx, s)
	if err != nil {
		return fmt.Errorf("insert script: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("insert script: unexpected id type %T", res.InsertedID)
	}
	s.ID = oid
	return nil
}

func (r *Script) ListByUser(ctx context.Context, userID string) ([]scripts.Script, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find scripts: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]scripts.Script, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode scripts: %w", err)
	}
	return out, nil
}

func (r *Script) FindOwned(ctx context.Context, id, userID string) (*scripts.Script, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var out scripts.Script
	err = r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "user_id", Value: userID}}).Decode(&out)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, scripts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find script: %w", err)
	}
	return &out, nil
}

func (r *Script) UpdateOwned(ctx context.Context, id, userID, name, description string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: oid}, {Key: "user_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "name", Value: name},
			{Key: "description", Value: description},
			{Key: "updated_at", Value: toMS(time.Now())},
		}}},
	)
	if err != nil {
		return fmt.Errorf("update script: %w", err)
	}
	if res.MatchedCount == 0 {
		return scripts.ErrNotFound
	}
	return nil
}

func (r *Script) DeleteOwned(ctx context.Context, id, userID string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	res, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "user_id", Value: userID}})
	if err != nil {
		return fmt.Errorf("delete script: %w", err)
	}
	if res.DeletedCount == 0 {
		return scripts.ErrNotFound
	}
	return nil
}
