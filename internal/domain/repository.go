package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type groupCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

type attemptCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// naturalOrder sorts by _id, which grows with insertion time.
var naturalOrder = bson.D{{Key: "_id", Value: 1}}

// GroupRepository persists authorized groups in MongoDB, keyed by chat_id.
type GroupRepository struct {
	collection groupCollection
}

// NewGroupRepository constructs a GroupRepository.
func NewGroupRepository(collection groupCollection) *GroupRepository {
	return &GroupRepository{collection: collection}
}

// Upsert writes the group under its chat_id, replacing the name when the
// record already exists. It reports whether a new record was inserted.
func (r *GroupRepository) Upsert(ctx context.Context, chatID int64, name string) (bool, error) {
	if r == nil || r.collection == nil {
		return false, errors.New("group repository is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if chatID == 0 {
		return false, errors.New("chat_id is required")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = UnknownChatName
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	filter := bson.M{"chat_id": chatID}
	update := bson.M{
		"$set": bson.M{
			"name":       name,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"chat_id":  chatID,
			"added_at": now,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent upsert inserted first; the retry takes the update path.
		result, err = r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	}
	if err != nil {
		return false, fmt.Errorf("upsert group: %w", err)
	}

	return result != nil && result.UpsertedCount > 0, nil
}

// Delete removes the group by chat_id and reports whether a record existed.
func (r *GroupRepository) Delete(ctx context.Context, chatID int64) (bool, error) {
	if r == nil || r.collection == nil {
		return false, errors.New("group repository is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if chatID == 0 {
		return false, errors.New("chat_id is required")
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		return false, fmt.Errorf("delete group: %w", err)
	}

	return result != nil && result.DeletedCount > 0, nil
}

// Exists reports whether a group with chat_id is stored.
func (r *GroupRepository) Exists(ctx context.Context, chatID int64) (bool, error) {
	if r == nil || r.collection == nil {
		return false, errors.New("group repository is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"chat_id": chatID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count group: %w", err)
	}

	return count > 0, nil
}

// List returns every stored group in insertion order.
func (r *GroupRepository) List(ctx context.Context) ([]AuthorizedGroup, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("group repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(naturalOrder))
	if err != nil {
		return nil, fmt.Errorf("find groups: %w", err)
	}

	groups := make([]AuthorizedGroup, 0)
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}

	return groups, nil
}

// AttemptRepository appends and reads unauthorized-attempt records.
type AttemptRepository struct {
	collection attemptCollection
}

// NewAttemptRepository constructs an AttemptRepository.
func NewAttemptRepository(collection attemptCollection) *AttemptRepository {
	return &AttemptRepository{collection: collection}
}

// Append inserts a new attempt. The timestamp defaults to now.
func (r *AttemptRepository) Append(ctx context.Context, attempt UnauthorizedAttempt) (UnauthorizedAttempt, error) {
	if r == nil || r.collection == nil {
		return UnauthorizedAttempt{}, errors.New("attempt repository is not initialized")
	}
	if ctx == nil {
		return UnauthorizedAttempt{}, errors.New("context is required")
	}
	if attempt.ChatID == 0 {
		return UnauthorizedAttempt{}, errors.New("chat_id is required")
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC().Truncate(time.Millisecond)
	}

	if _, err := r.collection.InsertOne(ctx, attempt); err != nil {
		return UnauthorizedAttempt{}, fmt.Errorf("insert attempt: %w", err)
	}

	return attempt, nil
}

// List returns the full attempt history in insertion order.
func (r *AttemptRepository) List(ctx context.Context) ([]UnauthorizedAttempt, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("attempt repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(naturalOrder))
	if err != nil {
		return nil, fmt.Errorf("find attempts: %w", err)
	}

	attempts := make([]UnauthorizedAttempt, 0)
	if err := cursor.All(ctx, &attempts); err != nil {
		return nil, fmt.Errorf("decode attempts: %w", err)
	}

	return attempts, nil
}
