package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/world-in-progress/canopy/core/logger"
	"github.com/world-in-progress/canopy/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	client *MongoClient
	db     *mongo.Database
}

var _ db.Repository = (*MongoRepository)(nil)

func NewMongoRepository(client *MongoClient) *MongoRepository {
	return &MongoRepository{client: client, db: client.Database}
}

func (r *MongoRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.client.Config.TimeoutDuration())
}

func (r *MongoRepository) Create(ctx context.Context, table string, record map[string]any) (string, error) {
	coll := r.db.Collection(table)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := coll.InsertOne(ctx, bson.M(record))
	if err != nil {
		logger.Error("Insert failed: %v", err)
		return "", err
	}
	return fmt.Sprint(res.InsertedID), nil
}

func (r *MongoRepository) ReadAll(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error) {
	coll := r.db.Collection(table)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	cursor, err := coll.Find(ctx, filterOf(filter))
	if err != nil {
		logger.Error("Query failed: %v", err)
		return nil, err
	}
	defer cursor.Close(ctx)

	results := []map[string]any{}
	if err = cursor.All(ctx, &results); err != nil {
		logger.Error("Failed to decode results: %v", err)
		return nil, err
	}
	return results, nil
}

func (r *MongoRepository) ReadOne(ctx context.Context, table string, filter map[string]any) (map[string]any, error) {
	coll := r.db.Collection(table)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var result map[string]any
	err := coll.FindOne(ctx, filterOf(filter)).Decode(&result)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		logger.Error("Query failed: %v", err)
		return nil, err
	}
	return result, nil
}

// Update sets the given fields on the first matching document.
func (r *MongoRepository) Update(ctx context.Context, table string, filter map[string]any, update map[string]any) error {
	coll := r.db.Collection(table)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := coll.UpdateOne(ctx, filterOf(filter), bson.M{"$set": bson.M(update)})
	if err != nil {
		logger.Error("Update failed: %v", err)
		return err
	}
	if res.MatchedCount == 0 {
		return db.ErrNotFound
	}
	return nil
}

// Upsert replaces the first matching document or inserts record.
func (r *MongoRepository) Upsert(ctx context.Context, table string, filter map[string]any, record map[string]any) error {
	coll := r.db.Collection(table)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := coll.ReplaceOne(ctx, filterOf(filter), bson.M(record), options.Replace().SetUpsert(true))
	if err != nil {
		logger.Error("Upsert failed: %v", err)
		return err
	}
	return nil
}

func (r *MongoRepository) Delete(ctx context.Context, table string, filter map[string]any) error {
	coll := r.db.Collection(table)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := coll.DeleteOne(ctx, filterOf(filter))
	if err != nil {
		logger.Error("Delete failed: %v", err)
		return err
	}
	return nil
}

func (r *MongoRepository) Count(ctx context.Context, table string, filter map[string]any) (int64, error) {
	coll := r.db.Collection(table)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	n, err := coll.CountDocuments(ctx, filterOf(filter))
	if err != nil {
		logger.Error("Count failed: %v", err)
		return 0, err
	}
	return n, nil
}

// EnsureIndex creates an ascending index over fields. Existing indexes are left alone.
func (r *MongoRepository) EnsureIndex(ctx context.Context, table string, fields ...string) error {
	coll := r.db.Collection(table)
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	keys := bson.D{}
	for _, field := range fields {
		keys = append(keys, bson.E{Key: field, Value: 1})
	}
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys}); err != nil {
		logger.Error("Index creation failed: %v", err)
		return err
	}
	logger.Debug("Index on %v ensured for collection %s", fields, table)
	return nil
}

func filterOf(filter map[string]any) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return bson.M(filter)
}
