package persistence

import (
	"context"
	"fmt"

	"crosspost/domain/repository"
	"crosspost/infrastructure/configuration"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	historyDatabase   = "crosspost"
	historyCollection = "publish_history"
)

// PublishHistoryRepository stores per-destination post outcomes in MongoDB.
// It is an optional collaborator: a nil client disables the audit trail.
type PublishHistoryRepository struct {
	client *mongo.Client
}

func NewPublishHistoryRepository(client *mongo.Client) *PublishHistoryRepository {
	return &PublishHistoryRepository{client: client}
}

// NewMongoClient connects using the configured Mongo settings; empty config
// yields a nil client, which callers treat as "history disabled".
func NewMongoClient(ctx context.Context) (*mongo.Client, error) {
	cfg := configuration.C.Database.Mongo
	if cfg.Host == "" {
		return nil, nil
	}
	uri := fmt.Sprintf("mongodb://%s:%s", cfg.Host, cfg.Port)
	if cfg.User != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s:%s", cfg.User, cfg.Password, cfg.Host, cfg.Port)
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

func (r *PublishHistoryRepository) collection() *mongo.Collection {
	return r.client.Database(historyDatabase).Collection(historyCollection)
}

func (r *PublishHistoryRepository) Record(ctx context.Context, entries []repository.PublishHistoryEntry) error {
	if r.client == nil || len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e)
	}
	_, err := r.collection().InsertMany(ctx, docs)
	return err
}

func (r *PublishHistoryRepository) Recent(ctx context.Context, userID string, limit int) ([]repository.PublishHistoryEntry, error) {
	if r.client == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := r.collection().Find(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []repository.PublishHistoryEntry
	for cursor.Next(ctx) {
		var entry repository.PublishHistoryEntry
		if err := cursor.Decode(&entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, cursor.Err()
}
