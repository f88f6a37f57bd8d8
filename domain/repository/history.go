package repository

import (
	"context"
	"time"
)

// PublishHistoryEntry is one per-destination outcome of a post.
type PublishHistoryEntry struct {
	UserID    string    `bson:"user_id" json:"userId"`
	Platform  string    `bson:"platform" json:"platform"`
	Title     string    `bson:"title" json:"title"`
	ResultID  string    `bson:"result_id,omitempty" json:"resultId,omitempty"`
	Succeeded bool      `bson:"succeeded" json:"succeeded"`
	Error     string    `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// IPublishHistory is the optional audit trail of post outcomes.
type IPublishHistory interface {
	Record(ctx context.Context, entries []PublishHistoryEntry) error
	Recent(ctx context.Context, userID string, limit int) ([]PublishHistoryEntry, error)
}
