package repository

import (
	"context"

	"crosspost/domain/model"
)

// IDestinationStore persists one record per (user, provider). It is the only
// durable state owned by the publish core.
type IDestinationStore interface {
	GetAll(ctx context.Context, userID string) ([]*model.DestinationRecord, error)
	Get(ctx context.Context, userID, platform string) (*model.DestinationRecord, error)
	Upsert(ctx context.Context, rec *model.DestinationRecord) error
	SetEnabled(ctx context.Context, userID, platform string, enabled bool) error
	// ClearAuthorization drops tokens and accounts but preserves credentials.
	ClearAuthorization(ctx context.Context, userID, platform string) error
}
