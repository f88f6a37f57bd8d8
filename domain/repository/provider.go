package repository

import (
	"context"
	"time"

	"crosspost/domain/model"
)

// IProviderPolicy is the per-provider half of the token lifecycle: expiry
// buffers plus the provider's exchange/refresh/account calls. Buffers vary by
// orders of magnitude across providers (minutes to tens of days), so they
// live on the policy rather than in the driver.
type IProviderPolicy interface {
	Platform() string

	// AccessBuffer is subtracted from the access-token expiry when deciding
	// whether a just-in-time refresh is due.
	AccessBuffer() time.Duration
	// RefreshBuffer is subtracted from the refresh-token expiry when deciding
	// whether the authorization is still complete.
	RefreshBuffer() time.Duration

	// AuthorizeURL builds the provider's consent URL for the given state
	// nonce.
	AuthorizeURL(creds model.Credentials, redirectURI, state string) (string, error)
	ExchangeCode(ctx context.Context, code string, creds model.Credentials, redirectURI string) (model.Authorization, error)
	Refresh(ctx context.Context, auth model.Authorization, creds model.Credentials) (model.Authorization, error)
	Accounts(ctx context.Context, accessToken string) ([]model.Account, error)
}
