package model

import "time"

// Credentials are the OAuth client credentials for one provider. The secret
// is optional for public-client flows (e.g. PKCE-only providers).
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

func (c Credentials) IsComplete() bool {
	return c.ClientID != ""
}

// Authorization is the access/refresh token pair for one destination.
// AccessTokenExpiresAt is a pointer because some providers rotate access
// tokens server-side and only the refresh-token expiry is meaningful.
type Authorization struct {
	AccessToken           string            `json:"accessToken"`
	AccessTokenExpiresAt  *time.Time        `json:"accessTokenExpiresAt,omitempty"`
	RefreshToken          string            `json:"refreshToken"`
	RefreshTokenExpiresAt time.Time         `json:"refreshTokenExpiresAt"`
	Extra                 map[string]string `json:"extra,omitempty"`
}

func (a Authorization) IsZero() bool {
	return a.AccessToken == "" && a.RefreshToken == ""
}

// NeedsAccessRenewal reports whether the access token is within buffer of its
// expiry. Providers without an access expiry never report renewal here; their
// refresh call rotates the token opportunistically.
func (a Authorization) NeedsAccessRenewal(buffer time.Duration, now time.Time) bool {
	if a.AccessTokenExpiresAt == nil {
		return false
	}
	return !a.AccessTokenExpiresAt.Add(-buffer).After(now)
}

// NeedsRefreshRenewal reports whether the refresh token is within buffer of
// its expiry.
func (a Authorization) NeedsRefreshRenewal(buffer time.Duration, now time.Time) bool {
	if a.RefreshTokenExpiresAt.IsZero() {
		return true
	}
	return !a.RefreshTokenExpiresAt.Add(-buffer).After(now)
}

// HasCompleteAuthorization is the gate used before a destination may be
// dispatched: a refresh token with a known expiry that is not yet within the
// provider's renewal buffer.
func (a Authorization) HasCompleteAuthorization(refreshBuffer time.Duration, now time.Time) bool {
	if a.RefreshToken == "" || a.RefreshTokenExpiresAt.IsZero() {
		return false
	}
	return !a.NeedsRefreshRenewal(refreshBuffer, now)
}

// Account is one postable identity on a provider (a channel, page, profile).
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Destination is the per-provider composite the orchestrator works with.
type Destination struct {
	Platform      string        `json:"platform"`
	Credentials   Credentials   `json:"credentials"`
	Authorization Authorization `json:"authorization"`
	Accounts      []Account     `json:"accounts"`
	IsEnabled     bool          `json:"isEnabled"`
	// LastError holds the most recent renewal/exchange failure, surfaced
	// lazily the next time the destination is used.
	LastError string `json:"lastError,omitempty"`
}

func (d Destination) IsComplete() bool {
	return d.Credentials.IsComplete()
}

func (d Destination) IsAuthorized(refreshBuffer time.Duration, now time.Time) bool {
	return d.Authorization.HasCompleteAuthorization(refreshBuffer, now)
}

// IsUsable gates dispatch: enabled, with complete credentials and a live
// refresh token.
func (d Destination) IsUsable(refreshBuffer time.Duration, now time.Time) bool {
	return d.IsEnabled && d.IsComplete() && d.IsAuthorized(refreshBuffer, now)
}

// DestinationRecord is the persisted shape: one row per (user, provider).
type DestinationRecord struct {
	ID            int64         `json:"id"`
	UserID        string        `json:"userId"`
	Platform      string        `json:"platform"`
	Credentials   Credentials   `json:"credentials"`
	Authorization Authorization `json:"authorization"`
	Accounts      []Account     `json:"accounts"`
	IsEnabled     bool          `json:"isEnabled"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}
