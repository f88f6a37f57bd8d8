package bluesky

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/clients/transport"
)

const (
	platform = "bluesky"
	pdsURL   = "https://bsky.social"

	createSessionURL  = pdsURL + "/xrpc/com.atproto.server.createSession"
	refreshSessionURL = pdsURL + "/xrpc/com.atproto.server.refreshSession"
	getSessionURL     = pdsURL + "/xrpc/com.atproto.server.getSession"
	createRecordURL   = pdsURL + "/xrpc/com.atproto.repo.createRecord"

	accessTokenTTL  = 2 * time.Hour
	refreshTokenTTL = 90 * 24 * time.Hour
)

// Policy adapts the AT Protocol session model to the token lifecycle: the
// handle and app password sit in the credentials slots, createSession mints
// the token pair, and the account DID rides in Authorization.Extra because
// every publish call needs it.
type Policy struct {
	http          transport.Doer
	accessBuffer  time.Duration
	refreshBuffer time.Duration
}

func NewPolicy(client transport.Doer) *Policy {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Policy{http: client, accessBuffer: 5 * time.Minute, refreshBuffer: 7 * 24 * time.Hour}
}

func (p *Policy) WithBuffers(access, refresh time.Duration) *Policy {
	if access > 0 {
		p.accessBuffer = access
	}
	if refresh > 0 {
		p.refreshBuffer = refresh
	}
	return p
}

func (p *Policy) Platform() string             { return platform }
func (p *Policy) AccessBuffer() time.Duration  { return p.accessBuffer }
func (p *Policy) RefreshBuffer() time.Duration { return p.refreshBuffer }

// AuthorizeURL short-circuits the browser leg: there is no consent screen, so
// the callback fires immediately and the code exchange runs createSession with
// the stored credentials.
func (p *Policy) AuthorizeURL(creds model.Credentials, redirectURI, state string) (string, error) {
	q := url.Values{"state": {state}, "code": {"session"}}
	sep := "?"
	if u, err := url.Parse(redirectURI); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return redirectURI + sep + q.Encode(), nil
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

func fromSession(s sessionResponse) model.Authorization {
	now := time.Now()
	accessExp := now.Add(accessTokenTTL)
	return model.Authorization{
		AccessToken:           s.AccessJwt,
		AccessTokenExpiresAt:  &accessExp,
		RefreshToken:          s.RefreshJwt,
		RefreshTokenExpiresAt: now.Add(refreshTokenTTL),
		Extra:                 map[string]string{"did": s.DID, "handle": s.Handle},
	}
}

func (p *Policy) ExchangeCode(ctx context.Context, code string, creds model.Credentials, redirectURI string) (model.Authorization, error) {
	payload := map[string]string{"identifier": creds.ClientID, "password": creds.ClientSecret}
	var out sessionResponse
	if err := transport.PostJSON(ctx, p.http, createSessionURL, "", payload, &out); err != nil {
		return model.Authorization{}, fmt.Errorf("create session: %w", err)
	}
	return fromSession(out), nil
}

// Refresh rotates the session pair; the refresh JWT is the bearer here.
func (p *Policy) Refresh(ctx context.Context, auth model.Authorization, creds model.Credentials) (model.Authorization, error) {
	var out sessionResponse
	if err := transport.PostJSON(ctx, p.http, refreshSessionURL, auth.RefreshToken, nil, &out); err != nil {
		return model.Authorization{}, fmt.Errorf("refresh session: %w", err)
	}
	return fromSession(out), nil
}

func (p *Policy) Accounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	var out sessionResponse
	if err := transport.GetJSON(ctx, p.http, getSessionURL, accessToken, &out); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return []model.Account{{ID: out.DID, Username: out.Handle}}, nil
}

// Adapter posts a record embedding the HLS playlist URL; the media itself must
// already sit on content-addressed storage, so the upload phase is pure
// validation.
type Adapter struct {
	http transport.Doer
}

func NewAdapter(client transport.Doer) *Adapter {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Adapter{http: client}
}

func (a *Adapter) Platform() string       { return platform }
func (a *Adapter) RequiresVideoURL() bool { return true }
func (a *Adapter) RequiresHLS() bool      { return true }

func (a *Adapter) VariantSpec() model.TrimSpec { return model.TrimSpec{} }

func (a *Adapter) Completion() model.CompletionSpec {
	return model.CompletionSpec{Kind: model.CompletionSync}
}

func (a *Adapter) CheckStatus(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (*model.PollStatus, error) {
	return nil, fmt.Errorf("bluesky publishes synchronously")
}

func (a *Adapter) Upload(ctx context.Context, in *model.PublishInput, report repository.ProgressFunc) (*repository.UploadHandle, error) {
	if in.HLSURL == "" {
		return nil, model.NewPlatformError(platform, model.ErrUpload, "no hls playlist URL available; bluesky requires content-addressed storage")
	}
	if in.Extra["did"] == "" {
		return nil, model.NewPlatformError(platform, model.ErrAuthorization, "session is missing the account DID")
	}
	report(1, "media already hosted")
	return &repository.UploadHandle{Extra: map[string]string{"did": in.Extra["did"]}}, nil
}

func (a *Adapter) Publish(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (string, error) {
	text := in.Title
	if in.Description != "" {
		text = text + "\n\n" + in.Description
	}
	payload := map[string]interface{}{
		"repo":       h.Extra["did"],
		"collection": "app.bsky.feed.post",
		"record": map[string]interface{}{
			"$type":     "app.bsky.feed.post",
			"text":      text,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
			"embed": map[string]interface{}{
				"$type": "app.bsky.embed.external",
				"external": map[string]interface{}{
					"uri":         in.HLSURL,
					"title":       in.Title,
					"description": in.Description,
				},
			},
		},
	}
	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := transport.PostJSON(ctx, a.http, createRecordURL, in.AccessToken, payload, &out); err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	return out.URI, nil
}
