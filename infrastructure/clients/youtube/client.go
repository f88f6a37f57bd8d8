package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/clients/transport"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"
	"google.golang.org/api/option"
)

const (
	platform   = "youtube"
	uploadURL  = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status"
	chunkBytes = transport.ChunkSize
)

// Google does not report a refresh-token expiry; the policy treats it as a
// rolling window renewed on every successful exchange/refresh.
const refreshTokenWindow = 180 * 24 * time.Hour

// Policy implements the token lifecycle for YouTube via the standard Google
// OAuth2 dialect.
type Policy struct {
	accessBuffer  time.Duration
	refreshBuffer time.Duration
}

func NewPolicy() *Policy {
	return &Policy{accessBuffer: 5 * time.Minute, refreshBuffer: 7 * 24 * time.Hour}
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

func (p *Policy) oauthConfig(creds model.Credentials, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{yt.YoutubeUploadScope, yt.YoutubeReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

func (p *Policy) AuthorizeURL(creds model.Credentials, redirectURI, state string) (string, error) {
	conf := p.oauthConfig(creds, redirectURI)
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")), nil
}

func (p *Policy) ExchangeCode(ctx context.Context, code string, creds model.Credentials, redirectURI string) (model.Authorization, error) {
	conf := p.oauthConfig(creds, redirectURI)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return model.Authorization{}, fmt.Errorf("google code exchange: %w", err)
	}
	return fromToken(tok), nil
}

func (p *Policy) Refresh(ctx context.Context, auth model.Authorization, creds model.Credentials) (model.Authorization, error) {
	conf := p.oauthConfig(creds, "")
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: auth.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return model.Authorization{}, fmt.Errorf("google token refresh: %w", err)
	}
	next := fromToken(tok)
	if next.RefreshToken == "" {
		next.RefreshToken = auth.RefreshToken
	}
	return next, nil
}

func fromToken(tok *oauth2.Token) model.Authorization {
	auth := model.Authorization{
		AccessToken:           tok.AccessToken,
		RefreshToken:          tok.RefreshToken,
		RefreshTokenExpiresAt: time.Now().Add(refreshTokenWindow),
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		auth.AccessTokenExpiresAt = &exp
	}
	return auth
}

// Accounts lists the authenticated user's channels via the Data API.
func (p *Policy) Accounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	svc, err := yt.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})))
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	resp, err := svc.Channels.List([]string{"id", "snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	accounts := make([]model.Account, 0, len(resp.Items))
	for _, ch := range resp.Items {
		accounts = append(accounts, model.Account{ID: ch.Id, Username: ch.Snippet.Title})
	}
	return accounts, nil
}

// Adapter publishes via the resumable-range upload protocol: a session
// request followed by ranged PUTs where 308 means continue.
type Adapter struct {
	http transport.Doer
}

func NewAdapter(client transport.Doer) *Adapter {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Adapter{http: client}
}

func (a *Adapter) Platform() string            { return platform }
func (a *Adapter) VariantSpec() model.TrimSpec { return model.TrimSpec{} }
func (a *Adapter) RequiresVideoURL() bool      { return false }
func (a *Adapter) RequiresHLS() bool           { return false }

func (a *Adapter) Completion() model.CompletionSpec {
	return model.CompletionSpec{Kind: model.CompletionSync}
}

func (a *Adapter) CheckStatus(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (*model.PollStatus, error) {
	return nil, fmt.Errorf("youtube upload completes synchronously")
}

func (a *Adapter) Upload(ctx context.Context, in *model.PublishInput, report repository.ProgressFunc) (*repository.UploadHandle, error) {
	if in.Video.IsZero() {
		return nil, model.NewPlatformError(platform, model.ErrUnsupportedOperation, "posting without a video file is not supported")
	}

	sessionURL, err := a.startSession(ctx, in)
	if err != nil {
		return nil, err
	}

	f, err := in.Video.Open()
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	report(0, "uploading video")
	body, err := transport.UploadResumable(ctx, a.http, sessionURL, f, in.Video.Size, chunkBytes, func(frac float64) {
		report(frac, fmt.Sprintf("uploading video %.0f%%", frac*100))
	})
	if err != nil {
		return nil, err
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return nil, fmt.Errorf("parse upload response: %w", err)
	}
	if uploaded.ID == "" {
		return nil, fmt.Errorf("upload response carried no video id")
	}
	return &repository.UploadHandle{MediaID: uploaded.ID, ResultID: uploaded.ID}, nil
}

// startSession opens the resumable session and returns its upload URL.
func (a *Adapter) startSession(ctx context.Context, in *model.PublishInput) (string, error) {
	privacy := in.Privacy
	if privacy == "" {
		privacy = "private"
	}
	meta := map[string]interface{}{
		"snippet": map[string]interface{}{
			"title":       in.Title,
			"description": in.Description,
			"tags":        in.Tags,
		},
		"status": map[string]interface{}{"privacyStatus": privacy},
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+in.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Upload-Content-Type", in.Video.MimeType)
	req.Header.Set("X-Upload-Content-Length", fmt.Sprintf("%d", in.Video.Size))
	resp, err := a.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", &transport.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("resumable session response missing Location header")
	}
	return loc, nil
}

func (a *Adapter) Publish(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (string, error) {
	// The upload response is the final result; there is no separate publish
	// call.
	return h.ResultID, nil
}
