package linkedin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/clients/transport"

	"golang.org/x/oauth2"
)

const (
	platform = "linkedin"

	authorizeURL  = "https://www.linkedin.com/oauth/v2/authorization"
	tokenURL      = "https://www.linkedin.com/oauth/v2/accessToken"
	userinfoURL   = "https://api.linkedin.com/v2/userinfo"
	registerURL   = "https://api.linkedin.com/v2/assets?action=registerUpload"
	ugcPostsURL   = "https://api.linkedin.com/v2/ugcPosts"
	uploadRecipe  = "urn:li:digitalmediaRecipe:feedshare-video"
	refreshWindow = 365 * 24 * time.Hour
)

// Policy implements the standard OAuth2 lifecycle against LinkedIn's
// endpoints: sixty-day access tokens, year-long refresh tokens.
type Policy struct {
	http          transport.Doer
	accessBuffer  time.Duration
	refreshBuffer time.Duration
}

func NewPolicy(client transport.Doer) *Policy {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Policy{http: client, accessBuffer: 24 * time.Hour, refreshBuffer: 30 * 24 * time.Hour}
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
		Scopes:       []string{"openid", "profile", "w_member_social"},
		Endpoint:     oauth2.Endpoint{AuthURL: authorizeURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
}

func (p *Policy) AuthorizeURL(creds model.Credentials, redirectURI, state string) (string, error) {
	return p.oauthConfig(creds, redirectURI).AuthCodeURL(state), nil
}

func (p *Policy) ExchangeCode(ctx context.Context, code string, creds model.Credentials, redirectURI string) (model.Authorization, error) {
	tok, err := p.oauthConfig(creds, redirectURI).Exchange(ctx, code)
	if err != nil {
		return model.Authorization{}, fmt.Errorf("linkedin code exchange: %w", err)
	}
	return fromToken(tok), nil
}

func (p *Policy) Refresh(ctx context.Context, auth model.Authorization, creds model.Credentials) (model.Authorization, error) {
	conf := p.oauthConfig(creds, "")
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: auth.RefreshToken}).Token()
	if err != nil {
		return model.Authorization{}, fmt.Errorf("linkedin token refresh: %w", err)
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
		RefreshTokenExpiresAt: time.Now().Add(refreshWindow),
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		auth.AccessTokenExpiresAt = &exp
	}
	return auth
}

func (p *Policy) Accounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	var out struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	if err := transport.GetJSON(ctx, p.http, userinfoURL, accessToken, &out); err != nil {
		return nil, fmt.Errorf("linkedin userinfo: %w", err)
	}
	return []model.Account{{ID: out.Sub, Username: out.Name}}, nil
}

// Adapter registers an upload slot, PUTs the file in one request, then
// creates the feed post referencing the asset URN.
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
	return nil, fmt.Errorf("linkedin upload completes synchronously")
}

func (a *Adapter) Upload(ctx context.Context, in *model.PublishInput, report repository.ProgressFunc) (*repository.UploadHandle, error) {
	if in.Video.IsZero() {
		return nil, model.NewPlatformError(platform, model.ErrUnsupportedOperation, "posting without a video file is not supported")
	}
	if in.Account.ID == "" {
		return nil, model.NewPlatformError(platform, model.ErrAuthorization, "no member account on record")
	}

	asset, uploadURL, err := a.registerUpload(ctx, in)
	if err != nil {
		return nil, err
	}

	f, err := in.Video.Open()
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	report(0, "uploading video")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return nil, err
	}
	req.ContentLength = in.Video.Size
	req.Header.Set("Authorization", "Bearer "+in.AccessToken)
	req.Header.Set("Content-Type", in.Video.MimeType)
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &transport.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	report(1, "upload complete")
	return &repository.UploadHandle{MediaID: asset}, nil
}

func (a *Adapter) registerUpload(ctx context.Context, in *model.PublishInput) (asset, uploadURL string, err error) {
	owner := "urn:li:person:" + in.Account.ID
	payload := map[string]interface{}{
		"registerUploadRequest": map[string]interface{}{
			"recipes": []string{uploadRecipe},
			"owner":   owner,
			"serviceRelationships": []map[string]string{{
				"relationshipType": "OWNER",
				"identifier":       "urn:li:userGeneratedContent",
			}},
		},
	}
	var out struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism map[string]struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}
	if err := transport.PostJSON(ctx, a.http, registerURL, in.AccessToken, payload, &out); err != nil {
		return "", "", fmt.Errorf("register upload: %w", err)
	}
	for _, mech := range out.Value.UploadMechanism {
		if mech.UploadURL != "" {
			return out.Value.Asset, mech.UploadURL, nil
		}
	}
	return "", "", fmt.Errorf("register upload returned no upload url")
}

func (a *Adapter) Publish(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (string, error) {
	author := "urn:li:person:" + in.Account.ID
	payload := map[string]interface{}{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": map[string]interface{}{
				"shareCommentary":    map[string]string{"text": in.Title},
				"shareMediaCategory": "VIDEO",
				"media": []map[string]interface{}{{
					"status":      "READY",
					"media":       h.MediaID,
					"title":       map[string]string{"text": in.Title},
					"description": map[string]string{"text": in.Description},
				}},
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := transport.PostJSON(ctx, a.http, ugcPostsURL, in.AccessToken, payload, &out); err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	return out.ID, nil
}
