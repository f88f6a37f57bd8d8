package instagram

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
	platform = "instagram"
	graphURL = "https://graph.facebook.com/v19.0"

	// Long-lived Graph user tokens last sixty days and are renewed by
	// exchanging the current token.
	longLivedTokenTTL = 60 * 24 * time.Hour
)

// Policy drives the Graph long-lived token lifecycle for Instagram business
// accounts. The "refresh token" slot holds the current long-lived token, which
// is its own refresh credential.
type Policy struct {
	http          transport.Doer
	accessBuffer  time.Duration
	refreshBuffer time.Duration
}

func NewPolicy(client transport.Doer) *Policy {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Policy{http: client, accessBuffer: 24 * time.Hour, refreshBuffer: 10 * 24 * time.Hour}
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

func (p *Policy) AuthorizeURL(creds model.Credentials, redirectURI, state string) (string, error) {
	q := url.Values{
		"client_id":     {creds.ClientID},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"response_type": {"code"},
		"scope":         {"instagram_basic,instagram_content_publish,pages_show_list,business_management"},
	}
	return "https://www.facebook.com/v19.0/dialog/oauth?" + q.Encode(), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *Policy) ExchangeCode(ctx context.Context, code string, creds model.Credentials, redirectURI string) (model.Authorization, error) {
	q := url.Values{
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	}
	var short tokenResponse
	if err := transport.GetJSON(ctx, p.http, graphURL+"/oauth/access_token?"+q.Encode(), "", &short); err != nil {
		return model.Authorization{}, fmt.Errorf("graph code exchange: %w", err)
	}
	return p.exchangeLongLived(ctx, short.AccessToken, creds)
}

func (p *Policy) Refresh(ctx context.Context, auth model.Authorization, creds model.Credentials) (model.Authorization, error) {
	return p.exchangeLongLived(ctx, auth.RefreshToken, creds)
}

// exchangeLongLived trades any valid Graph token for a fresh sixty-day one.
func (p *Policy) exchangeLongLived(ctx context.Context, token string, creds model.Credentials) (model.Authorization, error) {
	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {creds.ClientID},
		"client_secret":     {creds.ClientSecret},
		"fb_exchange_token": {token},
	}
	var out tokenResponse
	if err := transport.GetJSON(ctx, p.http, graphURL+"/oauth/access_token?"+q.Encode(), "", &out); err != nil {
		return model.Authorization{}, fmt.Errorf("long-lived token exchange: %w", err)
	}
	now := time.Now()
	expires := now.Add(longLivedTokenTTL)
	if out.ExpiresIn > 0 {
		expires = now.Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return model.Authorization{
		AccessToken:           out.AccessToken,
		AccessTokenExpiresAt:  &expires,
		RefreshToken:          out.AccessToken,
		RefreshTokenExpiresAt: expires,
	}, nil
}

// Accounts resolves the instagram business accounts behind the user's pages.
func (p *Policy) Accounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	var pages struct {
		Data []struct {
			InstagramBusinessAccount *struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}
	u := graphURL + "/me/accounts?" + url.Values{
		"fields":       {"instagram_business_account{id,username}"},
		"access_token": {accessToken},
	}.Encode()
	if err := transport.GetJSON(ctx, p.http, u, "", &pages); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	var accounts []model.Account
	for _, page := range pages.Data {
		if page.InstagramBusinessAccount != nil {
			accounts = append(accounts, model.Account{
				ID:       page.InstagramBusinessAccount.ID,
				Username: page.InstagramBusinessAccount.Username,
			})
		}
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no instagram business account linked to any page")
	}
	return accounts, nil
}

// Adapter publishes reels by handing the platform a stored video URL: the
// container download replaces a byte upload, then the container is polled and
// published.
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
func (a *Adapter) RequiresHLS() bool      { return false }

func (a *Adapter) VariantSpec() model.TrimSpec {
	return model.TrimSpec{MaxFilesize: 100 * 1024 * 1024, MaxDuration: 90, MinDuration: 3}
}

func (a *Adapter) Completion() model.CompletionSpec {
	return model.CompletionSpec{Kind: model.CompletionPoll, Interval: 5 * time.Second, Timeout: 10 * time.Minute}
}

func (a *Adapter) Upload(ctx context.Context, in *model.PublishInput, report repository.ProgressFunc) (*repository.UploadHandle, error) {
	if in.VideoURL == "" {
		return nil, model.NewPlatformError(platform, model.ErrUpload, "no stored video URL available for container creation")
	}
	if in.Account.ID == "" {
		return nil, model.NewPlatformError(platform, model.ErrAuthorization, "no instagram business account on record")
	}

	report(0, "creating media container")
	caption := in.Title
	if in.Description != "" {
		caption = caption + "\n\n" + in.Description
	}
	form := url.Values{
		"media_type":   {"REELS"},
		"video_url":    {in.VideoURL},
		"caption":      {caption},
		"access_token": {in.AccessToken},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := transport.PostForm(ctx, a.http, fmt.Sprintf("%s/%s/media", graphURL, in.Account.ID), "", form, &out); err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("container creation returned no id")
	}
	report(1, "container created")
	return &repository.UploadHandle{MediaID: out.ID}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (*model.PollStatus, error) {
	u := fmt.Sprintf("%s/%s?%s", graphURL, h.MediaID, url.Values{
		"fields":       {"status_code,status"},
		"access_token": {in.AccessToken},
	}.Encode())
	var out struct {
		StatusCode string `json:"status_code"`
		Status     string `json:"status"`
	}
	if err := transport.GetJSON(ctx, a.http, u, "", &out); err != nil {
		return nil, fmt.Errorf("container status: %w", err)
	}
	switch out.StatusCode {
	case "FINISHED":
		return &model.PollStatus{Code: model.PollSucceeded, Message: "container ready"}, nil
	case "ERROR", "EXPIRED":
		return &model.PollStatus{Code: model.PollFailed, Message: nonEmpty(out.Status, "container "+out.StatusCode)}, nil
	default:
		return &model.PollStatus{Code: model.PollProcessing, Message: "processing container"}, nil
	}
}

func (a *Adapter) Publish(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (string, error) {
	form := url.Values{
		"creation_id":  {h.MediaID},
		"access_token": {in.AccessToken},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := transport.PostForm(ctx, a.http, fmt.Sprintf("%s/%s/media_publish", graphURL, in.Account.ID), "", form, &out); err != nil {
		return "", fmt.Errorf("media publish: %w", err)
	}
	return out.ID, nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
