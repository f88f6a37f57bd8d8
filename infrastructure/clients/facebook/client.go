package facebook

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
	platform = "facebook"
	graphURL = "https://graph.facebook.com/v19.0"

	longLivedTokenTTL = 60 * 24 * time.Hour
)

// Policy drives the Graph long-lived token lifecycle for page publishing. Like
// the instagram policy, the long-lived token refreshes itself via
// fb_exchange_token, so the refresh slot mirrors the access token.
type Policy struct {
	http          transport.Doer
	accessBuffer  time.Duration
	refreshBuffer time.Duration
}

func NewPolicy(client transport.Doer) *Policy {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Policy{http: client, accessBuffer: 24 * time.Hour, refreshBuffer: 14 * 24 * time.Hour}
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
		"scope":         {"pages_show_list,pages_manage_posts,pages_read_engagement,publish_video"},
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

// Accounts lists the pages the user manages.
func (p *Policy) Accounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	var pages struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	u := graphURL + "/me/accounts?" + url.Values{"access_token": {accessToken}}.Encode()
	if err := transport.GetJSON(ctx, p.http, u, "", &pages); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	accounts := make([]model.Account, 0, len(pages.Data))
	for _, page := range pages.Data {
		accounts = append(accounts, model.Account{ID: page.ID, Username: page.Name})
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no managed pages on this account")
	}
	return accounts, nil
}

// Adapter publishes page videos by handing the Graph API a stored video URL;
// the call returns the final video id directly, so completion is synchronous.
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
func (a *Adapter) RequiresVideoURL() bool      { return true }
func (a *Adapter) RequiresHLS() bool           { return false }

func (a *Adapter) Completion() model.CompletionSpec {
	return model.CompletionSpec{Kind: model.CompletionSync}
}

func (a *Adapter) CheckStatus(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (*model.PollStatus, error) {
	return nil, fmt.Errorf("facebook upload completes synchronously")
}

func (a *Adapter) Upload(ctx context.Context, in *model.PublishInput, report repository.ProgressFunc) (*repository.UploadHandle, error) {
	if in.VideoURL == "" {
		return nil, model.NewPlatformError(platform, model.ErrUpload, "no stored video URL available for page upload")
	}
	if in.Account.ID == "" {
		return nil, model.NewPlatformError(platform, model.ErrAuthorization, "no managed page on record")
	}

	report(0, "submitting video")
	form := url.Values{
		"file_url":     {in.VideoURL},
		"title":        {in.Title},
		"description":  {in.Description},
		"access_token": {in.AccessToken},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := transport.PostForm(ctx, a.http, fmt.Sprintf("%s/%s/videos", graphURL, in.Account.ID), "", form, &out); err != nil {
		return nil, fmt.Errorf("page video upload: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("page video upload returned no id")
	}
	report(1, "video submitted")
	return &repository.UploadHandle{MediaID: out.ID, ResultID: out.ID}, nil
}

func (a *Adapter) Publish(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (string, error) {
	return h.ResultID, nil
}
