package tiktok

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
	platform = "tiktok"

	authorizeURL = "https://www.tiktok.com/v2/auth/authorize/"
	tokenURL     = "https://open.tiktokapis.com/v2/oauth/token/"
	userInfoURL  = "https://open.tiktokapis.com/v2/user/info/?fields=open_id,display_name"
	initURL      = "https://open.tiktokapis.com/v2/post/publish/video/init/"
	statusURL    = "https://open.tiktokapis.com/v2/post/publish/status/fetch/"
)

// Policy implements TikTok's OAuth dialect: client_key instead of client_id,
// day-long access tokens, year-long rotating refresh tokens.
type Policy struct {
	http          transport.Doer
	accessBuffer  time.Duration
	refreshBuffer time.Duration
}

func NewPolicy(client transport.Doer) *Policy {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Policy{http: client, accessBuffer: 10 * time.Minute, refreshBuffer: 30 * 24 * time.Hour}
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
		"client_key":    {creds.ClientID},
		"response_type": {"code"},
		"scope":         {"user.info.basic,video.publish"},
		"redirect_uri":  {redirectURI},
		"state":         {state},
	}
	return authorizeURL + "?" + q.Encode(), nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	OpenID           string `json:"open_id"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (p *Policy) ExchangeCode(ctx context.Context, code string, creds model.Credentials, redirectURI string) (model.Authorization, error) {
	form := url.Values{
		"client_key":    {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}
	return p.token(ctx, form)
}

func (p *Policy) Refresh(ctx context.Context, auth model.Authorization, creds model.Credentials) (model.Authorization, error) {
	form := url.Values{
		"client_key":    {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {auth.RefreshToken},
	}
	return p.token(ctx, form)
}

func (p *Policy) token(ctx context.Context, form url.Values) (model.Authorization, error) {
	var out tokenResponse
	if err := transport.PostForm(ctx, p.http, tokenURL, "", form, &out); err != nil {
		return model.Authorization{}, fmt.Errorf("tiktok token: %w", err)
	}
	if out.Error != "" {
		return model.Authorization{}, fmt.Errorf("tiktok token: %s: %s", out.Error, out.ErrorDescription)
	}
	now := time.Now()
	accessExp := now.Add(time.Duration(out.ExpiresIn) * time.Second)
	auth := model.Authorization{
		AccessToken:           out.AccessToken,
		AccessTokenExpiresAt:  &accessExp,
		RefreshToken:          out.RefreshToken,
		RefreshTokenExpiresAt: now.Add(time.Duration(out.RefreshExpiresIn) * time.Second),
	}
	if out.OpenID != "" {
		auth.Extra = map[string]string{"open_id": out.OpenID}
	}
	return auth, nil
}

func (p *Policy) Accounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	var out struct {
		Data struct {
			User struct {
				OpenID      string `json:"open_id"`
				DisplayName string `json:"display_name"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := transport.GetJSON(ctx, p.http, userInfoURL, accessToken, &out); err != nil {
		return nil, fmt.Errorf("tiktok user info: %w", err)
	}
	return []model.Account{{ID: out.Data.User.OpenID, Username: out.Data.User.DisplayName}}, nil
}

// Adapter publishes by pointing TikTok at a stored video URL; the platform
// pulls the file itself and the poll loop tracks download and processing.
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
	return model.TrimSpec{MaxFilesize: 4 * 1024 * 1024 * 1024, MaxDuration: 600}
}

func (a *Adapter) Completion() model.CompletionSpec {
	return model.CompletionSpec{Kind: model.CompletionPoll, Interval: 5 * time.Second, Timeout: 10 * time.Minute}
}

func (a *Adapter) Upload(ctx context.Context, in *model.PublishInput, report repository.ProgressFunc) (*repository.UploadHandle, error) {
	if in.VideoURL == "" {
		return nil, model.NewPlatformError(platform, model.ErrUpload, "no stored video URL available for pull-based publish")
	}

	report(0, "requesting pull-based publish")
	privacy := "SELF_ONLY"
	if in.Privacy == "public" {
		privacy = "PUBLIC_TO_EVERYONE"
	}
	payload := map[string]interface{}{
		"post_info": map[string]interface{}{
			"title":         in.Title,
			"privacy_level": privacy,
		},
		"source_info": map[string]interface{}{
			"source":    "PULL_FROM_URL",
			"video_url": in.VideoURL,
		},
	}
	var out struct {
		Data struct {
			PublishID string `json:"publish_id"`
		} `json:"data"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := transport.PostJSON(ctx, a.http, initURL, in.AccessToken, payload, &out); err != nil {
		return nil, fmt.Errorf("publish init: %w", err)
	}
	if out.Error.Code != "" && out.Error.Code != "ok" {
		return nil, fmt.Errorf("publish init: %s: %s", out.Error.Code, out.Error.Message)
	}
	if out.Data.PublishID == "" {
		return nil, fmt.Errorf("publish init returned no publish id")
	}
	report(1, "publish requested")
	return &repository.UploadHandle{MediaID: out.Data.PublishID}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (*model.PollStatus, error) {
	payload := map[string]string{"publish_id": h.MediaID}
	var out struct {
		Data struct {
			Status     string   `json:"status"`
			FailReason string   `json:"fail_reason"`
			PostIDs    []string `json:"publicaly_available_post_id"`
		} `json:"data"`
	}
	if err := transport.PostJSON(ctx, a.http, statusURL, in.AccessToken, payload, &out); err != nil {
		return nil, fmt.Errorf("status fetch: %w", err)
	}
	switch out.Data.Status {
	case "PUBLISH_COMPLETE":
		if len(out.Data.PostIDs) > 0 {
			h.ResultID = out.Data.PostIDs[0]
		}
		return &model.PollStatus{Code: model.PollSucceeded, Message: "published"}, nil
	case "FAILED":
		msg := out.Data.FailReason
		if msg == "" {
			msg = "publish failed"
		}
		return &model.PollStatus{Code: model.PollFailed, Message: msg}, nil
	default:
		return &model.PollStatus{Code: model.PollProcessing, Message: out.Data.Status}, nil
	}
}

func (a *Adapter) Publish(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (string, error) {
	// Publication happens inside the pull-based flow; the poll loop already
	// captured the post id when the platform reported it.
	if h.ResultID != "" {
		return h.ResultID, nil
	}
	return h.MediaID, nil
}
