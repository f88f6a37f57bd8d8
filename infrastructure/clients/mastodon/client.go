package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/clients/transport"
)

const platform = "mastodon"

// Mastodon access tokens do not expire; the refresh-expiry slot carries a far
// horizon so the authorization still counts as complete, and Refresh just
// pushes the horizon out again.
const tokenHorizon = 5 * 365 * 24 * time.Hour

// Policy implements the per-instance OAuth lifecycle. The instance base URL is
// fixed at construction because every endpoint hangs off it.
type Policy struct {
	http          transport.Doer
	baseURL       string
	accessBuffer  time.Duration
	refreshBuffer time.Duration
}

func NewPolicy(client transport.Doer, baseURL string) *Policy {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Policy{
		http:          client,
		baseURL:       strings.TrimRight(baseURL, "/"),
		accessBuffer:  5 * time.Minute,
		refreshBuffer: 30 * 24 * time.Hour,
	}
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
	if p.baseURL == "" {
		return "", fmt.Errorf("mastodon instance URL not configured")
	}
	q := url.Values{
		"client_id":     {creds.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {"read write"},
		"state":         {state},
	}
	return p.baseURL + "/oauth/authorize?" + q.Encode(), nil
}

func (p *Policy) ExchangeCode(ctx context.Context, code string, creds model.Credentials, redirectURI string) (model.Authorization, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
		"scope":         {"read write"},
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := transport.PostForm(ctx, p.http, p.baseURL+"/oauth/token", "", form, &out); err != nil {
		return model.Authorization{}, fmt.Errorf("mastodon code exchange: %w", err)
	}
	return model.Authorization{
		AccessToken:           out.AccessToken,
		RefreshToken:          out.AccessToken,
		RefreshTokenExpiresAt: time.Now().Add(tokenHorizon),
		Extra:                 map[string]string{"instance": p.baseURL},
	}, nil
}

// Refresh re-validates the token against the instance and extends the
// horizon; the token itself never rotates.
func (p *Policy) Refresh(ctx context.Context, auth model.Authorization, creds model.Credentials) (model.Authorization, error) {
	if _, err := p.Accounts(ctx, auth.RefreshToken); err != nil {
		return model.Authorization{}, fmt.Errorf("mastodon token no longer valid: %w", err)
	}
	auth.AccessToken = auth.RefreshToken
	auth.AccessTokenExpiresAt = nil
	auth.RefreshTokenExpiresAt = time.Now().Add(tokenHorizon)
	return auth, nil
}

func (p *Policy) Accounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	var out struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := transport.GetJSON(ctx, p.http, p.baseURL+"/api/v1/accounts/verify_credentials", accessToken, &out); err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	return []model.Account{{ID: out.ID, Username: out.Username}}, nil
}

// Adapter uploads the file in one multipart request; a 202 means the instance
// is still transcoding, which the poll loop waits out before the status post.
type Adapter struct {
	http    transport.Doer
	baseURL string
}

func NewAdapter(client transport.Doer, baseURL string) *Adapter {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Adapter{http: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *Adapter) Platform() string       { return platform }
func (a *Adapter) RequiresVideoURL() bool { return false }
func (a *Adapter) RequiresHLS() bool      { return false }

func (a *Adapter) VariantSpec() model.TrimSpec {
	return model.TrimSpec{MaxFilesize: 99 * 1024 * 1024}
}

func (a *Adapter) Completion() model.CompletionSpec {
	return model.CompletionSpec{Kind: model.CompletionPoll, Interval: 4 * time.Second, Timeout: 5 * time.Minute}
}

func (a *Adapter) Upload(ctx context.Context, in *model.PublishInput, report repository.ProgressFunc) (*repository.UploadHandle, error) {
	if in.Video.IsZero() {
		return nil, model.NewPlatformError(platform, model.ErrUnsupportedOperation, "posting without a video file is not supported")
	}

	f, err := in.Video.Open()
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	report(0, "uploading video")
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", in.Video.Name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	_ = w.WriteField("description", in.Title)
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v2/media", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+in.AccessToken)
	var out struct {
		ID string `json:"id"`
	}
	if err := transport.DoJSON(a.http, req, &out); err != nil {
		return nil, fmt.Errorf("media upload: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("media upload returned no id")
	}
	report(1, "upload accepted")
	return &repository.UploadHandle{MediaID: out.ID}, nil
}

// CheckStatus re-fetches the attachment: 206 means still transcoding, 200 with
// a URL means ready.
func (a *Adapter) CheckStatus(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (*model.PollStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/v1/media/"+h.MediaID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+in.AccessToken)
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		return &model.PollStatus{Code: model.PollProcessing, Message: "instance transcoding"}, nil
	case resp.StatusCode == http.StatusOK:
		var out struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("parse media status: %w", err)
		}
		if out.URL == "" {
			return &model.PollStatus{Code: model.PollProcessing, Message: "instance transcoding"}, nil
		}
		return &model.PollStatus{Code: model.PollSucceeded, Message: "media ready"}, nil
	default:
		return &model.PollStatus{Code: model.PollFailed, Message: (&transport.APIError{StatusCode: resp.StatusCode, Body: string(raw)}).Error()}, nil
	}
}

func (a *Adapter) Publish(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (string, error) {
	status := in.Title
	if in.Description != "" {
		status = status + "\n\n" + in.Description
	}
	payload := map[string]interface{}{
		"status":    status,
		"media_ids": []string{h.MediaID},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := transport.PostJSON(ctx, a.http, a.baseURL+"/api/v1/statuses", in.AccessToken, payload, &out); err != nil {
		return "", fmt.Errorf("post status: %w", err)
	}
	return out.ID, nil
}
