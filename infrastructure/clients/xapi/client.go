package xapi

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/clients/transport"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
)

const (
	platform = "x"

	authorizeURL = "https://twitter.com/i/oauth2/authorize"
	tokenURL     = "https://api.twitter.com/2/oauth2/token"
	mediaURL     = "https://upload.twitter.com/1.1/media/upload.json"
	tweetsURL    = "https://api.twitter.com/2/tweets"
	usersMeURL   = "https://api.twitter.com/2/users/me"
)

// Policy implements the OAuth2 lifecycle for X. Access tokens live two hours;
// refresh tokens are single-use and rotate on every refresh.
type Policy struct {
	http          transport.Doer
	accessBuffer  time.Duration
	refreshBuffer time.Duration
}

func NewPolicy(client transport.Doer) *Policy {
	if client == nil {
		client = transport.DefaultClient
	}
	return &Policy{http: client, accessBuffer: 5 * time.Minute, refreshBuffer: 24 * time.Hour}
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
		Scopes:       []string{"tweet.read", "tweet.write", "users.read", "media.write", "offline.access"},
		Endpoint:     oauth2.Endpoint{AuthURL: authorizeURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInHeader},
	}
}

// pkceVerifier is a fixed plain-method verifier. The state nonce already
// guards the callback; the verifier only has to match across the two legs.
const pkceVerifier = "crosspost-pkce-verifier"

func (p *Policy) AuthorizeURL(creds model.Credentials, redirectURI, state string) (string, error) {
	conf := p.oauthConfig(creds, redirectURI)
	return conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkceVerifier),
		oauth2.SetAuthURLParam("code_challenge_method", "plain"),
	), nil
}

func (p *Policy) ExchangeCode(ctx context.Context, code string, creds model.Credentials, redirectURI string) (model.Authorization, error) {
	conf := p.oauthConfig(creds, redirectURI)
	tok, err := conf.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", pkceVerifier))
	if err != nil {
		return model.Authorization{}, fmt.Errorf("x code exchange: %w", err)
	}
	return fromToken(tok, p.refreshWindow()), nil
}

func (p *Policy) Refresh(ctx context.Context, auth model.Authorization, creds model.Credentials) (model.Authorization, error) {
	conf := p.oauthConfig(creds, "")
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: auth.RefreshToken}).Token()
	if err != nil {
		return model.Authorization{}, fmt.Errorf("x token refresh: %w", err)
	}
	next := fromToken(tok, p.refreshWindow())
	if next.RefreshToken == "" {
		next.RefreshToken = auth.RefreshToken
	}
	return next, nil
}

// refreshWindow is the provider's published refresh-token lifetime.
func (p *Policy) refreshWindow() time.Duration { return 180 * 24 * time.Hour }

func (p *Policy) Accounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	var out struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := transport.GetJSON(ctx, p.http, usersMeURL, accessToken, &out); err != nil {
		return nil, fmt.Errorf("x users/me: %w", err)
	}
	return []model.Account{{ID: out.Data.ID, Username: out.Data.Username}}, nil
}

func fromToken(tok *oauth2.Token, refreshWindow time.Duration) model.Authorization {
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

// statusQuery is the STATUS command's query string.
type statusQuery struct {
	Command string `url:"command"`
	MediaID string `url:"media_id"`
}

type processingInfo struct {
	State           string `json:"state"`
	CheckAfterSecs  int    `json:"check_after_secs"`
	ProgressPercent int    `json:"progress_percent"`
	Error           *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type mediaResponse struct {
	MediaIDString  string          `json:"media_id_string"`
	ProcessingInfo *processingInfo `json:"processing_info"`
}

// Adapter publishes via the chunked-append protocol: INIT, sequential 4 MiB
// APPENDs, FINALIZE, then a provider-directed status poll before the tweet is
// created.
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
func (a *Adapter) RequiresVideoURL() bool { return false }
func (a *Adapter) RequiresHLS() bool      { return false }

func (a *Adapter) VariantSpec() model.TrimSpec {
	return model.TrimSpec{MaxFilesize: 512 * 1024 * 1024, MaxDuration: 140}
}

func (a *Adapter) Completion() model.CompletionSpec {
	// STATUS replies carry check_after_secs hints that govern the following
	// wait; the interval covers the first wait and replies without a hint.
	return model.CompletionSpec{Kind: model.CompletionPoll, Interval: 5 * time.Second, Timeout: 10 * time.Minute}
}

func (a *Adapter) Upload(ctx context.Context, in *model.PublishInput, report repository.ProgressFunc) (*repository.UploadHandle, error) {
	if in.Video.IsZero() {
		return nil, model.NewPlatformError(platform, model.ErrUnsupportedOperation, "posting without a video file is not supported")
	}

	mediaID, err := a.initUpload(ctx, in)
	if err != nil {
		return nil, err
	}

	f, err := in.Video.Open()
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	report(0, "uploading video")
	err = transport.UploadChunks(ctx, f, in.Video.Size, transport.ChunkSize, func(ctx context.Context, index, total int, data []byte) error {
		return a.appendChunk(ctx, in.AccessToken, mediaID, index, data)
	}, func(frac float64) {
		report(frac, fmt.Sprintf("uploading video %.0f%%", frac*100))
	})
	if err != nil {
		return nil, err
	}

	if _, err := a.finalize(ctx, in.AccessToken, mediaID); err != nil {
		return nil, err
	}
	return &repository.UploadHandle{MediaID: mediaID}, nil
}

func (a *Adapter) initUpload(ctx context.Context, in *model.PublishInput) (string, error) {
	form := url.Values{
		"command":        {"INIT"},
		"total_bytes":    {strconv.FormatInt(in.Video.Size, 10)},
		"media_type":     {in.Video.MimeType},
		"media_category": {"tweet_video"},
	}
	var out mediaResponse
	if err := transport.PostForm(ctx, a.http, mediaURL, in.AccessToken, form, &out); err != nil {
		return "", fmt.Errorf("media INIT: %w", err)
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("media INIT returned no media id")
	}
	return out.MediaIDString, nil
}

func (a *Adapter) appendChunk(ctx context.Context, accessToken, mediaID string, index int, data []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("command", "APPEND")
	_ = w.WriteField("media_id", mediaID)
	_ = w.WriteField("segment_index", strconv.Itoa(index))
	part, err := w.CreateFormFile("media", "chunk")
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mediaURL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if err := transport.DoJSON(a.http, req, nil); err != nil {
		return fmt.Errorf("media APPEND segment %d: %w", index, err)
	}
	return nil
}

func (a *Adapter) finalize(ctx context.Context, accessToken, mediaID string) (*mediaResponse, error) {
	form := url.Values{"command": {"FINALIZE"}, "media_id": {mediaID}}
	var out mediaResponse
	if err := transport.PostForm(ctx, a.http, mediaURL, accessToken, form, &out); err != nil {
		return nil, fmt.Errorf("media FINALIZE: %w", err)
	}
	return &out, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (*model.PollStatus, error) {
	vals, err := query.Values(statusQuery{Command: "STATUS", MediaID: h.MediaID})
	if err != nil {
		return nil, err
	}
	var out mediaResponse
	if err := transport.GetJSON(ctx, a.http, mediaURL+"?"+vals.Encode(), in.AccessToken, &out); err != nil {
		return nil, fmt.Errorf("media STATUS: %w", err)
	}
	info := out.ProcessingInfo
	if info == nil {
		return &model.PollStatus{Code: model.PollSucceeded}, nil
	}
	st := &model.PollStatus{Message: fmt.Sprintf("processing %d%%", info.ProgressPercent)}
	if info.CheckAfterSecs > 0 {
		st.RetryAfter = time.Duration(info.CheckAfterSecs) * time.Second
	}
	switch info.State {
	case "succeeded":
		st.Code = model.PollSucceeded
		st.Message = "processing finished"
	case "failed":
		st.Code = model.PollFailed
		if info.Error != nil {
			st.Message = info.Error.Message
		}
	default:
		st.Code = model.PollProcessing
	}
	return st, nil
}

func (a *Adapter) Publish(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (string, error) {
	payload := map[string]interface{}{
		"text":  in.Title,
		"media": map[string]interface{}{"media_ids": []string{h.MediaID}},
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := transport.PostJSON(ctx, a.http, tweetsURL, in.AccessToken, payload, &out); err != nil {
		return "", fmt.Errorf("create tweet: %w", err)
	}
	return out.Data.ID, nil
}
