package xapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestAuthorizeURL_CarriesPlainPKCEChallenge(t *testing.T) {
	p := NewPolicy(nil)
	raw, err := p.AuthorizeURL(model.Credentials{ClientID: "client"}, "https://app.example/callback", "state-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "plain", q.Get("code_challenge_method"))
	assert.Equal(t, pkceVerifier, q.Get("code_challenge"))
	assert.Contains(t, q.Get("scope"), "offline.access")
}

func TestCheckStatus_MapsProcessingStates(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantCode   model.PollCode
		wantRetry  time.Duration
		wantInMsg  string
	}{
		{
			name:      "in progress with provider hint",
			body:      `{"media_id_string":"m1","processing_info":{"state":"in_progress","check_after_secs":7,"progress_percent":45}}`,
			wantCode:  model.PollProcessing,
			wantRetry: 7 * time.Second,
			wantInMsg: "45",
		},
		{
			name:     "succeeded",
			body:     `{"media_id_string":"m1","processing_info":{"state":"succeeded","progress_percent":100}}`,
			wantCode: model.PollSucceeded,
		},
		{
			name:      "failed with reason",
			body:      `{"media_id_string":"m1","processing_info":{"state":"failed","error":{"message":"InvalidMedia"}}}`,
			wantCode:  model.PollFailed,
			wantInMsg: "InvalidMedia",
		},
		{
			name:     "no processing info means done",
			body:     `{"media_id_string":"m1"}`,
			wantCode: model.PollSucceeded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter := NewAdapter(doerFunc(func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, http.MethodGet, req.Method)
				assert.Equal(t, "STATUS", req.URL.Query().Get("command"))
				assert.Equal(t, "m1", req.URL.Query().Get("media_id"))
				assert.Equal(t, "Bearer token-1", req.Header.Get("Authorization"))
				return jsonResponse(http.StatusOK, tc.body), nil
			}))

			st, err := adapter.CheckStatus(context.Background(),
				&model.PublishInput{AccessToken: "token-1"},
				&repository.UploadHandle{MediaID: "m1"})
			require.NoError(t, err)
			assert.Equal(t, tc.wantCode, st.Code)
			assert.Equal(t, tc.wantRetry, st.RetryAfter)
			if tc.wantInMsg != "" {
				assert.Contains(t, st.Message, tc.wantInMsg)
			}
		})
	}
}

func TestPublish_CreatesTweetWithMedia(t *testing.T) {
	adapter := NewAdapter(doerFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, tweetsURL, req.URL.String())
		payload, _ := io.ReadAll(req.Body)
		assert.Contains(t, string(payload), `"text":"hello"`)
		assert.Contains(t, string(payload), `"media_ids":["m1"]`)
		return jsonResponse(http.StatusCreated, `{"data":{"id":"tweet-9"}}`), nil
	}))

	id, err := adapter.Publish(context.Background(),
		&model.PublishInput{AccessToken: "token-1", Title: "hello"},
		&repository.UploadHandle{MediaID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "tweet-9", id)
}

func TestUpload_RunsInitAppendFinalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video-bytes"), 0o600))

	var commands []string
	adapter := NewAdapter(doerFunc(func(req *http.Request) (*http.Response, error) {
		if strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			commands = append(commands, req.FormValue("command"))
			assert.Equal(t, "m1", req.FormValue("media_id"))
			return jsonResponse(http.StatusNoContent, ""), nil
		}
		body, _ := io.ReadAll(req.Body)
		form, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		commands = append(commands, form.Get("command"))
		switch form.Get("command") {
		case "INIT":
			assert.Equal(t, "tweet_video", form.Get("media_category"))
			return jsonResponse(http.StatusAccepted, `{"media_id_string":"m1"}`), nil
		case "FINALIZE":
			assert.Equal(t, "m1", form.Get("media_id"))
			return jsonResponse(http.StatusOK, `{"media_id_string":"m1","processing_info":{"state":"pending","check_after_secs":5}}`), nil
		}
		t.Fatalf("unexpected command %q", form.Get("command"))
		return nil, nil
	}))

	in := &model.PublishInput{
		AccessToken: "token-1",
		Video:       model.VideoFile{Path: path, Size: 11, MimeType: "video/mp4"},
	}
	handle, err := adapter.Upload(context.Background(), in, func(float64, string) {})
	require.NoError(t, err)

	assert.Equal(t, []string{"INIT", "APPEND", "FINALIZE"}, commands)
	assert.Equal(t, "m1", handle.MediaID)
	// Poll pacing is driven by STATUS replies; the handle carries no
	// continuation state beyond the media id.
	assert.Nil(t, handle.Extra)
}

func TestUpload_RejectsMissingVideoFile(t *testing.T) {
	adapter := NewAdapter(doerFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}))

	_, err := adapter.Upload(context.Background(), &model.PublishInput{}, func(float64, string) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnsupportedOperation)
}
