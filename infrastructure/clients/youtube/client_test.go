package youtube

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crosspost/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// uploadDoer answers the session POST with a Location header and every ranged
// PUT with the given final status and body.
func uploadDoer(t *testing.T, finalBody string) doerFunc {
	return func(req *http.Request) (*http.Response, error) {
		if req.Method == http.MethodPost {
			assert.Equal(t, "Bearer token-1", req.Header.Get("Authorization"))
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Location": []string{"https://upload.example/session-1"}},
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		}
		require.Equal(t, http.MethodPut, req.Method)
		assert.Equal(t, "https://upload.example/session-1", req.URL.String())
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(finalBody)),
		}, nil
	}
}

func testVideo(t *testing.T) model.VideoFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video-bytes"), 0o600))
	return model.VideoFile{Path: path, Size: 11, MimeType: "video/mp4"}
}

func TestUpload_ReturnsVideoID(t *testing.T) {
	adapter := NewAdapter(uploadDoer(t, `{"id":"vid-1"}`))
	in := &model.PublishInput{AccessToken: "token-1", Title: "demo", Video: testVideo(t)}

	handle, err := adapter.Upload(context.Background(), in, func(float64, string) {})
	require.NoError(t, err)
	assert.Equal(t, "vid-1", handle.MediaID)
	assert.Equal(t, "vid-1", handle.ResultID)
}

func TestUpload_FailsWhenResponseHasNoVideoID(t *testing.T) {
	adapter := NewAdapter(uploadDoer(t, `{"kind":"youtube#video"}`))
	in := &model.PublishInput{AccessToken: "token-1", Title: "demo", Video: testVideo(t)}

	_, err := adapter.Upload(context.Background(), in, func(float64, string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no video id")
	assert.NotContains(t, err.Error(), "%!w")
}

func TestUpload_FailsOnMalformedResponse(t *testing.T) {
	adapter := NewAdapter(uploadDoer(t, `not-json`))
	in := &model.PublishInput{AccessToken: "token-1", Video: testVideo(t)}

	_, err := adapter.Upload(context.Background(), in, func(float64, string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse upload response")
}
