package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadResumable_ContinuesOn308(t *testing.T) {
	content := bytes.Repeat([]byte("a"), 25)
	var ranges []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ranges = append(ranges, r.Header.Get("Content-Range"))
		io.Copy(io.Discard, r.Body)
		if strings.HasSuffix(r.Header.Get("Content-Range"), fmt.Sprintf("%d/%d", len(content)-1, len(content))) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"vid-1"}`))
			return
		}
		w.WriteHeader(StatusResumeIncomplete)
	}))
	defer server.Close()

	var fractions []float64
	body, err := UploadResumable(context.Background(), server.Client(), server.URL, bytes.NewReader(content), int64(len(content)), 10, func(f float64) {
		fractions = append(fractions, f)
	})
	require.NoError(t, err)
	assert.Contains(t, string(body), "vid-1")

	require.Len(t, ranges, 3)
	assert.Equal(t, "bytes 0-9/25", ranges[0])
	assert.Equal(t, "bytes 10-19/25", ranges[1])
	assert.Equal(t, "bytes 20-24/25", ranges[2])

	require.Len(t, fractions, 3)
	assert.InDelta(t, 0.4, fractions[0], 0.001)
	assert.Equal(t, 1.0, fractions[2])
}

func TestUploadResumable_NonResumeStatusIsFatal(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(StatusResumeIncomplete)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("backend unavailable"))
	}))
	defer server.Close()

	content := bytes.Repeat([]byte("b"), 20)
	_, err := UploadResumable(context.Background(), server.Client(), server.URL, bytes.NewReader(content), 20, 10, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "backend unavailable")
	// No retry of the failed range.
	assert.Equal(t, 2, calls)
}

func TestUploadResumable_TruncatedSourceFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(StatusResumeIncomplete)
	}))
	defer server.Close()

	// Server never acknowledges completion and the reader runs dry.
	_, err := UploadResumable(context.Background(), server.Client(), server.URL, strings.NewReader("short"), 100, 10, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before server acknowledged completion")
}

func TestUploadChunks_StrictOrderAndProgress(t *testing.T) {
	content := bytes.Repeat([]byte("c"), 10)
	var indexes []int
	var sizes []int
	var fractions []float64

	err := UploadChunks(context.Background(), bytes.NewReader(content), 10, 4, func(ctx context.Context, index, total int, data []byte) error {
		indexes = append(indexes, index)
		sizes = append(sizes, len(data))
		assert.Equal(t, 3, total)
		return nil
	}, func(f float64) { fractions = append(fractions, f) })
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, indexes)
	assert.Equal(t, []int{4, 4, 2}, sizes)
	require.Len(t, fractions, 3)
	assert.Equal(t, 1.0, fractions[2])
}

func TestUploadChunks_SinkErrorStopsUpload(t *testing.T) {
	content := bytes.Repeat([]byte("d"), 12)
	calls := 0
	err := UploadChunks(context.Background(), bytes.NewReader(content), 12, 4, func(ctx context.Context, index, total int, data []byte) error {
		calls++
		if index == 1 {
			return errors.New("append rejected")
		}
		return nil
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append rejected")
	assert.Equal(t, 2, calls)
}

func TestDoJSON_DecodesAndMapsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			w.Write([]byte(`{"name":"value"}`))
		default:
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"denied"}`))
		}
	}))
	defer server.Close()

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, GetJSON(context.Background(), server.Client(), server.URL+"/ok", "token-1", &out))
	assert.Equal(t, "value", out.Name)

	err := GetJSON(context.Background(), server.Client(), server.URL+"/denied", "token-1", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestAPIError_TruncatesLongBodies(t *testing.T) {
	e := &APIError{StatusCode: 500, Body: strings.Repeat("x", 500)}
	assert.LessOrEqual(t, len(e.Error()), 330)
	assert.Contains(t, e.Error(), "api status 500")
}
