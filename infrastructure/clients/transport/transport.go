package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Doer is the minimal HTTP client surface the adapters use; *http.Client
// satisfies it and tests substitute httptest-backed clients.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultClient carries a per-request timeout suited to upload chunks; the
// wall-clock bound on a whole job lives in the engine, not here.
var DefaultClient = &http.Client{Timeout: 2 * time.Minute}

// APIError is a non-2xx platform response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:297] + "..."
	}
	return fmt.Sprintf("api status %d: %s", e.StatusCode, body)
}

// DoJSON executes the request and decodes a 2xx JSON body into out (which may
// be nil). Non-2xx responses become *APIError.
func DoJSON(client Doer, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// GetJSON is DoJSON over a bearer-authenticated GET.
func GetJSON(ctx context.Context, client Doer, rawURL, accessToken string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return DoJSON(client, req, out)
}

// PostJSON posts a JSON body with a bearer token and decodes the JSON reply.
func PostJSON(ctx context.Context, client Doer, rawURL, accessToken string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return DoJSON(client, req, out)
}

// PostForm posts url-encoded form values with a bearer token and decodes the
// JSON reply.
func PostForm(ctx context.Context, client Doer, rawURL, accessToken string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return DoJSON(client, req, out)
}
