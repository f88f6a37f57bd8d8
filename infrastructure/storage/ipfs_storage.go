package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/clients/transport"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"
)

// IPFSStorage pins artifacts on an IPFS node over its HTTP API and returns
// gateway URLs keyed by content hash. It is the content-addressed tail of the
// fan-out: registered last, so its URL wins when both backends succeed.
type IPFSStorage struct {
	http transport.Doer
	cfg  configuration.IPFSStorage
}

func NewIPFSStorage(client transport.Doer, cfg configuration.IPFSStorage) *IPFSStorage {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &IPFSStorage{http: client, cfg: cfg}
}

func (s *IPFSStorage) Name() string           { return "ipfs" }
func (s *IPFSStorage) IsEnabled() bool        { return s.cfg.Enabled }
func (s *IPFSStorage) ContentAddressed() bool { return true }

func (s *IPFSStorage) IsUsable() bool {
	return s.cfg.APIURL != "" && s.cfg.GatewayURL != ""
}

type addResult struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
}

func (s *IPFSStorage) gatewayURL(hash, name string) string {
	base := strings.TrimRight(s.cfg.GatewayURL, "/")
	if name == "" {
		return fmt.Sprintf("%s/ipfs/%s", base, hash)
	}
	return fmt.Sprintf("%s/ipfs/%s/%s", base, hash, name)
}

func (s *IPFSStorage) StoreVideo(ctx context.Context, file model.VideoFile, label string, report repository.ProgressFunc) (string, error) {
	f, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file.Path, err)
	}
	defer f.Close()

	if report != nil {
		report(0, "pinning to ipfs")
	}
	results, err := s.add(ctx, []addFile{{name: path.Base(file.Path), r: f}}, false)
	if err != nil {
		return "", err
	}
	if len(results) == 0 || results[len(results)-1].Hash == "" {
		return "", fmt.Errorf("ipfs add returned no hash")
	}
	if report != nil {
		report(1, "pinned to ipfs")
	}
	u := s.gatewayURL(results[len(results)-1].Hash, "")
	logger.GetLogger().WithField("hash", results[len(results)-1].Hash).Info("video pinned to ipfs")
	return u, nil
}

// StoreHLSBundle adds the whole bundle as one wrapped directory so segment
// paths inside the manifest stay relative, then returns the manifest's
// gateway URL under the directory hash.
func (s *IPFSStorage) StoreHLSBundle(ctx context.Context, bundle *model.HLSBundle, folderName, label string, report repository.ProgressFunc) (string, error) {
	files := append([]model.VideoFile{bundle.Manifest, bundle.VariantManifest, bundle.Thumbnail}, bundle.Segments...)
	var parts []addFile
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for _, file := range files {
		if file.IsZero() {
			continue
		}
		f, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", file.Path, err)
		}
		closers = append(closers, f)
		parts = append(parts, addFile{name: folderName + "/" + path.Base(file.Path), r: f})
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("empty hls bundle")
	}

	if report != nil {
		report(0, "pinning hls bundle to ipfs")
	}
	results, err := s.add(ctx, parts, true)
	if err != nil {
		return "", err
	}
	dirHash := ""
	for _, r := range results {
		if r.Name == folderName {
			dirHash = r.Hash
		}
	}
	if dirHash == "" {
		return "", fmt.Errorf("ipfs add returned no directory hash for %s", folderName)
	}
	if report != nil {
		report(1, "hls bundle pinned")
	}
	return s.gatewayURL(dirHash, path.Base(bundle.Manifest.Path)), nil
}

type addFile struct {
	name string
	r    io.Reader
}

// add streams the files to /api/v0/add. The node replies with one JSON object
// per line; directory entries arrive after their children.
func (s *IPFSStorage) add(ctx context.Context, files []addFile, wrapDir bool) ([]addResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, file := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, file.name))
		h.Set("Content-Type", "application/octet-stream")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, file.r); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(s.cfg.APIURL, "/") + "/api/v0/add?pin=true"
	if wrapDir {
		endpoint += "&recursive=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &transport.APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var results []addResult
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r addResult
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("parse add response: %w", err)
		}
		results = append(results, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
