package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/clients/transport"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"
)

// ObjectStorage uploads artifacts to an S3-compatible endpoint over plain
// HTTP PUT and serves them back from a public base URL. It is the
// location-addressed half of the fan-out and should be registered first.
type ObjectStorage struct {
	http transport.Doer
	cfg  configuration.ObjectStorage
}

func NewObjectStorage(client transport.Doer, cfg configuration.ObjectStorage) *ObjectStorage {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &ObjectStorage{http: client, cfg: cfg}
}

func (s *ObjectStorage) Name() string           { return "object" }
func (s *ObjectStorage) IsEnabled() bool        { return s.cfg.Enabled }
func (s *ObjectStorage) ContentAddressed() bool { return false }

func (s *ObjectStorage) IsUsable() bool {
	return s.cfg.Endpoint != "" && s.cfg.Bucket != "" && s.cfg.PublicBaseURL != ""
}

func (s *ObjectStorage) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.Bucket, key)
}

func (s *ObjectStorage) publicURL(key string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), key)
}

func (s *ObjectStorage) put(ctx context.Context, key string, r io.Reader, size int64, mimeType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(key), r)
	if err != nil {
		return err
	}
	if size > 0 {
		req.ContentLength = size
	}
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	}
	if s.cfg.AccessKey != "" {
		req.SetBasicAuth(s.cfg.AccessKey, s.cfg.SecretKey)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &transport.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (s *ObjectStorage) StoreVideo(ctx context.Context, file model.VideoFile, label string, report repository.ProgressFunc) (string, error) {
	f, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", file.Path, err)
	}
	defer f.Close()

	key := objectKey(label, path.Base(file.Path))
	if report != nil {
		report(0, "uploading to object storage")
	}
	if err := s.put(ctx, key, f, file.Size, file.MimeType); err != nil {
		return "", fmt.Errorf("object put %s: %w", key, err)
	}
	if report != nil {
		report(1, "stored on object storage")
	}
	u := s.publicURL(key)
	logger.GetLogger().WithField("key", key).WithField("url", u).Info("video stored on object storage")
	return u, nil
}

// StoreHLSBundle uploads every file of the bundle under one folder and returns
// the manifest URL. HLS normally goes to content-addressed storage; this
// exists so operators without an IPFS node can still inspect bundles.
func (s *ObjectStorage) StoreHLSBundle(ctx context.Context, bundle *model.HLSBundle, folderName, label string, report repository.ProgressFunc) (string, error) {
	files := append([]model.VideoFile{bundle.Manifest, bundle.VariantManifest, bundle.Thumbnail}, bundle.Segments...)
	total := 0
	for _, file := range files {
		if file.IsZero() {
			continue
		}
		total++
	}
	done := 0
	manifestURL := ""
	for _, file := range files {
		if file.IsZero() {
			continue
		}
		f, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", file.Path, err)
		}
		key := folderName + "/" + path.Base(file.Path)
		err = s.put(ctx, key, f, file.Size, file.MimeType)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("object put %s: %w", key, err)
		}
		done++
		if report != nil {
			report(float64(done)/float64(total), "uploading hls bundle")
		}
		if file.Path == bundle.Manifest.Path {
			manifestURL = s.publicURL(key)
		}
	}
	return manifestURL, nil
}

func objectKey(label, base string) string {
	return fmt.Sprintf("%s/%d-%s", label, time.Now().UnixNano(), url.PathEscape(base))
}
