package usecase

import (
	"context"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// StorageFanout attempts each enabled, usable backend in registration order.
// Registration order is priority order: a later success overwrites an earlier
// URL, so content-addressed storage registered last wins when both succeed.
type StorageFanout struct {
	backends []repository.IStorageBackend
}

func NewStorageFanout(backends ...repository.IStorageBackend) *StorageFanout {
	return &StorageFanout{backends: backends}
}

func (s *StorageFanout) usable() []repository.IStorageBackend {
	out := make([]repository.IStorageBackend, 0, len(s.backends))
	for _, b := range s.backends {
		if b.IsEnabled() && b.IsUsable() {
			out = append(out, b)
		}
	}
	return out
}

func (s *StorageFanout) HasUsable() bool {
	return len(s.usable()) > 0
}

// HasContentAddressed reports whether a content-addressed backend is
// available, required whenever some destination needs an HLS bundle.
func (s *StorageFanout) HasContentAddressed() bool {
	for _, b := range s.usable() {
		if b.ContentAddressed() {
			return true
		}
	}
	return false
}

// StoreVideo fans the file out to every usable backend. Individual failures
// are tolerated as long as some backend produced a URL; total failure is
// fatal for the post.
func (s *StorageFanout) StoreVideo(ctx context.Context, file model.VideoFile, label string, report repository.ProgressFunc) (string, error) {
	backends := s.usable()
	if len(backends) == 0 {
		return "", model.NewPlatformError(label, model.ErrStorageUnavailable, "no enabled storage backend")
	}
	url := ""
	for _, b := range backends {
		u, err := b.StoreVideo(ctx, file, label, report)
		if err != nil {
			logger.GetLogger().WithField("backend", b.Name()).WithField("label", label).WithField("error", err).Warn("video store failed on backend")
			continue
		}
		if u != "" {
			url = u
		}
	}
	if url == "" {
		return "", model.NewPlatformError(label, model.ErrStorageUnavailable, "every storage backend failed")
	}
	return url, nil
}

// StoreHLSBundle uploads the bundle to content-addressed backends only; the
// destinations that need it require a content-derived manifest URL.
func (s *StorageFanout) StoreHLSBundle(ctx context.Context, bundle *model.HLSBundle, folderName, label string, report repository.ProgressFunc) (string, error) {
	url := ""
	attempted := false
	for _, b := range s.usable() {
		if !b.ContentAddressed() {
			continue
		}
		attempted = true
		u, err := b.StoreHLSBundle(ctx, bundle, folderName, label, report)
		if err != nil {
			logger.GetLogger().WithField("backend", b.Name()).WithField("error", err).Warn("hls store failed on backend")
			continue
		}
		if u != "" {
			url = u
		}
	}
	if !attempted {
		return "", model.NewPlatformError(label, model.ErrStorageUnavailable, "no content-addressed storage backend")
	}
	if url == "" {
		return "", model.NewPlatformError(label, model.ErrStorageUnavailable, "hls upload failed on every content-addressed backend")
	}
	return url, nil
}
