package repository

import (
	"context"

	"crosspost/domain/model"
)

// IStorageBackend stores prepared video artifacts and returns public URLs.
// An empty URL with a nil error means the backend declined the upload.
type IStorageBackend interface {
	Name() string
	IsEnabled() bool
	IsUsable() bool
	// ContentAddressed reports that stored URLs are derived from content
	// (IPFS-style), as required by decentralized destinations.
	ContentAddressed() bool

	StoreVideo(ctx context.Context, file model.VideoFile, label string, report ProgressFunc) (string, error)
	StoreHLSBundle(ctx context.Context, bundle *model.HLSBundle, folderName, label string, report ProgressFunc) (string, error)
}
