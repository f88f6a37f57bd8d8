package repository

import (
	"context"

	"crosspost/domain/model"
)

// IVideoPipeline is the external video-preparation collaborator. Conversion
// and packaging internals are out of scope for this service.
type IVideoPipeline interface {
	Convert(ctx context.Context, source model.VideoFile, report ProgressFunc) (model.VideoFile, error)
	Trim(ctx context.Context, master model.VideoFile, spec model.TrimSpec, report ProgressFunc) (model.VideoFile, error)
	PackageHLS(ctx context.Context, master model.VideoFile, report ProgressFunc) (*model.HLSBundle, error)
}
