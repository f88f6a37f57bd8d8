package repository

import (
	"context"

	"crosspost/domain/model"
)

// ProgressFunc reports upload progress as a 0..1 fraction plus a free-text
// status line.
type ProgressFunc func(fraction float64, status string)

// UploadHandle is the opaque result of an adapter's upload phase: whatever
// the completion and publish phases need to finish the post.
type UploadHandle struct {
	// MediaID identifies the uploaded asset on the platform (media id,
	// container id, upload session id).
	MediaID string
	// ResultID, when already known after upload, is the final post/video id.
	ResultID string
	// Extra carries adapter-private continuation state.
	Extra map[string]string
}

// IPublishAdapter is one destination's plug-in to the generic publish job
// engine: an upload strategy, a completion strategy, and an optional final
// publish step.
type IPublishAdapter interface {
	Platform() string

	// VariantSpec returns the destination's trim constraints, or a zero spec
	// when the master file is posted as-is.
	VariantSpec() model.TrimSpec
	// RequiresVideoURL reports that the adapter posts a stored URL rather
	// than uploading bytes itself.
	RequiresVideoURL() bool
	// RequiresHLS reports that the adapter needs an HLS bundle on
	// content-addressed storage.
	RequiresHLS() bool

	// Upload pushes the prepared input to the platform. Implementations must
	// validate required inputs and fail fast before any network call.
	Upload(ctx context.Context, in *model.PublishInput, report ProgressFunc) (*UploadHandle, error)

	// Completion describes how the engine learns that platform-side
	// processing finished.
	Completion() model.CompletionSpec
	// CheckStatus is called by the engine's poll loop for CompletionPoll
	// adapters; others may return an error.
	CheckStatus(ctx context.Context, in *model.PublishInput, h *UploadHandle) (*model.PollStatus, error)

	// Publish performs the separate publish call when the platform has one.
	// Adapters without one return h.ResultID (or h.MediaID) unchanged.
	Publish(ctx context.Context, in *model.PublishInput, h *UploadHandle) (string, error)
}
