package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a scriptable adapter: upload/publish outcomes plus a queue of
// poll statuses consumed one per CheckStatus call.
type fakeAdapter struct {
	platform   string
	completion model.CompletionSpec
	spec       model.TrimSpec
	needsURL   bool
	needsHLS   bool

	uploadErr    error
	uploadPanic  string
	uploadHandle *repository.UploadHandle
	uploadFrames []float64
	lastInput    *model.PublishInput

	polls     []model.PollStatus
	pollCalls int

	publishID  string
	publishErr error
}

func (f *fakeAdapter) Platform() string                 { return f.platform }
func (f *fakeAdapter) VariantSpec() model.TrimSpec      { return f.spec }
func (f *fakeAdapter) RequiresVideoURL() bool           { return f.needsURL }
func (f *fakeAdapter) RequiresHLS() bool                { return f.needsHLS }
func (f *fakeAdapter) Completion() model.CompletionSpec { return f.completion }

func (f *fakeAdapter) Upload(ctx context.Context, in *model.PublishInput, report repository.ProgressFunc) (*repository.UploadHandle, error) {
	f.lastInput = in
	if f.uploadPanic != "" {
		panic(f.uploadPanic)
	}
	for _, frac := range f.uploadFrames {
		report(frac, "uploading")
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if f.uploadHandle != nil {
		return f.uploadHandle, nil
	}
	return &repository.UploadHandle{MediaID: "media-1"}, nil
}

func (f *fakeAdapter) CheckStatus(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (*model.PollStatus, error) {
	if f.pollCalls >= len(f.polls) {
		return nil, errors.New("poll queue exhausted")
	}
	st := f.polls[f.pollCalls]
	f.pollCalls++
	return &st, nil
}

func (f *fakeAdapter) Publish(ctx context.Context, in *model.PublishInput, h *repository.UploadHandle) (string, error) {
	return f.publishID, f.publishErr
}

// instantSleep records requested waits without actually sleeping.
func instantSleep(waits *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestPublishJobEngine_SyncHappyPath(t *testing.T) {
	adapter := &fakeAdapter{
		platform:     "youtube",
		completion:   model.CompletionSpec{Kind: model.CompletionSync},
		uploadFrames: []float64{0.25, 0.5, 1},
		uploadHandle: &repository.UploadHandle{MediaID: "vid-9", ResultID: "vid-9"},
		publishID:    "vid-9",
	}
	engine := NewPublishJobEngine(adapter)

	var states []model.JobState
	engine.OnChange(func(snap model.JobSnapshot) { states = append(states, snap.State) })

	resultID, err := engine.Run(context.Background(), &model.PublishInput{Platform: "youtube"})
	require.NoError(t, err)
	assert.Equal(t, "vid-9", resultID)

	snap := engine.Job()
	assert.Equal(t, model.JobComplete, snap.State)
	assert.Equal(t, 100.0, snap.Progress)
	assert.Equal(t, "vid-9", snap.ResultID)

	// A sync adapter never enters the awaiting-completion state.
	assert.NotContains(t, states, model.JobAwaitingCompletion)
	assert.Contains(t, states, model.JobUploading)
	assert.Contains(t, states, model.JobPublishing)
}

func TestPublishJobEngine_UploadErrorWrapsTaxonomy(t *testing.T) {
	adapter := &fakeAdapter{
		platform:   "facebook",
		completion: model.CompletionSpec{Kind: model.CompletionSync},
		uploadErr:  errors.New("connection reset"),
	}
	engine := NewPublishJobEngine(adapter)

	_, err := engine.Run(context.Background(), &model.PublishInput{Platform: "facebook"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUpload))

	snap := engine.Job()
	assert.Equal(t, model.JobFailed, snap.State)
	assert.Contains(t, snap.Error, "connection reset")
}

func TestPublishJobEngine_UploadProgressStaysBelowCeiling(t *testing.T) {
	adapter := &fakeAdapter{
		platform:     "x",
		completion:   model.CompletionSpec{Kind: model.CompletionPoll, Interval: time.Millisecond, Timeout: time.Minute},
		uploadFrames: []float64{0.5, 1},
		polls:        []model.PollStatus{{Code: model.PollSucceeded}},
		publishID:    "tweet-1",
	}
	engine := NewPublishJobEngine(adapter)
	var waits []time.Duration
	engine.sleep = instantSleep(&waits)

	var progress []float64
	engine.OnChange(func(snap model.JobSnapshot) { progress = append(progress, snap.Progress) })

	_, err := engine.Run(context.Background(), &model.PublishInput{Platform: "x"})
	require.NoError(t, err)

	for i, p := range progress {
		if i > 0 {
			assert.GreaterOrEqual(t, p, progress[i-1], "progress must be monotonic")
		}
	}
	assert.Equal(t, 100.0, progress[len(progress)-1])
}

func TestPublishJobEngine_PollSequenceThenPublish(t *testing.T) {
	adapter := &fakeAdapter{
		platform:   "x",
		completion: model.CompletionSpec{Kind: model.CompletionPoll, Interval: 2 * time.Second, Timeout: time.Minute},
		polls: []model.PollStatus{
			{Code: model.PollProcessing, Message: "in_progress"},
			{Code: model.PollProcessing, Message: "in_progress", RetryAfter: 7 * time.Second},
			{Code: model.PollSucceeded, Message: "finished"},
		},
		publishID: "tweet-42",
	}
	engine := NewPublishJobEngine(adapter)
	var waits []time.Duration
	engine.sleep = instantSleep(&waits)

	resultID, err := engine.Run(context.Background(), &model.PublishInput{Platform: "x"})
	require.NoError(t, err)
	assert.Equal(t, "tweet-42", resultID)
	assert.Equal(t, 3, adapter.pollCalls)

	// First wait uses the adapter interval; the provider-directed hint takes
	// over for the wait after the poll that carried it.
	require.Len(t, waits, 3)
	assert.Equal(t, 2*time.Second, waits[0])
	assert.Equal(t, 2*time.Second, waits[1])
	assert.Equal(t, 7*time.Second, waits[2])
}

func TestPublishJobEngine_PollFailure(t *testing.T) {
	adapter := &fakeAdapter{
		platform:   "instagram",
		completion: model.CompletionSpec{Kind: model.CompletionPoll, Interval: time.Second, Timeout: time.Minute},
		polls: []model.PollStatus{
			{Code: model.PollProcessing},
			{Code: model.PollFailed, Message: "container expired"},
		},
	}
	engine := NewPublishJobEngine(adapter)
	var waits []time.Duration
	engine.sleep = instantSleep(&waits)

	_, err := engine.Run(context.Background(), &model.PublishInput{Platform: "instagram"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrProcessingFailed))

	snap := engine.Job()
	assert.Equal(t, model.JobFailed, snap.State)
	assert.Contains(t, snap.Error, "container expired")
}

func TestPublishJobEngine_PollTimeout(t *testing.T) {
	adapter := &fakeAdapter{
		platform:   "tiktok",
		completion: model.CompletionSpec{Kind: model.CompletionPoll, Interval: time.Second, Timeout: time.Nanosecond},
		polls:      []model.PollStatus{{Code: model.PollProcessing}},
	}
	engine := NewPublishJobEngine(adapter)
	var waits []time.Duration
	engine.sleep = instantSleep(&waits)

	_, err := engine.Run(context.Background(), &model.PublishInput{Platform: "tiktok"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrProcessingTimeout))
	assert.Equal(t, model.JobFailed, engine.Job().State)
}

func TestPublishJobEngine_ResetSwapsJob(t *testing.T) {
	adapter := &fakeAdapter{
		platform:   "facebook",
		completion: model.CompletionSpec{Kind: model.CompletionSync},
		uploadErr:  errors.New("boom"),
	}
	engine := NewPublishJobEngine(adapter)

	_, err := engine.Run(context.Background(), &model.PublishInput{Platform: "facebook"})
	require.Error(t, err)
	assert.Equal(t, model.JobFailed, engine.Job().State)

	engine.ResetJob()
	snap := engine.Job()
	assert.Equal(t, model.JobIdle, snap.State)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 0.0, snap.Progress)
}
