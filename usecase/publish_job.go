package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// Progress layout for every job: the upload phase fills 0..uploadCeiling, the
// completion-poll phase creeps toward publishSnap, the publish call snaps to
// publishSnap, and a terminal success lands on 100.
const (
	uploadCeiling = 80.0
	publishSnap   = 90.0

	defaultPollInterval = 5 * time.Second
	defaultPollTimeout  = 10 * time.Minute
)

// PublishJobEngine drives one destination's adapter through the generalized
// job state machine. The engine owns its PublishJob exclusively; concurrent
// engines never share state.
type PublishJobEngine struct {
	adapter repository.IPublishAdapter

	mu  sync.Mutex
	job *model.PublishJob

	onChange func(model.JobSnapshot)
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewPublishJobEngine(adapter repository.IPublishAdapter) *PublishJobEngine {
	e := &PublishJobEngine{
		adapter: adapter,
		job:     model.NewPublishJob(adapter.Platform()),
		sleep:   sleepCtx,
	}
	return e
}

func (e *PublishJobEngine) Platform() string { return e.adapter.Platform() }

func (e *PublishJobEngine) Adapter() repository.IPublishAdapter { return e.adapter }

// OnChange registers the snapshot observer applied to the current and every
// future job.
func (e *PublishJobEngine) OnChange(fn func(model.JobSnapshot)) {
	e.mu.Lock()
	e.onChange = fn
	e.job.OnChange(fn)
	e.mu.Unlock()
}

func (e *PublishJobEngine) Job() model.JobSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Snapshot()
}

// ResetJob swaps in a fresh idle job. Only safe between posts: a still-running
// submission keeps mutating the old job object, which is simply no longer
// observed.
func (e *PublishJobEngine) ResetJob() {
	e.mu.Lock()
	e.job = model.NewPublishJob(e.adapter.Platform())
	if e.onChange != nil {
		e.job.OnChange(e.onChange)
	}
	e.mu.Unlock()
}

func (e *PublishJobEngine) currentJob() *model.PublishJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// Run executes one submission end to end. The returned error is also recorded
// on the job; callers aggregating across destinations may treat the job
// snapshot as authoritative.
func (e *PublishJobEngine) Run(ctx context.Context, in *model.PublishInput) (string, error) {
	job := e.currentJob()
	platform := e.adapter.Platform()
	lg := logger.GetLogger().WithField("platform", platform)

	job.SetState(model.JobUploading, 0, "uploading")
	handle, err := e.adapter.Upload(ctx, in, func(frac float64, status string) {
		if frac < 0 {
			frac = 0
		} else if frac > 1 {
			frac = 1
		}
		job.SetProgress(frac*uploadCeiling, status)
	})
	if err != nil {
		if !isTaxonomyError(err) {
			err = model.NewPlatformError(platform, model.ErrUpload, "%v", err)
		}
		job.Fail(err, "upload failed")
		lg.WithField("error", err).Warn("publish upload failed")
		return "", err
	}

	spec := e.adapter.Completion()
	if spec.Kind == model.CompletionPoll {
		job.SetState(model.JobAwaitingCompletion, uploadCeiling, "waiting for processing")
		if err := e.awaitCompletion(ctx, job, in, handle, spec); err != nil {
			lg.WithField("error", err).Warn("publish completion failed")
			return "", err
		}
	}

	job.SetState(model.JobPublishing, publishSnap, "publishing")
	resultID, err := e.adapter.Publish(ctx, in, handle)
	if err != nil {
		if !isTaxonomyError(err) {
			err = model.NewPlatformError(platform, model.ErrUpload, "publish: %v", err)
		}
		job.Fail(err, "publish failed")
		lg.WithField("error", err).Warn("publish call failed")
		return "", err
	}
	if resultID == "" {
		resultID = handle.ResultID
	}
	if resultID == "" {
		resultID = handle.MediaID
	}
	job.Complete(resultID)
	lg.WithField("result_id", resultID).Info("publish complete")
	return resultID, nil
}

// awaitCompletion polls the adapter until a terminal status, honoring
// provider-directed retry hints and the spec's wall-clock timeout.
func (e *PublishJobEngine) awaitCompletion(ctx context.Context, job *model.PublishJob, in *model.PublishInput, handle *repository.UploadHandle, spec model.CompletionSpec) error {
	platform := e.adapter.Platform()
	interval := spec.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	deadline := time.Now().Add(timeout)
	wait := interval

	for attempt := 1; ; attempt++ {
		if !time.Now().Before(deadline) {
			err := model.NewPlatformError(platform, model.ErrProcessingTimeout, "no terminal status within %s", timeout)
			job.Fail(err, "timed out")
			return err
		}
		if err := e.sleep(ctx, wait); err != nil {
			err = model.NewPlatformError(platform, model.ErrProcessingFailed, "canceled: %v", err)
			job.Fail(err, "canceled")
			return err
		}
		st, err := e.adapter.CheckStatus(ctx, in, handle)
		if err != nil {
			err = model.NewPlatformError(platform, model.ErrProcessingFailed, "status check: %v", err)
			job.Fail(err, "processing failed")
			return err
		}
		switch st.Code {
		case model.PollSucceeded:
			job.SetProgress(publishSnap, nonEmpty(st.Message, "processing finished"))
			return nil
		case model.PollFailed:
			err := model.NewPlatformError(platform, model.ErrProcessingFailed, "%s", nonEmpty(st.Message, "destination reported failure"))
			job.Fail(err, "processing failed")
			return err
		default:
			// Non-terminal codes only advance the message and creep progress
			// toward the publish snap, strictly increasing per poll.
			pct := publishSnap - (publishSnap-uploadCeiling)/float64(attempt+1)
			job.SetProgress(pct, nonEmpty(st.Message, "processing"))
			if st.RetryAfter > 0 {
				wait = st.RetryAfter
			} else {
				wait = interval
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func isTaxonomyError(err error) bool {
	for _, kind := range []error{
		model.ErrCredential, model.ErrAuthorization, model.ErrUpload,
		model.ErrProcessingFailed, model.ErrProcessingTimeout,
		model.ErrUnsupportedOperation, model.ErrStorageUnavailable,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
