package model

import (
	"sync"
	"time"
)

// JobState is the lifecycle of one publish job. Idle is initial; Complete and
// Failed are terminal.
type JobState string

const (
	JobIdle               JobState = "idle"
	JobUploading          JobState = "uploading"
	JobAwaitingCompletion JobState = "awaiting_completion"
	JobPublishing         JobState = "publishing"
	JobComplete           JobState = "complete"
	JobFailed             JobState = "failed"
)

func (s JobState) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// PollCode classifies a completion-poll response. Adapters map their own
// status vocabulary onto these three.
type PollCode int

const (
	PollProcessing PollCode = iota
	PollSucceeded
	PollFailed
)

// PollStatus is one completion-poll observation. RetryAfter carries the
// provider-directed "check again after N seconds" hint when present; zero
// means use the adapter's fixed interval.
type PollStatus struct {
	Code       PollCode
	Message    string
	RetryAfter time.Duration
}

// CompletionKind selects how a job learns that platform-side processing has
// finished.
type CompletionKind int

const (
	CompletionSync CompletionKind = iota
	CompletionPoll
	CompletionNone
)

// CompletionSpec describes an adapter's completion strategy.
type CompletionSpec struct {
	Kind     CompletionKind
	Interval time.Duration
	Timeout  time.Duration
}

// JobSnapshot is an immutable view of a publish job, safe to hand to the
// HTTP layer and SSE subscribers.
type JobSnapshot struct {
	Platform  string   `json:"platform"`
	State     JobState `json:"state"`
	Progress  float64  `json:"progress"`
	Status    string   `json:"status"`
	Error     string   `json:"error,omitempty"`
	ResultID  string   `json:"resultId,omitempty"`
	UpdatedAt int64    `json:"updatedAt"`
}

// PublishJob is the transient unit of work for one (destination, post) pair.
// It is owned exclusively by its destination's engine; observers only ever
// see snapshots.
type PublishJob struct {
	mu       sync.Mutex
	platform string
	state    JobState
	progress float64
	status   string
	err      string
	resultID string
	onChange func(JobSnapshot)
}

func NewPublishJob(platform string) *PublishJob {
	return &PublishJob{platform: platform, state: JobIdle}
}

// OnChange registers a single observer invoked after every mutation. Must be
// set before the job starts running.
func (j *PublishJob) OnChange(fn func(JobSnapshot)) {
	j.mu.Lock()
	j.onChange = fn
	j.mu.Unlock()
}

func (j *PublishJob) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *PublishJob) snapshotLocked() JobSnapshot {
	return JobSnapshot{
		Platform:  j.platform,
		State:     j.state,
		Progress:  j.progress,
		Status:    j.status,
		Error:     j.err,
		ResultID:  j.resultID,
		UpdatedAt: time.Now().UnixMilli(),
	}
}

func (j *PublishJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// SetState transitions the job and optionally floors progress at pct.
func (j *PublishJob) SetState(state JobState, pct float64, status string) {
	j.mu.Lock()
	j.state = state
	if pct > j.progress {
		j.progress = pct
	}
	if status != "" {
		j.status = status
	}
	fn, snap := j.onChange, j.snapshotLocked()
	j.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// SetProgress updates progress and status text. Progress is monotonic within
// one submission; a lower value only refreshes the status message.
func (j *PublishJob) SetProgress(pct float64, status string) {
	j.mu.Lock()
	if pct > j.progress {
		j.progress = pct
	}
	if status != "" {
		j.status = status
	}
	fn, snap := j.onChange, j.snapshotLocked()
	j.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (j *PublishJob) Complete(resultID string) {
	j.mu.Lock()
	j.state = JobComplete
	j.progress = 100
	j.resultID = resultID
	j.status = "complete"
	fn, snap := j.onChange, j.snapshotLocked()
	j.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (j *PublishJob) Fail(err error, status string) {
	j.mu.Lock()
	j.state = JobFailed
	if err != nil {
		j.err = err.Error()
	}
	if status != "" {
		j.status = status
	}
	fn, snap := j.onChange, j.snapshotLocked()
	j.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
