package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// IOutcomeNotifier receives the settle-all aggregate after every post.
// Implementations are optional collaborators; failures are logged, never
// propagated.
type IOutcomeNotifier interface {
	NotifyOutcome(ctx context.Context, userID string, results []dto.DestinationResult) error
}

type IPostOrchestrator interface {
	Post(ctx context.Context, userID string, req *dto.PostRequest) (*dto.PostResponse, error)
	Engines() []*PublishJobEngine
	Engine(platform string) (*PublishJobEngine, bool)
	ResetJobs()
}

// PostOrchestrator composes the token manager, storage fan-out, video
// pipeline, and per-destination publish engines. One destination's failure,
// slow poll, or timeout never blocks another's job.
type PostOrchestrator struct {
	tokens   *TokenLifecycleManager
	storage  *StorageFanout
	pipeline repository.IVideoPipeline

	engines map[string]*PublishJobEngine
	order   []string

	history   repository.IPublishHistory
	notifiers []IOutcomeNotifier
}

func NewPostOrchestrator(
	tokens *TokenLifecycleManager,
	storage *StorageFanout,
	pipeline repository.IVideoPipeline,
	adapters ...repository.IPublishAdapter,
) *PostOrchestrator {
	o := &PostOrchestrator{
		tokens:   tokens,
		storage:  storage,
		pipeline: pipeline,
		engines:  make(map[string]*PublishJobEngine, len(adapters)),
	}
	for _, a := range adapters {
		o.engines[a.Platform()] = NewPublishJobEngine(a)
		o.order = append(o.order, a.Platform())
	}
	return o
}

// WithHistory attaches the optional publish-history audit trail.
func (o *PostOrchestrator) WithHistory(h repository.IPublishHistory) *PostOrchestrator {
	o.history = h
	return o
}

// WithNotifiers attaches optional outcome notifiers.
func (o *PostOrchestrator) WithNotifiers(ns ...IOutcomeNotifier) *PostOrchestrator {
	for _, n := range ns {
		if n != nil {
			o.notifiers = append(o.notifiers, n)
		}
	}
	return o
}

func (o *PostOrchestrator) Engines() []*PublishJobEngine {
	out := make([]*PublishJobEngine, 0, len(o.order))
	for _, p := range o.order {
		out = append(out, o.engines[p])
	}
	return out
}

func (o *PostOrchestrator) Engine(platform string) (*PublishJobEngine, bool) {
	e, ok := o.engines[platform]
	return e, ok
}

// ResetJobs clears every destination's job state. Only safe between posts.
func (o *PostOrchestrator) ResetJobs() {
	for _, e := range o.engines {
		e.ResetJob()
	}
}

// targets resolves the usable destinations for this request, preserving
// registration order.
func (o *PostOrchestrator) targets(req *dto.PostRequest) []*PublishJobEngine {
	requested := map[string]bool{}
	for _, p := range req.Platforms {
		requested[strings.ToLower(p)] = true
	}
	out := make([]*PublishJobEngine, 0, len(o.order))
	for _, platform := range o.order {
		if len(requested) > 0 && !requested[platform] {
			continue
		}
		if !o.tokens.IsUsable(platform) {
			continue
		}
		out = append(out, o.engines[platform])
	}
	return out
}

// preparePost converts the source, produces per-destination variants, and
// fans the artifacts out to storage. Failures here block the whole post and
// are the only errors Post propagates.
func (o *PostOrchestrator) preparePost(ctx context.Context, req *dto.PostRequest, targets []*PublishJobEngine) (*model.VideoVariantSet, error) {
	if !o.storage.HasUsable() {
		return nil, model.NewPlatformError("storage", model.ErrStorageUnavailable, "enable at least one storage backend")
	}
	needHLS := false
	needURL := false
	for _, t := range targets {
		if t.Adapter().RequiresHLS() {
			needHLS = true
		}
		if t.Adapter().RequiresVideoURL() {
			needURL = true
		}
	}
	if needHLS && !o.storage.HasContentAddressed() {
		return nil, model.NewPlatformError("storage", model.ErrStorageUnavailable, "hls publishing requires a content-addressed backend")
	}

	source := model.VideoFile{Name: req.Title, Path: req.SourcePath}
	master, err := o.pipeline.Convert(ctx, source, nil)
	if err != nil {
		return nil, fmt.Errorf("convert master: %w", err)
	}
	set := &model.VideoVariantSet{
		Full:     model.VideoVariant{Video: master},
		Variants: map[string]model.VideoVariant{},
	}

	for _, t := range targets {
		spec := t.Adapter().VariantSpec()
		if spec.IsZero() {
			continue
		}
		variant, err := o.pipeline.Trim(ctx, master, spec, nil)
		if err != nil {
			return nil, fmt.Errorf("trim variant for %s: %w", t.Platform(), err)
		}
		set.Variants[t.Platform()] = model.VideoVariant{Video: variant}
	}

	if needURL || needHLS {
		fullURL, err := o.storage.StoreVideo(ctx, master, "master", nil)
		if err != nil {
			return nil, err
		}
		full := set.Full
		full.VideoURL = fullURL
		set.Full = full
		for platform, v := range set.Variants {
			u, err := o.storage.StoreVideo(ctx, v.Video, platform, nil)
			if err != nil {
				return nil, err
			}
			v.VideoURL = u
			set.Variants[platform] = v
		}
	}

	if needHLS {
		bundle, err := o.pipeline.PackageHLS(ctx, master, nil)
		if err != nil {
			return nil, fmt.Errorf("package hls: %w", err)
		}
		folder := fmt.Sprintf("hls-%d", time.Now().Unix())
		hlsURL, err := o.storage.StoreHLSBundle(ctx, bundle, folder, "hls", nil)
		if err != nil {
			return nil, err
		}
		full := set.Full
		full.HLSURL = hlsURL
		set.Full = full
		for platform, v := range set.Variants {
			v.HLSURL = hlsURL
			set.Variants[platform] = v
		}
	}
	return set, nil
}

// Post runs the full fan-out. After preparation succeeds the call always
// resolves with a per-destination result record; individual failures are
// caught at each job's boundary.
func (o *PostOrchestrator) Post(ctx context.Context, userID string, req *dto.PostRequest) (*dto.PostResponse, error) {
	targets := o.targets(req)
	if len(targets) == 0 {
		return nil, fmt.Errorf("no usable destinations")
	}
	for _, t := range targets {
		if t.Job().State != model.JobIdle {
			t.ResetJob()
		}
	}

	set, err := o.preparePost(ctx, req, targets)
	if err != nil {
		return nil, err
	}

	results := make([]dto.DestinationResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t *PublishJobEngine) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.GetLogger().WithField("platform", t.Platform()).WithField("panic", r).Error("publish job panicked")
					results[i] = dto.DestinationResult{Platform: t.Platform(), Success: false, Error: fmt.Sprintf("internal error: %v", r)}
				}
			}()
			results[i] = o.runDestination(ctx, t, set, req)
		}(i, t)
	}
	wg.Wait()

	o.recordOutcome(ctx, userID, req, results)
	return &dto.PostResponse{Results: results}, nil
}

func (o *PostOrchestrator) runDestination(ctx context.Context, t *PublishJobEngine, set *model.VideoVariantSet, req *dto.PostRequest) dto.DestinationResult {
	platform := t.Platform()
	auth, err := o.tokens.FreshAccessToken(ctx, platform)
	if err != nil {
		t.currentJob().Fail(err, "authorization failed")
		return dto.DestinationResult{Platform: platform, Success: false, Error: err.Error()}
	}
	variant := set.ForDestination(platform)
	dest, _ := o.tokens.Destination(platform)
	var account model.Account
	if len(dest.Accounts) > 0 {
		account = dest.Accounts[0]
	}
	in := &model.PublishInput{
		Platform:    platform,
		AccessToken: auth.AccessToken,
		Account:     account,
		Extra:       auth.Extra,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Privacy:     req.Privacy,
		Video:       variant.Video,
		VideoURL:    variant.VideoURL,
		HLSURL:      variant.HLSURL,
	}
	resultID, err := t.Run(ctx, in)
	if err != nil {
		return dto.DestinationResult{Platform: platform, Success: false, Error: err.Error()}
	}
	return dto.DestinationResult{Platform: platform, Success: true, ResultID: resultID}
}

// recordOutcome persists the audit trail and emits outcome events, best
// effort.
func (o *PostOrchestrator) recordOutcome(ctx context.Context, userID string, req *dto.PostRequest, results []dto.DestinationResult) {
	if o.history != nil {
		entries := make([]repository.PublishHistoryEntry, 0, len(results))
		now := time.Now().UTC()
		for _, r := range results {
			entries = append(entries, repository.PublishHistoryEntry{
				UserID:    userID,
				Platform:  r.Platform,
				Title:     req.Title,
				ResultID:  r.ResultID,
				Succeeded: r.Success,
				Error:     r.Error,
				CreatedAt: now,
			})
		}
		if err := o.history.Record(ctx, entries); err != nil {
			logger.GetLogger().WithField("error", err).Warn("publish history record failed")
		}
	}
	for _, n := range o.notifiers {
		if err := n.NotifyOutcome(ctx, userID, results); err != nil {
			logger.GetLogger().WithField("error", err).Warn("outcome notification failed")
		}
	}
}
