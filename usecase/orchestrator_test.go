package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	convertErr error
	trimCalls  int
	hlsCalls   int
}

func (p *fakePipeline) Convert(ctx context.Context, source model.VideoFile, report repository.ProgressFunc) (model.VideoFile, error) {
	if p.convertErr != nil {
		return model.VideoFile{}, p.convertErr
	}
	return model.VideoFile{Name: source.Name, Path: "/tmp/master.mp4", MimeType: "video/mp4"}, nil
}

func (p *fakePipeline) Trim(ctx context.Context, master model.VideoFile, spec model.TrimSpec, report repository.ProgressFunc) (model.VideoFile, error) {
	p.trimCalls++
	return master, nil
}

func (p *fakePipeline) PackageHLS(ctx context.Context, master model.VideoFile, report repository.ProgressFunc) (*model.HLSBundle, error) {
	p.hlsCalls++
	return &model.HLSBundle{Manifest: model.VideoFile{Path: "/tmp/hls/manifest.m3u8"}}, nil
}

// authorizedTokens builds a manager whose listed platforms are fully
// authorized with tokens that need no refresh during the test.
func authorizedTokens(t *testing.T, store *MockDestinationStore, platforms ...string) *TokenLifecycleManager {
	t.Helper()
	now := time.Now()
	policies := make([]repository.IProviderPolicy, 0, len(platforms))
	records := make([]*model.DestinationRecord, 0, len(platforms))
	for _, p := range platforms {
		policies = append(policies, &fakePolicy{platform: p, accessBuffer: 5 * time.Minute, refreshBuffer: 24 * time.Hour})
		records = append(records, &model.DestinationRecord{
			Platform:      p,
			Credentials:   model.Credentials{ClientID: "id"},
			Authorization: liveAuth(now, 2*time.Hour, 90*24*time.Hour),
			Accounts:      []model.Account{{ID: p + "-acct", Username: p + " user"}},
			IsEnabled:     true,
		})
	}
	m := NewTokenLifecycleManager(store, "user-1", policies...)
	for _, p := range platforms {
		m.SeedCredentials(p, model.Credentials{ClientID: "id"}, true)
	}
	store.On("GetAll", mock.Anything, "user-1").Return(records, nil).Once()
	require.NoError(t, m.Load(context.Background()))
	return m
}

func TestPost_SettleAllIsolatesFailures(t *testing.T) {
	store := new(MockDestinationStore)
	tokens := authorizedTokens(t, store, "youtube", "facebook")

	good := &fakeAdapter{platform: "youtube", completion: model.CompletionSpec{Kind: model.CompletionSync}, publishID: "vid-1", uploadHandle: &repository.UploadHandle{MediaID: "vid-1", ResultID: "vid-1"}}
	bad := &fakeAdapter{platform: "facebook", completion: model.CompletionSpec{Kind: model.CompletionSync}, uploadErr: errors.New("page gone")}
	backend := &fakeBackend{name: "object", enabled: true, usable: true, videoURL: "https://cdn.example/v.mp4"}
	o := NewPostOrchestrator(tokens, NewStorageFanout(backend), &fakePipeline{}, good, bad)

	resp, err := o.Post(context.Background(), "user-1", &dto.PostRequest{SourcePath: "/tmp/in.mov", Title: "demo"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, "youtube", resp.Results[0].Platform)
	assert.Equal(t, "vid-1", resp.Results[0].ResultID)

	assert.False(t, resp.Results[1].Success)
	assert.Contains(t, resp.Results[1].Error, "page gone")

	yt, _ := o.Engine("youtube")
	fb, _ := o.Engine("facebook")
	assert.Equal(t, model.JobComplete, yt.Job().State)
	assert.Equal(t, model.JobFailed, fb.Job().State)
}

func TestPost_SkipsUnusableDestinations(t *testing.T) {
	store := new(MockDestinationStore)
	now := time.Now()
	policies := []repository.IProviderPolicy{
		&fakePolicy{platform: "youtube", accessBuffer: 5 * time.Minute, refreshBuffer: 24 * time.Hour},
		&fakePolicy{platform: "x", accessBuffer: 5 * time.Minute, refreshBuffer: 24 * time.Hour},
	}
	tokens := NewTokenLifecycleManager(store, "user-1", policies...)
	tokens.SeedCredentials("youtube", model.Credentials{ClientID: "id"}, true)
	tokens.SeedCredentials("x", model.Credentials{ClientID: "id"}, true)
	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{
		{Platform: "youtube", Credentials: model.Credentials{ClientID: "id"}, Authorization: liveAuth(now, 2*time.Hour, 90*24*time.Hour), IsEnabled: true},
		// x has never been authorized.
		{Platform: "x", Credentials: model.Credentials{ClientID: "id"}, IsEnabled: true},
	}, nil).Once()
	require.NoError(t, tokens.Load(context.Background()))

	yt := &fakeAdapter{platform: "youtube", completion: model.CompletionSpec{Kind: model.CompletionSync}, publishID: "vid-1"}
	x := &fakeAdapter{platform: "x", completion: model.CompletionSpec{Kind: model.CompletionSync}}
	backend := &fakeBackend{name: "object", enabled: true, usable: true, videoURL: "https://cdn.example/v.mp4"}
	o := NewPostOrchestrator(tokens, NewStorageFanout(backend), &fakePipeline{}, yt, x)

	resp, err := o.Post(context.Background(), "user-1", &dto.PostRequest{SourcePath: "/tmp/in.mov", Title: "demo", Platforms: []string{"YouTube", "X"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "youtube", resp.Results[0].Platform)
	assert.Nil(t, x.lastInput)
}

func TestPost_SkipsDisabledDestinations(t *testing.T) {
	store := new(MockDestinationStore)
	now := time.Now()
	policies := []repository.IProviderPolicy{
		&fakePolicy{platform: "youtube", accessBuffer: 5 * time.Minute, refreshBuffer: 24 * time.Hour},
		&fakePolicy{platform: "x", accessBuffer: 5 * time.Minute, refreshBuffer: 24 * time.Hour},
	}
	tokens := NewTokenLifecycleManager(store, "user-1", policies...)
	tokens.SeedCredentials("youtube", model.Credentials{ClientID: "id"}, true)
	tokens.SeedCredentials("x", model.Credentials{ClientID: "id"}, true)
	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{
		{Platform: "youtube", Credentials: model.Credentials{ClientID: "id"}, Authorization: liveAuth(now, 2*time.Hour, 90*24*time.Hour), IsEnabled: true},
		// x is fully authorized but switched off by the user.
		{Platform: "x", Credentials: model.Credentials{ClientID: "id"}, Authorization: liveAuth(now, 2*time.Hour, 90*24*time.Hour), IsEnabled: false},
	}, nil).Once()
	require.NoError(t, tokens.Load(context.Background()))
	assert.False(t, tokens.IsUsable("x"))

	yt := &fakeAdapter{platform: "youtube", completion: model.CompletionSpec{Kind: model.CompletionSync}, publishID: "vid-1"}
	x := &fakeAdapter{platform: "x", completion: model.CompletionSpec{Kind: model.CompletionSync}, publishID: "tweet-1"}
	backend := &fakeBackend{name: "object", enabled: true, usable: true, videoURL: "https://cdn.example/v.mp4"}
	o := NewPostOrchestrator(tokens, NewStorageFanout(backend), &fakePipeline{}, yt, x)

	resp, err := o.Post(context.Background(), "user-1", &dto.PostRequest{SourcePath: "/tmp/in.mov", Title: "demo"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "youtube", resp.Results[0].Platform)

	// The disabled destination's adapter was never invoked and its job never
	// left idle.
	assert.Nil(t, x.lastInput)
	engine, _ := o.Engine("x")
	assert.Equal(t, model.JobIdle, engine.Job().State)
}

func TestPost_NoUsableDestinations(t *testing.T) {
	store := new(MockDestinationStore)
	tokens := NewTokenLifecycleManager(store, "user-1", &fakePolicy{platform: "youtube", refreshBuffer: 24 * time.Hour})
	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{}, nil).Once()
	require.NoError(t, tokens.Load(context.Background()))

	adapter := &fakeAdapter{platform: "youtube", completion: model.CompletionSpec{Kind: model.CompletionSync}}
	backend := &fakeBackend{name: "object", enabled: true, usable: true}
	o := NewPostOrchestrator(tokens, NewStorageFanout(backend), &fakePipeline{}, adapter)

	_, err := o.Post(context.Background(), "user-1", &dto.PostRequest{SourcePath: "/tmp/in.mov", Title: "demo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable destinations")
}

func TestPost_HLSNeedsContentAddressedBackend(t *testing.T) {
	store := new(MockDestinationStore)
	tokens := authorizedTokens(t, store, "bluesky")

	adapter := &fakeAdapter{platform: "bluesky", completion: model.CompletionSpec{Kind: model.CompletionSync}, needsURL: true, needsHLS: true}
	backend := &fakeBackend{name: "object", enabled: true, usable: true, videoURL: "https://cdn.example/v.mp4"}
	o := NewPostOrchestrator(tokens, NewStorageFanout(backend), &fakePipeline{}, adapter)

	_, err := o.Post(context.Background(), "user-1", &dto.PostRequest{SourcePath: "/tmp/in.mov", Title: "demo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)
	assert.Nil(t, adapter.lastInput)
}

func TestPost_RecoversAdapterPanic(t *testing.T) {
	store := new(MockDestinationStore)
	tokens := authorizedTokens(t, store, "tiktok")

	adapter := &fakeAdapter{platform: "tiktok", completion: model.CompletionSpec{Kind: model.CompletionSync}, uploadPanic: "nil deref"}
	backend := &fakeBackend{name: "object", enabled: true, usable: true, videoURL: "https://cdn.example/v.mp4"}
	o := NewPostOrchestrator(tokens, NewStorageFanout(backend), &fakePipeline{}, adapter)

	resp, err := o.Post(context.Background(), "user-1", &dto.PostRequest{SourcePath: "/tmp/in.mov", Title: "demo"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.False(t, resp.Results[0].Success)
	assert.Contains(t, resp.Results[0].Error, "internal error")
}

func TestPost_InjectsTokenAccountAndVideoURL(t *testing.T) {
	store := new(MockDestinationStore)
	tokens := authorizedTokens(t, store, "instagram")

	adapter := &fakeAdapter{platform: "instagram", completion: model.CompletionSpec{Kind: model.CompletionPoll, Interval: time.Millisecond, Timeout: time.Minute}, needsURL: true, polls: []model.PollStatus{{Code: model.PollSucceeded}}, publishID: "media-1"}
	pipe := &fakePipeline{}
	backend := &fakeBackend{name: "object", enabled: true, usable: true, videoURL: "https://cdn.example/v.mp4"}
	o := NewPostOrchestrator(tokens, NewStorageFanout(backend), pipe, adapter)
	engine, _ := o.Engine("instagram")
	var waits []time.Duration
	engine.sleep = instantSleep(&waits)

	resp, err := o.Post(context.Background(), "user-1", &dto.PostRequest{SourcePath: "/tmp/in.mov", Title: "demo", Description: "desc", Privacy: "public"})
	require.NoError(t, err)
	require.True(t, resp.Results[0].Success)

	require.NotNil(t, adapter.lastInput)
	assert.Equal(t, "access", adapter.lastInput.AccessToken)
	assert.Equal(t, "instagram-acct", adapter.lastInput.Account.ID)
	assert.Equal(t, backend.videoURL, adapter.lastInput.VideoURL)
	assert.Equal(t, "demo", adapter.lastInput.Title)
	assert.GreaterOrEqual(t, backend.videoCalls, 1)
}

func TestPost_TrimsVariantPerAdapterSpec(t *testing.T) {
	store := new(MockDestinationStore)
	tokens := authorizedTokens(t, store, "x", "youtube")

	constrained := &fakeAdapter{platform: "x", completion: model.CompletionSpec{Kind: model.CompletionSync}, spec: model.TrimSpec{MaxFilesize: 512 << 20, MaxDuration: 140}, publishID: "tweet-1"}
	unconstrained := &fakeAdapter{platform: "youtube", completion: model.CompletionSpec{Kind: model.CompletionSync}, publishID: "vid-1"}
	pipe := &fakePipeline{}
	backend := &fakeBackend{name: "object", enabled: true, usable: true, videoURL: "https://cdn.example/v.mp4"}
	o := NewPostOrchestrator(tokens, NewStorageFanout(backend), pipe, constrained, unconstrained)

	_, err := o.Post(context.Background(), "user-1", &dto.PostRequest{SourcePath: "/tmp/in.mov", Title: "demo"})
	require.NoError(t, err)
	assert.Equal(t, 1, pipe.trimCalls)
	assert.Equal(t, 0, pipe.hlsCalls)
}
