package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"crosspost/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDestinationStore struct {
	mock.Mock
}

func (m *MockDestinationStore) GetAll(ctx context.Context, userID string) ([]*model.DestinationRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DestinationRecord), args.Error(1)
}

func (m *MockDestinationStore) Get(ctx context.Context, userID, platform string) (*model.DestinationRecord, error) {
	args := m.Called(ctx, userID, platform)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DestinationRecord), args.Error(1)
}

func (m *MockDestinationStore) Upsert(ctx context.Context, rec *model.DestinationRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDestinationStore) SetEnabled(ctx context.Context, userID, platform string, enabled bool) error {
	args := m.Called(ctx, userID, platform, enabled)
	return args.Error(0)
}

func (m *MockDestinationStore) ClearAuthorization(ctx context.Context, userID, platform string) error {
	args := m.Called(ctx, userID, platform)
	return args.Error(0)
}

// fakePolicy is a scriptable provider policy.
type fakePolicy struct {
	platform      string
	accessBuffer  time.Duration
	refreshBuffer time.Duration

	exchangeAuth model.Authorization
	exchangeErr  error
	refreshAuth  model.Authorization
	refreshErr   error
	refreshCalls int
	accounts     []model.Account
	accountsErr  error
}

func (p *fakePolicy) Platform() string             { return p.platform }
func (p *fakePolicy) AccessBuffer() time.Duration  { return p.accessBuffer }
func (p *fakePolicy) RefreshBuffer() time.Duration { return p.refreshBuffer }

func (p *fakePolicy) AuthorizeURL(creds model.Credentials, redirectURI, state string) (string, error) {
	return "https://example.test/authorize?state=" + state, nil
}

func (p *fakePolicy) ExchangeCode(ctx context.Context, code string, creds model.Credentials, redirectURI string) (model.Authorization, error) {
	return p.exchangeAuth, p.exchangeErr
}

func (p *fakePolicy) Refresh(ctx context.Context, auth model.Authorization, creds model.Credentials) (model.Authorization, error) {
	p.refreshCalls++
	return p.refreshAuth, p.refreshErr
}

func (p *fakePolicy) Accounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	return p.accounts, p.accountsErr
}

func liveAuth(now time.Time, accessIn, refreshIn time.Duration) model.Authorization {
	accessExp := now.Add(accessIn)
	return model.Authorization{
		AccessToken:           "access",
		AccessTokenExpiresAt:  &accessExp,
		RefreshToken:          "refresh",
		RefreshTokenExpiresAt: now.Add(refreshIn),
	}
}

func TestAuthorize_PersistsTokensAndAccounts(t *testing.T) {
	now := time.Now()
	store := new(MockDestinationStore)
	policy := &fakePolicy{
		platform:      "youtube",
		accessBuffer:  5 * time.Minute,
		refreshBuffer: 24 * time.Hour,
		exchangeAuth:  liveAuth(now, time.Hour, 90*24*time.Hour),
		accounts:      []model.Account{{ID: "ch-1", Username: "My Channel"}},
	}
	m := NewTokenLifecycleManager(store, "user-1", policy)
	m.SeedCredentials("youtube", model.Credentials{ClientID: "id", ClientSecret: "secret"}, true)

	store.On("Upsert", mock.Anything, mock.MatchedBy(func(rec *model.DestinationRecord) bool {
		return rec.Platform == "youtube" && rec.Authorization.AccessToken == "access" && len(rec.Accounts) == 1
	})).Return(nil).Once()

	require.NoError(t, m.Authorize(context.Background(), "youtube", "the-code"))

	d, ok := m.Destination("youtube")
	require.True(t, ok)
	assert.Equal(t, "access", d.Authorization.AccessToken)
	assert.Equal(t, "ch-1", d.Accounts[0].ID)
	assert.True(t, m.IsUsable("youtube"))
	store.AssertExpectations(t)
}

func TestFreshAccessToken_JustInTimeRefresh(t *testing.T) {
	now := time.Now()
	store := new(MockDestinationStore)
	policy := &fakePolicy{
		platform:      "x",
		accessBuffer:  10 * time.Minute,
		refreshBuffer: 24 * time.Hour,
		// Access expires inside the buffer, refresh is healthy.
		refreshAuth: liveAuth(now, 2*time.Hour, 180*24*time.Hour),
	}
	m := NewTokenLifecycleManager(store, "user-1", policy)
	m.SeedCredentials("x", model.Credentials{ClientID: "id"}, true)

	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{{
		Platform:      "x",
		Credentials:   model.Credentials{ClientID: "id"},
		Authorization: liveAuth(now, 5*time.Minute, 180*24*time.Hour),
		IsEnabled:     true,
	}}, nil).Once()
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, m.Load(context.Background()))

	auth, err := m.FreshAccessToken(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 1, policy.refreshCalls)
	assert.True(t, auth.AccessTokenExpiresAt.After(now.Add(time.Hour)))
	store.AssertExpectations(t)
}

func TestFreshAccessToken_NoRefreshWhenOutsideBuffer(t *testing.T) {
	now := time.Now()
	store := new(MockDestinationStore)
	policy := &fakePolicy{
		platform:      "x",
		accessBuffer:  10 * time.Minute,
		refreshBuffer: 24 * time.Hour,
	}
	m := NewTokenLifecycleManager(store, "user-1", policy)
	m.SeedCredentials("x", model.Credentials{ClientID: "id"}, true)

	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{{
		Platform:      "x",
		Credentials:   model.Credentials{ClientID: "id"},
		Authorization: liveAuth(now, 2*time.Hour, 180*24*time.Hour),
		IsEnabled:     true,
	}}, nil).Once()
	require.NoError(t, m.Load(context.Background()))

	_, err := m.FreshAccessToken(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 0, policy.refreshCalls)
}

func TestFreshAccessToken_ExpiredRefreshTokenFails(t *testing.T) {
	now := time.Now()
	store := new(MockDestinationStore)
	policy := &fakePolicy{
		platform:      "linkedin",
		accessBuffer:  time.Hour,
		refreshBuffer: 30 * 24 * time.Hour,
	}
	m := NewTokenLifecycleManager(store, "user-1", policy)
	m.SeedCredentials("linkedin", model.Credentials{ClientID: "id"}, true)

	// Refresh token expires inside the provider's month-long buffer.
	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{{
		Platform:      "linkedin",
		Credentials:   model.Credentials{ClientID: "id"},
		Authorization: liveAuth(now, 24*time.Hour, 10*24*time.Hour),
		IsEnabled:     true,
	}}, nil).Once()
	require.NoError(t, m.Load(context.Background()))

	assert.False(t, m.IsUsable("linkedin"))
	_, err := m.FreshAccessToken(context.Background(), "linkedin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAuthorization))
	assert.Equal(t, 0, policy.refreshCalls)
}

func TestRenewDueAuthorizations_SwallowsFailures(t *testing.T) {
	now := time.Now()
	store := new(MockDestinationStore)
	failing := &fakePolicy{
		platform:      "tiktok",
		accessBuffer:  10 * time.Minute,
		refreshBuffer: 30 * 24 * time.Hour,
		refreshErr:    errors.New("provider down"),
	}
	healthy := &fakePolicy{
		platform:      "youtube",
		accessBuffer:  5 * time.Minute,
		refreshBuffer: 7 * 24 * time.Hour,
		refreshAuth:   liveAuth(now, time.Hour, 180*24*time.Hour),
	}
	m := NewTokenLifecycleManager(store, "user-1", failing, healthy)
	m.SeedCredentials("tiktok", model.Credentials{ClientID: "id"}, true)
	m.SeedCredentials("youtube", model.Credentials{ClientID: "id"}, true)

	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{
		{Platform: "tiktok", Credentials: model.Credentials{ClientID: "id"}, Authorization: liveAuth(now, time.Hour, 10*24*time.Hour), IsEnabled: true},
		{Platform: "youtube", Credentials: model.Credentials{ClientID: "id"}, Authorization: liveAuth(now, time.Hour, 24*time.Hour), IsEnabled: true},
	}, nil).Once()
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	require.NoError(t, m.Load(context.Background()))

	// Must not panic or abort on tiktok's failure; youtube still renews.
	m.RenewDueAuthorizations(context.Background())
	assert.Equal(t, 1, failing.refreshCalls)
	assert.Equal(t, 1, healthy.refreshCalls)

	// The failure surfaces lazily when tiktok is next used.
	_, err := m.FreshAccessToken(context.Background(), "tiktok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestPersistFailure_ReconcilesFromStore(t *testing.T) {
	now := time.Now()
	store := new(MockDestinationStore)
	storedAuth := liveAuth(now, 30*time.Minute, 60*24*time.Hour)
	policy := &fakePolicy{
		platform:      "facebook",
		accessBuffer:  24 * time.Hour,
		refreshBuffer: 14 * 24 * time.Hour,
		refreshAuth:   liveAuth(now, 60*24*time.Hour, 60*24*time.Hour),
	}
	m := NewTokenLifecycleManager(store, "user-1", policy)
	m.SeedCredentials("facebook", model.Credentials{ClientID: "id"}, true)

	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{{
		Platform:      "facebook",
		Credentials:   model.Credentials{ClientID: "id"},
		Authorization: storedAuth,
		IsEnabled:     true,
	}}, nil).Once()
	require.NoError(t, m.Load(context.Background()))

	// Refresh succeeds against the provider but the store write fails; memory
	// must converge back to the store's authoritative record.
	store.On("Upsert", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	store.On("Get", mock.Anything, "user-1", "facebook").Return(&model.DestinationRecord{
		Platform:      "facebook",
		Credentials:   model.Credentials{ClientID: "id"},
		Authorization: storedAuth,
		IsEnabled:     true,
	}, nil).Once()

	_, err := m.FreshAccessToken(context.Background(), "facebook")
	require.Error(t, err)

	d, _ := m.Destination("facebook")
	assert.Equal(t, storedAuth.AccessToken, d.Authorization.AccessToken)
	assert.True(t, storedAuth.RefreshTokenExpiresAt.Equal(d.Authorization.RefreshTokenExpiresAt))
	store.AssertExpectations(t)
}

func TestSetEnabled_PersistsAndGatesUsability(t *testing.T) {
	now := time.Now()
	store := new(MockDestinationStore)
	policy := &fakePolicy{platform: "youtube", accessBuffer: 5 * time.Minute, refreshBuffer: 24 * time.Hour}
	m := NewTokenLifecycleManager(store, "user-1", policy)
	m.SeedCredentials("youtube", model.Credentials{ClientID: "id"}, true)

	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{{
		Platform:      "youtube",
		Credentials:   model.Credentials{ClientID: "id"},
		Authorization: liveAuth(now, 2*time.Hour, 90*24*time.Hour),
		IsEnabled:     true,
	}}, nil).Once()
	require.NoError(t, m.Load(context.Background()))
	require.True(t, m.IsUsable("youtube"))

	store.On("SetEnabled", mock.Anything, "user-1", "youtube", false).Return(nil).Once()
	require.NoError(t, m.SetEnabled(context.Background(), "youtube", false))

	// Authorization is untouched; only the enabled flag gates dispatch.
	d, _ := m.Destination("youtube")
	assert.False(t, d.IsEnabled)
	assert.Equal(t, "access", d.Authorization.AccessToken)
	assert.False(t, m.IsUsable("youtube"))

	store.On("SetEnabled", mock.Anything, "user-1", "youtube", true).Return(nil).Once()
	require.NoError(t, m.SetEnabled(context.Background(), "youtube", true))
	assert.True(t, m.IsUsable("youtube"))
	store.AssertExpectations(t)
}

func TestDisconnect_KeepsCredentials(t *testing.T) {
	now := time.Now()
	store := new(MockDestinationStore)
	policy := &fakePolicy{platform: "mastodon", refreshBuffer: 30 * 24 * time.Hour}
	m := NewTokenLifecycleManager(store, "user-1", policy)
	m.SeedCredentials("mastodon", model.Credentials{ClientID: "id", ClientSecret: "sec"}, true)

	store.On("GetAll", mock.Anything, "user-1").Return([]*model.DestinationRecord{{
		Platform:      "mastodon",
		Credentials:   model.Credentials{ClientID: "id", ClientSecret: "sec"},
		Authorization: liveAuth(now, time.Hour, 365*24*time.Hour),
		Accounts:      []model.Account{{ID: "1", Username: "me"}},
		IsEnabled:     true,
	}}, nil).Once()
	store.On("ClearAuthorization", mock.Anything, "user-1", "mastodon").Return(nil).Once()
	require.NoError(t, m.Load(context.Background()))

	require.NoError(t, m.Disconnect(context.Background(), "mastodon"))

	d, _ := m.Destination("mastodon")
	assert.True(t, d.Authorization.IsZero())
	assert.Empty(t, d.Accounts)
	assert.Equal(t, "id", d.Credentials.ClientID)
	assert.False(t, m.IsUsable("mastodon"))
	store.AssertExpectations(t)
}
