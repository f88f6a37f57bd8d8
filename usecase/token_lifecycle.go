package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// TokenLifecycleManager is the generic driver over per-provider policies: it
// decides when renewal is due, performs it, and persists the result. Renewal
// failures are swallowed into the destination's LastError and surfaced only
// when the destination is actually used.
type TokenLifecycleManager struct {
	store    repository.IDestinationStore
	policies map[string]repository.IProviderPolicy
	userID   string
	now      func() time.Time

	mu           sync.RWMutex
	destinations map[string]*model.Destination
	redirects    map[string]string
}

func NewTokenLifecycleManager(store repository.IDestinationStore, userID string, policies ...repository.IProviderPolicy) *TokenLifecycleManager {
	m := &TokenLifecycleManager{
		store:        store,
		policies:     make(map[string]repository.IProviderPolicy, len(policies)),
		userID:       userID,
		now:          time.Now,
		destinations: make(map[string]*model.Destination, len(policies)),
		redirects:    make(map[string]string, len(policies)),
	}
	for _, p := range policies {
		m.policies[p.Platform()] = p
		m.destinations[p.Platform()] = &model.Destination{Platform: p.Platform()}
	}
	return m
}

// WithClock overrides the time source (tests).
func (m *TokenLifecycleManager) WithClock(now func() time.Time) *TokenLifecycleManager {
	m.now = now
	return m
}

// SeedCredentials installs client credentials for providers that have none
// persisted yet (first boot from config).
func (m *TokenLifecycleManager) SeedCredentials(platform string, creds model.Credentials, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[platform]
	if !ok {
		return
	}
	if !d.Credentials.IsComplete() {
		d.Credentials = creds
		d.IsEnabled = enabled
	}
}

// Load reads the persisted records into memory. Runs once at startup; a
// renewal pass should follow.
func (m *TokenLifecycleManager) Load(ctx context.Context) error {
	records, err := m.store.GetAll(ctx, m.userID)
	if err != nil {
		return fmt.Errorf("load destinations: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		d, ok := m.destinations[rec.Platform]
		if !ok {
			continue // record for a provider with no registered policy
		}
		if rec.Credentials.IsComplete() {
			d.Credentials = rec.Credentials
		}
		d.Authorization = rec.Authorization
		d.Accounts = rec.Accounts
		d.IsEnabled = rec.IsEnabled
	}
	return nil
}

func (m *TokenLifecycleManager) Platforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.destinations))
	for p := range m.destinations {
		out = append(out, p)
	}
	return out
}

func (m *TokenLifecycleManager) Policy(platform string) (repository.IProviderPolicy, bool) {
	p, ok := m.policies[platform]
	return p, ok
}

// Destination returns a snapshot copy of one destination.
func (m *TokenLifecycleManager) Destination(platform string) (model.Destination, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.destinations[platform]
	if !ok {
		return model.Destination{}, false
	}
	return *d, true
}

// IsUsable applies the dispatch gate with the provider's own refresh buffer.
func (m *TokenLifecycleManager) IsUsable(platform string) bool {
	p, ok := m.policies[platform]
	if !ok {
		return false
	}
	d, ok := m.Destination(platform)
	if !ok {
		return false
	}
	return d.IsUsable(p.RefreshBuffer(), m.now())
}

// AuthorizeURL builds the consent URL for one provider.
func (m *TokenLifecycleManager) AuthorizeURL(platform, state string) (string, error) {
	p, ok := m.policies[platform]
	if !ok {
		return "", fmt.Errorf("unknown platform %q", platform)
	}
	d, _ := m.Destination(platform)
	if !d.Credentials.IsComplete() {
		return "", model.NewPlatformError(platform, model.ErrCredential, "client id missing")
	}
	return p.AuthorizeURL(d.Credentials, m.redirectURI(platform), state)
}

// Authorize exchanges the callback code, loads the provider's accounts, and
// persists the new authorization.
func (m *TokenLifecycleManager) Authorize(ctx context.Context, platform, code string) error {
	p, ok := m.policies[platform]
	if !ok {
		return fmt.Errorf("unknown platform %q", platform)
	}
	d, _ := m.Destination(platform)
	if !d.Credentials.IsComplete() {
		return model.NewPlatformError(platform, model.ErrCredential, "client id missing")
	}
	auth, err := p.ExchangeCode(ctx, code, d.Credentials, m.redirectURI(platform))
	if err != nil {
		m.setError(platform, fmt.Sprintf("authorization failed: %v", err))
		return model.NewPlatformError(platform, model.ErrAuthorization, "code exchange: %v", err)
	}
	accounts, err := p.Accounts(ctx, auth.AccessToken)
	if err != nil {
		// Token is good even if the account lookup hiccuped; keep going with
		// an empty list and let a later refresh repopulate it.
		logger.GetLogger().WithField("platform", platform).WithField("error", err).Warn("account lookup failed after authorize")
		accounts = nil
	}
	m.mu.Lock()
	dest := m.destinations[platform]
	dest.Authorization = auth
	dest.Accounts = accounts
	dest.IsEnabled = true
	dest.LastError = ""
	snapshot := *dest
	m.mu.Unlock()
	return m.persist(ctx, snapshot)
}

// Disconnect clears authorization and accounts but preserves credentials.
func (m *TokenLifecycleManager) Disconnect(ctx context.Context, platform string) error {
	m.mu.Lock()
	d, ok := m.destinations[platform]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown platform %q", platform)
	}
	d.Authorization = model.Authorization{}
	d.Accounts = nil
	d.LastError = ""
	m.mu.Unlock()
	if err := m.store.ClearAuthorization(ctx, m.userID, platform); err != nil {
		return fmt.Errorf("clear authorization: %w", err)
	}
	return nil
}

func (m *TokenLifecycleManager) SetEnabled(ctx context.Context, platform string, enabled bool) error {
	m.mu.Lock()
	d, ok := m.destinations[platform]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown platform %q", platform)
	}
	d.IsEnabled = enabled
	m.mu.Unlock()
	return m.store.SetEnabled(ctx, m.userID, platform, enabled)
}

// RenewDueAuthorizations runs one renewal pass over every destination whose
// refresh token is within its provider's buffer. Failures never abort the
// pass for other destinations.
func (m *TokenLifecycleManager) RenewDueAuthorizations(ctx context.Context) {
	for platform, p := range m.policies {
		d, _ := m.Destination(platform)
		if d.Authorization.IsZero() {
			continue
		}
		if !d.Authorization.NeedsRefreshRenewal(p.RefreshBuffer(), m.now()) {
			continue
		}
		if err := m.refresh(ctx, platform); err != nil {
			logger.GetLogger().WithField("platform", platform).WithField("error", err).Warn("background token renewal failed")
		}
	}
}

// FreshAccessToken returns an authorization ready for posting, performing a
// just-in-time refresh when the access token is within its buffer.
func (m *TokenLifecycleManager) FreshAccessToken(ctx context.Context, platform string) (model.Authorization, error) {
	p, ok := m.policies[platform]
	if !ok {
		return model.Authorization{}, fmt.Errorf("unknown platform %q", platform)
	}
	d, _ := m.Destination(platform)
	if !d.Authorization.HasCompleteAuthorization(p.RefreshBuffer(), m.now()) {
		detail := "refresh token missing or expired"
		if d.LastError != "" {
			detail = d.LastError
		}
		return model.Authorization{}, model.NewPlatformError(platform, model.ErrAuthorization, "%s", detail)
	}
	if d.Authorization.NeedsAccessRenewal(p.AccessBuffer(), m.now()) {
		if err := m.refresh(ctx, platform); err != nil {
			return model.Authorization{}, model.NewPlatformError(platform, model.ErrAuthorization, "refresh: %v", err)
		}
		d, _ = m.Destination(platform)
	}
	return d.Authorization, nil
}

func (m *TokenLifecycleManager) refresh(ctx context.Context, platform string) error {
	p := m.policies[platform]
	d, _ := m.Destination(platform)
	auth, err := p.Refresh(ctx, d.Authorization, d.Credentials)
	if err != nil {
		m.setError(platform, fmt.Sprintf("token renewal failed: %v", err))
		return err
	}
	m.mu.Lock()
	dest := m.destinations[platform]
	dest.Authorization = auth
	dest.LastError = ""
	snapshot := *dest
	m.mu.Unlock()
	return m.persist(ctx, snapshot)
}

// persist applies the in-memory state to the store. On failure the
// authoritative record is re-read so memory converges back to the store.
func (m *TokenLifecycleManager) persist(ctx context.Context, d model.Destination) error {
	rec := &model.DestinationRecord{
		UserID:        m.userID,
		Platform:      d.Platform,
		Credentials:   d.Credentials,
		Authorization: d.Authorization,
		Accounts:      d.Accounts,
		IsEnabled:     d.IsEnabled,
	}
	if err := m.store.Upsert(ctx, rec); err != nil {
		logger.GetLogger().WithField("platform", d.Platform).WithField("error", err).Error("persist destination failed; re-reading store")
		if prev, rErr := m.store.Get(ctx, m.userID, d.Platform); rErr == nil && prev != nil {
			m.mu.Lock()
			dest := m.destinations[d.Platform]
			dest.Authorization = prev.Authorization
			dest.Accounts = prev.Accounts
			dest.IsEnabled = prev.IsEnabled
			m.mu.Unlock()
		}
		return fmt.Errorf("persist destination: %w", err)
	}
	return nil
}

func (m *TokenLifecycleManager) setError(platform, msg string) {
	m.mu.Lock()
	if d, ok := m.destinations[platform]; ok {
		d.LastError = msg
	}
	m.mu.Unlock()
}

func (m *TokenLifecycleManager) redirectURI(platform string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.redirects[platform]
}

// SetRedirectURI registers the callback URI used for a provider's code
// exchange.
func (m *TokenLifecycleManager) SetRedirectURI(platform, uri string) {
	m.mu.Lock()
	if m.redirects == nil {
		m.redirects = map[string]string{}
	}
	m.redirects[platform] = uri
	m.mu.Unlock()
}
