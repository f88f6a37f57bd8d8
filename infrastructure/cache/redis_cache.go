package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/configuration"
	"crosspost/infrastructure/logger"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects using the configured Redis settings; empty config
// yields a nil client and callers degrade to uncached behavior.
func NewRedisClient(ctx context.Context) *redis.Client {
	cfg := configuration.C.RedisClient
	if cfg.Host == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.GetLogger().WithField("error", err).Warn("redis unreachable, caching disabled")
		return nil
	}
	return client
}

const (
	snapshotTTL = 24 * time.Hour
	accountsTTL = time.Hour
)

// SnapshotCache keeps the latest job snapshot per destination plus cached
// account lookups so status endpoints survive restarts and repeated provider
// calls. Nil-client tolerant throughout.
type SnapshotCache struct {
	client *redis.Client
}

func NewSnapshotCache(client *redis.Client) *SnapshotCache {
	return &SnapshotCache{client: client}
}

func (c *SnapshotCache) Enabled() bool { return c != nil && c.client != nil }

func snapshotKey(userID, platform string) string {
	return fmt.Sprintf("crosspost:job:%s:%s", userID, platform)
}

func accountsKey(userID, platform string) string {
	return fmt.Sprintf("crosspost:accounts:%s:%s", userID, platform)
}

func (c *SnapshotCache) StoreSnapshot(ctx context.Context, userID string, snap model.JobSnapshot) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, snapshotKey(userID, snap.Platform), raw, snapshotTTL).Err(); err != nil {
		logger.GetLogger().WithField("error", err).Debug("snapshot cache set failed")
	}
}

func (c *SnapshotCache) Snapshot(ctx context.Context, userID, platform string) (model.JobSnapshot, bool) {
	if !c.Enabled() {
		return model.JobSnapshot{}, false
	}
	raw, err := c.client.Get(ctx, snapshotKey(userID, platform)).Bytes()
	if err != nil {
		return model.JobSnapshot{}, false
	}
	var snap model.JobSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.JobSnapshot{}, false
	}
	return snap, true
}

func (c *SnapshotCache) StoreAccounts(ctx context.Context, userID, platform string, accounts []model.Account) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(accounts)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, accountsKey(userID, platform), raw, accountsTTL).Err(); err != nil {
		logger.GetLogger().WithField("error", err).Debug("accounts cache set failed")
	}
}

func (c *SnapshotCache) Accounts(ctx context.Context, userID, platform string) ([]model.Account, bool) {
	if !c.Enabled() {
		return nil, false
	}
	raw, err := c.client.Get(ctx, accountsKey(userID, platform)).Bytes()
	if err != nil {
		return nil, false
	}
	var accounts []model.Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, false
	}
	return accounts, true
}
