package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"seopilot/internal/config"
	"seopilot/internal/models"
)

// DefaultSnapshotTTL bounds how long a cached snapshot outlives the session
// that wrote it.
const DefaultSnapshotTTL = 15 * time.Minute

// Snapshot is the cached projection of the registry: just enough to render
// the task list and feed before the first live fetch lands. It is always
// superseded by live data.
type Snapshot struct {
	Tasks   []*models.Task        `json:"tasks"`
	Logs    []models.TaskLogEntry `json:"logs"`
	Runs    []*models.AgentRun    `json:"runs"`
	SavedAt time.Time             `json:"saved_at"`
}

// SnapshotCache stores the last known registry snapshot per user in Redis,
// purely to avoid an empty-state flash at session start.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to Redis: %w", err)
	}
	return rdb, nil
}

// NewSnapshotCache creates a cache over an established Redis client.
func NewSnapshotCache(client *redis.Client, cfg config.RedisConfig) (*SnapshotCache, error) {
	ttl := DefaultSnapshotTTL
	if cfg.SnapshotTTL != "" {
		parsed, err := time.ParseDuration(cfg.SnapshotTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid snapshot TTL %q: %w", cfg.SnapshotTTL, err)
		}
		ttl = parsed
	}
	return &SnapshotCache{client: client, ttl: ttl}, nil
}

// Save stores the user's snapshot with the configured TTL.
func (c *SnapshotCache) Save(ctx context.Context, userID string, snapshot *Snapshot) error {
	snapshot.SavedAt = time.Now()
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return c.client.Set(ctx, snapshotKey(userID), encoded, c.ttl).Err()
}

// Load returns the user's cached snapshot, or nil when none exists.
func (c *SnapshotCache) Load(ctx context.Context, userID string) (*Snapshot, error) {
	raw, err := c.client.Get(ctx, snapshotKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return &snapshot, nil
}

// Clear drops the user's cached snapshot, on sign-out.
func (c *SnapshotCache) Clear(ctx context.Context, userID string) error {
	return c.client.Del(ctx, snapshotKey(userID)).Err()
}

func snapshotKey(userID string) string {
	return "seopilot:snapshot:" + userID
}
