package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kepsekreport/internal/daykey"
	"kepsekreport/internal/report"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// RosterCache holds per-day roster and aggregate results in redis so admin
// dashboards polling every 30s do not hammer Postgres. Entries expire on a
// short TTL and are dropped eagerly whenever a report or school write lands.
type RosterCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRosterCache builds a cache with the given TTL.
func NewRosterCache(client *redis.Client, ttl time.Duration) *RosterCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RosterCache{client: client, ttl: ttl}
}

func rosterCacheKey(day daykey.DayKey) string {
	return fmt.Sprintf("kepsek:roster:%d", int64(day))
}

const activeCountKey = "kepsek:schools:active-count"

// GetRoster returns the cached roster for a day, or (nil, false) on miss.
func (c *RosterCache) GetRoster(ctx context.Context, day daykey.DayKey) ([]report.RosterRow, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, rosterCacheKey(day)).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []report.RosterRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// SetRoster stores a roster under its day key.
func (c *RosterCache) SetRoster(ctx context.Context, day daykey.DayKey, rows []report.RosterRow) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return
	}
	c.client.Set(ctx, rosterCacheKey(day), raw, c.ttl)
}

// GetActiveCount returns the cached active-school count, or (0, false).
func (c *RosterCache) GetActiveCount(ctx context.Context) (int, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	n, err := c.client.Get(ctx, activeCountKey).Int()
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetActiveCount stores the active-school count.
func (c *RosterCache) SetActiveCount(ctx context.Context, n int) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Set(ctx, activeCountKey, n, c.ttl)
}

// InvalidateDay drops the roster for a day and the aggregate count after a
// report write for that day.
func (c *RosterCache) InvalidateDay(ctx context.Context, day daykey.DayKey) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, rosterCacheKey(day), activeCountKey)
}

// InvalidateSchools drops the aggregate count after a school write.
func (c *RosterCache) InvalidateSchools(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, activeCountKey)
}
