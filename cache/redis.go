package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "scraper:cache:"

// RedisStore shares the page cache between processes through Redis.
//
// Keys expire after retention so Redis does not grow without bound; freshness
// is still decided from CapturedAt, exactly like the file store.
type RedisStore struct {
	client    redis.UniversalClient
	window    time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewRedisStore wraps client. The retention is a multiple of window.
func NewRedisStore(client redis.UniversalClient, window time.Duration) *RedisStore {
	if window <= 0 {
		window = DefaultFreshness
	}
	return &RedisStore{
		client:    client,
		window:    window,
		retention: 7 * window,
		now:       time.Now,
	}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (rs *RedisStore) Lookup(ctx context.Context, url string) (string, bool) {
	data, err := rs.client.Get(ctx, redisKeyPrefix+Key(url)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("redis cache read failed", slog.String("url", url), slog.Any("error", err))
		}
		return "", false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", false
	}
	if !entry.Fresh(rs.now(), rs.window) {
		return "", false
	}
	return entry.RawBody, true
}

func (rs *RedisStore) Store(ctx context.Context, url, body string) error {
	data, err := json.Marshal(Entry{URL: url, CapturedAt: rs.now(), RawBody: body})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := rs.client.Set(ctx, redisKeyPrefix+Key(url), data, rs.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
