package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis hashes:
//
//	<prefix>:total                  spawned, rejected, released, released:<how>, lifetime_ms
//	<prefix>:minute:<yyyymmddhhmm>  the same fields, bucketed per minute and expiring after the TTL
//	<prefix>:name:<name>            per-name fields, only WithRedisTrackNames(true)
type RedisStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl applies to minute buckets and per-name keys; the total never expires.
	ttl time.Duration

	trackNames bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Surrounding colons are dropped.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithRedisTTL sets the expiry of bucketed keys. Zero disables expiry.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// WithRedisTrackNames also keeps counters per worker name.
func WithRedisTrackNames(track bool) RedisOption {
	return func(s *RedisStore) { s.trackNames = track }
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(rdb redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "pulse:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisClient connects to addr and checks the connection with a PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Record implements Store. A nil store or client records nothing.
func (s *RedisStore) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := s.rdb.Pipeline()
	s.incr(ctx, pipe, s.totalKey(), ev, 0)
	s.incr(ctx, pipe, s.bucketKey(at), ev, s.ttl)
	if s.trackNames {
		if name := strings.TrimSpace(ev.Name); name != "" {
			s.incr(ctx, pipe, s.nameKey(name), ev, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) incr(ctx context.Context, pipe redis.Pipeliner, key string, ev Event, ttl time.Duration) {
	for _, field := range fields(ev) {
		pipe.HIncrBy(ctx, key, field, 1)
	}
	if ev.Kind == Released {
		pipe.HIncrBy(ctx, key, "lifetime_ms", ev.Lifetime.Milliseconds())
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
}

// fields lists the hash fields an event increments by one.
func fields(ev Event) []string {
	out := []string{string(ev.Kind)}
	if ev.Kind == Released && ev.How != "" {
		out = append(out, string(Released)+":"+ev.How)
	}
	return out
}

func (s *RedisStore) totalKey() string {
	return s.prefix + ":total"
}

func (s *RedisStore) bucketKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

func (s *RedisStore) nameKey(name string) string {
	return s.prefix + ":name:" + name
}
