package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned when no fresh response is stored for a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned when a stored value does not decode.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// purgeBatch is the SCAN count used by Purge.
const purgeBatch = 500

// Store keeps query responses in Redis.
type Store struct {
	redis *redis.Client
}

// NewStore returns a store backed by redisClient, which must not be nil.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("cache: nil redis client")
	}
	return &Store{redis: redisClient}
}

// Lookup returns the data member stored for key. It returns ErrCacheMiss
// when nothing fresh is stored and ErrInvalidEntry when the stored value is
// corrupt; corrupt and stale values are removed.
func (s *Store) Lookup(ctx context.Context, key Key) (json.RawMessage, error) {
	raw, err := s.redis.Get(ctx, key.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		lookupsTotal.WithLabelValues(lookupMiss).Inc()
		return nil, ErrCacheMiss
	case err != nil:
		errorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || len(entry.Data) == 0 {
		lookupsTotal.WithLabelValues(lookupInvalid).Inc()
		_ = s.Invalidate(ctx, key)
		if err == nil {
			err = errors.New("empty data")
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis expires keys itself; this covers clock skew between writers.
	if entry.IsExpired() {
		lookupsTotal.WithLabelValues(lookupExpired).Inc()
		_ = s.Invalidate(ctx, key)
		return nil, ErrCacheMiss
	}

	lookupsTotal.WithLabelValues(lookupHit).Inc()
	bytesTotal.WithLabelValues("read").Add(float64(len(raw)))
	return entry.Data, nil
}

// Save stores data for key for ttl. A non-positive ttl stores nothing.
func (s *Store) Save(ctx context.Context, key Key, data json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if len(data) == 0 {
		return errors.New("cache: empty data")
	}

	raw, err := json.Marshal(NewEntry(data, ttl))
	if err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.redis.Set(ctx, key.String(), raw, ttl).Err(); err != nil {
		errorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	bytesTotal.WithLabelValues("write").Add(float64(len(raw)))
	return nil
}

// Invalidate removes the response stored for key.
func (s *Store) Invalidate(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		errorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Purge removes every response stored for endpoint and returns how many
// were removed.
func (s *Store) Purge(ctx context.Context, endpoint string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	pattern := EndpointPrefix(endpoint) + "*"
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, purgeBatch).Result()
		if err != nil {
			errorsTotal.WithLabelValues("purge").Inc()
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.redis.Del(ctx, keys...).Result()
			if err != nil {
				errorsTotal.WithLabelValues("purge").Inc()
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
