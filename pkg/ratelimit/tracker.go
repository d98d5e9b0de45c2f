package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_rate_limit_remaining",
		Help: "Remaining primary quota in the current window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_rate_limit_blocks_total",
		Help: "Total number of requests refused below the stop threshold",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_rate_limit_throttles_total",
		Help: "Total number of requests throttled below the warning threshold",
	})
)

// Response headers carrying the primary quota.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// DefaultThrottleDelay is the pause before a request in the warning zone.
const DefaultThrottleDelay = time.Second

// Tracker monitors the primary quota and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	stopPercent   int
	throttleDelay time.Duration

	mu    sync.Mutex
	local State
}

// NewTracker creates a new rate limit tracker. A nil redisClient keeps the
// state in process.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, stopPercent int) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger.With().Str("component", "ratelimit").Logger(),
		stopPercent:   stopPercent,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay changes the pause applied in the warning zone.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// StopPercent returns the stop threshold.
func (t *Tracker) StopPercent() int {
	return t.stopPercent
}

// GetState retrieves the current quota state. Returns an unknown state when
// no quota was observed yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		s := t.local
		return &s, nil
	}

	values, err := t.redis.MGet(ctx, RedisKeyLimit, RedisKeyRemaining, RedisKeyResetTimestamp, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if values[0] == nil || values[1] == nil {
		t.logger.Debug().Msg("No rate limit state in Redis, quota unknown")
		return &State{}, nil
	}

	state := &State{}
	if state.Limit, err = redisInt(values[0]); err != nil {
		return nil, fmt.Errorf("parse limit: %w", err)
	}
	if state.Remaining, err = redisInt(values[1]); err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	if values[2] != nil {
		reset, err := redisInt(values[2])
		if err != nil {
			return nil, fmt.Errorf("parse reset timestamp: %w", err)
		}
		state.ResetAt = time.Unix(int64(reset), 0)
	}
	if s, ok := values[3].(string); ok && s != "" {
		if err := json.Unmarshal([]byte(s), &state.LastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}
	return state, nil
}

func redisInt(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
	return strconv.Atoi(s)
}

// UpdateFromHeaders parses the quota headers and updates the state.
// Responses without quota headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	limit, err := strconv.Atoi(headers.Get(HeaderLimit))
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderLimit, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return errors.New(HeaderReset + " header missing")
	}
	resetEpoch, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	return t.store(ctx, State{
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    time.Unix(resetEpoch, 0),
		LastUpdate: time.Now(),
	})
}

// UpdateFromRateLimit updates the state from the rateLimit block of a query
// result. A nil block is ignored.
func (t *Tracker) UpdateFromRateLimit(ctx context.Context, rl *task.RateLimit) error {
	if rl == nil || rl.Limit <= 0 {
		return nil
	}
	return t.store(ctx, State{
		Limit:      rl.Limit,
		Remaining:  rl.Remaining,
		ResetAt:    rl.ResetAt,
		LastUpdate: time.Now(),
	})
}

func (t *Tracker) store(ctx context.Context, state State) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
	} else {
		lastUpdateJSON, err := json.Marshal(state.LastUpdate)
		if err != nil {
			return fmt.Errorf("marshal last update: %w", err)
		}

		// Store in Redis atomically
		pipe := t.redis.TxPipeline()
		pipe.Set(ctx, RedisKeyLimit, state.Limit, 0)
		pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
		pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
		pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store rate limit state in redis: %w", err)
		}
	}

	quotaRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock(t.stopPercent):
		t.logger.Error().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Time("reset_at", state.ResetAt).
			Msg("Quota below stop threshold - requests will be refused")
	case state.NeedsThrottling(t.stopPercent):
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Msg("Quota low - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit state updated")
	}
	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on the
// current quota. Returns false when the quota is below the stop threshold.
// In the warning zone the request is allowed after a pause.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock(t.stopPercent) {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Quota below stop threshold - refusing request")
		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling(t.stopPercent) && t.throttleDelay > 0 {
		rateLimitThrottlesTotal.Inc()
		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
