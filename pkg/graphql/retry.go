package graphql

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_graphql_retries_total",
		Help: "Query round trips repeated after a transport failure",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_graphql_retry_backoff_seconds",
		Help:    "Pause before a repeated round trip",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_graphql_retry_exhausted_total",
		Help: "Queries given up after their last round trip failed",
	}, []string{"error_class"})
)

// RetryConfig bounds the round trips of one query. Only network failures are
// repeated here; every other failure is returned to the caller at once.
type RetryConfig struct {
	// MaxAttempts counts the first round trip.
	MaxAttempts int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns three attempts, pausing 2s then 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// backoff yields exponentially growing pauses with ±20% jitter.
type backoff struct {
	next       time.Duration
	max        time.Duration
	multiplier float64
}

func newBackoff(cfg RetryConfig) *backoff {
	return &backoff{next: cfg.InitialBackoff, max: cfg.MaxBackoff, multiplier: cfg.BackoffMultiplier}
}

func (b *backoff) pause() time.Duration {
	d := time.Duration(float64(b.next) * (0.8 + rand.Float64()*0.4))
	b.next = min(time.Duration(float64(b.next)*b.multiplier), b.max)
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff calls roundTrip until it succeeds, fails with an error
// that is not retryable, or MaxAttempts is reached.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, cfg RetryConfig, roundTrip func() error) error {
	attempts := max(cfg.MaxAttempts, 1)
	pauses := newBackoff(cfg)

	var err error
	for attempt := 1; ; attempt++ {
		if err = roundTrip(); err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Query succeeded after network retry")
			}
			return nil
		}

		class := Class(err)
		if !shouldRetry(class) {
			return err
		}
		if attempt == attempts {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			logger.Warn().Err(err).Str("error_class", string(class)).Int("attempts", attempts).Msg("Giving up on query")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
		}

		d := pauses.pause()
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(d.Seconds())
		logger.Debug().Err(err).Int("attempt", attempt).Dur("backoff", d).Msg("Network failure, retrying query")

		if err := sleep(ctx, d); err != nil {
			return fmt.Errorf("retry backoff: %w", err)
		}
	}
}
