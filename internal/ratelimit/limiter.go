// Package ratelimit gates externally triggered batch requests with a
// sliding window over a Redis sorted set, shared across processes.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evergreenpress/republisher/internal/logger"
)

const keyPrefix = "republisher:ratelimit:"

// Status describes the limiter state for one endpoint key.
type Status struct {
	Limited       bool          `json:"limited"`
	WindowSeconds int           `json:"window_seconds"`
	MaxRequests   int           `json:"max_requests"`
	NextAllowed   time.Time     `json:"next_allowed,omitempty"`
	RetryAfter    time.Duration `json:"retry_after,omitempty"`
}

// Limiter counts admitted calls per endpoint key inside a rolling window.
// A rejected call is never recorded, so rejections do not extend the window.
type Limiter struct {
	client redis.UniversalClient
	window time.Duration
	max    int
	bypass bool
	logger logger.Logger
	now    func() time.Time
}

// New creates a limiter. With bypass set (debug mode) enforcement is
// disabled entirely.
func New(client redis.UniversalClient, window time.Duration, maxRequests int, bypass bool, log logger.Logger) *Limiter {
	if window < time.Second {
		window = time.Second
	}
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &Limiter{
		client: client,
		window: window,
		max:    maxRequests,
		bypass: bypass,
		logger: log,
		now:    time.Now,
	}
}

// WithClock overrides the limiter's clock. Tests only.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// ShouldBypass reports whether enforcement is disabled.
func (l *Limiter) ShouldBypass() bool {
	return l.bypass
}

// Allow reports whether a call under key may proceed right now.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.bypass {
		return true, nil
	}
	count, err := l.countInWindow(ctx, key)
	if err != nil {
		return false, err
	}
	return count < int64(l.max), nil
}

// RecordCall registers an admitted call. Invoke only after the call has been
// dispatched to the engine.
func (l *Limiter) RecordCall(ctx context.Context, key string) error {
	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := l.client.Pipeline()
	pipe.ZAdd(ctx, l.key(key), redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, l.key(key), l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record call: %w", err)
	}

	l.logger.Debug("external trigger recorded",
		logger.String("endpoint", key),
		logger.Duration("window", l.window),
	)
	return nil
}

// CallStatus returns the limiter status for key, including when the next
// call will be admitted if currently limited.
func (l *Limiter) CallStatus(ctx context.Context, key string) (*Status, error) {
	status := &Status{
		WindowSeconds: int(l.window / time.Second),
		MaxRequests:   l.max,
	}
	if l.bypass {
		return status, nil
	}

	count, err := l.countInWindow(ctx, key)
	if err != nil {
		return nil, err
	}
	if count < int64(l.max) {
		return status, nil
	}

	status.Limited = true

	// The window frees up when its oldest recorded call ages out.
	oldest, err := l.client.ZRangeWithScores(ctx, l.key(key), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("oldest call: %w", err)
	}
	if len(oldest) > 0 {
		oldestAt := time.Unix(0, int64(oldest[0].Score))
		status.NextAllowed = oldestAt.Add(l.window)
		status.RetryAfter = status.NextAllowed.Sub(l.now())
		if status.RetryAfter < 0 {
			status.RetryAfter = 0
		}
	}
	return status, nil
}

// countInWindow prunes aged-out entries and counts the remainder.
func (l *Limiter) countInWindow(ctx context.Context, key string) (int64, error) {
	cutoff := l.now().Add(-l.window).UnixNano()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, l.key(key), "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, l.key(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count window: %w", err)
	}
	return card.Val(), nil
}

func (l *Limiter) key(endpoint string) string {
	return keyPrefix + endpoint
}
