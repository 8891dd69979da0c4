// Package gate serializes outbound platform and model calls behind a
// shared retry and cooldown policy. Callers classify failures into three
// kinds; the gate decides whether and when another attempt happens.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ilikepancakes-ink/twittwebot/internal/metrics"
)

// Kind classifies a failed call for retry purposes.
type Kind string

const (
	// KindRateLimited means the platform asked us to back off. The gate
	// opens a process-wide cooldown so concurrent tasks stop hammering it.
	KindRateLimited Kind = "RATE_LIMITED"
	// KindTransient covers network failures and 5xx responses. Retried
	// with exponential backoff.
	KindTransient Kind = "TRANSIENT"
	// KindPermanent covers 4xx responses and malformed requests. Never
	// retried.
	KindPermanent Kind = "PERMANENT"
)

// Error carries the classification alongside the underlying cause.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// RateLimited wraps err as a rate-limit failure. retryAfter may be zero
// when the platform gave no reset hint.
func RateLimited(err error, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter, cause: err}
}

// Transient wraps err as a retryable failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, cause: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) *Error {
	return &Error{Kind: KindPermanent, cause: err}
}

// Classify reports how err should be treated. Pre-classified errors keep
// their kind. Context cancellation is permanent; retrying a cancelled call
// never helps. Everything else defaults to transient.
func Classify(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindPermanent
	}
	return KindTransient
}

// Config holds the retry policy knobs.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Metrics     *metrics.Metrics
}

// Gate owns the shared cooldown window and the retry policy. A single
// gate instance is shared by every component that talks to the platform,
// so a rate limit observed by one task slows all of them down.
type Gate struct {
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	metrics     *metrics.Metrics

	mu            sync.Mutex
	cooldownUntil time.Time

	// Injection points for tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func New(cfg Config) *Gate {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Gate{
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		metrics:     cfg.Metrics,
		now:         time.Now,
		sleep:       sleepContext,
		jitter:      defaultJitter,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// defaultJitter spreads retries by up to a quarter of the base delay so
// tasks that hit the same limit do not wake in lockstep.
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// CooldownRemaining reports how long the gate stays closed, zero when open.
func (g *Gate) CooldownRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	remaining := g.cooldownUntil.Sub(g.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (g *Gate) cooldownWait() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	wait := g.cooldownUntil.Sub(g.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (g *Gate) openCooldown(retryAfter time.Duration) time.Duration {
	if retryAfter <= 0 {
		retryAfter = g.baseBackoff
	}
	if retryAfter > g.maxBackoff {
		retryAfter = g.maxBackoff
	}
	g.mu.Lock()
	until := g.now().Add(retryAfter)
	// Concurrent rate limits only ever extend the window.
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}
	g.mu.Unlock()

	g.metrics.CooldownOpened(retryAfter)
	return retryAfter
}

func (g *Gate) backoff(attempt int) time.Duration {
	d := g.baseBackoff << (attempt - 1)
	if d > g.maxBackoff || d <= 0 {
		d = g.maxBackoff
	}
	return g.jitter(d)
}

// Do runs fn under the gate's retry policy and returns its result.
// Rate-limit responses consume an attempt, open the shared cooldown, and
// retry after it passes. Transient failures retry with exponential
// backoff. Permanent failures and context cancellation return immediately.
func Do[T any](ctx context.Context, g *Gate, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var err error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if wait := g.cooldownWait(); wait > 0 {
			slog.DebugContext(ctx, "gate cooling down", "op", op, "wait", wait)
			if serr := g.sleep(ctx, wait); serr != nil {
				return zero, serr
			}
		}

		var result T
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}

		switch Classify(err) {
		case KindPermanent:
			return zero, fmt.Errorf("%s: %w", op, err)
		case KindRateLimited:
			var ce *Error
			var retryAfter time.Duration
			if errors.As(err, &ce) {
				retryAfter = ce.RetryAfter
			}
			applied := g.openCooldown(retryAfter)
			slog.WarnContext(ctx, "rate limited, cooling down", "op", op, "attempt", attempt, "cooldown", applied)
		default:
			if attempt < g.maxAttempts {
				delay := g.backoff(attempt)
				slog.WarnContext(ctx, "transient failure, retrying", "op", op, "attempt", attempt, "delay", delay, "error", err)
				if serr := g.sleep(ctx, delay); serr != nil {
					return zero, serr
				}
			}
		}
	}

	return zero, fmt.Errorf("%s after %d attempts: %w", op, g.maxAttempts, err)
}

// Run is Do for operations with no result.
func Run(ctx context.Context, g *Gate, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
