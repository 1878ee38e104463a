// Package retry wraps operations with bounded exponential backoff and a
// one-shot session refresh for expired credentials.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/logger"
	"github.com/pario-ai/shopkeep/pkg/metrics"
)

// ErrTerminal marks failures that must not be retried.
var ErrTerminal = errors.New("terminal failure")

// DefaultTerminalMarkers are matched case-insensitively against error text.
var DefaultTerminalMarkers = []string{"quota exceeded", "quota"}

type terminal struct{ err error }

func (t terminal) Error() string   { return t.err.Error() }
func (t terminal) Unwrap() []error { return []error{t.err, ErrTerminal} }

// Terminal marks err as non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminal{err: err}
}

// MarkerClassifier reports an error as terminal when it wraps ErrTerminal
// or its text contains one of markers.
func MarkerClassifier(markers ...string) func(error) bool {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	return func(err error) bool {
		if err == nil {
			return false
		}
		if errors.Is(err, ErrTerminal) {
			return true
		}
		msg := strings.ToLower(err.Error())
		for _, m := range lowered {
			if strings.Contains(msg, m) {
				return true
			}
		}
		return false
	}
}

// Policy bounds a retried operation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is scaled by 2^attempt after each failed attempt.
	BaseDelay time.Duration
	// IsTerminal classifies errors that abort the loop immediately.
	IsTerminal func(error) bool
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger reports retries. Defaults to the "retry" module logger.
	Logger *zap.Logger
}

// DefaultPolicy allows 3 attempts with 2s and 4s waits in between.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		IsTerminal:  MarkerClassifier(DefaultTerminalMarkers...),
	}
}

// MaxBackoff caps a single wait between attempts.
const MaxBackoff = 10 * time.Minute

// Backoff returns the wait after the given failed attempt (counted from 1):
// BaseDelay doubled attempt times, capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		return 0
	}
	for i := 0; i < attempt; i++ {
		if d >= MaxBackoff/2 {
			return MaxBackoff
		}
		d *= 2
	}
	return min(d, MaxBackoff)
}

func (p Policy) terminal(err error) bool {
	if p.IsTerminal != nil {
		return p.IsTerminal(err)
	}
	return errors.Is(err, ErrTerminal)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (p Policy) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return logger.WithModule("retry")
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// TerminalError is returned when an attempt failed with a terminal error.
type TerminalError struct {
	Attempt int
	Err     error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal failure on attempt %d: %v", e.Attempt, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Do runs op until it succeeds, fails with a terminal error, or has been
// attempted p.MaxAttempts times. After failed attempt k it waits
// p.Backoff(k). A done ctx stops the wait and ends the loop.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	log := p.logger()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		v, err := op(ctx)
		if err == nil {
			metrics.RetryOutcomes.WithLabelValues("success").Inc()
			return v, nil
		}
		lastErr = err

		if p.terminal(err) {
			metrics.RetryOutcomes.WithLabelValues("terminal").Inc()
			log.Warn("terminal failure, not retrying", zap.Int("attempt", attempt), zap.Error(err))
			return zero, &TerminalError{Attempt: attempt, Err: err}
		}
		if attempt == max {
			break
		}

		delay := p.Backoff(attempt)
		log.Info("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", max),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if serr := p.sleep(ctx, delay); serr != nil {
			metrics.RetryOutcomes.WithLabelValues("canceled").Inc()
			return zero, fmt.Errorf("retry stopped after %d attempts: %w (last error: %v)", attempt, serr, lastErr)
		}
	}

	metrics.RetryOutcomes.WithLabelValues("exhausted").Inc()
	return zero, &ExhaustedError{Attempts: max, Err: lastErr}
}
