// Package quota caps how many notifications each chat receives per period.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/shopkeep/pkg/deliverylog"
	"github.com/pario-ai/shopkeep/pkg/models"
	"github.com/pario-ai/shopkeep/pkg/retry"
)

// ErrQuotaExceeded is returned when a chat has used up its message quota.
// It is terminal: retrying cannot succeed before the period rolls over.
var ErrQuotaExceeded = fmt.Errorf("quota exceeded: %w", retry.ErrTerminal)

// Counter counts sent messages. deliverylog.Log satisfies it.
type Counter interface {
	CountSince(ctx context.Context, chatID string, since time.Time) (int64, error)
}

// Enforcer checks sent-message counts against quota policies.
type Enforcer struct {
	policies []models.QuotaPolicy
	counter  Counter
	now      func() time.Time
}

// New creates an Enforcer with the given policies and counter.
func New(policies []models.QuotaPolicy, c Counter) *Enforcer {
	return &Enforcer{policies: policies, counter: c, now: time.Now}
}

// Check returns an error wrapping ErrQuotaExceeded if sending one more
// message to chatID would break any applicable policy.
func (e *Enforcer) Check(ctx context.Context, chatID string) error {
	for _, p := range e.applicablePolicies(chatID) {
		used, err := e.used(ctx, p)
		if err != nil {
			return fmt.Errorf("quota check: %w", err)
		}
		if used >= p.MaxMessages {
			return fmt.Errorf("%w: %d/%d %s messages for %s", ErrQuotaExceeded, used, p.MaxMessages, periodOf(p), p.ChatID)
		}
	}
	return nil
}

// Status returns the quota status for a chat across all applicable policies.
func (e *Enforcer) Status(ctx context.Context, chatID string) ([]models.QuotaStatus, error) {
	policies := e.applicablePolicies(chatID)
	statuses := make([]models.QuotaStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.used(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("quota status: %w", err)
		}
		remaining := p.MaxMessages - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.QuotaStatus{
			Policy:    p,
			Used:      used,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

// IsExceeded reports whether err is a quota breach.
func IsExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

func (e *Enforcer) used(ctx context.Context, p models.QuotaPolicy) (int64, error) {
	return e.counter.CountSince(ctx, p.ChatID, periodStart(periodOf(p), e.now()))
}

func (e *Enforcer) applicablePolicies(chatID string) []models.QuotaPolicy {
	var result []models.QuotaPolicy
	for _, p := range e.policies {
		if p.ChatID == deliverylog.AllChats || p.ChatID == chatID {
			result = append(result, p)
		}
	}
	return result
}

func periodOf(p models.QuotaPolicy) models.QuotaPeriod {
	if p.Period == "" {
		return models.QuotaDaily
	}
	return p.Period
}

func periodStart(period models.QuotaPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.QuotaMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
