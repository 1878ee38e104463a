package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/shopkeep/pkg/models"
)

// recordSleeps returns a policy that records waits instead of sleeping.
func recordSleeps(p Policy) (Policy, *[]time.Duration) {
	var waits []time.Duration
	p.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return p, &waits
}

func TestDoSucceedsFirstTry(t *testing.T) {
	p, waits := recordSleeps(DefaultPolicy())
	calls := 0
	v, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p, waits := recordSleeps(DefaultPolicy())
	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("connection reset %d", calls)
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.EqualError(t, exhausted.Err, "connection reset 3")
}

func TestDoStopsOnTerminal(t *testing.T) {
	p, waits := recordSleeps(DefaultPolicy())
	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls == 2 {
			return 0, errors.New("Quota exceeded for this month")
		}
		return 0, errors.New("timeout")
	})

	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, *waits)

	var term *TerminalError
	require.ErrorAs(t, err, &term)
	assert.Equal(t, 2, term.Attempt)
	assert.Contains(t, term.Err.Error(), "Quota exceeded")
}

func TestDoTerminalSentinel(t *testing.T) {
	p, _ := recordSleeps(Policy{MaxAttempts: 5, BaseDelay: time.Millisecond})
	cause := errors.New("blocked")
	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, Terminal(cause)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrTerminal)
	assert.ErrorIs(t, err, cause)
}

func TestDoCanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("unavailable")
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("nope")
	})
	assert.Equal(t, 1, calls)
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 200*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(3))
}

func TestBackoffIsCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	assert.Equal(t, 512*time.Second, p.Backoff(9))
	for _, attempt := range []int{10, 63, 64, 1000} {
		assert.Equal(t, MaxBackoff, p.Backoff(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, MaxBackoff, Policy{BaseDelay: time.Hour}.Backoff(1))
	assert.Zero(t, Policy{}.Backoff(5))

	var waits []time.Duration
	p.MaxAttempts = 70
	p.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, errors.New("bad gateway")
	})
	require.Error(t, err)
	require.Len(t, waits, 69)
	for i, d := range waits {
		assert.Positive(t, d, "wait %d", i+1)
		assert.LessOrEqual(t, d, MaxBackoff, "wait %d", i+1)
	}
}

func TestMarkerClassifier(t *testing.T) {
	isTerminal := MarkerClassifier(" Quota ", "")
	assert.True(t, isTerminal(errors.New("QUOTA reached")))
	assert.True(t, isTerminal(Terminal(errors.New("x"))))
	assert.False(t, isTerminal(errors.New("bad gateway")))
	assert.False(t, isTerminal(nil))
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestSend(t *testing.T) {
	t.Run("success after unsuccessful reply", func(t *testing.T) {
		p, waits := recordSleeps(DefaultPolicy())
		calls := 0
		res := Send(context.Background(), p, func(context.Context) (*models.FallbackResponse, error) {
			calls++
			if calls == 1 {
				return &models.FallbackResponse{Status: 502, Error: "bad gateway"}, nil
			}
			return &models.FallbackResponse{Success: true, Status: 200, Data: []byte(`{"idMessage":"abc"}`)}, nil
		})
		assert.True(t, res.Success)
		assert.NoError(t, res.Err)
		assert.Equal(t, 2, res.Attempts)
		assert.JSONEq(t, `{"idMessage":"abc"}`, string(res.Data))
		assert.Len(t, *waits, 1)
	})

	t.Run("exhausted", func(t *testing.T) {
		p, _ := recordSleeps(DefaultPolicy())
		res := Send(context.Background(), p, func(context.Context) (*models.FallbackResponse, error) {
			return nil, errors.New("dial tcp: refused")
		})
		assert.False(t, res.Success)
		assert.Equal(t, 3, res.Attempts)
		var exhausted *ExhaustedError
		require.ErrorAs(t, res.Err, &exhausted)
		assert.EqualError(t, exhausted.Err, "dial tcp: refused")
	})

	t.Run("terminal reply", func(t *testing.T) {
		p, _ := recordSleeps(DefaultPolicy())
		res := Send(context.Background(), p, func(context.Context) (*models.FallbackResponse, error) {
			return &models.FallbackResponse{Status: 466, Error: "quota exceeded"}, nil
		})
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.Attempts)
		var respErr *ResponseError
		require.ErrorAs(t, res.Err, &respErr)
		assert.Equal(t, 466, respErr.StatusCode())
	})
}
