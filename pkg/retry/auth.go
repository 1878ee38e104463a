package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ErrAuthExpired can be wrapped by callers that detect an expired session
// themselves.
var ErrAuthExpired = errors.New("authentication expired")

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

var authExpiredMarkers = []string{
	"unauthorized",
	"jwt expired",
	"token is expired",
	"token expired",
	"invalid token",
	"session expired",
}

// IsAuthExpired reports whether err means the session has to be refreshed:
// an HTTP 401, ErrAuthExpired, or one of the usual expiry messages.
func IsAuthExpired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthExpired) {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() == http.StatusUnauthorized {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range authExpiredMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ErrRefreshSpent is returned by a OnceRefresh func after its first call.
var ErrRefreshSpent = fmt.Errorf("session already refreshed: %w", ErrTerminal)

// RefreshError is returned when op failed with an expired session and the
// refresh failed too. It unwraps to both, original error first, and is
// terminal.
type RefreshError struct {
	Err        error
	RefreshErr error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%v (session refresh failed: %v)", e.Err, e.RefreshErr)
}

func (e *RefreshError) Unwrap() []error { return []error{e.Err, e.RefreshErr, ErrTerminal} }

// OnceRefresh wraps refresh so that only its first call reaches the
// session. Later calls fail with ErrRefreshSpent. Use one per logical
// operation so retried attempts share a single refresh.
func OnceRefresh(refresh func(ctx context.Context) error) func(ctx context.Context) error {
	var (
		mu   sync.Mutex
		used bool
	)
	return func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if used {
			return ErrRefreshSpent
		}
		used = true
		return refresh(ctx)
	}
}

// WithAuthRefresh runs op. If it fails with an expired session (as judged by
// expired, or IsAuthExpired when nil), refresh is called once; on success op
// is retried exactly once, otherwise the original error is returned without
// a retry. An expired session after the refresh is terminal, as is a failed
// refresh, so an enclosing Do stops there.
func WithAuthRefresh[T any](ctx context.Context, op func(ctx context.Context) (T, error), refresh func(ctx context.Context) error, expired func(error) bool) (T, error) {
	if expired == nil {
		expired = IsAuthExpired
	}

	v, err := op(ctx)
	if err == nil || !expired(err) {
		return v, err
	}

	var zero T
	if rerr := refresh(ctx); rerr != nil {
		return zero, &RefreshError{Err: err, RefreshErr: rerr}
	}
	v, err = op(ctx)
	if err != nil && expired(err) {
		return zero, Terminal(err)
	}
	return v, err
}
