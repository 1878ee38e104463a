// Package fallback executes logical requests against a preferred transport
// and substitutes a secondary transport when the first one fails.
package fallback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/logger"
	"github.com/pario-ai/shopkeep/pkg/metrics"
	"github.com/pario-ai/shopkeep/pkg/models"
)

// Requester tries a primary transport, then a secondary one. It keeps no
// state between calls.
type Requester struct {
	primary   Transport
	secondary Transport
	log       *zap.Logger
}

// Option configures a Requester.
type Option func(*Requester)

// WithLogger sets the logger used to report fallbacks.
func WithLogger(l *zap.Logger) Option {
	return func(r *Requester) { r.log = l }
}

// New creates a Requester. secondary may be nil, in which case a primary
// failure is final.
func New(primary, secondary Transport, opts ...Option) *Requester {
	r := &Requester{primary: primary, secondary: secondary}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.WithModule("fallback")
	}
	return r
}

// Execute sends req on the primary transport and, if that attempt errors or
// comes back unsuccessful, once on the secondary. Each transport is tried at
// most once. When the secondary also fails, the returned *Error wraps its
// failure and the secondary's normalized response, if any, is returned with it.
func (r *Requester) Execute(ctx context.Context, req models.FallbackRequest) (*models.FallbackResponse, error) {
	if r.primary == nil {
		return nil, ErrNoTransport
	}

	resp, primaryErr := r.attempt(ctx, r.primary, req)
	if primaryErr == nil {
		return resp, nil
	}
	if r.secondary == nil {
		return resp, &Error{Primary: primaryErr}
	}

	r.log.Warn("primary transport failed, falling back",
		zap.String("primary", r.primary.Name()),
		zap.String("secondary", r.secondary.Name()),
		zap.String("path", req.Path),
		zap.Error(primaryErr),
	)

	resp, secondaryErr := r.attempt(ctx, r.secondary, req)
	if secondaryErr == nil {
		return resp, nil
	}
	return resp, &Error{Primary: primaryErr, Secondary: secondaryErr}
}

func (r *Requester) attempt(ctx context.Context, t Transport, req models.FallbackRequest) (*models.FallbackResponse, error) {
	start := time.Now()
	raw, err := t.Do(ctx, req)
	metrics.TransportLatency.WithLabelValues(t.Name()).Observe(time.Since(start).Seconds())
	if err == nil && raw == nil {
		err = ErrEmptyReply
	}
	if err != nil {
		metrics.FallbackAttempts.WithLabelValues(t.Name(), "failed").Inc()
		return nil, &TransportError{Transport: t.Name(), Err: err}
	}

	resp := Normalize(t.Name(), raw)
	if !resp.Success {
		metrics.FallbackAttempts.WithLabelValues(t.Name(), "failed").Inc()
		return resp, &TransportError{Transport: t.Name(), Status: resp.Status, Message: resp.Error}
	}
	metrics.FallbackAttempts.WithLabelValues(t.Name(), "ok").Inc()
	return resp, nil
}
