// Package mirror keeps local copies of remote collections: reads go to the
// expiring cache first and to the origin, through the fallback requester,
// on a miss.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/cache"
	"github.com/pario-ai/shopkeep/pkg/logger"
	"github.com/pario-ai/shopkeep/pkg/models"
	"github.com/pario-ai/shopkeep/pkg/retry"
)

// Executor performs one logical request. *fallback.Requester satisfies it.
type Executor interface {
	Execute(ctx context.Context, req models.FallbackRequest) (*models.FallbackResponse, error)
}

// Mirror serves collections from the cache, fetching them on a miss.
type Mirror struct {
	cache   *cache.Cache
	exec    Executor
	policy  retry.Policy
	refresh func(ctx context.Context) error
	paths   map[string]string
	log     *zap.Logger
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithPolicy overrides the retry policy for origin fetches.
func WithPolicy(p retry.Policy) Option {
	return func(m *Mirror) { m.policy = p }
}

// WithAuthRefresh refreshes the session once when a fetch fails with an
// expired session.
func WithAuthRefresh(refresh func(ctx context.Context) error) Option {
	return func(m *Mirror) { m.refresh = refresh }
}

// New creates a Mirror. paths maps store names to origin paths.
func New(c *cache.Cache, exec Executor, paths map[string]string, opts ...Option) *Mirror {
	m := &Mirror{
		cache:  c,
		exec:   exec,
		policy: retry.DefaultPolicy(),
		paths:  paths,
		log:    logger.WithModule("mirror"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the records of store from the cache, or from the origin when
// the cached copy is missing or expired.
func (m *Mirror) Get(ctx context.Context, store string) ([]models.Record, error) {
	path, ok := m.paths[store]
	if !ok {
		return nil, fmt.Errorf("mirror: unknown store %q", store)
	}
	return m.cache.GetOrFetch(ctx, store, func(ctx context.Context) ([]models.Record, error) {
		return m.fetch(ctx, store, path)
	})
}

// Refresh fetches store from the origin and replaces the cached copy.
func (m *Mirror) Refresh(ctx context.Context, store string) ([]models.Record, error) {
	path, ok := m.paths[store]
	if !ok {
		return nil, fmt.Errorf("mirror: unknown store %q", store)
	}
	records, err := m.fetch(ctx, store, path)
	if err != nil {
		return nil, err
	}
	m.cache.Write(ctx, store, records)
	return records, nil
}

func (m *Mirror) fetch(ctx context.Context, store, path string) ([]models.Record, error) {
	req := models.FallbackRequest{Method: http.MethodGet, Path: path}
	execute := func(ctx context.Context) (*models.FallbackResponse, error) {
		resp, err := m.exec.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, &retry.ResponseError{Response: resp}
		}
		return resp, nil
	}

	var refresh func(ctx context.Context) error
	if m.refresh != nil {
		refresh = retry.OnceRefresh(m.refresh)
	}
	resp, err := retry.Do(ctx, m.policy, func(ctx context.Context) (*models.FallbackResponse, error) {
		if refresh == nil {
			return execute(ctx)
		}
		return retry.WithAuthRefresh(ctx, execute, refresh, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", store, err)
	}

	records, err := DecodeRecords(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", store, err)
	}
	m.log.Debug("fetched from origin",
		zap.String("store", store),
		zap.String("transport", resp.Transport),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// DecodeRecords accepts a JSON array of objects, an object wrapping one
// under "data", or a single object.
func DecodeRecords(data json.RawMessage) ([]models.Record, error) {
	if len(data) == 0 || string(data) == "null" {
		return []models.Record{}, nil
	}

	var list []models.Record
	if err := json.Unmarshal(data, &list); err == nil {
		if list == nil {
			list = []models.Record{}
		}
		return list, nil
	}

	var obj models.Record
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if inner, ok := obj["data"]; ok {
		raw, err := json.Marshal(inner)
		if err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		if err := json.Unmarshal(raw, &list); err == nil {
			if list == nil {
				list = []models.Record{}
			}
			return list, nil
		}
	}
	return []models.Record{obj}, nil
}
