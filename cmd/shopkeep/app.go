package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/cache"
	"github.com/pario-ai/shopkeep/pkg/config"
	"github.com/pario-ai/shopkeep/pkg/fallback"
	"github.com/pario-ai/shopkeep/pkg/logger"
	"github.com/pario-ai/shopkeep/pkg/recordstore"
	"github.com/pario-ai/shopkeep/pkg/retry"
	"github.com/pario-ai/shopkeep/pkg/router"
	"github.com/pario-ai/shopkeep/pkg/session"
)

const defaultConfigPath = "shopkeep.yaml"

// loadConfig reads the config file and installs the global logger.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// openCache opens the configured record store and initializes the cache.
// An initialization failure leaves the cache unavailable, not fatal.
func openCache(ctx context.Context, cfg *config.Config) (*cache.Cache, error) {
	store, err := recordstore.New(cfg.Cache.Backend, cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	c := cache.New(store, cache.WithTTL(cfg.Cache.TTL))
	if err := c.Initialize(ctx); err != nil {
		logger.WithModule("cli").Warn("cache unavailable", zap.Error(err))
	}
	return c, nil
}

// retryPolicy builds the retry policy from config.
func retryPolicy(cfg *config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = cfg.Retry.MaxAttempts
	p.BaseDelay = cfg.Retry.BaseDelay
	if len(cfg.Retry.TerminalMarkers) > 0 {
		p.IsTerminal = retry.MarkerClassifier(cfg.Retry.TerminalMarkers...)
	}
	return p
}

// newSession returns the session used for auth refresh, or nil when no
// refresh endpoint is configured.
func newSession(cfg *config.Config) *session.Session {
	if cfg.Auth.RefreshURL == "" {
		return nil
	}
	return session.New(cfg.Auth.RefreshURL, cfg.Auth.RefreshToken)
}

// newRequester builds the fallback requester for a route. Transports carry
// the session's bearer token when there is one.
func newRequester(cfg *config.Config, route string, sess *session.Session) (*fallback.Requester, error) {
	var opts []router.Option
	if sess != nil {
		opts = append(opts, router.WithHeaderFunc(sess.Headers))
	}
	req, err := router.New(cfg, opts...).Requester(route)
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", route, err)
	}
	return req, nil
}
