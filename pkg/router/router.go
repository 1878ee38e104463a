package router

import (
	"fmt"

	"github.com/pario-ai/shopkeep/pkg/config"
	"github.com/pario-ai/shopkeep/pkg/fallback"
)

// Router resolves logical route names to ordered primary/secondary transports.
type Router struct {
	cfg     *config.Config
	headers func() map[string]string
}

// Option configures a Router.
type Option func(*Router)

// WithHeaderFunc attaches per-attempt headers to every transport the router builds.
func WithHeaderFunc(fn func() map[string]string) Option {
	return func(r *Router) { r.headers = fn }
}

// New creates a Router from the given configuration.
func New(cfg *config.Config, opts ...Option) *Router {
	r := &Router{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the transports for the named route, primary first.
// If the name matches a configured route, its known targets are returned.
// Otherwise, the first transport is used on its own.
func (r *Router) Resolve(name string) ([]config.TransportConfig, error) {
	if len(r.cfg.Transports) == 0 {
		return nil, fmt.Errorf("no transports configured")
	}

	for _, route := range r.cfg.Router.Routes {
		if route.Name != name {
			continue
		}
		var targets []config.TransportConfig
		for _, target := range route.Targets {
			tc, ok := r.cfg.Transport(target)
			if !ok {
				continue // skip unknown transports
			}
			targets = append(targets, tc)
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("route %q: all transports unknown", name)
		}
		if len(targets) > 2 {
			targets = targets[:2]
		}
		return targets, nil
	}

	return []config.TransportConfig{r.cfg.Transports[0]}, nil
}

// Build creates the HTTP transport described by tc.
func (r *Router) Build(tc config.TransportConfig) (fallback.Transport, error) {
	opts := []fallback.TransportOption{
		fallback.WithHeaders(tc.Headers),
		fallback.WithTimeout(tc.Timeout),
	}
	if tc.Type == "proxy" {
		opts = append(opts, fallback.WithEnvelope())
	}
	if r.headers != nil {
		opts = append(opts, fallback.WithHeaderFunc(r.headers))
	}
	t, err := fallback.NewHTTPTransport(tc.Name, tc.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport %q: %w", tc.Name, err)
	}
	return t, nil
}

// Requester builds a fallback requester for the named route.
func (r *Router) Requester(name string, opts ...fallback.Option) (*fallback.Requester, error) {
	targets, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	primary, err := r.Build(targets[0])
	if err != nil {
		return nil, err
	}
	var secondary fallback.Transport
	if len(targets) > 1 {
		if secondary, err = r.Build(targets[1]); err != nil {
			return nil, err
		}
	}
	return fallback.New(primary, secondary, opts...), nil
}
