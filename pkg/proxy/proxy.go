// Package proxy implements the local proxy that primary transports reach
// through envelopes, plus health, metrics and cache inspection endpoints.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/cache"
	"github.com/pario-ai/shopkeep/pkg/config"
	"github.com/pario-ai/shopkeep/pkg/fallback"
	"github.com/pario-ai/shopkeep/pkg/logger"
)

// maxEnvelopeSize caps envelope request bodies.
const maxEnvelopeSize = 4 << 20

// Server is the shopkeep local proxy.
type Server struct {
	cfg    *config.Config
	cache  *cache.Cache
	client *http.Client
	origin string
	mux    *http.ServeMux
	log    *zap.Logger
}

// New creates a proxy Server forwarding envelopes to cfg.Proxy.Origin.
// c may be nil, in which case /cache/stats reports the cache as disabled.
func New(cfg *config.Config, c *cache.Cache) *Server {
	timeout := cfg.Proxy.Timeout
	if timeout <= 0 {
		timeout = fallback.DefaultTimeout
	}
	s := &Server{
		cfg:    cfg,
		cache:  c,
		client: &http.Client{Timeout: timeout},
		origin: strings.TrimRight(cfg.Proxy.Origin, "/"),
		mux:    http.NewServeMux(),
		log:    logger.WithModule("proxy"),
	}
	s.mux.HandleFunc(fallback.EnvelopePath, s.handleEnvelope)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/cache/stats", s.handleCacheStats)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the proxy server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("proxy listening", zap.String("addr", s.cfg.Listen), zap.String("origin", s.origin))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.origin == "" {
		writeJSONError(w, http.StatusServiceUnavailable, "no origin configured")
		return
	}

	var env fallback.Envelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEnvelopeSize)).Decode(&env); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid envelope")
		return
	}
	r.Body.Close()
	if !strings.HasPrefix(env.Path, "/") {
		writeJSONError(w, http.StatusBadRequest, "envelope path must start with /")
		return
	}
	env.Method = fallback.RequestMethod(env.Method, env.Body)

	start := time.Now()
	reply := s.forward(r.Context(), env)
	fields := []zap.Field{
		zap.String("method", env.Method),
		zap.String("path", env.Path),
		zap.Int("status", reply.Status),
		zap.Duration("latency", time.Since(start)),
	}
	if reply.Error != "" {
		s.log.Warn("origin unreachable", append(fields, zap.String("error", reply.Error))...)
	} else {
		s.log.Debug("envelope forwarded", fields...)
	}

	writeJSON(w, http.StatusOK, reply)
}

// forward performs the enveloped request against the origin. Failures to
// reach the origin are reported in the reply with a zero status.
func (s *Server) forward(ctx context.Context, env fallback.Envelope) fallback.EnvelopeReply {
	var body io.Reader
	if len(env.Body) > 0 {
		body = bytes.NewReader(env.Body)
	}
	req, err := http.NewRequestWithContext(ctx, env.Method, s.origin+env.Path, body)
	if err != nil {
		return fallback.EnvelopeReply{Error: fmt.Sprintf("create request: %v", err)}
	}
	if len(env.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range env.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fallback.EnvelopeReply{Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fallback.EnvelopeReply{Error: fmt.Sprintf("read response: %v", err)}
	}
	return fallback.EnvelopeReply{Status: resp.StatusCode, Body: asJSON(data)}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"cache":  s.cache != nil && s.cache.Available(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cache == nil {
		writeJSONError(w, http.StatusNotFound, "cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats(r.Context()))
}

// asJSON returns data unchanged when it is valid JSON and as a JSON string
// otherwise, so it can be embedded in a reply.
func asJSON(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"shopkeep_error","code":%d}}`, message, code)
}
