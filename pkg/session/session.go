// Package session keeps a bearer access token fresh by exchanging a
// refresh token at a refresh endpoint.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/logger"
)

// ErrNoRefreshToken is returned by Refresh when no refresh token is held.
var ErrNoRefreshToken = errors.New("session: no refresh token")

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// The endpoint may answer with a bare pair or wrap it in {"success", "data"}.
type refreshReply struct {
	tokenPair
	Data *tokenPair `json:"data"`
}

// Session holds the current token pair. It is safe for concurrent use.
type Session struct {
	refreshURL string
	client     *http.Client
	log        *zap.Logger

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// New creates a Session that refreshes against refreshURL.
func New(refreshURL, refreshToken string) *Session {
	return &Session{
		refreshURL:   refreshURL,
		refreshToken: refreshToken,
		client:       &http.Client{Timeout: 15 * time.Second},
		log:          logger.WithModule("session"),
	}
}

// Token returns the current access token, empty before the first refresh.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// Headers returns the Authorization header for the current token.
func (s *Session) Headers() map[string]string {
	tok := s.Token()
	if tok == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

// Refresh exchanges the refresh token for a new pair. A rotated refresh
// token replaces the old one.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.RLock()
	rt := s.refreshToken
	s.mu.RUnlock()
	if rt == "" {
		return ErrNoRefreshToken
	}

	body, err := json.Marshal(map[string]string{"refresh_token": rt})
	if err != nil {
		return fmt.Errorf("encode refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh session: status %d", resp.StatusCode)
	}

	var reply refreshReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	pair := reply.tokenPair
	if reply.Data != nil {
		pair = *reply.Data
	}
	if pair.AccessToken == "" {
		return errors.New("refresh session: no access token in response")
	}

	s.mu.Lock()
	s.accessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		s.refreshToken = pair.RefreshToken
	}
	s.mu.Unlock()

	s.log.Info("session refreshed")
	return nil
}
