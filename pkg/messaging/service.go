// Package messaging sends shop notifications to customer chats through the
// fallback requester, with retries, quota checks and a delivery log.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pario-ai/shopkeep/pkg/logger"
	"github.com/pario-ai/shopkeep/pkg/metrics"
	"github.com/pario-ai/shopkeep/pkg/models"
	"github.com/pario-ai/shopkeep/pkg/quota"
	"github.com/pario-ai/shopkeep/pkg/retry"
)

// ErrInvalidChatID is returned for recipients with no usable digits.
var ErrInvalidChatID = errors.New("messaging: invalid chat id")

// Executor performs one logical request. *fallback.Requester satisfies it.
type Executor interface {
	Execute(ctx context.Context, req models.FallbackRequest) (*models.FallbackResponse, error)
}

// Recorder appends delivery outcomes. deliverylog.Log satisfies it.
type Recorder interface {
	Record(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error)
}

// QuotaChecker guards sends. *quota.Enforcer satisfies it.
type QuotaChecker interface {
	Check(ctx context.Context, chatID string) error
}

// Service sends messages through a messaging instance.
type Service struct {
	exec     Executor
	instance string
	token    string
	policy   retry.Policy
	refresh  func(ctx context.Context) error
	recorder Recorder
	quota    QuotaChecker
	sleep    func(ctx context.Context, d time.Duration) error
	log      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy overrides the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithAuthRefresh refreshes the session once when a send fails with an
// expired session.
func WithAuthRefresh(refresh func(ctx context.Context) error) Option {
	return func(s *Service) { s.refresh = refresh }
}

// WithRecorder logs every outcome to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithQuota consults q before each send.
func WithQuota(q QuotaChecker) Option {
	return func(s *Service) { s.quota = q }
}

// WithSleep replaces the wait between batch messages.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a Service for the given messaging instance and API token.
func New(exec Executor, instance, token string, opts ...Option) *Service {
	s := &Service{
		exec:     exec,
		instance: instance,
		token:    token,
		policy:   retry.DefaultPolicy(),
		sleep:    retry.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.WithModule("messaging")
	}
	return s
}

// NormalizeChatID turns a phone number into a personal chat ID
// ("<digits>@c.us"). IDs that already carry a domain are kept as is.
func NormalizeChatID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		return raw, nil
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidChatID, raw)
	}
	return b.String() + "@c.us", nil
}

// Send delivers text to chatID.
func (s *Service) Send(ctx context.Context, chatID, text string) models.SendResult {
	return s.Deliver(ctx, models.Message{ChatID: chatID, Text: text})
}

// Deliver sends msg, retrying transient failures under the service policy.
// A quota breach or invalid recipient fails without any attempt.
func (s *Service) Deliver(ctx context.Context, msg models.Message) models.SendResult {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	chatID, err := NormalizeChatID(msg.ChatID)
	if err != nil {
		s.record(ctx, msg, "", models.DeliveryRejected, models.SendResult{Err: err})
		return models.SendResult{Err: err}
	}
	msg.ChatID = chatID

	if s.quota != nil {
		if err := s.quota.Check(ctx, chatID); err != nil {
			if quota.IsExceeded(err) {
				res := models.SendResult{Err: err}
				s.record(ctx, msg, "", models.DeliveryRejected, res)
				return res
			}
			s.log.Warn("quota check failed, sending anyway", zap.String("chat_id", chatID), zap.Error(err))
		}
	}

	req, err := s.request(msg)
	if err != nil {
		return models.SendResult{Err: err}
	}

	var transport string
	execute := func(ctx context.Context) (*models.FallbackResponse, error) {
		resp, err := s.exec.Execute(ctx, req)
		if resp != nil {
			transport = resp.Transport
		}
		return resp, err
	}

	var refresh func(ctx context.Context) error
	if s.refresh != nil {
		refresh = retry.OnceRefresh(s.refresh)
	}
	res := retry.Send(ctx, s.policy, func(ctx context.Context) (*models.FallbackResponse, error) {
		if refresh == nil {
			return execute(ctx)
		}
		return retry.WithAuthRefresh(ctx, execute, refresh, nil)
	})

	status := models.DeliverySent
	if !res.Success {
		status = models.DeliveryFailed
	}
	s.record(ctx, msg, transport, status, res)
	return res
}

// SendBatch sends msgs one after another, waiting gap between sends. If ctx
// is done, the remaining messages fail with the context error.
func (s *Service) SendBatch(ctx context.Context, msgs []models.Message, gap time.Duration) []models.SendResult {
	results := make([]models.SendResult, len(msgs))
	for i, msg := range msgs {
		if i > 0 && gap > 0 {
			if err := s.sleep(ctx, gap); err != nil {
				for j := i; j < len(msgs); j++ {
					results[j] = models.SendResult{Err: err}
				}
				return results
			}
		}
		results[i] = s.Deliver(ctx, msg)
	}
	return results
}

func (s *Service) request(msg models.Message) (models.FallbackRequest, error) {
	body, err := json.Marshal(map[string]string{
		"chatId":  msg.ChatID,
		"message": msg.Text,
	})
	if err != nil {
		return models.FallbackRequest{}, fmt.Errorf("encode message: %w", err)
	}
	return models.FallbackRequest{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/waInstance%s/sendMessage/%s", s.instance, s.token),
		Body:   body,
	}, nil
}

func (s *Service) record(ctx context.Context, msg models.Message, transport string, status models.DeliveryStatus, res models.SendResult) {
	metrics.MessagesSent.WithLabelValues(string(status)).Inc()

	fields := []zap.Field{
		zap.String("message_id", msg.ID),
		zap.String("chat_id", msg.ChatID),
		zap.String("status", string(status)),
		zap.Int("attempts", res.Attempts),
	}
	if res.Err != nil {
		s.log.Warn("message not delivered", append(fields, zap.Error(res.Err))...)
	} else {
		s.log.Info("message delivered", append(fields, zap.String("transport", transport))...)
	}

	if s.recorder == nil {
		return
	}
	rec := models.DeliveryRecord{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		Transport: transport,
		Status:    status,
		Attempts:  res.Attempts,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if _, err := s.recorder.Record(ctx, rec); err != nil {
		s.log.Warn("delivery log write failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
