package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pario-ai/shopkeep/pkg/deliverylog"
	"github.com/pario-ai/shopkeep/pkg/fallback"
	"github.com/pario-ai/shopkeep/pkg/models"
	"github.com/pario-ai/shopkeep/pkg/quota"
	"github.com/pario-ai/shopkeep/pkg/retry"
)

type execFunc func(ctx context.Context, req models.FallbackRequest) (*models.FallbackResponse, error)

func (f execFunc) Execute(ctx context.Context, req models.FallbackRequest) (*models.FallbackResponse, error) {
	return f(ctx, req)
}

func noWait() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newLog(t *testing.T) *deliverylog.SQLiteLog {
	t.Helper()
	l, err := deliverylog.New(filepath.Join(t.TempDir(), "deliveries.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func ok(transport string) *models.FallbackResponse {
	return &models.FallbackResponse{Success: true, Status: 200, Data: json.RawMessage(`{"idMessage":"BAE5"}`), Transport: transport}
}

func TestNormalizeChatID(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"+55 (11) 99999-0001", "5511999990001@c.us", false},
		{"5511999990001", "5511999990001@c.us", false},
		{"5511999990001@c.us", "5511999990001@c.us", false},
		{"120363043968@g.us", "120363043968@g.us", false},
		{"  ", "", true},
		{"n/a", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeChatID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChatID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendBuildsRequest(t *testing.T) {
	var got models.FallbackRequest
	exec := execFunc(func(_ context.Context, req models.FallbackRequest) (*models.FallbackResponse, error) {
		got = req
		return ok("green"), nil
	})
	l := newLog(t)
	svc := New(exec, "1101", "tok", WithPolicy(noWait()), WithRecorder(l))

	res := svc.Send(context.Background(), "+55 11 99999-0001", "Your repair is ready")
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)

	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "/waInstance1101/sendMessage/tok", got.Path)
	assert.JSONEq(t, `{"chatId":"5511999990001@c.us","message":"Your repair is ready"}`, string(got.Body))

	recent, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.DeliverySent, recent[0].Status)
	assert.Equal(t, "green", recent[0].Transport)
	assert.Equal(t, "5511999990001@c.us", recent[0].ChatID)
	assert.NotEmpty(t, recent[0].MessageID)
}

func TestSendRetriesThenFails(t *testing.T) {
	calls := 0
	exec := execFunc(func(context.Context, models.FallbackRequest) (*models.FallbackResponse, error) {
		calls++
		return nil, &fallback.Error{Primary: errors.New("proxy down"), Secondary: errors.New("connection reset")}
	})
	l := newLog(t)
	svc := New(exec, "1101", "tok", WithPolicy(noWait()), WithRecorder(l))

	res := svc.Send(context.Background(), "5511999990001", "hi")
	assert.False(t, res.Success)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)

	var fbErr *fallback.Error
	assert.ErrorAs(t, res.Err, &fbErr)

	recent, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, models.DeliveryFailed, recent[0].Status)
	assert.Equal(t, 3, recent[0].Attempts)
	assert.Contains(t, recent[0].Error, "connection reset")
}

func TestSendQuotaReplyIsTerminal(t *testing.T) {
	calls := 0
	exec := execFunc(func(context.Context, models.FallbackRequest) (*models.FallbackResponse, error) {
		calls++
		resp := &models.FallbackResponse{Status: 466, Error: "Quota exceeded", Transport: "green"}
		return resp, &fallback.Error{Primary: &fallback.TransportError{Transport: "green", Status: 466, Message: "Quota exceeded"}}
	})
	svc := New(exec, "1101", "tok", WithPolicy(noWait()))

	res := svc.Send(context.Background(), "5511999990001", "hi")
	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
	var term *retry.TerminalError
	assert.ErrorAs(t, res.Err, &term)
}

func TestSendRejectedByLocalQuota(t *testing.T) {
	l := newLog(t)
	_, err := l.Record(context.Background(), models.DeliveryRecord{ChatID: "5511999990001@c.us", Status: models.DeliverySent})
	require.NoError(t, err)

	calls := 0
	exec := execFunc(func(context.Context, models.FallbackRequest) (*models.FallbackResponse, error) {
		calls++
		return ok("green"), nil
	})
	enforcer := quota.New([]models.QuotaPolicy{{ChatID: "5511999990001@c.us", MaxMessages: 1}}, l)
	svc := New(exec, "1101", "tok", WithPolicy(noWait()), WithRecorder(l), WithQuota(enforcer))

	res := svc.Send(context.Background(), "5511999990001", "hi")
	assert.False(t, res.Success)
	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, res.Err, quota.ErrQuotaExceeded)
	assert.ErrorIs(t, res.Err, retry.ErrTerminal)

	rejected, err := l.Query(context.Background(), models.DeliveryQuery{Status: models.DeliveryRejected})
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
}

func TestSendRefreshesExpiredSession(t *testing.T) {
	calls, refreshes := 0, 0
	exec := execFunc(func(context.Context, models.FallbackRequest) (*models.FallbackResponse, error) {
		calls++
		if refreshes == 0 {
			return nil, &fallback.Error{Primary: &fallback.TransportError{Transport: "local", Status: 401, Message: "JWT expired"}}
		}
		return ok("local"), nil
	})
	svc := New(exec, "1101", "tok", WithPolicy(noWait()), WithAuthRefresh(func(context.Context) error {
		refreshes++
		return nil
	}))

	res := svc.Send(context.Background(), "5511999990001", "hi")
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, res.Attempts)
}

func TestSendExpiredSessionRefreshesOnlyOnce(t *testing.T) {
	calls, refreshes := 0, 0
	exec := execFunc(func(context.Context, models.FallbackRequest) (*models.FallbackResponse, error) {
		calls++
		return nil, &fallback.Error{Primary: &fallback.TransportError{Transport: "local", Status: 401, Message: "Unauthorized"}}
	})
	dl := newLog(t)
	svc := New(exec, "1101", "tok", WithPolicy(noWait()), WithRecorder(dl), WithAuthRefresh(func(context.Context) error {
		refreshes++
		return nil
	}))

	res := svc.Send(context.Background(), "5511999990001", "hi")
	require.Error(t, res.Err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, res.Attempts)

	var te *retry.TerminalError
	assert.ErrorAs(t, res.Err, &te)

	recs, err := dl.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.DeliveryFailed, recs[0].Status)
}

func TestSendRefreshSharedAcrossAttempts(t *testing.T) {
	calls, refreshes := 0, 0
	exec := execFunc(func(context.Context, models.FallbackRequest) (*models.FallbackResponse, error) {
		calls++
		if calls == 2 {
			return nil, &fallback.Error{Primary: &fallback.TransportError{Transport: "local", Status: 503, Message: "Service Unavailable"}}
		}
		return nil, &fallback.Error{Primary: &fallback.TransportError{Transport: "local", Status: 401, Message: "Unauthorized"}}
	})
	svc := New(exec, "1101", "tok", WithPolicy(noWait()), WithAuthRefresh(func(context.Context) error {
		refreshes++
		return nil
	}))

	res := svc.Send(context.Background(), "5511999990001", "hi")
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, retry.ErrRefreshSpent)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, res.Attempts)

	// a new message gets its own refresh
	calls = 0
	svc.Send(context.Background(), "5511999990001", "again")
	assert.Equal(t, 2, refreshes)
}

func TestSendInvalidRecipient(t *testing.T) {
	exec := execFunc(func(context.Context, models.FallbackRequest) (*models.FallbackResponse, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	svc := New(exec, "1101", "tok")
	res := svc.Send(context.Background(), "nobody", "hi")
	assert.ErrorIs(t, res.Err, ErrInvalidChatID)
	assert.Equal(t, 0, res.Attempts)
}

func TestSendBatch(t *testing.T) {
	var chats []string
	exec := execFunc(func(_ context.Context, req models.FallbackRequest) (*models.FallbackResponse, error) {
		var body map[string]string
		_ = json.Unmarshal(req.Body, &body)
		chats = append(chats, body["chatId"])
		if body["chatId"] == "2@c.us" {
			return nil, errors.New("bad gateway")
		}
		return ok("green"), nil
	})

	var waits []time.Duration
	core, logs := observer.New(zap.InfoLevel)
	svc := New(exec, "1101", "tok",
		WithPolicy(retry.Policy{MaxAttempts: 1}),
		WithLogger(zap.New(core)),
		WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}),
	)

	results := svc.SendBatch(context.Background(), []models.Message{
		{ChatID: "1", Text: "a"},
		{ChatID: "2", Text: "b"},
		{ChatID: "3", Text: "c"},
	}, 2*time.Second)

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
	assert.Equal(t, []string{"1@c.us", "2@c.us", "3@c.us"}, chats)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, waits)
	assert.Equal(t, 1, logs.FilterMessage("message not delivered").Len())
	assert.Equal(t, 2, logs.FilterMessage("message delivered").Len())
}

func TestSendBatchCanceled(t *testing.T) {
	exec := execFunc(func(context.Context, models.FallbackRequest) (*models.FallbackResponse, error) {
		return ok("green"), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	svc := New(exec, "1101", "tok", WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	results := svc.SendBatch(ctx, []models.Message{{ChatID: "1"}, {ChatID: "2"}, {ChatID: "3"}}, time.Second)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.ErrorIs(t, results[1].Err, context.Canceled)
	assert.ErrorIs(t, results[2].Err, context.Canceled)
}
