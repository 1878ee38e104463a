package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/shopkeep/pkg/cache"
	"github.com/pario-ai/shopkeep/pkg/models"
)

type fakeCache struct {
	stats   models.CacheStats
	records map[string][]models.Record
	err     error
}

func (f *fakeCache) Stats(_ context.Context) models.CacheStats { return f.stats }

func (f *fakeCache) Lookup(_ context.Context, store string) cache.Result {
	if f.err != nil {
		return cache.Result{Err: f.err}
	}
	recs, ok := f.records[store]
	return cache.Result{Records: recs, Hit: ok}
}

type fakeDeliveries struct {
	records []models.DeliveryRecord
	stats   []models.DeliveryStat
	lastQ   models.DeliveryQuery
}

func (f *fakeDeliveries) Query(_ context.Context, q models.DeliveryQuery) ([]models.DeliveryRecord, error) {
	f.lastQ = q
	return f.records, nil
}

func (f *fakeDeliveries) Stats(_ context.Context) ([]models.DeliveryStat, error) {
	return f.stats, nil
}

type fakeQuota struct {
	statuses []models.QuotaStatus
	chatID   string
}

func (f *fakeQuota) Status(_ context.Context, chatID string) ([]models.QuotaStatus, error) {
	f.chatID = chatID
	return f.statuses, nil
}

type fakeSender struct {
	result models.SendResult
	sent   []string
}

func (f *fakeSender) Send(_ context.Context, chatID, text string) models.SendResult {
	f.sent = append(f.sent, chatID+":"+text)
	return f.result
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`3`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New("test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %s, want %s", result.ProtocolVersion, ProtocolVersion)
	}
	if result.ServerInfo.Name != "shopkeep" || result.ServerInfo.Version != "test" {
		t.Errorf("server info = %+v", result.ServerInfo)
	}
}

func TestToolsList(t *testing.T) {
	srv := New("test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("tool %s has no handler", tool.Name)
		}
	}
}

func TestToolsNotConfigured(t *testing.T) {
	srv := New("test")
	for name := range toolHandlers {
		args := `{}`
		if name == "shopkeep_cache_read" {
			args = `{"store":"clients"}`
		}
		result := callTool(t, srv, name, args)
		if !strings.Contains(result.Content[0].Text, "not configured") {
			t.Errorf("%s: expected 'not configured', got: %s", name, result.Content[0].Text)
		}
	}
}

func TestToolCallCacheStats(t *testing.T) {
	c := &fakeCache{stats: models.CacheStats{
		Hits:   2,
		Misses: 1,
		Stores: map[string]models.StoreStats{
			"clients": {ItemCount: 42, LastUpdated: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), IsValid: true},
		},
	}}
	srv := New("test", WithCache(c))

	text := callTool(t, srv, "shopkeep_cache_stats", `{}`).Content[0].Text
	for _, want := range []string{"clients", "42", "66.7%", "2026-03-01 09:00:00"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in output: %s", want, text)
		}
	}
}

func TestToolCallCacheRead(t *testing.T) {
	c := &fakeCache{records: map[string][]models.Record{
		"clients": {{"id": "c1", "name": "Ana"}},
	}}
	srv := New("test", WithCache(c))

	result := callTool(t, srv, "shopkeep_cache_read", `{"store":"clients"}`)
	if result.IsError || !strings.Contains(result.Content[0].Text, `"Ana"`) {
		t.Errorf("unexpected hit output: %+v", result)
	}

	result = callTool(t, srv, "shopkeep_cache_read", `{"store":"orders"}`)
	if result.IsError || !strings.Contains(result.Content[0].Text, "not cached") {
		t.Errorf("unexpected miss output: %+v", result)
	}

	result = callTool(t, srv, "shopkeep_cache_read", `{}`)
	if !result.IsError {
		t.Error("expected isError=true for missing store")
	}

	c.err = errors.New("disk I/O error")
	result = callTool(t, srv, "shopkeep_cache_read", `{"store":"clients"}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "disk I/O error") {
		t.Errorf("expected storage error, got: %+v", result)
	}
}

func TestToolCallDeliveries(t *testing.T) {
	d := &fakeDeliveries{records: []models.DeliveryRecord{
		{ChatID: "5511999990001@c.us", Status: models.DeliveryFailed, Transport: "direct", Attempts: 3, Error: "quota exceeded"},
	}}
	srv := New("test", WithDeliveries(d))

	text := callTool(t, srv, "shopkeep_deliveries", `{"status":"failed"}`).Content[0].Text
	if !strings.Contains(text, "5511999990001@c.us") || !strings.Contains(text, "quota exceeded") {
		t.Errorf("unexpected output: %s", text)
	}
	if d.lastQ.Status != models.DeliveryFailed || d.lastQ.Limit != 20 {
		t.Errorf("unexpected query: %+v", d.lastQ)
	}
}

func TestToolCallDeliveryStats(t *testing.T) {
	d := &fakeDeliveries{stats: []models.DeliveryStat{{Day: "2026-03-01", Status: models.DeliverySent, Count: 7}}}
	srv := New("test", WithDeliveries(d))

	text := callTool(t, srv, "shopkeep_delivery_stats", `{}`).Content[0].Text
	if !strings.Contains(text, "2026-03-01") || !strings.Contains(text, "7") {
		t.Errorf("unexpected output: %s", text)
	}
}

func TestToolCallQuota(t *testing.T) {
	q := &fakeQuota{statuses: []models.QuotaStatus{
		{Policy: models.QuotaPolicy{ChatID: "*", MaxMessages: 500}, Used: 125, Remaining: 375},
	}}
	srv := New("test", WithQuota(q))

	text := callTool(t, srv, "shopkeep_quota", `{}`).Content[0].Text
	if q.chatID != "*" {
		t.Errorf("expected all-chats lookup, got %q", q.chatID)
	}
	if !strings.Contains(text, "daily") || !strings.Contains(text, "25.0%") {
		t.Errorf("unexpected output: %s", text)
	}
}

func TestToolCallSend(t *testing.T) {
	snd := &fakeSender{result: models.SendResult{Success: true, Attempts: 2, Data: json.RawMessage(`{"idMessage":"BAE5"}`)}}
	srv := New("test", WithSender(snd))

	result := callTool(t, srv, "shopkeep_send", `{"chat_id":"5511999990001","text":"Your repair is ready"}`)
	if result.IsError || !strings.Contains(result.Content[0].Text, "2 attempt") {
		t.Errorf("unexpected output: %+v", result)
	}
	if len(snd.sent) != 1 || snd.sent[0] != "5511999990001:Your repair is ready" {
		t.Errorf("unexpected sends: %v", snd.sent)
	}

	snd.result = models.SendResult{Err: errors.New("quota exceeded"), Attempts: 1}
	result = callTool(t, srv, "shopkeep_send", `{"chat_id":"5511999990001","text":"again"}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "quota exceeded") {
		t.Errorf("expected failure output, got: %+v", result)
	}

	result = callTool(t, srv, "shopkeep_send", `{"chat_id":"5511999990001"}`)
	if !result.IsError {
		t.Error("expected isError=true for missing text")
	}
}

func TestUnknownTool(t *testing.T) {
	result := callTool(t, New("test"), "shopkeep_nope", `{}`)
	if !result.IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New("test")

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	var out bytes.Buffer
	if err := New("test").Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New("test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestInvalidVersion(t *testing.T) {
	resp := sendAndReceive(t, New("test"), Request{
		JSONRPC: "1.0",
		ID:      json.RawMessage(`10`),
		Method:  "ping",
	})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp.Error)
	}
}

func TestNotificationsNeverAnswered(t *testing.T) {
	snd := &fakeSender{result: models.SendResult{Success: true, Attempts: 1}}
	srv := New("test", WithSender(snd))

	params, _ := json.Marshal(ToolCallParams{
		Name:      "shopkeep_send",
		Arguments: json.RawMessage(`{"chat_id":"5511999990001","text":"hi"}`),
	})
	var in bytes.Buffer
	for _, req := range []Request{
		{JSONRPC: "2.0", Method: "tools/call", Params: params},
		{JSONRPC: "2.0", Method: "unknown/method"},
		{JSONRPC: "2.0", ID: json.RawMessage(`null`), Method: "ping"},
	} {
		line, _ := json.Marshal(req)
		in.Write(append(line, '\n'))
	}

	var out bytes.Buffer
	if err := srv.Run(context.Background(), &in, &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output for notifications, got: %s", out.String())
	}
	if len(snd.sent) != 1 {
		t.Errorf("notification should still run the tool, sent=%v", snd.sent)
	}
}

func TestToolSchemas(t *testing.T) {
	for _, tool := range allTools {
		if tool.InputSchema.Type != "object" || tool.InputSchema.Properties == nil {
			t.Errorf("%s: malformed schema %+v", tool.Name, tool.InputSchema)
		}
		for _, req := range tool.InputSchema.Required {
			if _, ok := tool.InputSchema.Properties[req]; !ok {
				t.Errorf("%s: required %q has no property", tool.Name, req)
			}
		}
	}

	data, err := json.Marshal(allTools[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"inputSchema":{"type":"object","properties":{}}`) {
		t.Errorf("unexpected encoding: %s", data)
	}
}
