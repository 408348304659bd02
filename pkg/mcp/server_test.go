package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/quota"
)

type fakeBackend struct {
	snap        models.UsageSnapshot
	history     []models.DailyUsage
	stats       models.CacheStats
	cleaned     int64
	invalidated map[string]bool
	explanation *models.Explanation
	err         error
}

func (f *fakeBackend) Usage(_ context.Context, userID string) (models.UsageSnapshot, error) {
	snap := f.snap
	snap.User.UserID = userID
	return snap, f.err
}
func (f *fakeBackend) UsageHistory(context.Context, int) ([]models.DailyUsage, error) {
	return f.history, f.err
}
func (f *fakeBackend) Limits() quota.Limits { return quota.DefaultLimits() }
func (f *fakeBackend) CacheStats(context.Context) (models.CacheStats, error) {
	return f.stats, f.err
}
func (f *fakeBackend) CleanupExpired(context.Context) (int64, error) { return f.cleaned, f.err }
func (f *fakeBackend) Invalidate(_ context.Context, code string) (bool, error) {
	return f.invalidated[code], f.err
}
func (f *fakeBackend) CachedExplanation(context.Context, string, string) (*models.Explanation, error) {
	return f.explanation, f.err
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

func newServer(b *fakeBackend) *Server {
	return New(b, "test", zerolog.Nop())
}

func TestInitialize(t *testing.T) {
	resp := sendAndReceive(t, newServer(&fakeBackend{}), Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %s, want %s", result.ProtocolVersion, ProtocolVersion)
	}
	if result.ServerInfo.Name != "kabunote" {
		t.Errorf("server name = %s, want kabunote", result.ServerInfo.Name)
	}
}

func TestToolsList(t *testing.T) {
	resp := sendAndReceive(t, newServer(&fakeBackend{}), Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("listed tool %s has no handler", tool.Name)
		}
		if tool.InputSchema.Type != "object" {
			t.Errorf("tool %s schema type = %q, want object", tool.Name, tool.InputSchema.Type)
		}
		for _, req := range tool.InputSchema.Required {
			if _, ok := tool.InputSchema.Properties[req]; !ok {
				t.Errorf("tool %s requires undeclared property %s", tool.Name, req)
			}
		}
	}
}

func TestToolCallUsage(t *testing.T) {
	b := &fakeBackend{snap: models.UsageSnapshot{
		Daily:  models.DailyUsage{Date: "2026-10-19", Requests: 17, ActualTokens: 9000},
		Minute: models.MinuteUsage{Requests: 2, Tokens: 1300},
		User:   models.UserDailyUsage{Requests: 3},
	}}

	text := callTool(t, newServer(b), "kabunote_usage", `{"user_id":"u1"}`).Content[0].Text
	for _, want := range []string{"2026-10-19", "10.0%", "user day requests", "9000 actual"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got: %s", want, text)
		}
	}

	text = callTool(t, newServer(b), "kabunote_usage", `{}`).Content[0].Text
	if strings.Contains(text, "user day requests") {
		t.Errorf("user row without user_id: %s", text)
	}
}

func TestToolCallUsageHistory(t *testing.T) {
	b := &fakeBackend{history: []models.DailyUsage{
		{Date: "2026-10-19", Requests: 85, EstimatedTokens: 55250, ActualTokens: 40000},
		{Date: "2026-10-18", Requests: 12},
	}}
	text := callTool(t, newServer(b), "kabunote_usage_history", `{"days":2}`).Content[0].Text
	if !strings.Contains(text, "2026-10-18") || !strings.Contains(text, "50.0%") {
		t.Errorf("unexpected history output: %s", text)
	}

	text = callTool(t, newServer(&fakeBackend{}), "kabunote_usage_history", "").Content[0].Text
	if text != "No usage data found." {
		t.Errorf("unexpected empty history output: %s", text)
	}
}

func TestToolCallCacheStats(t *testing.T) {
	b := &fakeBackend{stats: models.CacheStats{
		Namespaces: map[string]models.NamespaceStats{
			"stock_price":    {Total: 4, Live: 3, Expired: 1, HitRate: 0.75},
			"ai_explanation": {Total: 2, Live: 2, HitRate: 1},
		},
		Hits:   10,
		Misses: 5,
	}}

	text := callTool(t, newServer(b), "kabunote_cache_stats", "").Content[0].Text
	if !strings.Contains(text, "stock_price") || !strings.Contains(text, "75.0%") || !strings.Contains(text, "66.7%") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
	if strings.Index(text, "ai_explanation") > strings.Index(text, "stock_price") {
		t.Errorf("namespaces not sorted: %s", text)
	}
}

func TestToolCallCleanup(t *testing.T) {
	text := callTool(t, newServer(&fakeBackend{cleaned: 7}), "kabunote_cache_cleanup", "").Content[0].Text
	if text != "Removed 7 expired entries." {
		t.Errorf("unexpected cleanup output: %s", text)
	}
}

func TestToolCallInvalidate(t *testing.T) {
	b := &fakeBackend{invalidated: map[string]bool{"7203": true}}

	if text := callTool(t, newServer(b), "kabunote_invalidate", `{"stock_code":"7203"}`).Content[0].Text; !strings.Contains(text, "invalidated") {
		t.Errorf("unexpected output: %s", text)
	}
	if text := callTool(t, newServer(b), "kabunote_invalidate", `{"stock_code":"6758"}`).Content[0].Text; !strings.Contains(text, "Nothing cached") {
		t.Errorf("unexpected output: %s", text)
	}
	if !callTool(t, newServer(b), "kabunote_invalidate", `{}`).IsError {
		t.Error("expected isError=true for missing stock_code")
	}
}

func TestToolCallCachedExplanation(t *testing.T) {
	rsi := 64.2
	b := &fakeBackend{explanation: &models.Explanation{
		StockCode:       "7203",
		ChartPeriod:     "1M",
		ExplanationText: "上昇トレンドが続いています。",
		TechnicalData:   models.Indicators{RSI14: &rsi},
		Source:          models.ExplanationMock,
		ExpiresAt:       time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC),
	}}

	text := callTool(t, newServer(b), "kabunote_cached_explanation", `{"stock_code":"7203"}`).Content[0].Text
	for _, want := range []string{"上昇トレンド", "RSI14   64.20", "SMA25   -", "mock"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got: %s", want, text)
		}
	}

	text = callTool(t, newServer(&fakeBackend{}), "kabunote_cached_explanation", `{"stock_code":"7203"}`).Content[0].Text
	if text != "No cached explanation found." {
		t.Errorf("unexpected output: %s", text)
	}
}

func TestToolCallBackendError(t *testing.T) {
	result := callTool(t, newServer(&fakeBackend{err: errors.New("store unavailable")}), "kabunote_cache_stats", "")
	if !result.IsError {
		t.Error("expected isError=true")
	}
}

func TestUnknownTool(t *testing.T) {
	if !callTool(t, newServer(&fakeBackend{}), "stock_lookup", "").IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = newServer(&fakeBackend{}).Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestUnknownMethod(t *testing.T) {
	resp := sendAndReceive(t, newServer(&fakeBackend{}), Request{
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

func TestParseError(t *testing.T) {
	var out bytes.Buffer
	_ = newServer(&fakeBackend{}).Run(context.Background(), strings.NewReader("{nope\n"), &out)

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}
