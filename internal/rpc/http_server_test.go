package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func newTestHTTPServer(t *testing.T) *HTTPServer {
	t.Helper()
	d := NewDispatcher()
	d.Register("ping", func(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
		return "pong", nil
	})
	d.RegisterSocketOnly("exec", func(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
		return "ran", nil
	})
	pool := NewPool(2, 8, rate.Every(0), 4)
	t.Cleanup(pool.Close)
	return NewHTTPServer("127.0.0.1:0", "test-token", d, pool, NewEventBroker(), func() Stats { return Stats{TotalRequests: 3} }, zap.NewNop())
}

func doRPC(t *testing.T, s *HTTPServer, token, method string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method})
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHTTPRPCRejectsMissingToken(t *testing.T) {
	s := newTestHTTPServer(t)
	rec := doRPC(t, s, "", "ping")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHTTPRPCRejectsWrongToken(t *testing.T) {
	s := newTestHTTPServer(t)
	rec := doRPC(t, s, "wrong", "ping")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHTTPRPCAllowsCorrectToken(t *testing.T) {
	s := newTestHTTPServer(t)
	rec := doRPC(t, s, "test-token", "ping")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result != "pong" {
		t.Fatalf("expected pong, got %v", resp.Result)
	}
}

func TestHTTPRPCRefusesSocketOnlyMethod(t *testing.T) {
	s := newTestHTTPServer(t)
	rec := doRPC(t, s, "test-token", "exec")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with an embedded JSON-RPC error, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeChannelDenied {
		t.Fatalf("expected CodeChannelDenied, got %+v", resp.Error)
	}
}

func TestHTTPHealthRequiresNoAuth(t *testing.T) {
	s := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHTTPStatusReportsStats(t *testing.T) {
	s := newTestHTTPServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalRequests != 3 {
		t.Fatalf("expected injected stats to be reported, got %+v", stats)
	}
}
