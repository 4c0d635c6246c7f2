package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestEventBrokerFiltersByChannelPrefix(t *testing.T) {
	d := NewDispatcher()
	pool := NewPool(1, 4, rate.Every(0), 1)
	defer pool.Close()
	broker := NewEventBroker()
	s := NewHTTPServer("127.0.0.1:0", "tok", d, pool, broker, func() Stats { return Stats{} }, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/sse/events/exec", nil)
	req.Header.Set("Authorization", "Bearer tok")
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		s.router.ServeHTTP(rec, req)
		close(done)
	}()

	// Give the subscriber goroutine time to register before publishing.
	time.Sleep(20 * time.Millisecond)
	broker.Publish("policies:changed", `{"ignored":true}`)
	broker.Publish("exec:monitor", `{"id":"abc"}`)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if strings.Contains(body, "policies:changed") {
		t.Fatalf("expected non-matching channel to be filtered out, got body %q", body)
	}
	if !strings.Contains(body, "exec:monitor") {
		t.Fatalf("expected matching channel event, got body %q", body)
	}
}

func TestEventBrokerCloseAllDisconnectsSubscribers(t *testing.T) {
	b := NewEventBroker()
	id, ch := b.subscribe()
	b.CloseAll()

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected channel to be closed")
		}
	default:
		t.Fatal("expected channel to report closed without blocking")
	}
	_ = id
}

func TestFrameSuccessAndFailureHelpers(t *testing.T) {
	resp := Success(nil, "ok")
	if resp.Error != nil || resp.Result != "ok" {
		t.Fatalf("unexpected success response: %+v", resp)
	}
	errResp := Failure(nil, NewError(CodeIO, "disk full"))
	if errResp.Result != nil || errResp.Error.Code != CodeIO {
		t.Fatalf("unexpected failure response: %+v", errResp)
	}
}
