package handlers

import (
	"context"
	"testing"
)

func TestPingAnswersLiveness(t *testing.T) {
	d := newTestDeps(t, nil)
	d.Version = "1.2.3"

	result, rpcErr := d.Ping(context.Background(), mustJSON(t, pingParams{Echo: "hi"}))
	if rpcErr != nil {
		t.Fatalf("ping failed: %v", rpcErr)
	}
	res, ok := result.(pingResult)
	if !ok {
		t.Fatalf("unexpected result type %T", result)
	}
	if !res.Pong || res.Echo != "hi" || res.Version != "1.2.3" {
		t.Fatalf("unexpected ping result: %+v", res)
	}
}

func TestPingWithoutParams(t *testing.T) {
	d := newTestDeps(t, nil)
	result, rpcErr := d.Ping(context.Background(), nil)
	if rpcErr != nil {
		t.Fatalf("ping failed: %v", rpcErr)
	}
	if !result.(pingResult).Pong {
		t.Fatal("expected pong true")
	}
}
