package handlers

import (
	"context"
	"testing"

	"github.com/agen-co/agenshield-sub008/internal/policy"
)

func TestOpenURLAllowedLaunchesDefaultHandler(t *testing.T) {
	d := newTestDeps(t, nil)
	result, rpcErr := d.OpenURL(context.Background(), mustJSON(t, openURLParams{URL: "https://example.com"}))
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	if !result.(openURLResult).Allowed {
		t.Fatal("expected Allowed to be true")
	}
}

func TestOpenURLDeniedByPolicy(t *testing.T) {
	d := newTestDeps(t, []*policy.Policy{
		{ID: "p1", Name: "block-example", Action: policy.ActionDeny, TargetKind: policy.TargetURL,
			Patterns: []string{"*://example.com*"}, Enabled: true, Priority: 10},
	})
	_, rpcErr := d.OpenURL(context.Background(), mustJSON(t, openURLParams{URL: "https://example.com"}))
	if rpcErr == nil {
		t.Fatal("expected denial")
	}
}

func TestOpenURLRejectsMalformedURL(t *testing.T) {
	d := newTestDeps(t, nil)
	_, rpcErr := d.OpenURL(context.Background(), mustJSON(t, openURLParams{URL: "not-a-url"}))
	if rpcErr == nil {
		t.Fatal("expected invalid-params error")
	}
}
