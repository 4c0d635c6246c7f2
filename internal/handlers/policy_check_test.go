package handlers

import (
	"context"
	"testing"

	"github.com/agen-co/agenshield-sub008/internal/policy"
)

func TestPolicyCheckDeniesByURLRule(t *testing.T) {
	d := newTestDeps(t, []*policy.Policy{
		{ID: "p1", Name: "block-example", Action: policy.ActionDeny, TargetKind: policy.TargetURL,
			Patterns: []string{"example.com"}, Enabled: true, Priority: 10},
	})

	result, rpcErr := d.PolicyCheck(context.Background(), mustJSON(t, policyCheckParams{
		Operation: "http_request", Target: "https://example.com",
	}))
	if rpcErr != nil {
		t.Fatalf("unexpected handler error: %v", rpcErr)
	}
	res := result.(policyCheckResult)
	if res.Allowed {
		t.Fatal("expected denied")
	}
}

func TestPolicyCheckAllowsUnmatchedTarget(t *testing.T) {
	d := newTestDeps(t, nil)
	result, rpcErr := d.PolicyCheck(context.Background(), mustJSON(t, policyCheckParams{
		Operation: "file_read", Target: "/tmp/anything",
	}))
	if rpcErr != nil {
		t.Fatalf("unexpected handler error: %v", rpcErr)
	}
	if !result.(policyCheckResult).Allowed {
		t.Fatal("expected fail-open allow for unmatched target")
	}
}

func TestPolicyCheckRejectsMissingFields(t *testing.T) {
	d := newTestDeps(t, nil)
	_, rpcErr := d.PolicyCheck(context.Background(), mustJSON(t, policyCheckParams{}))
	if rpcErr == nil {
		t.Fatal("expected error for missing operation/target")
	}
}
