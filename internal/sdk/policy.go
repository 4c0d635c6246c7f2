package sdk

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/agen-co/agenshield-sub008/internal/policy"
)

// PolicyDenied is returned by every hooked call the engine refuses
// (spec.md §4.5 "Deny raises a typed PolicyDenied").
type PolicyDenied struct {
	Operation string
	Target    string
	Reason    string
}

func (e *PolicyDenied) Error() string {
	return fmt.Sprintf("policy denied %s %q: %s", e.Operation, e.Target, e.Reason)
}

// policyDecision mirrors the broker's policy_check result shape
// (internal/handlers.policyCheckResult).
type policyDecision struct {
	Allowed          bool                    `json:"allowed"`
	PolicyID         string                  `json:"policyId,omitempty"`
	Reason           string                  `json:"reason,omitempty"`
	Sandbox          *policy.SandboxFragment `json:"sandbox,omitempty"`
	ExecutionContext map[string]string       `json:"executionContext,omitempty"`
}

type policyCheckRequest struct {
	Operation  string `json:"operation"`
	Target     string `json:"target"`
	TargetKind string `json:"targetKind,omitempty"`
	Cwd        string `json:"cwd,omitempty"`
}

// checkPolicy performs one policy_check call. write is true for operations
// spec.md §4.5 classifies as writes, for which fail_open never applies — a
// policy-check failure always denies. For reads, a transport-level failure
// to reach the broker is itself denied unless c.failOpen is set, per
// spec.md §4.5 "fail_open=false means any policy-check error aborts the
// operation".
func (c *Client) checkPolicy(ctx context.Context, operation, target, kind, cwd string, write bool) (*policyDecision, error) {
	result, rpcErr := c.call(ctx, "policy_check", policyCheckRequest{
		Operation: operation, Target: target, TargetKind: kind, Cwd: cwd,
	})
	if rpcErr != nil {
		if !write && c.failOpen {
			c.log.Warn("policy_check unreachable, proceeding under fail_open",
				zap.String("operation", operation), zap.String("target", target))
			return &policyDecision{Allowed: true, Reason: "fail_open: policy check unavailable"}, nil
		}
		return nil, &PolicyDenied{Operation: operation, Target: target, Reason: rpcErr.Error()}
	}

	var decision policyDecision
	if err := json.Unmarshal(result, &decision); err != nil {
		return nil, fmt.Errorf("sdk: decode policy_check result: %w", err)
	}
	if !decision.Allowed {
		return &decision, &PolicyDenied{Operation: operation, Target: target, Reason: decision.Reason}
	}
	return &decision, nil
}
