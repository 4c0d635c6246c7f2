package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
)

type policyCheckParams struct {
	Operation  string `json:"operation"`
	Target     string `json:"target"`
	TargetKind string `json:"targetKind"`
	Cwd        string `json:"cwd,omitempty"`
}

type policyCheckResult struct {
	Allowed          bool                    `json:"allowed"`
	PolicyID         string                  `json:"policyId,omitempty"`
	Reason           string                  `json:"reason,omitempty"`
	Sandbox          *policy.SandboxFragment `json:"sandbox,omitempty"`
	ExecutionContext map[string]string       `json:"executionContext,omitempty"`
}

// PolicyCheck is the generic decision entry point every hook calls before
// its effect: it maps the caller's (operation, target, targetKind) onto
// the engine and returns the verdict (spec.md §4.4 "policy_check"). A
// single engine instance backs every profile this build serves; there is
// no separate per-profile daemon hop to forward to for the sandbox
// fragment because the engine already returns one on an exec allow.
func (d *Deps) PolicyCheck(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	var p policyCheckParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Operation == "" || p.Target == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "operation and target are required")
	}

	kind := policy.TargetKind(p.TargetKind)
	if kind == "" {
		kind = kindForOperation(p.Operation)
	}

	cc := callContext(rpc.ChannelFromContext(ctx), p.Cwd)
	decision := d.Engine.Decide(ctx, policy.Scope{}, policy.Target{
		Operation: p.Operation,
		Kind:      kind,
		Raw:       p.Target,
	}, cc)

	d.record(p.Operation, rpc.ChannelFromContext(ctx), decision.Allowed, p.Target, resultFor(decision.Allowed, nil), start, nil, nil, nil)

	return policyCheckResult{
		Allowed:  decision.Allowed,
		PolicyID: decision.PolicyID,
		Reason:   decision.Reason,
		Sandbox:  decision.Sandbox,
	}, nil
}

// kindForOperation maps an operation name to its target kind when the
// caller omits targetKind explicitly (spec.md §4.4 "maps the interceptor's
// generic target to the per-operation key").
func kindForOperation(operation string) policy.TargetKind {
	switch operation {
	case "http_request", "open_url":
		return policy.TargetURL
	case "exec":
		return policy.TargetCommand
	case "file_read", "file_list", "file_write":
		return policy.TargetFilesystem
	case "skill_install", "skill_uninstall":
		return policy.TargetSkill
	default:
		return policy.TargetFilesystem
	}
}
