// Package handlers implements the broker's operation handlers (spec.md
// §4.4): the method bodies the RPC dispatch table invokes once a call
// clears channel-visibility checks. Every handler shares the same shape —
// decide, act, audit exactly once — grounded on the teacher's
// policy-check-before-execution integration in pkg/router/handler.go.
package handlers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agen-co/agenshield-sub008/internal/allowlist"
	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
	"github.com/agen-co/agenshield-sub008/internal/seatbelt"
	"github.com/agen-co/agenshield-sub008/internal/vault"

	"go.uber.org/zap"
)

// Deps bundles every collaborator a handler needs. It is constructed once
// at daemon startup and shared read-only across all goroutines serving
// requests.
type Deps struct {
	Engine   *policy.Engine
	Commands *allowlist.Table
	Vault    *vault.Vault
	Secrets  *vault.SecretCache
	Audit    *audit.Emitter
	Events   *rpc.EventBroker
	Seatbelt *seatbelt.Cache
	Log      *zap.Logger

	// AgentHome is $AGENT_HOME: the workspace fallback cwd for exec and
	// the root skill_install/skill_uninstall write under.
	AgentHome string
	// SocketDirs are the broker socket directories exec's sandbox profile
	// always allow-lists for network access to the broker itself.
	SocketDirs []string
	// SocketGroup owns skill_install/skill_uninstall's chown target.
	SocketGroup string
	// BrokerUID is the OS uid secret_inject only returns real values to.
	BrokerUID uint32
	// Version is reported by ping.
	Version string
}

func decode(params json.RawMessage, v interface{}) *rpc.Error {
	if len(params) == 0 {
		return rpc.NewError(rpc.CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return rpc.NewError(rpc.CodeInvalidParams, err.Error())
	}
	return nil
}

// callContext builds the policy.CallContext for one dispatched request.
func callContext(channel rpc.Channel, cwd string) policy.CallContext {
	return policy.CallContext{
		Channel:   string(channel),
		RequestID: uuid.NewString(),
		CallerCWD: cwd,
		Now:       time.Now(),
	}
}

// record writes exactly one audit event for a finished handler invocation
// (spec.md §8 "Audit atomicity"). secretNames and exitCode/bytes may be
// left nil/zero where the operation has none.
func (d *Deps) record(op string, channel rpc.Channel, allowed bool, target string, result audit.Result, start time.Time, secretNames []string, exitCode *int, bytes *int64) {
	if d.Audit == nil {
		return
	}
	d.Audit.Log(audit.Event{
		ID:                  uuid.NewString(),
		Timestamp:           time.Now(),
		Operation:           op,
		Channel:             audit.Channel(channel),
		Allowed:             allowed,
		Target:              target,
		Result:              result,
		DurationMS:          time.Since(start).Milliseconds(),
		InjectedSecretNames: secretNames,
		ExitCode:            exitCode,
		BytesTransferred:    bytes,
	})
}

func resultFor(allowed bool, handlerErr *rpc.Error) audit.Result {
	switch {
	case handlerErr != nil:
		return audit.ResultError
	case !allowed:
		return audit.ResultDenied
	default:
		return audit.ResultSuccess
	}
}

// publish fans a named SSE event out to subscribers, swallowing a nil
// broker (disabled in tests or a minimal embed).
func (d *Deps) publish(channel string, v interface{}) {
	if d.Events == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	d.Events.Publish(channel, string(data))
}
