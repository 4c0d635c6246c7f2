package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
	"github.com/agen-co/agenshield-sub008/internal/vault"
)

type secretInjectParams struct {
	Name string `json:"name"`
}

// SecretInject looks a secret up by name, returning its value only to the
// broker's own OS user (spec.md §4.4 "secret_inject" — socket-only, never
// logs the value).
func (d *Deps) SecretInject(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	channel := rpc.ChannelFromContext(ctx)
	var p secretInjectParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	cred, ok := rpc.PeerCredFromContext(ctx)
	if !ok || cred.UID != d.BrokerUID {
		d.record("secret_inject", channel, false, p.Name, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeChannelDenied, "caller is not the broker user")
	}

	value, err := d.Vault.Get(p.Name)
	if err != nil {
		result := audit.ResultError
		if err == vault.ErrLocked {
			result = audit.ResultDenied
		}
		d.record("secret_inject", channel, false, p.Name, result, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeInvalidParams, "secret unavailable")
	}

	d.record("secret_inject", channel, true, p.Name, audit.ResultSuccess, start, []string{p.Name}, nil, nil)
	return map[string]string{"value": value}, nil
}

// SecretsSync applies a daemon-pushed secret payload to the in-memory
// cache handlers read from during exec (spec.md §4.4 "secrets_sync" —
// socket-only).
func (d *Deps) SecretsSync(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	channel := rpc.ChannelFromContext(ctx)
	var payload vault.SyncPayload
	if rpcErr := decode(params, &payload); rpcErr != nil {
		return nil, rpcErr
	}

	d.Secrets.Apply(payload)

	d.record("secrets_sync", channel, true, "secrets_sync", audit.ResultSuccess, start, nil, nil, nil)
	return map[string]int64{"version": d.Secrets.Version()}, nil
}
