package handlers

import (
	"context"
	"encoding/json"
	"net/url"
	"os/exec"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
)

type openURLParams struct {
	URL string `json:"url"`
}

type openURLResult struct {
	Allowed bool `json:"allowed"`
}

// OpenURL hands a URL to the OS's default handler rather than fetching it
// itself (spec.md §6's open_url method entry; unlike http_request, opening
// a URL has no response body to mediate — only the decision to launch it
// at all). It runs the same policy_check-first shape as every other
// handler, against the macOS `open` command.
func (d *Deps) OpenURL(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	var p openURLParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.URL == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "url is required")
	}
	parsed, err := url.Parse(p.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "malformed url")
	}

	channel := rpc.ChannelFromContext(ctx)
	cc := callContext(channel, "")
	decision := d.Engine.Decide(ctx, policy.Scope{}, policy.Target{
		Operation: "open_url",
		Kind:      policy.TargetURL,
		Raw:       p.URL,
	}, cc)
	if !decision.Allowed {
		d.record("open_url", channel, false, p.URL, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeURLNotAllowed, decision.Reason)
	}

	if err := exec.CommandContext(ctx, "open", p.URL).Start(); err != nil {
		d.record("open_url", channel, true, p.URL, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeExec, err.Error())
	}

	d.record("open_url", channel, true, p.URL, audit.ResultSuccess, start, nil, nil, nil)
	return openURLResult{Allowed: true}, nil
}
