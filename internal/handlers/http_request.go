package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
)

// maxHTTPRedirects matches net/http's own default redirect cap, which a
// custom CheckRedirect must replicate itself once installed.
const maxHTTPRedirects = 10

// maxHTTPResponseBody caps a proxied response body (spec.md §4.4
// "Limit body to 10 MiB").
const maxHTTPResponseBody = 10 * 1024 * 1024

const defaultHTTPTimeout = 30 * time.Second

type httpRequestParams struct {
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	TimeoutMS       int64             `json:"timeoutMs,omitempty"`
	FollowRedirects *bool             `json:"followRedirects,omitempty"`
}

type httpRequestResult struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// HTTPRequest proxies one HTTP call on behalf of the agent (spec.md §4.4
// "http_request"). It always runs a policy_check against the target URL
// first — an agent that reaches this handler directly (rather than
// deciding to proceed itself after a policy_check) still gets mediated.
func (d *Deps) HTTPRequest(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	var p httpRequestParams
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
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}

	channel := rpc.ChannelFromContext(ctx)
	cc := callContext(channel, "")
	decision := d.Engine.Decide(ctx, policy.Scope{}, policy.Target{
		Operation: "http_request",
		Kind:      policy.TargetURL,
		Raw:       p.URL,
	}, cc)
	if !decision.Allowed {
		d.record("http_request", channel, false, p.URL, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeURLNotAllowed, decision.Reason)
	}

	timeout := defaultHTTPTimeout
	if p.TimeoutMS > 0 {
		timeout = time.Duration(p.TimeoutMS) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if p.Body != "" {
		bodyReader = bytes.NewBufferString(p.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, p.URL, bodyReader)
	if err != nil {
		d.record("http_request", channel, true, p.URL, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeNetwork, err.Error())
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: timeout}
	if p.FollowRedirects != nil && !*p.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		// Every redirect hop is a new destination the engine hasn't seen —
		// without this, a server behind an allowed URL could 302 the
		// caller anywhere (e.g. an internal metadata endpoint) and bypass
		// the URL allow/deny check entirely.
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxHTTPRedirects {
				return fmt.Errorf("stopped after %d redirects", maxHTTPRedirects)
			}
			rcc := callContext(channel, "")
			redirectDecision := d.Engine.Decide(req.Context(), policy.Scope{}, policy.Target{
				Operation: "http_request",
				Kind:      policy.TargetURL,
				Raw:       req.URL.String(),
			}, rcc)
			if !redirectDecision.Allowed {
				return fmt.Errorf("redirect to %s denied: %s", req.URL, redirectDecision.Reason)
			}
			return nil
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		result := audit.ResultError
		code := rpc.CodeNetwork
		if reqCtx.Err() != nil {
			code = rpc.CodeTimeout
		}
		d.record("http_request", channel, true, p.URL, result, start, nil, nil, nil)
		return nil, rpc.NewError(code, err.Error())
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxHTTPResponseBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		d.record("http_request", channel, true, p.URL, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeNetwork, err.Error())
	}
	truncated := int64(len(data))
	if truncated > maxHTTPResponseBody {
		data = data[:maxHTTPResponseBody]
		truncated = maxHTTPResponseBody
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	d.record("http_request", channel, true, p.URL, audit.ResultSuccess, start, nil, nil, &truncated)

	return httpRequestResult{
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    headers,
		Body:       string(data),
	}, nil
}
