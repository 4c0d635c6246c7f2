package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPResponse is the result of a mediated HTTP call.
type HTTPResponse struct {
	Status     int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

// httpRequestParams mirrors internal/handlers.httpRequestParams, used when
// proxying through the broker's http_request method.
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

// HTTPRequest mediates one outbound call through policy_check, then either
// performs it directly with net/http (Mode ModeProceedDirectly, the
// default) or proxies it through the broker's http_request handler (Mode
// ModeProxy), per spec.md §4.5's HTTP/HTTPS hook.
func (c *Client) HTTPRequest(ctx context.Context, method, rawURL string, headers map[string]string, body []byte, timeout time.Duration) (*HTTPResponse, error) {
	if method == "" {
		method = http.MethodGet
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	if _, err := c.checkPolicy(ctx, "http_request", rawURL, "url", "", false); err != nil {
		return nil, err
	}

	if c.mode == ModeProxy {
		return c.httpRequestViaBroker(ctx, method, rawURL, headers, body, timeout)
	}
	return c.httpRequestDirect(ctx, method, rawURL, headers, body, timeout)
}

func (c *Client) httpRequestDirect(ctx context.Context, method, rawURL string, headers map[string]string, body []byte, timeout time.Duration) (*HTTPResponse, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("sdk: malformed url %q", rawURL)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		c.reportEvent("http_request", rawURL, true, "error")
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpClient := &http.Client{Timeout: timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		c.reportEvent("http_request", rawURL, true, "error")
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.reportEvent("http_request", rawURL, true, "error")
		return nil, err
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	c.reportEvent("http_request", rawURL, true, "success")
	return &HTTPResponse{Status: resp.StatusCode, StatusText: resp.Status, Headers: respHeaders, Body: data}, nil
}

func (c *Client) httpRequestViaBroker(ctx context.Context, method, rawURL string, headers map[string]string, body []byte, timeout time.Duration) (*HTTPResponse, error) {
	result, rpcErr := c.call(ctx, "http_request", httpRequestParams{
		URL: rawURL, Method: method, Headers: headers, Body: string(body),
		TimeoutMS: timeout.Milliseconds(),
	})
	if rpcErr != nil {
		c.reportEvent("http_request", rawURL, true, "error")
		return nil, rpcErr
	}
	var out httpRequestResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("sdk: decode http_request result: %w", err)
	}
	c.reportEvent("http_request", rawURL, true, "success")
	return &HTTPResponse{Status: out.Status, StatusText: out.StatusText, Headers: out.Headers, Body: []byte(out.Body)}, nil
}
