// Package sdk is the linked client library an agent process imports in
// place of the dynamic-language interceptor spec.md §4.5 describes: Go
// cannot monkey-patch another process's runtime primitives, so every
// hooked operation here is an explicit call into this package instead of
// an intercepted one (spec.md §9 Design Notes, option (b)).
package sdk

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agen-co/agenshield-sub008/internal/rpc"
)

// Mode selects how Client.HTTPRequest behaves on an allow verdict.
type Mode int

const (
	// ModeProceedDirectly has the SDK perform the HTTP call itself with a
	// plain net/http.Client once policy_check allows it, relying on the
	// per-exec seatbelt to confine whatever network access the agent's
	// own process already has (spec.md §4.5 default).
	ModeProceedDirectly Mode = iota
	// ModeProxy routes the call through the broker's http_request handler
	// instead, so the broker — not the agent process — makes the request.
	ModeProxy
)

const defaultCallTimeout = 10 * time.Second

// Client is a single persistent connection to the broker's Unix socket.
// Per spec.md §5 "within one client connection, requests and responses
// are strictly 1:1 and in order", calls are serialized under a mutex
// rather than pipelined.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
	nextID uint64

	mode     Mode
	failOpen bool
	log      *zap.Logger
	events   *EventReporter
}

// Option configures a Client at construction.
type Option func(*Client)

// WithMode sets the HTTPRequest proxy mode (default ModeProceedDirectly).
func WithMode(m Mode) Option { return func(c *Client) { c.mode = m } }

// WithLogger attaches a logger (default: a no-op logger).
func WithLogger(log *zap.Logger) Option { return func(c *Client) { c.log = log } }

// WithEventReporter attaches the batching event queue every hooked call
// reports to. Without one, calls simply don't emit local event records.
func WithEventReporter(r *EventReporter) Option { return func(c *Client) { c.events = r } }

// WithFailOpen sets whether read operations proceed when policy_check
// itself is unreachable (spec.md §4.5; default false — fail closed).
// Writes never honor this: a policy-check failure on a write always denies.
func WithFailOpen(v bool) Option { return func(c *Client) { c.failOpen = v } }

// Dial connects to the broker's Unix domain socket at path.
func Dial(path string, opts ...Option) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, defaultCallTimeout)
	if err != nil {
		return nil, fmt.Errorf("sdk: dial broker socket: %w", err)
	}
	c := &Client{conn: conn, reader: bufio.NewReader(conn), log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one JSON-RPC request and blocks for its response, honoring
// ctx's deadline on both the write and the read.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, *rpc.Error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeInvalidParams, err.Error())
	}
	id := atomic.AddUint64(&c.nextID, 1)
	idJSON, _ := json.Marshal(id)
	req := rpc.Request{JSONRPC: "2.0", ID: idJSON, Method: method, Params: paramsJSON}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeInvalidParams, err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return nil, rpc.NewError(rpc.CodeNetwork, fmt.Sprintf("write request: %v", err))
	}

	respLine, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNetwork, fmt.Sprintf("read response: %v", err))
	}

	var resp rpc.Response
	if err := json.Unmarshal([]byte(respLine), &resp); err != nil {
		return nil, rpc.NewError(rpc.CodeNetwork, fmt.Sprintf("decode response: %v", err))
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, rpc.NewError(rpc.CodeNetwork, err.Error())
	}
	return resultJSON, nil
}
