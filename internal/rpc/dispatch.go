package rpc

import (
	"context"
	"encoding/json"
)

// Handler processes one decoded method's params and returns a JSON-encodable
// result, or an *Error to be surfaced as the response's error object.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, *Error)

// methodEntry pairs a handler with its channel visibility (spec.md §6
// method-visibility table).
type methodEntry struct {
	handler    Handler
	socketOnly bool
}

// Dispatcher is the shared method table both transports route through.
// Socket-only methods registered here are the single source of truth for
// the HTTP mux's pre-handler visibility check (spec.md §4.3 NEW).
type Dispatcher struct {
	methods map[string]methodEntry
}

// NewDispatcher returns an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{methods: make(map[string]methodEntry)}
}

// Register adds a method visible on both socket and HTTP transports.
func (d *Dispatcher) Register(method string, h Handler) {
	d.methods[method] = methodEntry{handler: h}
}

// RegisterSocketOnly adds a method refused over HTTP with CodeChannelDenied
// (spec.md §4.3: exec, file_write, secret_inject, secrets_sync,
// skill_install, skill_uninstall).
func (d *Dispatcher) RegisterSocketOnly(method string, h Handler) {
	d.methods[method] = methodEntry{handler: h, socketOnly: true}
}

// Channel identifies which transport a request arrived on.
type Channel string

const (
	ChannelSocket Channel = "socket"
	ChannelHTTP   Channel = "http"
)

// Dispatch resolves req.Method against the table and invokes its handler,
// enforcing socket-only visibility for the HTTP channel before the handler
// ever runs.
func (d *Dispatcher) Dispatch(ctx context.Context, channel Channel, req *Request) *Response {
	entry, ok := d.methods[req.Method]
	if !ok {
		return Failure(req.ID, NewError(CodeValidation, "unknown method "+req.Method))
	}
	if entry.socketOnly && channel != ChannelSocket {
		return Failure(req.ID, NewError(CodeChannelDenied, req.Method))
	}

	ctx = withChannel(ctx, channel)
	result, rpcErr := entry.handler(ctx, req.Params)
	if rpcErr != nil {
		return Failure(req.ID, rpcErr)
	}
	return Success(req.ID, result)
}

// SocketOnly reports whether method is restricted to the socket transport,
// for callers (e.g. the HTTP mux) that need to pre-filter before decoding.
func (d *Dispatcher) SocketOnly(method string) bool {
	entry, ok := d.methods[method]
	return ok && entry.socketOnly
}
