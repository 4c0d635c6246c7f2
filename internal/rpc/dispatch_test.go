package rpc

import (
	"context"
	"encoding/json"
	"testing"
)

func echoHandler(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	return map[string]string{"echo": string(params)}, nil
}

func denyingHandler(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	return nil, NewError(CodePathNotAllowed, "/etc/passwd")
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := NewDispatcher()
	resp := d.Dispatch(context.Background(), ChannelSocket, &Request{Method: "nope"})
	if resp.Error == nil || resp.Error.Code != CodeValidation {
		t.Fatalf("expected CodeValidation for unknown method, got %+v", resp.Error)
	}
}

func TestDispatchSocketOnlyMethodRejectedOverHTTP(t *testing.T) {
	d := NewDispatcher()
	d.RegisterSocketOnly("exec", echoHandler)

	resp := d.Dispatch(context.Background(), ChannelHTTP, &Request{Method: "exec"})
	if resp.Error == nil || resp.Error.Code != CodeChannelDenied {
		t.Fatalf("expected CodeChannelDenied over HTTP, got %+v", resp.Error)
	}

	resp = d.Dispatch(context.Background(), ChannelSocket, &Request{Method: "exec"})
	if resp.Error != nil {
		t.Fatalf("expected socket channel to succeed, got %+v", resp.Error)
	}
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	d := NewDispatcher()
	d.Register("file_read", denyingHandler)

	resp := d.Dispatch(context.Background(), ChannelSocket, &Request{Method: "file_read"})
	if resp.Error == nil || resp.Error.Code != CodePathNotAllowed {
		t.Fatalf("expected CodePathNotAllowed, got %+v", resp.Error)
	}
}

func TestDispatchSuccessCarriesResult(t *testing.T) {
	d := NewDispatcher()
	d.Register("ping", func(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
		return "pong", nil
	})

	resp := d.Dispatch(context.Background(), ChannelHTTP, &Request{Method: "ping", ID: json.RawMessage(`1`)})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != "pong" {
		t.Fatalf("expected pong, got %v", resp.Result)
	}
}

func TestSocketOnlyReportsVisibility(t *testing.T) {
	d := NewDispatcher()
	d.RegisterSocketOnly("secret_inject", echoHandler)
	d.Register("ping", echoHandler)

	if !d.SocketOnly("secret_inject") {
		t.Error("expected secret_inject to be socket-only")
	}
	if d.SocketOnly("ping") {
		t.Error("expected ping to be visible on both channels")
	}
	if d.SocketOnly("unregistered") {
		t.Error("expected an unregistered method to report not socket-only")
	}
}
