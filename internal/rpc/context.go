package rpc

import "context"

type ctxKey int

const (
	ctxKeyChannel ctxKey = iota
	ctxKeyPeerCred
)

// withChannel attaches the transport a request arrived on so a handler can
// recover it without threading an extra parameter through Dispatch.
func withChannel(ctx context.Context, ch Channel) context.Context {
	return context.WithValue(ctx, ctxKeyChannel, ch)
}

// ChannelFromContext returns the transport a request arrived on, defaulting
// to ChannelHTTP (the more restrictive assumption) if unset.
func ChannelFromContext(ctx context.Context) Channel {
	if ch, ok := ctx.Value(ctxKeyChannel).(Channel); ok {
		return ch
	}
	return ChannelHTTP
}

// WithPeerCred attaches a Unix-socket caller's verified credentials to ctx.
// HTTP requests never carry one.
func WithPeerCred(ctx context.Context, cred *PeerCred) context.Context {
	return context.WithValue(ctx, ctxKeyPeerCred, cred)
}

// PeerCredFromContext recovers the credentials WithPeerCred attached, if any.
func PeerCredFromContext(ctx context.Context) (*PeerCred, bool) {
	cred, ok := ctx.Value(ctxKeyPeerCred).(*PeerCred)
	return cred, ok && cred != nil
}
