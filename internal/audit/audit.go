// Package audit implements the broker's append-only event log: every
// completed handler invocation produces exactly one record (spec.md §8
// "Audit atomicity"), fanned out to every Sink an Emitter holds. cmd/broker
// wires a rotating JSONL file and a SQLite index for range queries; audit
// records are not themselves published to SSE subscribers.
package audit

import "time"

// Result is the terminal outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

// Channel is the transport an operation arrived on.
type Channel string

const (
	ChannelSocket Channel = "socket"
	ChannelHTTP   Channel = "http"
)

// Event is one audit record, matching spec.md §3 "Audit event".
type Event struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	Operation           string    `json:"operation"`
	Channel             Channel   `json:"channel"`
	Allowed             bool      `json:"allowed"`
	Target              string    `json:"target"`
	Result              Result    `json:"result"`
	DurationMS          int64     `json:"durationMs"`
	InjectedSecretNames []string  `json:"injectedSecretNames,omitempty"`
	ExitCode            *int      `json:"exitCode,omitempty"`
	BytesTransferred    *int64    `json:"bytesTransferred,omitempty"`
}

// Sink is anything that can receive finished audit events: the file
// logger, the SQLite index, an SSE fan-out, or a test spy.
type Sink interface {
	Log(e Event)
}

// Emitter fans one event out to every registered sink and keeps running
// counters for the `/api/status` endpoint (spec.md §6 NEW). A sink error
// is swallowed — per spec.md §7, audit write failure must never take the
// broker down.
type Emitter struct {
	sinks []Sink

	total, allow, deny, errored uint64
}

// NewEmitter constructs an emitter fanning out to the given sinks.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

// Log records stats and forwards the event to every sink.
func (e *Emitter) Log(ev Event) {
	e.total++
	switch {
	case ev.Result == ResultDenied:
		e.deny++
	case ev.Result == ResultError:
		e.errored++
	default:
		e.allow++
	}
	for _, s := range e.sinks {
		s.Log(ev)
	}
}

// Stats reports running totals for the metrics endpoint.
func (e *Emitter) Stats() (total, allow, deny, errored uint64) {
	return e.total, e.allow, e.deny, e.errored
}

// NullSink discards every event (tests, or auditing disabled).
type NullSink struct{}

// Log implements Sink.
func (NullSink) Log(Event) {}

// ChannelSink forwards events onto a buffered channel, dropping the event
// if the channel is full (used for async SSE fan-out).
type ChannelSink struct {
	events chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan Event, buffer)}
}

// Log implements Sink.
func (c *ChannelSink) Log(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

// Events exposes the underlying channel for a subscriber loop to drain.
func (c *ChannelSink) Events() <-chan Event { return c.events }
