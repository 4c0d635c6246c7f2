package sdk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one locally recorded intercepted-call outcome (spec.md §4.5
// "Event reporter": "every intercepted call emits a local record {id,
// timestamp, operation, target, allowed, result}").
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Target    string    `json:"target"`
	Allowed   bool      `json:"allowed"`
	Result    string    `json:"result"`
}

const (
	defaultBatchThreshold = 32
	defaultFlushTick      = time.Second
	defaultMaxRetries     = 5
	initialBackoff        = 200 * time.Millisecond
	maxBackoff            = 10 * time.Second
)

// EventReporter batches Events and flushes them through a broker
// events_batch RPC call, retrying failed flushes with exponential backoff
// up to a bounded count before dropping the batch (spec.md §4.5).
type EventReporter struct {
	log        *zap.Logger
	threshold  int
	tick       time.Duration
	maxRetries int

	mu      sync.Mutex
	pending []Event
	flush   func(ctx context.Context, events []Event) error

	trigger chan struct{}
	done    chan struct{}
	once    sync.Once
}

// EventReporterOption configures a NewEventReporter call.
type EventReporterOption func(*EventReporter)

// WithBatchThreshold overrides the default 32-event flush threshold.
func WithBatchThreshold(n int) EventReporterOption {
	return func(r *EventReporter) { r.threshold = n }
}

// WithFlushTick overrides the default 1s flush tick.
func WithFlushTick(d time.Duration) EventReporterOption {
	return func(r *EventReporter) { r.tick = d }
}

// WithMaxRetries overrides the default bounded retry count before a batch
// is dropped.
func WithMaxRetries(n int) EventReporterOption {
	return func(r *EventReporter) { r.maxRetries = n }
}

// NewEventReporter builds an EventReporter. Pair it with Client via
// WithEventReporter and start its loop with Client.StartEventReporter.
func NewEventReporter(log *zap.Logger, opts ...EventReporterOption) *EventReporter {
	if log == nil {
		log = zap.NewNop()
	}
	r := &EventReporter{
		log:        log,
		threshold:  defaultBatchThreshold,
		tick:       defaultFlushTick,
		maxRetries: defaultMaxRetries,
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue adds one event to the pending batch, waking the flush loop early
// once the batch threshold is reached.
func (r *EventReporter) Enqueue(e Event) {
	r.mu.Lock()
	r.pending = append(r.pending, e)
	full := len(r.pending) >= r.threshold
	r.mu.Unlock()
	if full {
		select {
		case r.trigger <- struct{}{}:
		default:
		}
	}
}

// Run drives the flush loop until ctx is cancelled or Close is called.
// Run blocks; start it in its own goroutine.
func (r *EventReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.flushPending(ctx)
		case <-r.trigger:
			r.flushPending(ctx)
		}
	}
}

// Close stops Run and abandons any still-pending, unflushed events.
func (r *EventReporter) Close() {
	r.once.Do(func() { close(r.done) })
}

func (r *EventReporter) flushPending(ctx context.Context) {
	r.mu.Lock()
	if len(r.pending) == 0 || r.flush == nil {
		r.mu.Unlock()
		return
	}
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if err := r.flush(ctx, batch); err == nil {
			return
		} else if attempt >= r.maxRetries {
			r.log.Warn("dropping event batch after exhausting retries",
				zap.Int("count", len(batch)), zap.Error(err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// reportEvent enqueues a local event record if this client has an attached
// EventReporter; it is a no-op otherwise.
func (c *Client) reportEvent(operation, target string, allowed bool, result string) {
	if c.events == nil {
		return
	}
	c.events.Enqueue(Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Operation: operation,
		Target:    target,
		Allowed:   allowed,
		Result:    result,
	})
}

// StartEventReporter wires the attached EventReporter's flush function to
// this client's events_batch RPC and starts its loop in a new goroutine.
// A no-op if this client has no attached EventReporter.
func (c *Client) StartEventReporter(ctx context.Context) {
	if c.events == nil {
		return
	}
	c.events.flush = func(flushCtx context.Context, events []Event) error {
		_, rpcErr := c.call(flushCtx, "events_batch", struct {
			Events []Event `json:"events"`
		}{Events: events})
		if rpcErr != nil {
			return rpcErr
		}
		return nil
	}
	go c.events.Run(ctx)
}
