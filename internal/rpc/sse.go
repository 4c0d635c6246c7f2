package rpc

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// EventBroker fans out broker events to SSE subscribers, filtered by
// channel category (spec.md §4.3 "policies:*, exec:*, skills:*, alerts:*,
// secrets:*").
type EventBroker struct {
	mu          sync.Mutex
	subscribers map[string]chan sseMessage
}

type sseMessage struct {
	channel string
	data    string
}

// NewEventBroker returns an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{subscribers: make(map[string]chan sseMessage)}
}

// Publish sends an event to every subscriber whose requested channel
// prefix matches (e.g. a subscriber on "exec:*" receives "exec:monitor").
func (b *EventBroker) Publish(channel, jsonData string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- sseMessage{channel: channel, data: jsonData}:
		default:
		}
	}
}

// CloseAll disconnects every subscriber, used on shutdown before the HTTP
// listener itself closes (spec.md §4.3).
func (b *EventBroker) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

func (b *EventBroker) subscribe() (string, chan sseMessage) {
	id := uuid.NewString()
	ch := make(chan sseMessage, 32)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *EventBroker) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// handleSSE streams events matching the request path's channel filter
// (e.g. GET /sse/events/exec restricts to the "exec:*" category; the bare
// /sse/events endpoint receives everything).
func (s *HTTPServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := strings.TrimPrefix(r.URL.Path, "/sse/events/")
	if filter == "/sse/events" || filter == r.URL.Path {
		filter = ""
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.events.subscribe()
	defer s.events.unsubscribe(id)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			if filter != "" && !strings.HasPrefix(msg.channel, filter) {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.channel, msg.data)
			flusher.Flush()
		}
	}
}
