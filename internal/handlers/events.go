package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
)

type incomingEvent struct {
	Operation string `json:"operation"`
	Target    string `json:"target"`
	Allowed   bool   `json:"allowed"`
	Result    string `json:"result"`
}

type eventsBatchParams struct {
	Events []incomingEvent `json:"events"`
}

// EventsBatch accepts pre-formed audit events from an SDK client's batching
// queue, writes each to the audit logger, and fans them out for SSE
// subscribers (spec.md §4.4 "events_batch").
func (d *Deps) EventsBatch(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	channel := rpc.ChannelFromContext(ctx)
	var p eventsBatchParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	for _, e := range p.Events {
		result := audit.ResultSuccess
		switch e.Result {
		case string(audit.ResultDenied):
			result = audit.ResultDenied
		case string(audit.ResultError):
			result = audit.ResultError
		}
		d.Audit.Log(audit.Event{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Operation: e.Operation,
			Channel:   audit.Channel(channel),
			Allowed:   e.Allowed,
			Target:    e.Target,
			Result:    result,
		})
		d.publish("events:ingest", e)
	}

	d.record("events_batch", channel, true, "events_batch", audit.ResultSuccess, start, nil, nil, nil)
	return map[string]int{"accepted": len(p.Events)}, nil
}
