package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/rpc"
)

type pingParams struct {
	Echo string `json:"echo,omitempty"`
}

type pingResult struct {
	Pong      bool   `json:"pong"`
	Echo      string `json:"echo,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
}

// Ping answers a liveness probe (spec.md §4.4 "ping").
func (d *Deps) Ping(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	var p pingParams
	if len(params) > 0 {
		if rpcErr := decode(params, &p); rpcErr != nil {
			return nil, rpcErr
		}
	}
	return pingResult{
		Pong:      true,
		Echo:      p.Echo,
		Timestamp: time.Now().UnixMilli(),
		Version:   d.Version,
	}, nil
}
