package rpc

import (
	"context"

	"golang.org/x/time/rate"
)

// Pool is the bounded worker pool described in spec.md §4.3: a fixed
// number of goroutines drain a buffered job channel so long-running
// http_request/exec calls never block policy_check traffic. Once the
// channel is full, a token-bucket limiter gates further enqueue attempts
// instead of blocking the caller indefinitely — exhaustion surfaces as
// CodeTimeout (1010) rather than a hang.
type Pool struct {
	jobs    chan func()
	limiter *rate.Limiter
}

// NewPool starts workers goroutines draining a channel of depth queueDepth.
// admitRate/admitBurst configure the limiter gating enqueue attempts once
// that channel is saturated.
func NewPool(workers, queueDepth int, admitRate rate.Limit, admitBurst int) *Pool {
	p := &Pool{
		jobs:    make(chan func(), queueDepth),
		limiter: rate.NewLimiter(admitRate, admitBurst),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for job := range p.jobs {
		job()
	}
}

// Submit enqueues job, returning CodeTimeout if the queue is saturated and
// the admission limiter has no token available within ctx's deadline.
func (p *Pool) Submit(ctx context.Context, job func()) *Error {
	select {
	case p.jobs <- job:
		return nil
	default:
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return NewError(CodeTimeout, "worker pool saturated")
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return NewError(CodeTimeout, "worker pool saturated")
	default:
		return NewError(CodeTimeout, "worker pool saturated")
	}
}

// Close stops accepting new jobs. In-flight workers drain remaining jobs
// and exit once the channel is closed and empty.
func (p *Pool) Close() {
	close(p.jobs)
}
