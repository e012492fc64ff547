package server

import (
	"context"
	"sync"

	"github.com/ThatCatDev/tanrenai/gemma/internal/server/handlers"
)

// Gate admits one inference request at a time. With interrupt enabled, a
// request that arrives while a streaming request holds the gate cancels
// that stream so the newcomer does not wait for it to finish. Requests
// that do not stream always run to completion.
type Gate struct {
	interrupt bool

	mu      sync.Mutex
	held    bool
	waiting int
	cancel  context.CancelCauseFunc // set while a streaming request holds the gate
	wake    chan struct{}
}

// NewGate returns a gate. interrupt mirrors ServerSettings.InterruptRequests.
func NewGate(interrupt bool) *Gate {
	return &Gate{interrupt: interrupt, wake: make(chan struct{})}
}

// Acquire blocks until the caller holds the gate or ctx is done. The
// returned context is cancelled with handlers.ErrInterrupted when a newer
// request preempts this one. release must be called exactly once.
func (g *Gate) Acquire(ctx context.Context, stream bool) (context.Context, func(), error) {
	g.mu.Lock()
	g.waiting++
	if g.interrupt && g.cancel != nil {
		g.cancel(handlers.ErrInterrupted)
	}
	for g.held {
		wake := g.wake
		g.mu.Unlock()
		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.waiting--
			g.mu.Unlock()
			return nil, nil, ctx.Err()
		case <-wake:
		}
		g.mu.Lock()
	}
	g.waiting--
	g.held = true

	reqCtx, cancel := context.WithCancelCause(ctx)
	if stream {
		g.cancel = cancel
		// Someone queued behind us already: yield right away.
		if g.interrupt && g.waiting > 0 {
			cancel(handlers.ErrInterrupted)
		}
	}
	g.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel(context.Canceled)
			g.mu.Lock()
			g.held = false
			g.cancel = nil
			close(g.wake)
			g.wake = make(chan struct{})
			g.mu.Unlock()
		})
	}
	return reqCtx, release, nil
}
