package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned by SingleLane when the request queue cannot
// accept another submission. Callers observe it immediately instead of
// blocking behind an overloaded backend.
var ErrQueueFull = errors.New("llm: request queue full")

// SingleLane serializes calls to an upstream Provider through a bounded FIFO
// queue so at most one HTTP call is in flight at a time. It exists for
// backends that cannot handle concurrent generation.
type SingleLane struct {
	upstream Provider
	requests chan *laneRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type laneRequest struct {
	ctx      context.Context
	messages []Message
	params   SamplingParams
	done     chan laneResult
}

type laneResult struct {
	result *Result
	err    error
}

// NewSingleLane wraps upstream with a FIFO queue holding at most maxQueued
// pending requests.
func NewSingleLane(upstream Provider, maxQueued int) *SingleLane {
	if maxQueued < 1 {
		maxQueued = 1
	}
	return &SingleLane{
		upstream: upstream,
		requests: make(chan *laneRequest, maxQueued),
	}
}

// Start launches the lane worker. Must be called before Generate.
func (l *SingleLane) Start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run()
}

// Stop cancels the worker and waits for the in-flight call, if any.
func (l *SingleLane) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *SingleLane) run() {
	defer l.wg.Done()
	for {
		select {
		case req := <-l.requests:
			result, err := l.upstream.Generate(req.ctx, req.messages, req.params)
			req.done <- laneResult{result: result, err: err}
		case <-l.ctx.Done():
			return
		}
	}
}

// Generate enqueues the request and blocks until the lane worker has run it.
// A full queue fails immediately with ErrQueueFull.
func (l *SingleLane) Generate(ctx context.Context, messages []Message, params SamplingParams) (*Result, error) {
	req := &laneRequest{
		ctx:      ctx,
		messages: messages,
		params:   params,
		done:     make(chan laneResult, 1),
	}

	select {
	case l.requests <- req:
	default:
		return nil, ErrQueueFull
	}

	select {
	case res := <-req.done:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
