package assistant

import (
	"context"
	"sync"
)

// DefaultQueueDepth bounds pending invocations per connection.
const DefaultQueueDepth = 4

// Queue serializes one connection's invocations so its replies keep request
// order, off the connection's read loop. Replies go to the room, so work
// already queued still runs after the submitting connection goes away.
type Queue struct {
	pipeline *Pipeline
	ctx      context.Context

	mu     sync.Mutex
	closed bool
	jobs   chan Request
	done   chan struct{}
}

// NewQueue starts a worker. Pending requests are skipped once ctx is done.
func (p *Pipeline) NewQueue(ctx context.Context, depth int) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	q := &Queue{
		pipeline: p,
		ctx:      ctx,
		jobs:     make(chan Request, depth),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for req := range q.jobs {
		if q.ctx.Err() != nil {
			continue
		}
		q.pipeline.Invoke(q.ctx, req)
	}
}

// Submit enqueues req and reports false when the queue is full or closed.
func (q *Queue) Submit(req Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- req:
		return true
	default:
		return false
	}
}

// Close stops accepting requests. The worker exits after draining.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

// Done is closed once the worker has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
