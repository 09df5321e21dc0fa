package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolFull is returned when the pool cannot admit another query.
var ErrPoolFull = errors.New("query pool full")

// Pool is the bounded admission queue of in-flight inbound queries.
// Admit enqueues; a single Dispatch loop drains the queue and hands each
// query to the pipeline runner on its own task.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	max     int
	nextID  uint64
	queue   []*Query
	running int
	closed  bool
}

// NewPool creates a pool admitting at most max in-flight queries.
func NewPool(max int) *Pool {
	if max <= 0 {
		max = 1
	}
	p := &Pool{max: max}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Admit assigns the query its ID and enqueues it, or fails with
// ErrPoolFull when queued plus running queries would exceed the bound.
func (p *Pool) Admit(q *Query) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("query pool closed")
	}
	if len(p.queue)+p.running >= p.max {
		return ErrPoolFull
	}
	p.nextID++
	q.ID = p.nextID
	p.queue = append(p.queue, q)
	p.cond.Signal()
	return nil
}

// InFlight returns queued plus running query counts.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + p.running
}

// Dispatch drains the queue until ctx is cancelled, running handle on a new
// task per query. It blocks; run it on the application scope. In-flight
// handlers observe cancellation through their own context.
func (p *Pool) Dispatch(ctx context.Context, handle func(ctx context.Context, q *Query)) {
	// Wake the dispatcher when the context ends.
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		q := p.queue[0]
		p.queue = p.queue[1:]
		p.running++
		p.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				p.mu.Lock()
				p.running--
				p.mu.Unlock()
				p.cond.Signal()
			}()
			handle(ctx, q)
		}()
	}
}
