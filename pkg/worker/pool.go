// Package worker runs queued executions on a fixed number of slots.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when acquiring a slot from a pool that was shut down.
var ErrPoolShutdown = errors.New("worker pool is shut down")

type slotKey struct{}

// slot tracks whether the execution running under a context currently holds its slot.
type slot struct {
	mu   sync.Mutex
	held bool
}

// Pool bounds the number of executions doing active work. An execution parks
// its slot while it waits on a delay or a remote call.
type Pool struct {
	sem    chan struct{}
	done   chan struct{}
	once   sync.Once
	active atomic.Int64
	parked atomic.Int64
}

// NewPool creates a pool with size slots.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}

	return &Pool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// Acquire blocks until a slot is free and returns a context that owns it.
func (p *Pool) Acquire(ctx context.Context) (context.Context, error) {
	if err := p.take(ctx); err != nil {
		return ctx, err
	}

	return context.WithValue(ctx, slotKey{}, &slot{held: true}), nil
}

// Release frees the slot owned by ctx, if it still holds one.
func (p *Pool) Release(ctx context.Context) {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held {
		s.held = false
		p.give()
	}
}

// Suspend releases the slot owned by ctx while fn runs and takes one again
// afterwards. Without a slot in ctx, fn runs directly.
func (p *Pool) Suspend(ctx context.Context, fn func(ctx context.Context) error) error {
	s, ok := ctx.Value(slotKey{}).(*slot)
	if !ok {
		return fn(ctx)
	}

	s.mu.Lock()
	if !s.held {
		s.mu.Unlock()

		return fn(ctx)
	}

	s.held = false
	p.give()
	s.mu.Unlock()

	p.parked.Add(1)
	err := fn(ctx)
	p.parked.Add(-1)

	// taken back unconditionally so the execution can still record its result
	p.sem <- struct{}{}
	p.active.Add(1)

	s.mu.Lock()
	s.held = true
	s.mu.Unlock()

	return err
}

// Active returns the number of occupied slots.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Parked returns the number of executions waiting without a slot.
func (p *Pool) Parked() int {
	return int(p.parked.Load())
}

// Shutdown makes pending and future Acquire calls fail.
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		close(p.done)
	})
}

func (p *Pool) take(ctx context.Context) error {
	select {
	case <-p.done:
		return ErrPoolShutdown
	default:
	}

	select {
	case p.sem <- struct{}{}:
		p.active.Add(1)

		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}
}

func (p *Pool) give() {
	p.active.Add(-1)
	<-p.sem
}
