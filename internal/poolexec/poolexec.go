// Package poolexec dispatches blocking filesystem work to a bounded
// goroutine pool, the Go-native equivalent of tokio::task::spawn_blocking:
// it keeps the caller's goroutine (standing in for the cooperative
// executor thread) from blocking on filesystem syscalls.
package poolexec

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// DefaultPoolSize bounds the number of goroutines the pool may run at
// once. Filesystem work is I/O-bound, so this is generous relative to
// GOMAXPROCS.
const DefaultPoolSize = 64

// Pool submits blocking work and awaits its result without stalling the
// caller's goroutine on a mutex or syscall directly.
type Pool struct {
	inner *ants.Pool
}

// New returns a Pool backed by an ants.Pool of the given size. size <= 0
// uses DefaultPoolSize.
func New(size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	inner, err := ants.NewPool(size, ants.WithPreAlloc(false))
	if err != nil {
		return nil, fmt.Errorf("poolexec: %w", err)
	}

	return &Pool{inner: inner}, nil
}

// Release stops accepting new work. It does not wait for tasks that are
// already running.
func (p *Pool) Release() { p.inner.Release() }

// result carries a task's outcome
type result[T any] struct {
	val T
	err error
}

// Submit runs fn on the pool and returns its result, or ctx's error if ctx
// is cancelled before fn completes. fn itself is not cancelled: a task
// already submitted to the pool runs to completion even if the caller
// stops waiting for it, so a cancelled write may still land on disk after
// the caller has moved on.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	done := make(chan result[T], 1)

	err := p.inner.Submit(func() {
		val, fnErr := fn()
		done <- result[T]{val: val, err: fnErr}
	})
	if err != nil {
		var zero T

		return zero, fmt.Errorf("poolexec: submit: %w", err)
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}
