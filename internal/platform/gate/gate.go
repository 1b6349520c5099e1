// Package gate provides the process-wide permit pool that bounds how many
// group engines may be inside their heavy RPC/database window at once.
package gate

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Acquire once the gate has been closed.
var ErrClosed = errors.New("gate closed")

// Gate is a counting semaphore shared by reference across engines.
type Gate struct {
	sem       *semaphore.Weighted
	size      int64
	done      chan struct{}
	closeOnce sync.Once
}

// New returns a gate admitting at most size concurrent holders.
func New(size int64) *Gate {
	if size < 1 {
		size = 1
	}
	return &Gate{
		sem:  semaphore.NewWeighted(size),
		size: size,
		done: make(chan struct{}),
	}
}

// Size reports the permit count.
func (g *Gate) Size() int64 {
	return g.size
}

// Acquire blocks until a permit is available, ctx is done, or the gate is
// closed. Waiters do not spin.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case <-g.done:
		return ErrClosed
	default:
	}

	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.done:
			cancel()
		case <-acquireCtx.Done():
		}
	}()

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrClosed
	}
	return nil
}

// Release returns one permit.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Close fails all current and future Acquire calls. Permits already held
// must still be released.
func (g *Gate) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}
