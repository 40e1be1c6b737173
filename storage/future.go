package storage

import (
	"context"
)

// Future is the deferred result of a store operation.
type Future struct {
	done  chan struct{}
	value []byte
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns an already completed Future.
func Resolved(value []byte, err error) *Future {
	f := newFuture()
	f.resolve(value, err)
	return f
}

func (f *Future) resolve(value []byte, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Done is closed when the operation completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation completes or ctx is done.  Abandoning a Future does
// not cancel the underlying operation.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result blocks until the operation completes.
func (f *Future) Result() ([]byte, error) {
	<-f.done
	return f.value, f.err
}

// WaitAll waits on every future and returns the first error encountered.
func WaitAll(ctx context.Context, futures ...*Future) error {
	var firstErr error
	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
