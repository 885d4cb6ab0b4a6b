// Package async provides the suspendable call form used by backends and
// caches that expose both blocking and non-blocking entry points.
package async

import "context"

// Future is the eventual result of an operation started with Run.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Run starts fn on a new goroutine and returns its Future.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn(ctx)
	}()
	return f
}

// Resolve returns a Future that is already complete.
func Resolve[T any](value T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), value: value, err: err}
	close(f.done)
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is available or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
