package ably

import (
	"context"
	"sync"
)

// Result is the outcome of an asynchronous channel operation. It resolves
// exactly once.
type Result struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

// resolvedResult returns a Result that has already completed with err.
func resolvedResult(err error) *Result {
	result := newResult()
	result.resolve(err)
	return result
}

// resolve completes the result. Later calls are ignored and report false.
func (result *Result) resolve(err error) bool {
	resolved := false
	result.once.Do(func() {
		result.err = err
		close(result.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the result resolves.
func (result *Result) Done() <-chan struct{} {
	return result.done
}

// Err returns the outcome, or nil while still pending.
func (result *Result) Err() error {
	select {
	case <-result.done:
		return result.err
	default:
		return nil
	}
}

// Wait blocks until the result resolves or ctx ends. A cancelled wait
// returns a CancellationError and leaves the operation running.
func (result *Result) Wait(ctx context.Context) error {
	select {
	case <-result.done:
		return result.err
	default:
	}
	select {
	case <-result.done:
		return result.err
	case <-ctx.Done():
		return NewError(KindCancellation, CodeChannelOperationFailed, "wait cancelled").WithCause(ctx.Err())
	}
}
