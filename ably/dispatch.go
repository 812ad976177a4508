package ably

import (
	"fmt"
	"log/slog"
	"sync"
)

// callbackQueue runs user callbacks one at a time in push order. Callbacks
// are pushed while the owner's lock is held and drained after it is
// released, so a callback may call back into the owner.
type callbackQueue struct {
	lock     sync.Mutex
	pending  []func()
	draining bool
	logger   *slog.Logger
}

func newCallbackQueue(logger *slog.Logger) *callbackQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &callbackQueue{logger: logger}
}

func (queue *callbackQueue) push(callback func()) {
	if queue == nil || callback == nil {
		return
	}
	queue.lock.Lock()
	queue.pending = append(queue.pending, callback)
	queue.lock.Unlock()
}

// drain runs pending callbacks until none are left. A drain already running
// on another goroutine, or further up this goroutine's stack, picks up the
// new callbacks instead.
func (queue *callbackQueue) drain() {
	if queue == nil {
		return
	}
	queue.lock.Lock()
	if queue.draining {
		queue.lock.Unlock()
		return
	}
	queue.draining = true
	for len(queue.pending) > 0 {
		callback := queue.pending[0]
		queue.pending[0] = nil
		queue.pending = queue.pending[1:]
		queue.lock.Unlock()
		queue.run(callback)
		queue.lock.Lock()
	}
	queue.pending = nil
	queue.draining = false
	queue.lock.Unlock()
}

func (queue *callbackQueue) run(callback func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			queue.logger.Error("listener panic", slog.Any("error", fmt.Errorf("%v", recovered)))
		}
	}()
	callback()
}
