package transport

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultRetryJitter is the largest fraction removed from a backoff delay.
const DefaultRetryJitter = 0.2

// ReconnectDelayStrategy controls the delay before each reconnect attempt.
type ReconnectDelayStrategy interface {
	NextDelay(host string) time.Duration
	Reset()
}

// FixedDelayStrategy waits the same delay before every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// NextDelay returns the configured delay.
func (strategy *FixedDelayStrategy) NextDelay(host string) time.Duration {
	if strategy == nil {
		return 0
	}
	return strategy.Delay
}

// Reset is a no-op for fixed delays.
func (strategy *FixedDelayStrategy) Reset() {}

// BackoffDelayStrategy grows the retry timeout over the first attempts of a
// disconnection: attempt n waits Timeout * min((n+2)/3, 2), reduced by a
// random share of up to Jitter. Attempts count across hosts since the
// connection was last established.
type BackoffDelayStrategy struct {
	lock     sync.Mutex
	Timeout  time.Duration
	Jitter   float64
	random   func() float64
	attempts int
}

// NewBackoffDelayStrategy returns a strategy around timeout. jitter is
// clamped to [0, 1].
func NewBackoffDelayStrategy(timeout time.Duration, jitter float64) *BackoffDelayStrategy {
	if timeout < 0 {
		timeout = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &BackoffDelayStrategy{Timeout: timeout, Jitter: jitter, random: rand.Float64}
}

// WithRandom replaces the source of jitter, which must return values in
// [0, 1), and returns strategy for chaining.
func (strategy *BackoffDelayStrategy) WithRandom(random func() float64) *BackoffDelayStrategy {
	if strategy == nil || random == nil {
		return strategy
	}
	strategy.lock.Lock()
	strategy.random = random
	strategy.lock.Unlock()
	return strategy
}

// NextDelay returns the delay before the next attempt.
func (strategy *BackoffDelayStrategy) NextDelay(host string) time.Duration {
	if strategy == nil {
		return 0
	}
	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	strategy.attempts++
	steps := strategy.attempts + 2
	if steps > 6 {
		steps = 6
	}
	delay := strategy.Timeout * time.Duration(steps) / 3
	if strategy.Jitter > 0 && strategy.random != nil {
		reduction := strategy.Jitter * strategy.random()
		delay = time.Duration(math.Round(float64(delay) * (1 - reduction)))
	}
	return delay
}

// Reset starts counting attempts again.
func (strategy *BackoffDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempts = 0
	strategy.lock.Unlock()
}
