package exporter

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a per-sink circuit breaker. It opens after a run of
// consecutive failures, fast-fails while open, and half-opens after the
// cooldown to let exactly one probe through.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	onOpen   func()
}

func newBreaker(threshold int, cooldown time.Duration, onOpen func()) *breaker {
	if threshold <= 0 {
		threshold = 1
	}

	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		onOpen:    onOpen,
	}
}

// Allow reports whether an attempt may proceed. While open it returns
// false until the cooldown elapses, then admits a single half-open probe.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen

			return true
		}

		return false
	default:
		// a probe is already in flight
		return false
	}
}

// Success records a delivered attempt and closes the breaker.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failures = 0
}

// Failure records a failed attempt. A failed half-open probe reopens
// immediately; in the closed state the breaker opens once the
// consecutive-failure threshold is reached.
func (b *breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.openLocked()

		return
	}

	b.failures++
	if b.state == breakerClosed && b.failures >= b.threshold {
		b.openLocked()
	}
}

func (b *breaker) openLocked() {
	b.state = breakerOpen
	b.failures = 0
	b.openedAt = b.now()

	if b.onOpen != nil {
		b.onOpen()
	}
}
