package exporter

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	opens := 0
	b := newBreaker(3, time.Minute, func() { opens++ })

	for range 2 {
		b.Failure()
	}

	if !b.Allow() {
		t.Fatal("breaker opened below threshold")
	}

	b.Failure()

	if b.Allow() {
		t.Fatal("breaker still closed at threshold")
	}

	if opens != 1 {
		t.Fatalf("expected 1 open notification, got %d", opens)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	current := time.Unix(1000, 0)
	b := newBreaker(1, 10*time.Second, nil)
	b.now = func() time.Time { return current }

	b.Failure()

	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	current = current.Add(11 * time.Second)

	if !b.Allow() {
		t.Fatal("expected a half-open probe after cooldown")
	}

	// Only one probe is admitted at a time.
	if b.Allow() {
		t.Fatal("second probe admitted while half-open")
	}

	b.Success()

	if !b.Allow() {
		t.Fatal("breaker should close after a successful probe")
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	current := time.Unix(1000, 0)
	opens := 0
	b := newBreaker(1, 10*time.Second, func() { opens++ })
	b.now = func() time.Time { return current }

	b.Failure()
	current = current.Add(11 * time.Second)

	if !b.Allow() {
		t.Fatal("expected a half-open probe")
	}

	b.Failure()

	if b.Allow() {
		t.Fatal("breaker should reopen after a failed probe")
	}

	if opens != 2 {
		t.Fatalf("expected 2 open notifications, got %d", opens)
	}
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := newBreaker(2, time.Minute, nil)

	b.Failure()
	b.Success()
	b.Failure()

	if !b.Allow() {
		t.Fatal("non-consecutive failures opened the breaker")
	}
}
