package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyp3rd/relay/pkg/queue"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

func logRecord(body string) telemetry.Record {
	return telemetry.Record{
		Kind:     telemetry.KindLogs,
		Time:     time.Now(),
		Observed: time.Now(),
		Resource: telemetry.Resource{Service: "test"},
		Log:      &telemetry.Log{Severity: telemetry.SeverityInfo, Body: body},
	}
}

func newQueue(t *testing.T, size, capacity int, age time.Duration) *queue.Queue {
	t.Helper()

	q, err := queue.New(queue.Config{
		Kind:          telemetry.KindLogs,
		MaxBatchSize:  size,
		MaxBatchAge:   age,
		QueueCapacity: capacity,
	})
	if err != nil {
		t.Fatalf("queue.New returned error: %v", err)
	}

	return q
}

func TestSealBySize(t *testing.T) {
	q := newQueue(t, 3, 30, time.Hour)

	for i := range 3 {
		err := q.Append(logRecord(string(rune('a' + i))))
		if err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	batch, ok := q.Next(ctx)
	if !ok {
		t.Fatal("expected a sealed batch")
	}

	if batch.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", batch.Len())
	}

	if batch.Seq != 0 {
		t.Fatalf("expected first batch seq 0, got %d", batch.Seq)
	}
}

func TestSealByAge(t *testing.T) {
	q := newQueue(t, 100, 200, 50*time.Millisecond)

	err := q.Append(logRecord("lonely"))
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()

	batch, ok := q.Next(ctx)
	if !ok {
		t.Fatal("expected an age-sealed batch")
	}

	if batch.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", batch.Len())
	}

	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("batch sealed too early: %s", elapsed)
	}
}

func TestAgeTimerDoesNotSealNextBatch(t *testing.T) {
	q := newQueue(t, 2, 20, 60*time.Millisecond)

	// Fill one batch by size; its age timer must not fire into the
	// following batch.
	for range 2 {
		err := q.Append(logRecord("x"))
		if err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, ok := q.Next(ctx)
	if !ok {
		t.Fatal("expected size-sealed batch")
	}

	err := q.Append(logRecord("y"))
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer shortCancel()

	_, ok = q.Next(shortCtx)
	if ok {
		t.Fatal("open batch sealed before its own age elapsed")
	}
}

func TestOverload(t *testing.T) {
	q := newQueue(t, 2, 2, time.Hour)

	for range 2 {
		err := q.Append(logRecord("x"))
		if err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	err := q.Append(logRecord("overflow"))
	if !errors.Is(err, queue.ErrOverload) {
		t.Fatalf("expected ErrOverload, got %v", err)
	}

	// Draining the sealed batch frees capacity again.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, ok := q.Next(ctx)
	if !ok {
		t.Fatal("expected sealed batch")
	}

	err = q.Append(logRecord("fits now"))
	if err != nil {
		t.Fatalf("Append after drain returned error: %v", err)
	}
}

func TestCloseRejectsAndDrains(t *testing.T) {
	q := newQueue(t, 10, 20, time.Hour)

	err := q.Append(logRecord("pending"))
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	q.Close()

	err = q.Append(logRecord("late"))
	if !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	ctx := context.Background()

	batch, ok := q.Next(ctx)
	if !ok {
		t.Fatal("expected the open batch sealed on close")
	}

	if batch.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", batch.Len())
	}

	_, ok = q.Next(ctx)
	if ok {
		t.Fatal("expected stream end after drain")
	}
}

func TestFlushSealsOpenBatch(t *testing.T) {
	q := newQueue(t, 100, 200, time.Hour)

	err := q.Append(logRecord("flushed"))
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	q.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	batch, ok := q.Next(ctx)
	if !ok {
		t.Fatal("expected flushed batch")
	}

	if batch.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", batch.Len())
	}
}

// Every accepted record must surface in exactly one batch, even when
// appends race the age timer and concurrent consumers.
func TestCompletenessUnderConcurrency(t *testing.T) {
	const (
		producers = 4
		perWorker = 250
	)

	q := newQueue(t, 32, 4096, 10*time.Millisecond)

	var wg sync.WaitGroup

	for range producers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range perWorker {
				for {
					err := q.Append(logRecord("r"))
					if err == nil {
						break
					}

					if errors.Is(err, queue.ErrOverload) {
						time.Sleep(time.Millisecond)

						continue
					}

					t.Errorf("Append returned error: %v", err)

					return
				}
			}
		}()
	}

	done := make(chan struct{})

	go func() {
		wg.Wait()
		q.Close()
		close(done)
	}()

	total := 0
	ctx := context.Background()

	for {
		batch, ok := q.Next(ctx)
		if !ok {
			break
		}

		total += batch.Len()
	}

	<-done

	if total != producers*perWorker {
		t.Fatalf("expected %d records across all batches, got %d", producers*perWorker, total)
	}
}
