package exporter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/exporter"
	"github.com/hyp3rd/relay/pkg/stats"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

func logBatch(seq uint64, bodies ...string) telemetry.Batch {
	batch := telemetry.Batch{Kind: telemetry.KindLogs, Seq: seq, CreatedAt: time.Now()}

	for _, body := range bodies {
		batch.Records = append(batch.Records, telemetry.Record{
			Kind:     telemetry.KindLogs,
			Time:     time.Now(),
			Resource: telemetry.Resource{Service: "svc"},
			Log:      &telemetry.Log{Severity: telemetry.SeverityInfo, Body: body},
		})
	}

	return batch
}

func sinkSpec(name, endpoint string, attempts int) config.SinkSpec {
	return config.SinkSpec{
		Name:     name,
		Kind:     "logs",
		Type:     "http",
		Endpoint: endpoint,
		Timeout:  time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:     attempts,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxElapsedTime:  time.Second,
		},
		Breaker: config.BreakerConfig{
			FailureThreshold: 100,
			Cooldown:         time.Minute,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

func TestRouterDeliversToMatchingSinks(t *testing.T) {
	var delivered atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	specs := []config.SinkSpec{sinkSpec("primary", server.URL, 3)}
	pipeline := stats.NewPipeline([]string{"primary"}, 8)

	router, err := exporter.NewRouter(specs, pipeline, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.Start(ctx)
	router.Dispatch(ctx, logBatch(1, "a", "b"))

	waitFor(t, "delivery", func() bool {
		return pipeline.SnapshotSink("primary").ExportedBatches == 1
	})

	if delivered.Load() != 1 {
		t.Fatalf("expected 1 HTTP push, got %d", delivered.Load())
	}

	snap := pipeline.SnapshotSink("primary")
	if snap.ExportedRecords != 2 {
		t.Fatalf("expected 2 exported records, got %d", snap.ExportedRecords)
	}

	err = router.Close(ctx)
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestRouterRetriesThenDeadLetters(t *testing.T) {
	var attempts atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	specs := []config.SinkSpec{sinkSpec("flaky", server.URL, 3)}
	pipeline := stats.NewPipeline([]string{"flaky"}, 8)

	router, err := exporter.NewRouter(specs, pipeline, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.Start(ctx)
	router.Dispatch(ctx, logBatch(1, "doomed"))

	waitFor(t, "dead letter", func() bool {
		return pipeline.SnapshotSink("flaky").DeadLettered == 1
	})

	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}

	snap := pipeline.SnapshotSink("flaky")
	if snap.ExportedBatches != 0 {
		t.Fatalf("failed batch counted as exported: %+v", snap)
	}

	if snap.RetriedAttempts != 2 {
		t.Fatalf("expected 2 retries, got %d", snap.RetriedAttempts)
	}

	letters := pipeline.DeadLetters()
	if len(letters) != 1 {
		t.Fatalf("expected exactly 1 dead-letter entry, got %d", len(letters))
	}

	if letters[0].Reason != "retries exhausted" || letters[0].Records != 1 {
		t.Fatalf("unexpected dead-letter entry: %+v", letters[0])
	}

	err = router.Close(ctx)
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestRouterPermanentRejectionSkipsRetries(t *testing.T) {
	var attempts atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	specs := []config.SinkSpec{sinkSpec("strict", server.URL, 5)}
	pipeline := stats.NewPipeline([]string{"strict"}, 8)

	router, err := exporter.NewRouter(specs, pipeline, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.Start(ctx)
	router.Dispatch(ctx, logBatch(1, "rejected"))

	waitFor(t, "dead letter", func() bool {
		return pipeline.SnapshotSink("strict").DeadLettered == 1
	})

	if attempts.Load() != 1 {
		t.Fatalf("permanent rejection should not retry, got %d attempts", attempts.Load())
	}

	letters := pipeline.DeadLetters()
	if len(letters) != 1 || letters[0].Reason != "permanent rejection" {
		t.Fatalf("unexpected dead letters: %+v", letters)
	}

	err = router.Close(ctx)
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestRouterSinksAreIndependent(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()

	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failServer.Close()

	specs := []config.SinkSpec{
		sinkSpec("healthy", okServer.URL, 1),
		sinkSpec("broken", failServer.URL, 1),
	}
	pipeline := stats.NewPipeline([]string{"healthy", "broken"}, 8)

	router, err := exporter.NewRouter(specs, pipeline, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.Start(ctx)
	router.Dispatch(ctx, logBatch(1, "fanout"))

	waitFor(t, "both outcomes", func() bool {
		return pipeline.SnapshotSink("healthy").ExportedBatches == 1 &&
			pipeline.SnapshotSink("broken").DeadLettered == 1
	})

	if snap := pipeline.SnapshotSink("healthy"); snap.DeadLettered != 0 {
		t.Fatalf("healthy sink dead-lettered: %+v", snap)
	}

	err = router.Close(ctx)
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestRouterBreakerShortCircuits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	spec := sinkSpec("tripping", server.URL, 1)
	spec.Breaker = config.BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}

	pipeline := stats.NewPipeline([]string{"tripping"}, 8)

	router, err := exporter.NewRouter([]config.SinkSpec{spec}, pipeline, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router.Start(ctx)
	router.Dispatch(ctx, logBatch(1, "trips the breaker"))
	router.Dispatch(ctx, logBatch(2, "short-circuited"))

	waitFor(t, "short circuit", func() bool {
		return pipeline.SnapshotSink("tripping").BreakerShortCircuit == 1
	})

	snap := pipeline.SnapshotSink("tripping")
	if snap.BreakerOpens != 1 {
		t.Fatalf("expected 1 breaker open, got %d", snap.BreakerOpens)
	}

	if snap.DeadLettered != 2 {
		t.Fatalf("expected both batches dead-lettered, got %d", snap.DeadLettered)
	}

	err = router.Close(ctx)
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}
