package stats_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hyp3rd/relay/pkg/stats"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

func TestUnknownKeysReturnDiscardCounters(t *testing.T) {
	pipeline := stats.NewPipeline([]string{"known"}, 4)

	// Unknown keys must not panic and must not leak into snapshots.
	pipeline.Kind(telemetry.Kind("bogus")).Ingested.Add(5)
	pipeline.Sink("missing").ExportedBatches.Add(5)

	if got := pipeline.SnapshotKind(telemetry.Kind("bogus")).Ingested; got != 0 {
		t.Fatalf("discard counter leaked: %d", got)
	}

	if got := pipeline.SnapshotSink("missing").ExportedBatches; got != 0 {
		t.Fatalf("discard counter leaked: %d", got)
	}
}

func TestDeadLetterHistoryEviction(t *testing.T) {
	pipeline := stats.NewPipeline(nil, 2)

	for seq := range 5 {
		pipeline.RecordDeadLetter(stats.DeadLetter{
			Sink:     "primary",
			Kind:     "logs",
			BatchSeq: uint64(seq),
			Records:  1,
			Reason:   "retries exhausted",
			At:       time.Now(),
		})
	}

	letters := pipeline.DeadLetters()
	if len(letters) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(letters))
	}

	if letters[0].BatchSeq != 3 || letters[1].BatchSeq != 4 {
		t.Fatalf("expected the newest entries retained, got %+v", letters)
	}
}

func TestDeadLetterHistoryDisabled(t *testing.T) {
	pipeline := stats.NewPipeline(nil, 0)

	pipeline.RecordDeadLetter(stats.DeadLetter{Sink: "primary"})

	if got := pipeline.DeadLetters(); len(got) != 0 {
		t.Fatalf("expected no retained entries, got %d", len(got))
	}
}

func TestConcurrentCounterUpdates(t *testing.T) {
	pipeline := stats.NewPipeline([]string{"primary"}, 8)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 1000 {
				pipeline.Kind(telemetry.KindLogs).Ingested.Add(1)
				pipeline.Sink("primary").ExportedRecords.Add(1)
			}
		}()
	}

	wg.Wait()

	if got := pipeline.SnapshotKind(telemetry.KindLogs).Ingested; got != 8000 {
		t.Fatalf("expected 8000 ingested, got %d", got)
	}

	if got := pipeline.SnapshotSink("primary").ExportedRecords; got != 8000 {
		t.Fatalf("expected 8000 exported records, got %d", got)
	}
}
