package exporter

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hyp3rd/relay/pkg/telemetry"
)

type capturingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}

	w.messages = append(w.messages, msgs...)

	return nil
}

func (w *capturingWriter) Close() error {
	w.closed = true

	return nil
}

func metricRecord(service, name string) telemetry.Record {
	return telemetry.Record{
		Kind:     telemetry.KindMetrics,
		Time:     time.Now(),
		Resource: telemetry.Resource{Service: service},
		Metric:   &telemetry.Metric{Name: name, Value: 1, Type: telemetry.MetricCounter},
	}
}

func TestKafkaSinkPublishesOneMessagePerRecord(t *testing.T) {
	writer := &capturingWriter{}
	sink := newKafkaSinkWith("metrics-kafka", telemetry.KindMetrics, writer)

	batch := telemetry.Batch{
		Kind: telemetry.KindMetrics,
		Records: []telemetry.Record{
			metricRecord("checkout", "requests_total"),
			metricRecord("billing", "invoices_total"),
		},
	}

	err := sink.Export(context.Background(), batch)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}

	if len(writer.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(writer.messages))
	}

	if string(writer.messages[0].Key) != "checkout" {
		t.Fatalf("expected message keyed by service, got %q", writer.messages[0].Key)
	}

	err = sink.Shutdown(context.Background())
	if err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}

	if !writer.closed {
		t.Fatal("expected the writer closed on shutdown")
	}
}

func TestKafkaSinkWriteFailureIsRetryable(t *testing.T) {
	writer := &capturingWriter{err: context.DeadlineExceeded}
	sink := newKafkaSinkWith("metrics-kafka", telemetry.KindMetrics, writer)

	err := sink.Export(context.Background(), telemetry.Batch{
		Kind:    telemetry.KindMetrics,
		Records: []telemetry.Record{metricRecord("checkout", "requests_total")},
	})
	if err == nil {
		t.Fatal("expected write error")
	}

	if IsPermanent(err) {
		t.Fatal("broker write failures should stay retryable")
	}
}
