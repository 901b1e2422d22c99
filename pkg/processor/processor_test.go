package processor_test

import (
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/processor"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

func logRecord(body string, attrs ...attribute.KeyValue) telemetry.Record {
	return telemetry.Record{
		Kind:       telemetry.KindLogs,
		Time:       time.Unix(0, 1700000000000000000),
		Resource:   telemetry.Resource{Service: "svc"},
		Attributes: attrs,
		Log:        &telemetry.Log{Severity: telemetry.SeverityInfo, Body: body},
	}
}

func spanRecord(traceHex string) telemetry.Record {
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		panic(err)
	}

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	if err != nil {
		panic(err)
	}

	return telemetry.Record{
		Kind:     telemetry.KindSpans,
		Time:     time.Unix(0, 1700000000000000000),
		Resource: telemetry.Resource{Service: "svc"},
		Span: &telemetry.Span{
			TraceID: traceID,
			SpanID:  spanID,
			Name:    "op",
			Status:  telemetry.StatusUnset,
		},
	}
}

func logBatch(records ...telemetry.Record) telemetry.Batch {
	return telemetry.Batch{Kind: telemetry.KindLogs, Seq: 1, Records: records}
}

func TestFilterDrop(t *testing.T) {
	chain, err := processor.NewChain([]config.ProcessorSpec{
		{Type: "filter", Action: "drop", Match: map[string]string{"debug": "true"}},
	})
	if err != nil {
		t.Fatalf("NewChain returned error: %v", err)
	}

	batch := logBatch(
		logRecord("keep me"),
		logRecord("drop me", attribute.String("debug", "true")),
		logRecord("keep too", attribute.String("debug", "false")),
	)

	out, err := chain.Process(batch)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if out.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", out.Len())
	}

	for _, record := range out.Records {
		if record.Log.Body == "drop me" {
			t.Fatal("matching record survived a drop filter")
		}
	}
}

func TestFilterKeep(t *testing.T) {
	chain, err := processor.NewChain([]config.ProcessorSpec{
		{Type: "filter", Action: "keep", Match: map[string]string{"tenant": "acme"}},
	})
	if err != nil {
		t.Fatalf("NewChain returned error: %v", err)
	}

	batch := logBatch(
		logRecord("wrong tenant", attribute.String("tenant", "globex")),
		logRecord("right tenant", attribute.String("tenant", "acme")),
		logRecord("no tenant"),
	)

	out, err := chain.Process(batch)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if out.Len() != 1 || out.Records[0].Log.Body != "right tenant" {
		t.Fatalf("unexpected survivors: %+v", out.Records)
	}
}

func TestSamplerDeterministic(t *testing.T) {
	spec := config.ProcessorSpec{Type: "sample", Ratio: 0.5, Seed: 7}

	batch := telemetry.Batch{Kind: telemetry.KindSpans, Seq: 3}
	for i := range 64 {
		batch.Records = append(batch.Records, spanRecord(fmt.Sprintf("%032x", i+1)))
	}

	first, err := runChain(t, spec, batch)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	second, err := runChain(t, spec, batch)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if first.Len() != second.Len() {
		t.Fatalf("sampling not deterministic: %d vs %d survivors", first.Len(), second.Len())
	}

	for idx := range first.Records {
		if first.Records[idx].Span.TraceID != second.Records[idx].Span.TraceID {
			t.Fatal("sampling kept different records across runs")
		}
	}

	if first.Len() == 0 || first.Len() == batch.Len() {
		t.Fatalf("expected a strict subset at ratio 0.5, got %d of %d", first.Len(), batch.Len())
	}
}

func TestSamplerSameTraceSameDecision(t *testing.T) {
	spec := config.ProcessorSpec{Type: "sample", Ratio: 0.5, Seed: 99}

	// Two spans of the same trace must share one decision.
	const traceHex = "0102030405060708090a0b0c0d0e0f10"

	single, err := runChain(t, spec, telemetry.Batch{
		Kind:    telemetry.KindSpans,
		Records: []telemetry.Record{spanRecord(traceHex)},
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	pair, err := runChain(t, spec, telemetry.Batch{
		Kind:    telemetry.KindSpans,
		Records: []telemetry.Record{spanRecord(traceHex), spanRecord(traceHex)},
	})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if pair.Len() != 2*single.Len() {
		t.Fatalf("spans of one trace split decisions: single=%d pair=%d", single.Len(), pair.Len())
	}
}

func TestSamplerFullRatioPassesThrough(t *testing.T) {
	out, err := runChain(t, config.ProcessorSpec{Type: "sample", Ratio: 1}, logBatch(
		logRecord("a"), logRecord("b"),
	))
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if out.Len() != 2 {
		t.Fatalf("ratio 1 dropped records: %d of 2 kept", out.Len())
	}
}

func TestRelabel(t *testing.T) {
	chain, err := processor.NewChain([]config.ProcessorSpec{
		{Type: "relabel", Rename: map[string]string{"env": "environment"}, Drop: []string{"secret"}},
	})
	if err != nil {
		t.Fatalf("NewChain returned error: %v", err)
	}

	batch := logBatch(logRecord("r",
		attribute.String("env", "prod"),
		attribute.String("secret", "hunter2"),
		attribute.String("region", "eu"),
	))

	out, err := chain.Process(batch)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	attrs := out.Records[0].Attributes
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}

	seen := map[string]string{}
	for _, attr := range attrs {
		seen[string(attr.Key)] = attr.Value.Emit()
	}

	if seen["environment"] != "prod" {
		t.Fatalf("rename missing: %v", seen)
	}

	if _, ok := seen["secret"]; ok {
		t.Fatal("dropped attribute survived")
	}
}

func TestRelabelLeavesOriginalRecordUntouched(t *testing.T) {
	chain, err := processor.NewChain([]config.ProcessorSpec{
		{Type: "relabel", Drop: []string{"secret"}},
	})
	if err != nil {
		t.Fatalf("NewChain returned error: %v", err)
	}

	original := logRecord("r", attribute.String("secret", "hunter2"))
	batch := logBatch(original)

	_, err = chain.Process(batch)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if len(original.Attributes) != 1 {
		t.Fatal("processor mutated the input record")
	}
}

func TestChainOrderAndIdentity(t *testing.T) {
	chain, err := processor.NewChain([]config.ProcessorSpec{
		{Type: "relabel", Rename: map[string]string{"env": "environment"}},
		{Type: "filter", Action: "keep", Match: map[string]string{"environment": "prod"}},
	})
	if err != nil {
		t.Fatalf("NewChain returned error: %v", err)
	}

	if chain.Len() != 2 {
		t.Fatalf("expected 2 processors, got %d", chain.Len())
	}

	batch := logBatch(
		logRecord("kept", attribute.String("env", "prod")),
		logRecord("dropped", attribute.String("env", "dev")),
	)

	out, err := chain.Process(batch)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if out.Kind != batch.Kind || out.Seq != batch.Seq {
		t.Fatalf("chain changed batch identity: %+v", out)
	}

	// The rename ran before the filter, so the renamed key matched.
	if out.Len() != 1 || out.Records[0].Log.Body != "kept" {
		t.Fatalf("unexpected survivors: %+v", out.Records)
	}
}

func TestNewChainRejectsUnknownType(t *testing.T) {
	_, err := processor.NewChain([]config.ProcessorSpec{{Type: "redact"}})
	if err == nil {
		t.Fatal("expected error for unknown processor type")
	}
}

func runChain(t *testing.T, spec config.ProcessorSpec, batch telemetry.Batch) (telemetry.Batch, error) {
	t.Helper()

	chain, err := processor.NewChain([]config.ProcessorSpec{spec})
	if err != nil {
		t.Fatalf("NewChain returned error: %v", err)
	}

	return chain.Process(batch)
}
