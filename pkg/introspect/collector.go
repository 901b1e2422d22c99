package introspect

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyp3rd/relay/pkg/stats"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// collector exposes the pipeline counters as Prometheus metrics. The
// counters are atomics, so collection never blocks the hot path.
type collector struct {
	pipeline *stats.Pipeline

	ingested       *prometheus.Desc
	rejected       *prometheus.Desc
	overloaded     *prometheus.Desc
	batchesSealed  *prometheus.Desc
	processed      *prometheus.Desc
	droppedBatches *prometheus.Desc
	droppedRecords *prometheus.Desc

	exportedBatches   *prometheus.Desc
	exportedRecords   *prometheus.Desc
	retriedAttempts   *prometheus.Desc
	deadLettered      *prometheus.Desc
	deadLetterRecords *prometheus.Desc
	queueDrops        *prometheus.Desc
	breakerOpens      *prometheus.Desc
	breakerShort      *prometheus.Desc
}

func newCollector(pipeline *stats.Pipeline) *collector {
	kindLabels := []string{"kind"}
	sinkLabels := []string{"sink"}

	return &collector{
		pipeline: pipeline,

		ingested: prometheus.NewDesc("relay_ingested_records_total",
			"Records accepted at the ingestion endpoint.", kindLabels, nil),
		rejected: prometheus.NewDesc("relay_rejected_records_total",
			"Records refused at the ingestion endpoint.", kindLabels, nil),
		overloaded: prometheus.NewDesc("relay_overloaded_requests_total",
			"Ingest calls refused because the queue was at capacity.", kindLabels, nil),
		batchesSealed: prometheus.NewDesc("relay_batches_sealed_total",
			"Batches sealed by size, age, or flush.", kindLabels, nil),
		processed: prometheus.NewDesc("relay_processed_batches_total",
			"Batches that completed the processor chain.", kindLabels, nil),
		droppedBatches: prometheus.NewDesc("relay_dropped_batches_total",
			"Batches dropped by a processor failure.", kindLabels, nil),
		droppedRecords: prometheus.NewDesc("relay_dropped_records_total",
			"Records dropped by a processor failure.", kindLabels, nil),

		exportedBatches: prometheus.NewDesc("relay_exported_batches_total",
			"Batches delivered to the sink.", sinkLabels, nil),
		exportedRecords: prometheus.NewDesc("relay_exported_records_total",
			"Records delivered to the sink.", sinkLabels, nil),
		retriedAttempts: prometheus.NewDesc("relay_retried_attempts_total",
			"Export attempts beyond the first.", sinkLabels, nil),
		deadLettered: prometheus.NewDesc("relay_dead_lettered_batches_total",
			"Batches abandoned after exhausting retries.", sinkLabels, nil),
		deadLetterRecords: prometheus.NewDesc("relay_dead_lettered_records_total",
			"Records abandoned after exhausting retries.", sinkLabels, nil),
		queueDrops: prometheus.NewDesc("relay_sink_queue_drops_total",
			"Batches dropped because the sink queue was full.", sinkLabels, nil),
		breakerOpens: prometheus.NewDesc("relay_breaker_opens_total",
			"Times the sink circuit breaker opened.", sinkLabels, nil),
		breakerShort: prometheus.NewDesc("relay_breaker_short_circuits_total",
			"Batches refused while the circuit breaker was open.", sinkLabels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.descs() {
		ch <- desc
	}
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, kind := range telemetry.Kinds() {
		snap := c.pipeline.SnapshotKind(kind)
		label := string(kind)

		ch <- counterMetric(c.ingested, snap.Ingested, label)
		ch <- counterMetric(c.rejected, snap.Rejected, label)
		ch <- counterMetric(c.overloaded, snap.Overloaded, label)
		ch <- counterMetric(c.batchesSealed, snap.BatchesSealed, label)
		ch <- counterMetric(c.processed, snap.Processed, label)
		ch <- counterMetric(c.droppedBatches, snap.DroppedBatches, label)
		ch <- counterMetric(c.droppedRecords, snap.DroppedRecords, label)
	}

	for _, name := range c.pipeline.SinkNames() {
		snap := c.pipeline.SnapshotSink(name)

		ch <- counterMetric(c.exportedBatches, snap.ExportedBatches, name)
		ch <- counterMetric(c.exportedRecords, snap.ExportedRecords, name)
		ch <- counterMetric(c.retriedAttempts, snap.RetriedAttempts, name)
		ch <- counterMetric(c.deadLettered, snap.DeadLettered, name)
		ch <- counterMetric(c.deadLetterRecords, snap.DeadLetterRecords, name)
		ch <- counterMetric(c.queueDrops, snap.QueueDrops, name)
		ch <- counterMetric(c.breakerOpens, snap.BreakerOpens, name)
		ch <- counterMetric(c.breakerShort, snap.BreakerShortCircuit, name)
	}
}

func (c *collector) descs() []*prometheus.Desc {
	return []*prometheus.Desc{
		c.ingested, c.rejected, c.overloaded, c.batchesSealed,
		c.processed, c.droppedBatches, c.droppedRecords,
		c.exportedBatches, c.exportedRecords, c.retriedAttempts,
		c.deadLettered, c.deadLetterRecords, c.queueDrops,
		c.breakerOpens, c.breakerShort,
	}
}

func counterMetric(desc *prometheus.Desc, value int64, labels ...string) prometheus.Metric {
	return prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value), labels...)
}
