package exporter

import (
	"context"

	"github.com/hyp3rd/ewrap"
	"github.com/segmentio/kafka-go"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// kafkaSink publishes one message per record to a broker topic, keyed by
// the producing service so records from one service stay ordered within
// a partition.
type kafkaSink struct {
	name   string
	kind   telemetry.Kind
	writer kafkaWriter
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newKafkaSink(spec config.SinkSpec, kind telemetry.Kind) (Sink, error) {
	if spec.Endpoint == "" || spec.Topic == "" {
		return nil, ewrap.Newf("sink %q requires a broker endpoint and topic", spec.Name)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(spec.Endpoint),
		Topic:        spec.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: spec.Timeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &kafkaSink{
		name:   spec.Name,
		kind:   kind,
		writer: writer,
	}, nil
}

// newKafkaSinkWith injects a writer, used by tests.
func newKafkaSinkWith(name string, kind telemetry.Kind, writer kafkaWriter) Sink {
	return &kafkaSink{
		name:   name,
		kind:   kind,
		writer: writer,
	}
}

// Name implements Sink.
func (s *kafkaSink) Name() string {
	return s.name
}

// Kind implements Sink.
func (s *kafkaSink) Kind() telemetry.Kind {
	return s.kind
}

// Export implements Sink.
func (s *kafkaSink) Export(ctx context.Context, batch telemetry.Batch) error {
	messages := make([]kafka.Message, 0, batch.Len())

	for idx, record := range batch.Records {
		value, err := telemetry.MarshalRecord(record)
		if err != nil {
			return Permanent(ewrap.Wrapf(err, "serialize record %d", idx))
		}

		messages = append(messages, kafka.Message{
			Key:   []byte(record.Resource.Service),
			Value: value,
		})
	}

	err := s.writer.WriteMessages(ctx, messages...)
	if err != nil {
		return ewrap.Wrapf(err, "publish batch to %q", s.name)
	}

	return nil
}

// Shutdown implements Sink.
func (s *kafkaSink) Shutdown(_ context.Context) error {
	err := s.writer.Close()
	if err != nil {
		return ewrap.Wrapf(err, "close kafka writer for %q", s.name)
	}

	return nil
}
