package exporter

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

// httpSink pushes serialized batches at a store's HTTP endpoint. Server
// errors and throttling are retryable; other client errors are permanent
// since the sink will reject the batch on every attempt.
type httpSink struct {
	name     string
	kind     telemetry.Kind
	endpoint string
	client   *http.Client
}

func newHTTPSink(spec config.SinkSpec, kind telemetry.Kind) (Sink, error) {
	if spec.Endpoint == "" {
		return nil, ewrap.Newf("sink %q requires an endpoint", spec.Name)
	}

	return &httpSink{
		name:     spec.Name,
		kind:     kind,
		endpoint: spec.Endpoint,
		client: &http.Client{
			Timeout: spec.Timeout,
		},
	}, nil
}

// Name implements Sink.
func (s *httpSink) Name() string {
	return s.name
}

// Kind implements Sink.
func (s *httpSink) Kind() telemetry.Kind {
	return s.kind
}

// Export implements Sink.
func (s *httpSink) Export(ctx context.Context, batch telemetry.Batch) error {
	payload, err := telemetry.MarshalBatch(batch)
	if err != nil {
		return Permanent(ewrap.Wrap(err, "serialize batch"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Permanent(ewrap.Wrap(err, "build request"))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return ewrap.Wrapf(err, "push batch to %q", s.name)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return statusToError(s.name, resp.StatusCode)
}

// Shutdown implements Sink.
func (s *httpSink) Shutdown(_ context.Context) error {
	s.client.CloseIdleConnections()

	return nil
}

func statusToError(name string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return ewrap.Newf("sink %q responded %d", name, status)
	default:
		return Permanent(ewrap.Newf("sink %q rejected batch with status %d", name, status))
	}
}
