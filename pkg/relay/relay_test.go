package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyp3rd/relay/pkg/config"
	"github.com/hyp3rd/relay/pkg/relay"
	"github.com/hyp3rd/relay/pkg/supervisor"
	"github.com/hyp3rd/relay/pkg/telemetry"
)

func testConfig(endpoint string) config.Config {
	cfg := config.DefaultConfig()
	cfg.Receiver.HTTPAddr = "127.0.0.1:0"
	cfg.Introspection.Enabled = false
	cfg.Pipeline.MaxBatchSize = 2
	cfg.Pipeline.MaxBatchAge = 50 * time.Millisecond
	cfg.Sinks = []config.SinkSpec{
		{Name: "collector", Kind: "logs", Type: "http", Endpoint: endpoint},
	}

	return cfg
}

func TestInitWithConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := relay.Init(context.Background(), relay.WithConfig(testConfig(server.URL)))
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	if client.Config().Service.Name != "relay" {
		t.Fatalf("unexpected config: %+v", client.Config())
	}

	err = client.Start(context.Background())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if client.Supervisor().State() != supervisor.StateRunning {
		t.Fatalf("expected running state, got %s", client.Supervisor().State())
	}

	err = client.Shutdown(context.Background())
	if err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestInitRejectsInvalidLoaderConfig(t *testing.T) {
	_, err := relay.Init(context.Background(), relay.WithLoaders(
		config.LoaderFunc(func(context.Context) (map[string]any, error) {
			return map[string]any{"pipeline": map[string]any{"max_batch_size": -1}}, nil
		}),
	))
	if err == nil {
		t.Fatal("expected error for invalid configuration")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := relay.Init(context.Background(), relay.WithConfig(testConfig(server.URL)))
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- client.Run(ctx)
	}()

	// Push one record so the drain has something to flush.
	waitForState(t, client, supervisor.StateRunning)

	_, err = client.Supervisor().Receiver().Ingest(context.Background(), telemetry.KindLogs,
		[]byte(`{"records":[{"time_unix_nano":1700000000000000000,"resource":{"service":"svc"},"severity":"info","body":"x"}]}`))
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if client.Supervisor().State() != supervisor.StateStopped {
		t.Fatalf("expected stopped state, got %s", client.Supervisor().State())
	}
}

func waitForState(t *testing.T, client *relay.Client, want supervisor.State) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if client.Supervisor().State() == want {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for state %s", want)
}
