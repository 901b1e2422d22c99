package selfobs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"

	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"

	"github.com/hyp3rd/relay/pkg/config"
)

func newTraceExporter(ctx context.Context, cfg *config.OTLPConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Protocol) {
	case "http", "https":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		} else if tlsCfg, err := tlsConfigFrom(cfg.TLS); err != nil {
			return nil, err
		} else if tlsCfg != nil {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(tlsCfg))
		}

		if cfg.Timeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(cfg.Timeout))
		}

		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}

		if strings.ToLower(cfg.Compression) == "gzip" {
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}

		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, ewrap.Wrap(err, "create otlp http trace exporter")
		}

		return exp, nil
	default:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else if tlsCfg, err := tlsConfigFrom(cfg.TLS); err != nil {
			return nil, err
		} else if tlsCfg != nil {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
		}

		if cfg.Timeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
		}

		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}

		if cfg.Compression != "" {
			opts = append(opts, otlptracegrpc.WithCompressor(strings.ToLower(cfg.Compression)))
		}

		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, ewrap.Wrap(err, "create otlp grpc trace exporter")
		}

		return exp, nil
	}
}

func newMetricExporter(ctx context.Context, cfg *config.OTLPConfig) (sdkmetric.Exporter, error) {
	switch strings.ToLower(cfg.Protocol) {
	case "http", "https":
		opts := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		} else if tlsCfg, err := tlsConfigFrom(cfg.TLS); err != nil {
			return nil, err
		} else if tlsCfg != nil {
			opts = append(opts, otlpmetrichttp.WithTLSClientConfig(tlsCfg))
		}

		if cfg.Timeout > 0 {
			opts = append(opts, otlpmetrichttp.WithTimeout(cfg.Timeout))
		}

		if len(cfg.Headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(cfg.Headers))
		}

		if strings.ToLower(cfg.Compression) == "gzip" {
			opts = append(opts, otlpmetrichttp.WithCompression(otlpmetrichttp.GzipCompression))
		}

		exp, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, ewrap.Wrap(err, "create otlp http metric exporter")
		}

		return exp, nil
	default:
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		} else if tlsCfg, err := tlsConfigFrom(cfg.TLS); err != nil {
			return nil, err
		} else if tlsCfg != nil {
			opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(tlsCfg)))
		}

		if cfg.Timeout > 0 {
			opts = append(opts, otlpmetricgrpc.WithTimeout(cfg.Timeout))
		}

		if len(cfg.Headers) > 0 {
			opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
		}

		if cfg.Compression != "" {
			opts = append(opts, otlpmetricgrpc.WithCompressor(strings.ToLower(cfg.Compression)))
		}

		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, ewrap.Wrap(err, "create otlp grpc metric exporter")
		}

		return exp, nil
	}
}

// tlsConfigFrom builds a tls.Config from the provided TLSConfig. A fully
// empty config yields nil, meaning system defaults.
func tlsConfigFrom(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.Insecure {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		//nolint:gosec // allow insecure skip verify via config.
		InsecureSkipVerify: cfg.Insecure,
	}

	if cfg.CAFile != "" {
		data, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, ewrap.Wrapf(err, "read ca file %s", cfg.CAFile)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, ewrap.Newf("failed to parse ca file %s", cfg.CAFile)
		}

		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, ewrap.New("tls cert_file and key_file must both be set")
		}

		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, ewrap.Wrap(err, "load tls client certificate")
		}

		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
