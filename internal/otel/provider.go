// Package otel owns the OpenTelemetry log pipeline of the arlink client.
// Instrumented packages record metrics on the global meter provider and
// need no wiring from here.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	DefaultServiceName  = "arlink"
	DefaultBatchTimeout = 5 * time.Second
)

// ErrNoSink is returned when OTel is enabled with neither a log writer nor
// an OTLP endpoint.
var ErrNoSink = errors.New("otel enabled but no log writer or endpoint configured")

// Config holds OTel configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	BatchTimeout   time.Duration
	LogWriter      io.Writer // session log file
	Endpoint       string    // OTLP/HTTP collector, host:port
	Insecure       bool
}

// Provider wraps the SDK logger provider. The zero value and a disabled
// provider are no-ops.
type Provider struct {
	logProvider *sdklog.LoggerProvider
	config      Config
}

// New builds the log pipeline described by cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporters, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, exp := range exporters {
		opts = append(opts, sdklog.WithProcessor(
			sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(cfg.BatchTimeout)),
		))
	}
	p.logProvider = sdklog.NewLoggerProvider(opts...)
	return p, nil
}

func newExporters(ctx context.Context, cfg Config) ([]sdklog.Exporter, error) {
	var out []sdklog.Exporter
	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter))
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		out = append(out, exp)
	}
	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		out = append(out, exp)
	}
	if len(out) == 0 {
		return nil, ErrNoSink
	}
	return out, nil
}

// LoggerProvider returns the provider for the otelslog bridge, or nil when
// disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Meter returns a meter from the global provider.
func (p *Provider) Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Flush exports pending records.
func (p *Provider) Flush(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	if err := p.logProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("log flush failed: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the pipeline. Later calls are no-ops.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.logProvider == nil {
		return nil
	}
	lp := p.logProvider
	p.logProvider = nil
	if err := lp.Shutdown(ctx); err != nil {
		return fmt.Errorf("log shutdown failed: %w", err)
	}
	return nil
}

// Enabled reports whether the pipeline was requested.
func (p *Provider) Enabled() bool {
	return p.config.Enabled
}

// ServiceName returns the resource service name in use.
func (p *Provider) ServiceName() string {
	return p.config.ServiceName
}
