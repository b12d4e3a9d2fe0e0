package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/halo-visibility/internal/logging"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"VIS_TRACING_ENABLED", "VIS_TRACING_EXPORTER", "VIS_TRACING_SERVICE_NAME", "VIS_TRACING_SAMPLE_RATIO", "VIS_OTLP_ENDPOINT"} {
		t.Setenv(k, "")
	}
	cfg := TracingConfigFromEnv()
	if cfg.Enabled || cfg.Exporter != "stdout" || cfg.ServiceName != DefaultServiceName || cfg.SampleRatio != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("VIS_TRACING_ENABLED", "TRUE")
	t.Setenv("VIS_TRACING_EXPORTER", "OTLP")
	t.Setenv("VIS_TRACING_SERVICE_NAME", "vis-batch")
	t.Setenv("VIS_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("VIS_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.ServiceName != "vis-batch" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv("VIS_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio = %v, want fallback 1", got)
	}
}

func TestInitTracingStdoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "GridRunner.Run")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "GridRunner.Run") {
		t.Fatalf("exported spans missing GridRunner.Run: %q", buf.String())
	}
}

func TestInitTracingDisabledAndUnknownExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "ignored")
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a valid span context")
	}

	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected an unsupported exporter error")
	}
}
