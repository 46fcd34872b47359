package tracing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/gamestorm/internal/tracing"
)

func setupTestTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter, tp.Tracer("test")
}

func TestInitDisabledByDefault(t *testing.T) {
	p, err := tracing.Init(context.Background(), tracing.Config{})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if p.Enabled() {
		t.Error("Enabled() = true, want false when tracing disabled")
	}
	_, span := p.Tracer().Start(context.Background(), "test")
	if span.SpanContext().IsValid() {
		t.Error("disabled provider should hand out no-op spans")
	}
	span.End()
}

func TestInitWithEndpointEnablesTracing(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		endpoint string
	}{
		{"grpc", "grpc", "localhost:4317"},
		{"default protocol", "", "localhost:4317"},
		{"http", "http", "localhost:4318"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tracing.Init(context.Background(), tracing.Config{
				Endpoint:    tt.endpoint,
				Protocol:    tt.protocol,
				ServiceName: "test-service",
				SampleRate:  1.0,
				Insecure:    true,
			})
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
			if !p.Enabled() {
				t.Error("Enabled() = false, want true with an endpoint")
			}
		})
	}
}

func TestInitUnsupportedProtocol(t *testing.T) {
	_, err := tracing.Init(context.Background(), tracing.Config{
		Endpoint: "localhost:4317",
		Protocol: "thrift",
		Insecure: true,
	})
	if err == nil {
		t.Fatal("Init() with unsupported protocol should return error")
	}
}

func TestInitInvalidSampleRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
	}{
		{"negative", -0.5},
		{"above one", 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracing.Init(context.Background(), tracing.Config{
				Endpoint:   "localhost:4317",
				Protocol:   "grpc",
				Insecure:   true,
				SampleRate: tt.rate,
			})
			if err == nil {
				t.Fatalf("Init() with sample_rate=%g should return error", tt.rate)
			}
		})
	}
}

func TestNilProviderSafety(t *testing.T) {
	var p *tracing.Provider
	if p.Enabled() {
		t.Error("nil provider Enabled() = true, want false")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider Shutdown() error = %v", err)
	}
	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()
}

func TestSessionSpanLifecycle(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	_, span := tracing.StartSessionSpan(context.Background(), tracer, 7, "127.0.0.1:9000")
	tracing.AddTransition(span, "disconnected", "connecting", 0)
	tracing.AddTransition(span, "connecting", "authenticating", 12*time.Millisecond)
	tracing.EndSpan(span, nil, tracing.SessionResultAttributes("closed", 10, 4)...)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "session" {
		t.Errorf("span name = %q", got.Name)
	}
	if got.Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", got.Status.Code)
	}
	if len(got.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(got.Events))
	}

	attrs := map[string]string{}
	for _, kv := range got.Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"gamestorm.session.id":              "7",
		"server.address":                    "127.0.0.1:9000",
		"gamestorm.session.final_state":     "closed",
		"gamestorm.session.frames_sent":     "10",
		"gamestorm.session.frames_received": "4",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	_, span := tracer.Start(context.Background(), "test-error")
	tracing.EndSpan(span, errors.New("connection refused"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status code = %d, want %d (Error)", spans[0].Status.Code, codes.Error)
	}
}

func TestAddTransitionIgnoresNonRecordingSpan(t *testing.T) {
	tracing.AddTransition(nil, "a", "b", 0)
	tracing.AddTransition(trace.SpanFromContext(context.Background()), "a", "b", 0)
}

func TestRunAttributes(t *testing.T) {
	attrs := tracing.RunAttributes("01ABC", "127.0.0.1:7777", "stress")
	got := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["gamestorm.run.id"] != "01ABC" || got["server.address"] != "127.0.0.1:7777" || got["gamestorm.run.scenario"] != "stress" {
		t.Fatalf("attributes = %v", got)
	}
	if n := len(tracing.RunAttributes("01ABC", "h:1", "")); n != 2 {
		t.Errorf("scenario attribute should be omitted when empty, got %d attributes", n)
	}
}

func TestInitZeroSampleRateDropsSpans(t *testing.T) {
	p, err := tracing.Init(context.Background(), tracing.Config{
		Endpoint:   "localhost:4317",
		Insecure:   true,
		SampleRate: 0,
	}, tracing.RunAttributes("run", "h:1", "")...)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	_, span := p.Tracer().Start(context.Background(), "session")
	if span.IsRecording() {
		t.Error("sample_rate 0 should not record spans")
	}
	span.End()
}
