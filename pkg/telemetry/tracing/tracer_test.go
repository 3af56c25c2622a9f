package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/rulegate/pkg/config"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewWithProvider(tp), recorder
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.TracingConfig
		wantErr     bool
		wantEnabled bool
	}{
		{
			name: "disabled",
			cfg:  config.TracingConfig{Enabled: false},
		},
		{
			name: "always sampler",
			cfg: config.TracingConfig{
				Enabled:     true,
				Sampler:     SamplerAlways,
				Endpoint:    "localhost:4317",
				ServiceName: "rulegate-test",
				OTLP:        config.OTLPConfig{Insecure: true, Timeout: time.Second},
			},
			wantEnabled: true,
		},
		{
			name: "ratio sampler",
			cfg: config.TracingConfig{
				Enabled:     true,
				Sampler:     SamplerRatio,
				SampleRatio: 0.25,
				Endpoint:    "localhost:4317",
				ServiceName: "rulegate-test",
				OTLP:        config.OTLPConfig{Insecure: true, Timeout: time.Second},
			},
			wantEnabled: true,
		},
		{
			name: "invalid ratio",
			cfg: config.TracingConfig{
				Enabled:     true,
				Sampler:     SamplerRatio,
				SampleRatio: 1.5,
				Endpoint:    "localhost:4317",
			},
			wantErr: true,
		},
		{
			name: "unknown sampler",
			cfg: config.TracingConfig{
				Enabled:  true,
				Sampler:  "sometimes",
				Endpoint: "localhost:4317",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := New(context.Background(), tt.cfg, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer tracer.Shutdown(context.Background())

			if tracer.Enabled() != tt.wantEnabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.wantEnabled)
			}
			if !tt.wantEnabled {
				_, span := tracer.Start(context.Background(), SpanEvaluate)
				if span.SpanContext().IsValid() {
					t.Error("disabled tracer should produce noop spans")
				}
				span.End()
			}
		})
	}
}

func TestTracer_NilIsNoop(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.Start(context.Background(), SpanEvaluate)
	if ctx == nil || span == nil {
		t.Fatal("nil tracer should return a usable context and span")
	}
	if span.SpanContext().IsValid() {
		t.Error("nil tracer should produce noop spans")
	}
	span.End()

	if tracer.Enabled() {
		t.Error("nil tracer should report disabled")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestTracer_ParentChild(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	ctx, parent := tracer.Start(context.Background(), SpanEvaluate)
	_, child := tracer.Start(ctx, SpanEvaluateTier)
	child.End()
	parent.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != SpanEvaluateTier || spans[1].Name() != SpanEvaluate {
		t.Fatalf("unexpected span order: %s, %s", spans[0].Name(), spans[1].Name())
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("tier span should be a child of the evaluate span")
	}
}

func TestEvaluationAttributes(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), SpanEvaluate)
	SetEvaluationInput(span, 4, "abc123", 42)
	SetEvaluationResult(span, false, 0.25, 3, 1)
	AddRuleError(span, "broken-regex", "malformed_rule")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attrMap(spans[0].Attributes())

	if got := attrs[AttrSnapshotVersion].AsInt64(); got != 4 {
		t.Errorf("%s = %d, want 4", AttrSnapshotVersion, got)
	}
	if got := attrs[AttrContentDigest].AsString(); got != "abc123" {
		t.Errorf("%s = %q, want abc123", AttrContentDigest, got)
	}
	if got := attrs[AttrValid].AsBool(); got {
		t.Errorf("%s = true, want false", AttrValid)
	}
	if got := attrs[AttrViolations].AsInt64(); got != 3 {
		t.Errorf("%s = %d, want 3", AttrViolations, got)
	}

	events := spans[0].Events()
	if len(events) != 1 || events[0].Name != "rule_error" {
		t.Fatalf("expected one rule_error event, got %v", events)
	}
	eventAttrs := attrMap(events[0].Attributes)
	if eventAttrs[AttrRuleID].AsString() != "broken-regex" {
		t.Errorf("event rule id = %q", eventAttrs[AttrRuleID].AsString())
	}
}

func TestSetError(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), SpanResolve)
	SetError(span, nil)
	SetError(span, errors.New("conflict unresolved"))
	span.End()

	s := recorder.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	if s.Status().Description != "conflict unresolved" {
		t.Errorf("status description = %q", s.Status().Description)
	}
	if len(s.Events()) != 1 {
		t.Errorf("expected one exception event, got %d", len(s.Events()))
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.5, false},
		{SamplerRatio, 0, false},
		{SamplerRatio, -0.1, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		s, err := createSampler(tt.strategy, tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("createSampler(%q, %v) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
		}
		if err == nil && s == nil {
			t.Errorf("createSampler(%q, %v) returned nil sampler", tt.strategy, tt.ratio)
		}
	}
}
