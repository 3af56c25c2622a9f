// Package tracing provides OpenTelemetry tracing for rule evaluation.
//
// An evaluation produces one rulegate.evaluate span with children for each
// tier, conflict detection, resolution, and dispatch. Spans carry the
// snapshot version and content digest but never the content itself.
//
// # Configuration
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    sampler: ratio
//	    sample_ratio: 0.1
//	    endpoint: "localhost:4317"
//	    otlp:
//	      insecure: true
//
// Spans are exported over OTLP gRPC. When tracing is disabled New returns
// a noop tracer, and a nil *Tracer is also valid.
//
// # Sampling
//
// Samplers are parent-based: when the host application already sampled the
// surrounding trace, rulegate spans are recorded regardless of the ratio.
package tracing
