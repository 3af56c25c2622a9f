package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanEvaluate        = "rulegate.evaluate"
	SpanEvaluateTier    = "rulegate.evaluate_tier"
	SpanDetectConflicts = "rulegate.detect_conflicts"
	SpanResolve         = "rulegate.resolve"
	SpanDispatch        = "rulegate.dispatch"
	SpanBatch           = "rulegate.batch"
)

// Attribute keys. Content and rule patterns are never recorded.
const (
	AttrSnapshotVersion = "rulegate.snapshot.version"
	AttrContentDigest   = "rulegate.content.digest"
	AttrContentBytes    = "rulegate.content.bytes"
	AttrTier            = "rulegate.tier"
	AttrRulesEvaluated  = "rulegate.rules.evaluated"
	AttrViolations      = "rulegate.violations"
	AttrConflicts       = "rulegate.conflicts"
	AttrStrategy        = "rulegate.strategy"
	AttrValid           = "rulegate.valid"
	AttrScore           = "rulegate.score"
	AttrBatchSize       = "rulegate.batch.size"
	AttrRuleID          = "rulegate.rule.id"
	AttrErrorKind       = "rulegate.error.kind"
)

// SetEvaluationInput records what an evaluation runs against.
func SetEvaluationInput(span trace.Span, snapshotVersion uint64, digest string, contentBytes int) {
	span.SetAttributes(
		attribute.Int64(AttrSnapshotVersion, int64(snapshotVersion)),
		attribute.String(AttrContentDigest, digest),
		attribute.Int(AttrContentBytes, contentBytes),
	)
}

// SetEvaluationResult records the outcome of an evaluation.
func SetEvaluationResult(span trace.Span, valid bool, score float64, violations, conflicts int) {
	span.SetAttributes(
		attribute.Bool(AttrValid, valid),
		attribute.Float64(AttrScore, score),
		attribute.Int(AttrViolations, violations),
		attribute.Int(AttrConflicts, conflicts),
	)
}

// AddRuleError adds an event for a rule that failed to evaluate.
func AddRuleError(span trace.Span, ruleID, kind string) {
	span.AddEvent("rule_error", trace.WithAttributes(
		attribute.String(AttrRuleID, ruleID),
		attribute.String(AttrErrorKind, kind),
	))
}
