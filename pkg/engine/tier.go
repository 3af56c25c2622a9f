package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/rules"
	"mercator-hq/rulegate/pkg/telemetry/tracing"
)

// compiledSet is the compiled form of one rule snapshot.
type compiledSet struct {
	version uint64

	// tiers holds active rules per tier, ordered by severity descending
	// then rule ID ascending.
	tiers map[rules.Tier][]*compiledRule
}

func compileSet(rs *rules.RuleSet, classifiers map[string]Classifier) *compiledSet {
	set := &compiledSet{
		version: rs.Version(),
		tiers:   make(map[rules.Tier][]*compiledRule, len(rules.Tiers)),
	}
	for _, tier := range rules.Tiers {
		var compiled []*compiledRule
		for _, r := range rs.ByTier(tier) {
			if !r.IsActive() {
				continue
			}
			compiled = append(compiled, compileRule(r, classifiers))
		}
		sort.SliceStable(compiled, func(i, j int) bool {
			a, b := compiled[i].rule, compiled[j].rule
			if a.Severity.Rank() != b.Severity.Rank() {
				return a.Severity.Rank() > b.Severity.Rank()
			}
			return a.ID < b.ID
		})
		set.tiers[tier] = compiled
	}
	return set
}

// compiledFor returns the compiled form of rs, compiling it at most once per
// snapshot version.
func (e *Engine) compiledFor(rs *rules.RuleSet) *compiledSet {
	if set := e.compiled.Load(); set != nil && set.version == rs.Version() {
		return set
	}

	e.compileMu.Lock()
	defer e.compileMu.Unlock()
	if set := e.compiled.Load(); set != nil && set.version == rs.Version() {
		return set
	}

	set := compileSet(rs, e.classifiers)
	for _, tier := range rules.Tiers {
		for _, cr := range set.tiers[tier] {
			if cr.err != nil {
				e.logger.Warn("rule failed to compile",
					"rule_id", cr.rule.ID,
					"snapshot_version", rs.Version(),
					"error", cr.err,
				)
			}
		}
	}
	e.compiled.Store(set)
	e.metrics.SetSnapshotVersion(rs.Version())
	e.logger.Info("compiled rule snapshot", "snapshot_version", rs.Version(), "rules", rs.Len())
	return set
}

// tierOutcome is the merged output of all tiers.
type tierOutcome struct {
	violations []*Violation
	evaluated  int
	tiers      []rules.Tier
	errs       []RuleError
}

// evaluateTiers runs Safety, Operational and Preference in that order. Every
// tier is evaluated; a Block in a higher tier only affects dispatch. The
// returned error is non-nil only when ctx is cancelled.
func (e *Engine) evaluateTiers(ctx context.Context, content string, set *compiledSet, snap *adaptation.Snapshot) (tierOutcome, error) {
	var out tierOutcome
	for _, tier := range rules.Tiers {
		if err := e.evaluateTier(ctx, tier, content, set.tiers[tier], snap, &out); err != nil {
			return out, err
		}
		out.tiers = append(out.tiers, tier)
	}
	return out, nil
}

func (e *Engine) evaluateTier(ctx context.Context, tier rules.Tier, content string, compiled []*compiledRule, snap *adaptation.Snapshot, out *tierOutcome) error {
	ctx, span := e.tracer.Start(ctx, tracing.SpanEvaluateTier,
		trace.WithAttributes(attribute.String(tracing.AttrTier, string(tier))))
	defer span.End()

	found := 0
	for _, cr := range compiled {
		if err := ctx.Err(); err != nil {
			tracing.SetError(span, err)
			return err
		}

		r := &cr.rule
		opts := matchOptions{
			threshold:         snap.Threshold(r.ID, r.Version, r.Patterns.Threshold()),
			classifierTimeout: e.cfg.ClassifierTimeout,
		}
		out.evaluated++

		v, err := cr.match(ctx, content, opts)
		if err != nil {
			var ee *EvalError
			if !errors.As(err, &ee) {
				tracing.SetError(span, err)
				return err
			}
			e.ruleError(ctx, span, ee)
			out.errs = append(out.errs, asRuleError(ee))
		}
		if v != nil {
			out.violations = append(out.violations, v)
			found++
		}
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrRulesEvaluated, len(compiled)),
		attribute.Int(tracing.AttrViolations, found),
	)
	return nil
}

// ruleError reports a contained per-rule failure.
func (e *Engine) ruleError(ctx context.Context, span trace.Span, ee *EvalError) {
	level := slog.LevelWarn
	if ee.Kind == KindMalformedRule {
		// Already logged at compile time.
		level = slog.LevelDebug
	}
	e.logger.Log(ctx, level, "rule evaluation failed",
		"rule_id", ee.RuleID,
		"kind", string(ee.Kind),
		"error", ee.Err,
	)
	e.metrics.RecordRuleError(string(ee.Kind))
	tracing.AddRuleError(span, ee.RuleID, string(ee.Kind))
}
