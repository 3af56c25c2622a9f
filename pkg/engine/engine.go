package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/rules"
	"mercator-hq/rulegate/pkg/telemetry/logging"
	"mercator-hq/rulegate/pkg/telemetry/metrics"
	"mercator-hq/rulegate/pkg/telemetry/tracing"
)

// SystemErrorRuleID identifies the blocking violation of a failed evaluation.
const SystemErrorRuleID = "system_error"

// Engine evaluates content against the current rule snapshot, reconciles
// conflicting violations and dispatches enforcement actions.
// It is safe for concurrent use.
type Engine struct {
	cfg         *Config
	source      SnapshotSource
	logger      *slog.Logger
	metrics     *metrics.Collector
	tracer      *tracing.Tracer
	adapt       *adaptation.Store
	classifiers map[string]Classifier
	transformer Transformer
	now         func() time.Time

	compiled  atomic.Pointer[compiledSet]
	compileMu sync.Mutex

	subsMu     sync.RWMutex
	subs       map[uint64]func(DispatchEvent)
	nextSub    uint64
	deliveries sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithAdaptation connects the feedback and adaptation store. Evaluations
// read its published snapshot and feed it signals and resolutions.
func WithAdaptation(s *adaptation.Store) Option {
	return func(e *Engine) { e.adapt = s }
}

// WithClassifier registers a classifier under the name rules refer to.
func WithClassifier(name string, c Classifier) Option {
	return func(e *Engine) { e.classifiers[name] = c }
}

// WithTransformer replaces the default Redactor for Adapt actions.
func WithTransformer(t Transformer) Option {
	return func(e *Engine) { e.transformer = t }
}

// WithClock sets the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine reading rules from source.
func New(cfg *Config, source SnapshotSource, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: snapshot source cannot be nil", ErrInvalidConfig)
	}

	e := &Engine{
		cfg:         cfg,
		source:      source,
		classifiers: make(map[string]Classifier),
		now:         time.Now,
		subs:        make(map[uint64]func(DispatchEvent)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.transformer == nil {
		e.transformer = NewRedactor(cfg.Redaction)
	}
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return *e.cfg }

// Digest returns the content digest reported in results and events.
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Evaluate evaluates content with the configured default strategy.
//
// The returned result is never nil. When err is non-nil the result is the
// fail-closed outcome: invalid, with a single blocking system_error violation.
func (e *Engine) Evaluate(ctx context.Context, content string, c Context) (*ValidationResult, error) {
	return e.evaluate(ctx, content, c, e.cfg.DefaultStrategy)
}

// ResolveConflicts evaluates content resolving conflicts with strategy
// instead of the configured default.
func (e *Engine) ResolveConflicts(ctx context.Context, content string, strategy Strategy, c Context) (*ValidationResult, error) {
	return e.evaluate(ctx, content, c, strategy)
}

// evaluation carries the state of one evaluate call.
type evaluation struct {
	content  string
	digest   string
	context  Context
	strategy Strategy
	version  uint64
	start    time.Time
}

func (e *Engine) evaluate(ctx context.Context, content string, c Context, strategy Strategy) (result *ValidationResult, err error) {
	ev := &evaluation{
		content:  content,
		digest:   Digest(content),
		context:  c,
		strategy: strategy,
		start:    time.Now(),
	}

	ctx, span := e.tracer.Start(ctx, tracing.SpanEvaluate,
		trace.WithAttributes(attribute.String(tracing.AttrStrategy, string(strategy))))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result, err = e.failClosed(ctx, span, ev, newEvalError(KindEvaluationFailed, "", fmt.Errorf("panic: %v", r)))
		}
	}()

	if !strategy.Valid() {
		return e.failClosed(ctx, span, ev, newEvalError(KindEvaluationFailed, "", fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)))
	}

	rs := e.source.Current()
	if rs == nil || rs.Version() == 0 {
		return e.failClosed(ctx, span, ev, newEvalError(KindEvaluationFailed, "", ErrNoSnapshot))
	}
	ev.version = rs.Version()
	ctx = logging.WithSnapshotVersion(ctx, ev.version)
	tracing.SetEvaluationInput(span, ev.version, ev.digest, len(content))

	if limit := e.cfg.MaxContentBytes; limit > 0 && len(content) > limit {
		return e.failClosed(ctx, span, ev, newEvalError(KindEvaluationFailed, "",
			fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrContentTooLarge, len(content), limit)))
	}

	set := e.compiledFor(rs)
	snap := e.adaptSnapshot()

	tiers, err := e.evaluateTiers(ctx, content, set, snap)
	if err != nil {
		return e.failClosed(ctx, span, ev, newEvalError(KindEvaluationFailed, "", err))
	}

	rec, err := e.reconcile(ctx, ev, tiers.violations, snap)
	if err != nil {
		return e.failClosed(ctx, span, ev, err)
	}

	dctx, dspan := e.tracer.Start(ctx, tracing.SpanDispatch)
	disp := e.dispatch(dctx, content, ev.digest, tiers.violations, rec.suppressed)
	dspan.SetAttributes(attribute.Int(tracing.AttrViolations, len(disp.enforced)))
	dspan.End()

	// Nothing is recorded for a call cancelled before this point.
	if err := ctx.Err(); err != nil {
		return e.failClosed(ctx, span, ev, newEvalError(KindEvaluationFailed, "", err))
	}

	result = &ValidationResult{
		Violations:      nonNil(disp.enforced),
		Suggestions:     nonNil(disp.suggestions),
		Warnings:        nonNil(disp.warnings),
		Conflicts:       nonNil(rec.conflicts),
		Resolutions:     nonNil(rec.resolutions),
		AdaptedContent:  disp.adaptedContent,
		Score:           disp.score,
		RulesEvaluated:  tiers.evaluated,
		TiersEvaluated:  tiers.tiers,
		Strategy:        strategy,
		SnapshotVersion: ev.version,
		ContentDigest:   ev.digest,
	}
	result.Errors = append(append(append(result.Errors, tiers.errs...), rec.errs...), disp.errs...)
	result.Valid = !result.Blocked()
	result.ProcessingTime = time.Since(ev.start)

	e.record(ctx, ev, result, rec)

	tracing.SetEvaluationResult(span, result.Valid, result.Score, len(result.Violations), len(result.Conflicts))
	e.metrics.RecordEvaluation(result.Valid, result.ProcessingTime)
	e.logger.DebugContext(ctx, "evaluation complete",
		"valid", result.Valid,
		"violations", len(result.Violations),
		"conflicts", len(result.Conflicts),
		"rules_evaluated", result.RulesEvaluated,
		"duration", result.ProcessingTime,
	)
	return result, nil
}

// reconciled is the output of conflict detection and resolution.
type reconciled struct {
	conflicts   []Conflict
	resolutions []Resolution
	suppressed  map[string]bool
	byID        map[string]*Violation
	errs        []RuleError
}

// reconcile detects conflicts and resolves each with the requested strategy.
// It fails only on an invariant breach.
func (e *Engine) reconcile(ctx context.Context, ev *evaluation, violations []*Violation, snap *adaptation.Snapshot) (reconciled, error) {
	rec := reconciled{
		suppressed: make(map[string]bool),
		byID:       make(map[string]*Violation, len(violations)),
	}
	for _, v := range violations {
		rec.byID[v.RuleID] = v
	}

	_, dspan := e.tracer.Start(ctx, tracing.SpanDetectConflicts)
	rec.conflicts = detectConflicts(violations, ev.context, e.cfg.SemanticThreshold)
	dspan.SetAttributes(attribute.Int(tracing.AttrConflicts, len(rec.conflicts)))
	dspan.End()

	if len(rec.conflicts) == 0 {
		return rec, nil
	}

	_, rspan := e.tracer.Start(ctx, tracing.SpanResolve,
		trace.WithAttributes(attribute.String(tracing.AttrStrategy, string(ev.strategy))))
	defer rspan.End()

	for _, conflict := range rec.conflicts {
		e.metrics.RecordConflict(string(conflict.Kind))

		members := make([]*Violation, 0, len(conflict.RuleIDs))
		for _, id := range conflict.RuleIDs {
			if v, ok := rec.byID[id]; ok {
				members = append(members, v)
			}
		}

		res, err := resolve(conflict, members, ev.context, ev.strategy, snap)
		if err != nil {
			e.logger.WarnContext(ctx, "conflict unresolved, most restrictive violation stands",
				"conflict_id", conflict.ID,
				"kind", string(conflict.Kind),
				"rules", conflict.RuleIDs,
				"error", err,
			)
			e.metrics.RecordRuleError(string(KindConflictUnresolved))
			rec.errs = append(rec.errs, asRuleError(err))
		}
		e.metrics.RecordResolution(string(ev.strategy), string(res.Strategy))

		rec.resolutions = append(rec.resolutions, res)
	}
	rec.suppressed = settle(rec.resolutions, rec.byID)

	if err := checkInvariants(rec.resolutions, rec.byID); err != nil {
		e.logger.ErrorContext(ctx, "invariant violation: strict safety rule suppressed",
			"error", err,
			"strategy", string(ev.strategy),
			"content_digest", ev.digest,
			"conflicts", rec.conflicts,
			"resolutions", rec.resolutions,
		)
		e.metrics.RecordInvariantViolation()
		tracing.SetError(rspan, err)
		return rec, err
	}
	return rec, nil
}

// settle merges the per-conflict decisions into one decision set. One
// overlap group can yield several conflicts whose resolutions disagree, so a
// violation is suppressed only when it loses every conflict it takes part in
// or a context conflict rules it out. A conflict left with no standing member
// keeps its most restrictive applicable one.
func settle(resolutions []Resolution, byID map[string]*Violation) map[string]bool {
	inapplicable := make(map[string]bool)
	won := make(map[string]bool)
	for _, res := range resolutions {
		if res.Kind == ConflictContext {
			for _, id := range res.SuppressedIDs {
				inapplicable[id] = true
			}
			continue
		}
		for _, id := range res.WinnerIDs {
			won[id] = true
		}
	}

	suppressed := make(map[string]bool, len(inapplicable))
	for id := range inapplicable {
		suppressed[id] = true
	}
	for _, res := range resolutions {
		if res.Kind == ConflictContext {
			continue
		}
		for _, id := range res.SuppressedIDs {
			if !won[id] {
				suppressed[id] = true
			}
		}
	}

	for _, res := range resolutions {
		if res.Kind == ConflictContext {
			continue
		}
		var standing bool
		var candidates []*Violation
		for _, id := range append(append([]string(nil), res.WinnerIDs...), res.SuppressedIDs...) {
			if !suppressed[id] {
				standing = true
				break
			}
			if v, ok := byID[id]; ok && !inapplicable[id] {
				candidates = append(candidates, v)
			}
		}
		if !standing {
			if mr := mostRestrictive(candidates); mr != nil {
				delete(suppressed, mr.RuleID)
			}
		}
	}
	return suppressed
}

// record feeds the adaptation store and subscribers. It runs only for
// completed evaluations.
func (e *Engine) record(ctx context.Context, ev *evaluation, result *ValidationResult, rec reconciled) {
	now := e.now()

	for _, v := range result.Violations {
		e.metrics.RecordAction(string(v.Tier), string(v.Action), v.Category)
	}

	if e.adapt != nil {
		for _, sig := range signalsFor(result.Violations, result.Conflicts, rec.byID) {
			sig.At = now
			if !e.adapt.Record(sig) {
				e.logger.WarnContext(ctx, "adaptation signal dropped", "rule_id", sig.RuleID, "kind", string(sig.Kind))
			}
		}
		for _, res := range result.Resolutions {
			e.adapt.AppendResolution(adaptation.ResolutionRecord{
				ConflictID:      res.ConflictID,
				ConflictKind:    string(res.Kind),
				Strategy:        string(res.Strategy),
				WinnerIDs:       res.WinnerIDs,
				SuppressedIDs:   res.SuppressedIDs,
				Justification:   res.Justification,
				SnapshotVersion: ev.version,
				At:              now,
			})
		}
	}

	if len(result.Violations) == 0 {
		return
	}
	events := make([]DispatchEvent, len(result.Violations))
	for i, v := range result.Violations {
		events[i] = DispatchEvent{
			EventID:         uuid.NewString(),
			RuleID:          v.RuleID,
			RuleVersion:     v.RuleVersion,
			Tier:            v.Tier,
			Severity:        v.Severity,
			Category:        v.Category,
			Action:          v.Action,
			Spans:           append([]Span(nil), v.Spans...),
			Confidence:      v.Confidence,
			ContentDigest:   ev.digest,
			SnapshotVersion: ev.version,
			At:              now,
		}
	}
	e.notify(events)
}

// OnViolationDispatched registers fn for every dispatched action. Delivery
// is asynchronous and never blocks evaluation; a panicking subscriber is
// logged and ignored. The returned function unsubscribes.
func (e *Engine) OnViolationDispatched(fn func(DispatchEvent)) (unsubscribe func()) {
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subsMu.Lock()
			delete(e.subs, id)
			e.subsMu.Unlock()
		})
	}
}

// WaitDispatched blocks until every subscriber delivery started so far has
// returned. Hosts call it before closing subscribers such as the audit
// recorder.
func (e *Engine) WaitDispatched() {
	e.deliveries.Wait()
}

func (e *Engine) notify(events []DispatchEvent) {
	e.subsMu.RLock()
	subs := make([]func(DispatchEvent), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subsMu.RUnlock()

	for _, fn := range subs {
		e.deliveries.Add(1)
		go func(fn func(DispatchEvent)) {
			defer e.deliveries.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("dispatch subscriber panicked", "panic", r)
				}
			}()
			for _, ev := range events {
				fn(ev)
			}
		}(fn)
	}
}

// failClosed builds the blocking result of a failed evaluation.
func (e *Engine) failClosed(ctx context.Context, span trace.Span, ev *evaluation, cause error) (*ValidationResult, error) {
	e.logger.ErrorContext(ctx, "evaluation failed, blocking content",
		"error", cause,
		"content_digest", ev.digest,
		"snapshot_version", ev.version,
	)
	tracing.SetError(span, cause)

	result := &ValidationResult{
		Valid: false,
		Violations: []*Violation{{
			RuleID:     SystemErrorRuleID,
			Tier:       rules.TierSafety,
			Severity:   rules.SeverityCritical,
			Mode:       rules.ModeStrict,
			Spans:      []Span{{Start: 0, End: len(ev.content)}},
			Confidence: 1,
			Message:    "evaluation failed",
			Action:     ActionBlock,
		}},
		Suggestions:     []Suggestion{},
		Warnings:        []Warning{},
		Conflicts:       []Conflict{},
		Resolutions:     []Resolution{},
		Score:           0,
		Strategy:        ev.strategy,
		Errors:          []RuleError{asRuleError(cause)},
		SnapshotVersion: ev.version,
		ContentDigest:   ev.digest,
		ProcessingTime:  time.Since(ev.start),
	}
	e.metrics.RecordEvaluation(false, result.ProcessingTime)
	return result, cause
}

func (e *Engine) adaptSnapshot() *adaptation.Snapshot {
	if e.adapt == nil {
		return nil
	}
	return e.adapt.Snapshot()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
