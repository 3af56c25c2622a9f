// Package engine evaluates text content against a tiered rule snapshot,
// detects conflicts between the rules that fired, resolves them with a
// pluggable strategy and dispatches enforcement actions.
//
// # Evaluation Flow
//
//	content + Context
//	       ↓
//	Tier Evaluator: Safety → Operational → Preference (every tier runs)
//	       ↓
//	Conflict Detector: overlap sweep, rule_rule / priority / semantic / context
//	       ↓
//	Conflict Resolver: strict safety short-circuit, then the requested strategy
//	       ↓
//	Enforcement Dispatcher: block / adapt / warn / suggest
//	       ↓
//	ValidationResult (+ DispatchEvents to the adaptation store and subscribers)
//
// An evaluation captures one rule snapshot and one adaptation snapshot at its
// start. Rules are compiled once per snapshot version and shared by
// concurrent evaluations.
//
// # Guarantees
//
// A Strict Safety violation is never suppressed or downgraded. Resolution
// only ever chooses among the violations of the highest tier in a conflict,
// and violations below the highest blocking tier are reported as suggestions
// rather than enforced.
//
// Per-rule failures (malformed patterns, classifier timeouts) are contained
// and listed in ValidationResult.Errors. A failed evaluation (no snapshot,
// cancellation, invariant breach) returns a fail-closed result with a single
// blocking system_error violation along with the error.
//
// # Basic Usage
//
//	reg := registry.New(source.NewFileSource("rules/", logger))
//	if err := reg.Reload(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := engine.New(engine.DefaultConfig(), reg,
//	    engine.WithLogger(logger),
//	    engine.WithAdaptation(store),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := eng.Evaluate(ctx, text, engine.Context{"domain": "technical"})
//	if !result.Valid {
//	    // blocked
//	}
package engine
