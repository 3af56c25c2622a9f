// Package adaptation implements the feedback and adaptation store.
//
// The store receives signals about rules (dispatches, conflicts, overrides,
// missed detections) and keeps a per-rule state machine:
//
//	stable -> candidate -> adjusted -> stable
//
// A rule becomes a candidate when one of its rates over the rolling window
// crosses the configured threshold. The next recompute commits new
// parameters and the rule is adjusted. After a cooldown without further
// triggering signals it returns to stable, keeping its committed parameters.
//
// Only two parameters are ever adapted: the confidence threshold a match has
// to reach, and the tie-break weight used during conflict resolution. Tier
// and enforcement mode never change, and safety-tier rules are never adapted.
//
// # Lifecycle
//
//	store, err := adaptation.New(ctx, adaptation.DefaultConfig(),
//	    adaptation.WithPersister(persister))
//	sched := adaptation.NewScheduler(store)
//	sched.Start(ctx)
//	...
//	store.Close(ctx) // drain, final recompute, persist
//
// Readers call Snapshot and use the returned immutable view; it is never
// modified after publication.
package adaptation
