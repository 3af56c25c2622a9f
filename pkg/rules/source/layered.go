package source

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/rulegate/pkg/rules"
)

// Layer is one named level of a layered rule source.
type Layer struct {
	// Name identifies the layer in logs, e.g. "system" or "user".
	Name string

	// Source loads the rules of the layer.
	Source Source
}

// Layered merges several sources. Layers are listed lowest precedence first;
// a rule in a later layer replaces a rule with the same ID from an earlier
// layer. A later layer may not weaken a strict safety rule of an earlier
// layer: such replacements are rejected and the earlier rule is kept.
type Layered struct {
	layers []Layer
	logger *slog.Logger
}

// NewLayered creates a layered source.
func NewLayered(logger *slog.Logger, layers ...Layer) *Layered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layered{layers: layers, logger: logger}
}

// LoadRules loads every layer and returns the flattened rule list in first
// definition order.
func (l *Layered) LoadRules(ctx context.Context) ([]rules.Rule, error) {
	var (
		order  []string
		merged = make(map[string]rules.Rule)
		origin = make(map[string]string)
	)

	for _, layer := range l.layers {
		layerRules, err := layer.Source.LoadRules(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s layer: %w", layer.Name, err)
		}
		for _, r := range layerRules {
			prev, exists := merged[r.ID]
			if !exists {
				order = append(order, r.ID)
				merged[r.ID] = r
				origin[r.ID] = layer.Name
				continue
			}
			if weakens(prev, r) {
				l.logger.Warn("rejected rule override that weakens a safety rule",
					"rule_id", r.ID,
					"layer", layer.Name,
					"defined_in", origin[r.ID],
				)
				continue
			}
			l.logger.Debug("rule overridden by higher layer",
				"rule_id", r.ID,
				"layer", layer.Name,
				"previous_layer", origin[r.ID],
			)
			merged[r.ID] = r
			origin[r.ID] = layer.Name
		}
	}

	out := make([]rules.Rule, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out, nil
}

// weakens reports whether next would relax the protection of a strict
// safety rule prev.
func weakens(prev, next rules.Rule) bool {
	if !prev.IsStrictSafety() {
		return false
	}
	if !next.IsStrictSafety() || !next.IsActive() {
		return true
	}
	return prev.Override == rules.OverrideNone && next.Override != rules.OverrideNone
}
