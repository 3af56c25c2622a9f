package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/rules"
)

// actionFor maps a violation's mode and severity to its action.
func actionFor(v *Violation) Action {
	switch v.Mode {
	case rules.ModeStrict:
		return ActionBlock
	case rules.ModeAdvisory:
		return ActionWarn
	case rules.ModeAdaptive:
		if v.Severity == rules.SeverityCritical || v.Severity == rules.SeverityHigh {
			return ActionAdapt
		}
		return ActionSuggest
	default:
		// Unknown modes resolve toward the safer outcome.
		return ActionBlock
	}
}

// dispatchOutcome is the enforcement part of a ValidationResult.
type dispatchOutcome struct {
	enforced       []*Violation
	suggestions    []Suggestion
	warnings       []Warning
	adaptedContent *string
	score          float64
	errs           []RuleError
}

// OverrideToken returns the token a warning of ruleID carries for content
// with the given digest. The token is deterministic and correlates an
// override with the warning it answers; it is not a secret and does not
// authorize anything on its own.
func OverrideToken(ruleID, digest string) string {
	return uuid.NewSHA1(idNamespace, []byte(ruleID+":"+digest)).String()
}

// dispatch assigns actions to the violations that survived resolution.
// Violations below the highest blocking tier and suppressed violations are
// reported as suggestions only.
func (e *Engine) dispatch(ctx context.Context, content, digest string, violations []*Violation, suppressed map[string]bool) dispatchOutcome {
	var (
		out     dispatchOutcome
		active  []*Violation
		dropped []*Violation
	)
	for _, v := range violations {
		if suppressed[v.RuleID] {
			dropped = append(dropped, v)
			continue
		}
		v.Action = actionFor(v)
		active = append(active, v)
	}

	enforced, demoted := splitByBlockTier(active)

	var adaptSpans []Span
	var adapting []*Violation
	for _, v := range enforced {
		if v.Action == ActionAdapt {
			adaptSpans = append(adaptSpans, v.Spans...)
			adapting = append(adapting, v)
		}
	}
	if len(adapting) > 0 {
		adapted, err := e.transformer.Transform(ctx, content, adaptSpans)
		if err != nil {
			e.logger.Warn("transformer failed, escalating to block",
				"rules", ruleIDs(adapting),
				"error", err,
			)
			for _, v := range adapting {
				v.Action = ActionBlock
				out.errs = append(out.errs, RuleError{
					RuleID:  v.RuleID,
					Kind:    KindEvaluationFailed,
					Message: fmt.Sprintf("transform failed: %v", err),
				})
			}
			// Escalation may raise the blocking tier.
			var more []*Violation
			enforced, more = splitByBlockTier(enforced)
			demoted = append(demoted, more...)
		} else {
			out.adaptedContent = &adapted
		}
	}

	sortViolations(enforced)
	sortViolations(demoted)
	sortViolations(dropped)

	maxRisk := 0.0
	for _, v := range enforced {
		if risk := v.Severity.Weight() * v.Confidence; risk > maxRisk {
			maxRisk = risk
		}
		out.suggestions = append(out.suggestions, v.suggestions...)

		switch v.Action {
		case ActionWarn:
			out.warnings = append(out.warnings, warningFor(v, digest))
			out.suggestions = append(out.suggestions, ruleSuggestion(v)...)
		case ActionSuggest:
			out.suggestions = append(out.suggestions, ruleSuggestion(v)...)
		}
	}
	for _, v := range demoted {
		v.Action = ""
		out.suggestions = append(out.suggestions, Suggestion{
			Type:        SuggestionLowerTier,
			Title:       fmt.Sprintf("%s (not enforced)", ruleTitle(v)),
			Description: describe(v, "A higher tier blocked this content, so this rule is reported without enforcement."),
			Confidence:  v.Confidence,
			SourceRule:  v.RuleID,
		})
	}
	for _, v := range dropped {
		v.Action = ""
		out.suggestions = append(out.suggestions, Suggestion{
			Type:        SuggestionSuppressed,
			Title:       fmt.Sprintf("%s (suppressed)", ruleTitle(v)),
			Description: describe(v, "Conflict resolution decided against this rule."),
			Confidence:  v.Confidence,
			SourceRule:  v.RuleID,
		})
	}

	out.enforced = enforced
	out.score = round4(1 - maxRisk)
	return out
}

// splitByBlockTier keeps violations at or above the highest tier that
// produced a Block and returns the rest separately.
func splitByBlockTier(vs []*Violation) (kept, below []*Violation) {
	blockTier := 0
	for _, v := range vs {
		if v.Action == ActionBlock && v.Tier.Rank() > blockTier {
			blockTier = v.Tier.Rank()
		}
	}
	for _, v := range vs {
		if v.Tier.Rank() < blockTier {
			below = append(below, v)
		} else {
			kept = append(kept, v)
		}
	}
	return kept, below
}

func warningFor(v *Violation, digest string) Warning {
	w := Warning{RuleID: v.RuleID, Message: v.Message}
	if v.override != rules.OverrideNone && v.override != "" {
		w.OverrideToken = OverrideToken(v.RuleID, digest)
		w.JustificationRequired = v.override == rules.OverrideJustificationRequired
	}
	return w
}

func ruleSuggestion(v *Violation) []Suggestion {
	if v.suggestion == "" {
		return nil
	}
	return []Suggestion{{
		Type:        SuggestionRule,
		Title:       ruleTitle(v),
		Description: v.suggestion,
		Confidence:  v.Confidence,
		SourceRule:  v.RuleID,
	}}
}

func ruleTitle(v *Violation) string {
	if v.Category != "" {
		return fmt.Sprintf("%s: %s", v.Category, v.RuleID)
	}
	return v.RuleID
}

func describe(v *Violation, fallback string) string {
	if v.Message != "" {
		return v.Message + ". " + fallback
	}
	return fallback
}

func round4(f float64) float64 {
	return float64(int64(f*10000+0.5)) / 10000
}

// signalsFor builds the adaptation signals of one evaluation: one dispatched
// signal per enforced violation and one conflict signal per rule involved in
// any conflict.
func signalsFor(enforced []*Violation, conflicts []Conflict, byID map[string]*Violation) []adaptation.Signal {
	var signals []adaptation.Signal
	for _, v := range enforced {
		signals = append(signals, adaptation.Signal{
			RuleID:        v.RuleID,
			RuleVersion:   v.RuleVersion,
			Tier:          v.Tier,
			Kind:          adaptation.SignalDispatched,
			BaseThreshold: v.threshold,
		})
	}

	seen := make(map[string]bool)
	var ids []string
	for _, c := range conflicts {
		for _, id := range c.RuleIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			continue
		}
		signals = append(signals, adaptation.Signal{
			RuleID:        v.RuleID,
			RuleVersion:   v.RuleVersion,
			Tier:          v.Tier,
			Kind:          adaptation.SignalConflict,
			BaseThreshold: v.threshold,
		})
	}
	return signals
}
