package engine

import (
	"context"
	"fmt"
	"strings"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/rules"
)

// OverrideRequest asks to override a warning returned by an evaluation.
type OverrideRequest struct {
	// RuleID is the rule that produced the warning.
	RuleID string

	// Token is the Warning.OverrideToken returned with the warning.
	Token string

	// ContentDigest is ValidationResult.ContentDigest of the evaluation.
	ContentDigest string

	// Justification explains the override. Required by rules with the
	// justification_required policy.
	Justification string
}

// Override honours a warning override according to the rule's override
// policy and records it as feedback for the rule. Strict Safety rules are
// never overridable. Repeated overrides of one rule for the same content
// count as a single override signal within the adaptation window.
func (e *Engine) Override(ctx context.Context, req OverrideRequest) error {
	rs := e.source.Current()
	if rs == nil || rs.Version() == 0 {
		return ErrNoSnapshot
	}

	r, ok := rs.Get(req.RuleID)
	if !ok {
		return fmt.Errorf("%w: unknown rule %q", ErrInvalidOverride, req.RuleID)
	}
	if r.IsStrictSafety() || r.Override == rules.OverrideNone || r.Override == "" {
		return fmt.Errorf("%w: rule %s", ErrOverrideNotAllowed, r.ID)
	}
	if req.Token == "" || req.Token != OverrideToken(r.ID, req.ContentDigest) {
		return fmt.Errorf("%w: token does not match rule %s", ErrInvalidOverride, r.ID)
	}
	if r.Override == rules.OverrideJustificationRequired && strings.TrimSpace(req.Justification) == "" {
		return fmt.Errorf("%w: rule %s", ErrJustificationRequired, r.ID)
	}

	if e.adapt != nil {
		e.adapt.Record(adaptation.Signal{
			RuleID:        r.ID,
			RuleVersion:   r.Version,
			Tier:          r.Tier,
			Kind:          adaptation.SignalOverride,
			BaseThreshold: r.Patterns.Threshold(),
			At:            e.now(),
			Ref:           req.ContentDigest,
		})
	}

	e.logger.InfoContext(ctx, "warning overridden",
		"rule_id", r.ID,
		"rule_version", r.Version,
		"content_digest", req.ContentDigest,
		"justified", req.Justification != "",
	)
	return nil
}
