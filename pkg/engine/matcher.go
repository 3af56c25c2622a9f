package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"mercator-hq/rulegate/pkg/rules"
)

// Confidence assigned to each deterministic detector kind.
const (
	confidenceKeyword   = 0.8
	confidenceRegex     = 0.9
	confidenceParameter = 0.9
)

// MaxConfidence returns the highest confidence the rule's detectors can
// produce. A rule whose threshold exceeds it can never match.
func MaxConfidence(r rules.Rule) float64 {
	if r.Patterns.Classifier != "" {
		return 1
	}
	best := 0.0
	if len(r.Patterns.Keywords) > 0 {
		best = math.Max(best, confidenceKeyword)
	}
	if len(r.Patterns.Regex) > 0 {
		best = math.Max(best, confidenceRegex)
	}
	if _, ok := r.Parameters[rules.ParamMaxQuoteLength]; ok {
		best = math.Max(best, confidenceParameter)
	}
	if _, ok := r.Parameters[rules.ParamMaxWords]; ok {
		best = math.Max(best, confidenceParameter)
	}
	return best
}

// compiledRule is a rule with its patterns compiled once per snapshot.
type compiledRule struct {
	rule       rules.Rule
	keywords   []*regexp.Regexp
	regex      []*regexp.Regexp
	classifier Classifier

	maxQuote    int
	hasMaxQuote bool
	maxWords    int
	hasMaxWords bool

	// err is set when the rule cannot be evaluated. The rule stays in the
	// compiled set so every evaluation reports it.
	err error
}

// compileRule compiles the detection primitives of r. It never fails: a
// malformed rule is returned with err set.
func compileRule(r rules.Rule, classifiers map[string]Classifier) *compiledRule {
	cr := &compiledRule{rule: r}
	fail := func(format string, args ...any) *compiledRule {
		cr.err = newEvalError(KindMalformedRule, r.ID, fmt.Errorf(format, args...))
		return cr
	}

	for _, kw := range r.Patterns.Keywords {
		if kw == "" {
			continue
		}
		cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
	}
	for _, expr := range r.Patterns.Regex {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fail("regex %q: %v", expr, err)
		}
		cr.regex = append(cr.regex, re)
	}

	if name := r.Patterns.Classifier; name != "" {
		c, ok := classifiers[name]
		if !ok || c == nil {
			return fail("unknown classifier %q", name)
		}
		cr.classifier = c
	}

	var err error
	if cr.maxQuote, cr.hasMaxQuote, err = r.IntParameter(rules.ParamMaxQuoteLength); err != nil {
		return fail("%v", err)
	}
	if cr.maxWords, cr.hasMaxWords, err = r.IntParameter(rules.ParamMaxWords); err != nil {
		return fail("%v", err)
	}
	if (cr.hasMaxQuote && cr.maxQuote <= 0) || (cr.hasMaxWords && cr.maxWords <= 0) {
		return fail("word limits must be positive")
	}

	if !r.HasDetector() {
		return fail("rule has no detection primitive")
	}
	return cr
}

// matchOptions carries per-evaluation inputs of the matcher.
type matchOptions struct {
	threshold         float64
	classifierTimeout time.Duration
}

// match evaluates the rule against content and returns zero or one
// violation. A contained failure is returned as *EvalError, possibly next to
// a violation produced by the detectors that did run. Any other error means
// ctx was cancelled.
func (cr *compiledRule) match(ctx context.Context, content string, opts matchOptions) (*Violation, error) {
	if cr.err != nil {
		return nil, cr.err
	}

	var (
		spans       []Span
		detectors   []Detector
		suggestions []Suggestion
		confidence  float64
		contained   error
	)
	fire := func(d Detector, c float64, found []Span) {
		if len(found) == 0 {
			return
		}
		spans = append(spans, found...)
		detectors = append(detectors, d)
		if c > confidence {
			confidence = c
		}
	}

	fire(DetectorKeyword, confidenceKeyword, findAll(cr.keywords, content))
	fire(DetectorRegex, confidenceRegex, findAll(cr.regex, content))

	var paramSpans []Span
	if cr.hasMaxQuote {
		s, sugg := checkQuoteLength(cr.rule.ID, content, cr.maxQuote)
		paramSpans = append(paramSpans, s...)
		suggestions = append(suggestions, sugg...)
	}
	if cr.hasMaxWords {
		s, sugg := checkWordCount(cr.rule.ID, content, cr.maxWords)
		paramSpans = append(paramSpans, s...)
		suggestions = append(suggestions, sugg...)
	}
	fire(DetectorParameter, confidenceParameter, paramSpans)

	if cr.classifier != nil {
		score, err := classify(ctx, cr.classifier, opts.classifierTimeout, cr.rule.ID, content, cr.rule.Category)
		var ee *EvalError
		switch {
		case errors.As(err, &ee):
			contained = err
		case err != nil:
			return nil, err
		case score > 0 && score >= opts.threshold:
			if len(spans) == 0 {
				fire(DetectorClassifier, score, []Span{{Start: 0, End: len(content)}})
			} else {
				detectors = append(detectors, DetectorClassifier)
				if score > confidence {
					confidence = score
				}
			}
		}
	}

	if len(detectors) == 0 || confidence < opts.threshold {
		return nil, contained
	}

	return &Violation{
		RuleID:      cr.rule.ID,
		RuleVersion: cr.rule.Version,
		Tier:        cr.rule.Tier,
		Severity:    cr.rule.Severity,
		Category:    cr.rule.Category,
		Mode:        cr.rule.Mode,
		Spans:       normalizeSpans(spans),
		Confidence:  confidence,
		Detectors:   detectors,
		Message:     cr.rule.Message,
		override:    cr.rule.Override,
		threshold:   cr.rule.Patterns.Threshold(),
		tags:        cr.rule.Tags,
		suggestion:  cr.rule.Suggestion,
		suggestions: suggestions,
	}, contained
}

func findAll(patterns []*regexp.Regexp, content string) []Span {
	var spans []Span
	for _, re := range patterns {
		for _, loc := range re.FindAllStringIndex(content, -1) {
			if loc[1] > loc[0] {
				spans = append(spans, Span{Start: loc[0], End: loc[1]})
			}
		}
	}
	return spans
}
