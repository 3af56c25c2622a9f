package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Transformer rewrites the given spans of content for Adapt actions.
type Transformer interface {
	Transform(ctx context.Context, content string, spans []Span) (string, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, content string, spans []Span) (string, error)

// Transform calls f.
func (f TransformerFunc) Transform(ctx context.Context, content string, spans []Span) (string, error) {
	return f(ctx, content, spans)
}

// Redactor is the default Transformer. It rewrites spans with a mask, remove
// or replace strategy.
type Redactor struct {
	cfg RedactionConfig
}

// NewRedactor returns a Redactor for cfg.
func NewRedactor(cfg RedactionConfig) *Redactor {
	return &Redactor{cfg: cfg}
}

// Transform applies the redaction to every span. Overlapping spans are merged
// first so each byte is rewritten once.
func (r *Redactor) Transform(ctx context.Context, content string, spans []Span) (string, error) {
	if err := ctx.Err(); err != nil {
		return content, err
	}

	merged, err := mergeSpans(spans, len(content))
	if err != nil {
		return content, err
	}

	var sb strings.Builder
	sb.Grow(len(content))
	last := 0
	for _, s := range merged {
		sb.WriteString(content[last:s.Start])
		segment := content[s.Start:s.End]
		switch r.cfg.Strategy {
		case RedactMask:
			sb.WriteString(strings.Repeat("*", utf8.RuneCountInString(segment)))
		case RedactRemove:
			// Dropped.
		case RedactReplace:
			replacement := r.cfg.Replacement
			if replacement == "" {
				replacement = "[REDACTED]"
			}
			sb.WriteString(replacement)
		default:
			return content, fmt.Errorf("unknown redaction strategy: %q", r.cfg.Strategy)
		}
		last = s.End
	}
	sb.WriteString(content[last:])
	return sb.String(), nil
}

// mergeSpans sorts spans and merges overlapping or adjacent ones.
func mergeSpans(spans []Span, limit int) ([]Span, error) {
	sorted := append([]Span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []Span
	for _, s := range sorted {
		if s.Start < 0 || s.End > limit || s.Start > s.End {
			return nil, fmt.Errorf("span [%d,%d) outside content of %d bytes", s.Start, s.End, limit)
		}
		if n := len(out); n > 0 && s.Start <= out[n-1].End {
			if s.End > out[n-1].End {
				out[n-1].End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
