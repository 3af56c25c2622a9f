package engine

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	straightQuote = regexp.MustCompile(`"([^"]+)"`)
	curlyQuote    = regexp.MustCompile(`“([^”]+)”`)
)

// quote is a quoted segment of content. Span covers the delimiters, Text is
// the quoted words only.
type quote struct {
	Span Span
	Text string
}

// findQuotes returns inline quotes and block quotes in content order.
func findQuotes(content string) []quote {
	var out []quote
	for _, re := range []*regexp.Regexp{straightQuote, curlyQuote} {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			out = append(out, quote{
				Span: Span{Start: m[0], End: m[1]},
				Text: content[m[2]:m[3]],
			})
		}
	}
	out = append(out, findBlockQuotes(content)...)
	return out
}

// findBlockQuotes groups contiguous lines starting with '>' into one quote.
func findBlockQuotes(content string) []quote {
	var (
		out   []quote
		lines []string
		start = -1
		end   int
	)
	flush := func() {
		if start >= 0 {
			out = append(out, quote{Span: Span{Start: start, End: end}, Text: strings.Join(lines, " ")})
		}
		start, lines = -1, nil
	}

	offset := 0
	for offset <= len(content) {
		next := strings.IndexByte(content[offset:], '\n')
		lineEnd := len(content)
		if next >= 0 {
			lineEnd = offset + next
		}
		line := content[offset:lineEnd]
		if body, ok := strings.CutPrefix(strings.TrimLeft(line, " \t"), ">"); ok {
			if start < 0 {
				start = offset
			}
			end = lineEnd
			lines = append(lines, strings.TrimSpace(body))
		} else {
			flush()
		}
		if next < 0 {
			break
		}
		offset = lineEnd + 1
	}
	flush()
	return out
}

// checkQuoteLength fires for every quote longer than maxWords words.
func checkQuoteLength(ruleID, content string, maxWords int) ([]Span, []Suggestion) {
	var (
		spans       []Span
		suggestions []Suggestion
	)
	for _, q := range findQuotes(content) {
		words := strings.Fields(q.Text)
		if len(words) <= maxWords {
			continue
		}
		spans = append(spans, q.Span)
		suggestions = append(suggestions, Suggestion{
			Type:  SuggestionQuote,
			Title: fmt.Sprintf("Quote exceeds %d words", maxWords),
			Description: fmt.Sprintf(
				"The quoted passage has %d words. Attribute it to its source or shorten it to at most %d words.",
				len(words), maxWords),
			Confidence: confidenceParameter,
			SourceRule: ruleID,
			Original:   q.Text,
			Suggested:  strings.Join(words[:maxWords], " ") + "…",
		})
	}
	return spans, suggestions
}

// checkWordCount fires when content has more than maxWords words.
func checkWordCount(ruleID, content string, maxWords int) ([]Span, []Suggestion) {
	n := len(strings.Fields(content))
	if n <= maxWords {
		return nil, nil
	}
	return []Span{{Start: 0, End: len(content)}}, []Suggestion{{
		Type:        SuggestionLength,
		Title:       fmt.Sprintf("Content exceeds %d words", maxWords),
		Description: fmt.Sprintf("The content has %d words. Shorten it to at most %d words.", n, maxWords),
		Confidence:  confidenceParameter,
		SourceRule:  ruleID,
	}}
}
