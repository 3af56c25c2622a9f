package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Pattern is a named redaction rule applied to string attribute values.
type Pattern struct {
	Name        string
	Regex       string
	Replacement string
}

// Redactor masks PII in log attribute values.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternAPIKey      = "api_key"
	PatternBearerToken = "bearer_token"
	PatternEmail       = "email"
	PatternSSN         = "ssn"
	PatternCreditCard  = "credit_card"
	PatternIPv4        = "ipv4"
	PatternPassword    = "password"
)

// Order matters: token patterns run before the numeric ones so that a key
// containing digits is masked as a key.
var defaultPatterns = []Pattern{
	{PatternAPIKey, `(sk-[a-zA-Z0-9]+|api[-_]?key[-_:]\s*[a-zA-Z0-9]+)`, "sk-***"},
	{PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternPassword, `(password|passwd|pwd)[:=]\s*[^\s]+`, "$1: ***"},
	{PatternEmail, `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "***@***"},
	{PatternSSN, `\b\d{3}-\d{2}-\d{4}\b`, "***-**-****"},
	{PatternCreditCard, `\b(?:\d[ -]?){12,15}\d\b`, "****-****-****-****"},
	{PatternIPv4, `\b(?:\d{1,3}\.){3}\d{1,3}\b`, "*.*.*.*"},
}

var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"authorization",
	"private_key", "privatekey",
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// custom ones. An invalid custom pattern is an error.
func NewRedactor(custom ...Pattern) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, redactPattern{
			name:        p.Name,
			regex:       regexp.MustCompile(p.Regex),
			replacement: p.Replacement,
		})
	}
	for _, p := range custom {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, redactPattern{name: p.Name, regex: re, replacement: p.Replacement})
	}
	return r, nil
}

// RedactString masks every pattern match in value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr returns a with its value masked. Attributes whose key names a
// secret are replaced wholesale; other string values are pattern-matched.
// Groups are redacted recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		attrs := v.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			redacted[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	case slog.KindString:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, maskValue(v.String()))
		}
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, "***")
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// maskValue keeps a four character prefix of long values for correlation.
func maskValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "***"
	}
	return v[:4] + "***"
}
