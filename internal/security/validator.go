// Package security scans query text for injection patterns and structural
// anomalies before and after compilation. The model-produced filter text is
// the primary target since the model is an untrusted producer.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// injectionPatterns block destructive statements, file-write primitives, and
// timing-attack primitives inside filter text.
var injectionPatterns = []string{
	`;\s*DROP\s+`,
	`;\s*DELETE\s+`,
	`;\s*UPDATE\s+`,
	`;\s*INSERT\s+`,
	`;\s*TRUNCATE\s+`,
	`;\s*ALTER\s+`,
	`;\s*CREATE\s+`,
	`;\s*EXEC\s*\(`,
	`--\s*$`,
	`/\*[\s\S]*\*/`,
	`UNION\s+(ALL\s+)?SELECT`,
	`INTO\s+OUTFILE`,
	`INTO\s+DUMPFILE`,
	`LOAD_FILE\s*\(`,
	`BENCHMARK\s*\(`,
	`SLEEP\s*\(`,
	`WAITFOR\s+DELAY`,
}

// Outcome reports what the validator found.
type Outcome struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validator checks query text against an ordered pattern table plus
// structural checks.
type Validator struct {
	patterns  []*regexp.Regexp
	maxLength int
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxLength overrides the length-warning ceiling.
func WithMaxLength(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxLength = n
		}
	}
}

// WithPatterns appends extra injection patterns to the built-in table.
func WithPatterns(patterns ...string) Option {
	return func(v *Validator) {
		for _, p := range patterns {
			v.patterns = append(v.patterns, regexp.MustCompile(`(?i)`+p))
		}
	}
}

// NewValidator creates a validator with the built-in pattern table.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{maxLength: 10000}
	for _, p := range injectionPatterns {
		v.patterns = append(v.patterns, regexp.MustCompile(`(?i)`+p))
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate scans text for injection patterns and structural anomalies.
func (v *Validator) Validate(text string) Outcome {
	var errors, warnings []string

	for _, pattern := range v.patterns {
		if pattern.MatchString(text) {
			errors = append(errors, fmt.Sprintf("potential SQL injection detected: pattern %q", pattern.String()))
		}
	}

	if strings.ContainsRune(text, 0) {
		errors = append(errors, "null byte detected in query")
	}

	if len(text) > v.maxLength {
		warnings = append(warnings, fmt.Sprintf("query exceeds recommended length (%d chars)", v.maxLength))
	}

	// Escaped quotes do not count toward balance.
	singleQuotes := strings.Count(text, "'") - strings.Count(text, `\'`)
	if singleQuotes%2 != 0 {
		errors = append(errors, "unbalanced single quotes in query")
	}

	doubleQuotes := strings.Count(text, `"`) - strings.Count(text, `\"`)
	if doubleQuotes%2 != 0 {
		warnings = append(warnings, "unbalanced double quotes in query")
	}

	if strings.Count(text, "(") != strings.Count(text, ")") {
		errors = append(errors, "unbalanced parentheses in query")
	}

	return Outcome{
		Valid:    len(errors) == 0,
		Errors:   errors,
		Warnings: warnings,
	}
}

// SanitizeStringLiteral makes a value safe for embedding as a single-quoted
// literal: embedded single quotes are doubled and null bytes stripped.
func (v *Validator) SanitizeStringLiteral(value string) string {
	sanitized := strings.ReplaceAll(value, "'", "''")
	return strings.ReplaceAll(sanitized, "\x00", "")
}
