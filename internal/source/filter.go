package source

import (
	"fmt"
	"regexp"
	"strings"
)

// TranslateFilter rewrites a SQL-style filter expression into an expr-lang
// program evaluated against a feature's property map. Supported constructs
// are the ones the compiler emits: comparison operators, AND/OR/NOT, IN,
// LIKE (with % and _ wildcards), BETWEEN, and IS [NOT] NULL.
func TranslateFilter(where string) (string, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return "true", nil
	}

	where = rewriteBetween(where)

	segments, err := splitLiterals(where)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	patternNext := false

	for _, seg := range segments {
		if seg.literal {
			if patternNext {
				b.WriteString(quoteExprString(sqlPatternToRegex(seg.text)))
				patternNext = false
			} else {
				b.WriteString(quoteExprString(seg.text))
			}
			continue
		}

		rewritten, endsWithMatches, err := rewriteOperators(seg.text)
		if err != nil {
			return "", err
		}
		b.WriteString(rewritten)
		patternNext = endsWithMatches
	}

	return convertInLists(b.String()), nil
}

type segment struct {
	text    string
	literal bool
}

// splitLiterals separates single-quoted SQL string literals (with ''
// escapes) from the surrounding expression text. Literal segments carry the
// unescaped value.
func splitLiterals(s string) ([]segment, error) {
	var segments []segment
	var current strings.Builder

	i := 0
	for i < len(s) {
		c := s[i]
		if c != '\'' {
			current.WriteByte(c)
			i++
			continue
		}

		segments = append(segments, segment{text: current.String()})
		current.Reset()

		i++ // opening quote
		var lit strings.Builder
		closed := false
		for i < len(s) {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					lit.WriteByte('\'')
					i += 2
					continue
				}
				i++
				closed = true
				break
			}
			lit.WriteByte(s[i])
			i++
		}
		if !closed {
			return nil, &Error{Msg: "unterminated string literal in filter"}
		}
		segments = append(segments, segment{text: lit.String(), literal: true})
	}

	if current.Len() > 0 {
		segments = append(segments, segment{text: current.String()})
	}
	return segments, nil
}

var (
	reIsNotNull = regexp.MustCompile(`(?i)\bIS\s+NOT\s+NULL\b`)
	reIsNull    = regexp.MustCompile(`(?i)\bIS\s+NULL\b`)
	reNotIn     = regexp.MustCompile(`(?i)\bNOT\s+IN\b`)
	reNotLike   = regexp.MustCompile(`(?i)\bNOT\s+LIKE\b`)
	reIn        = regexp.MustCompile(`(?i)\bIN\b`)
	reLike      = regexp.MustCompile(`(?i)\bLIKE\b`)
	reAnd       = regexp.MustCompile(`(?i)\bAND\b`)
	reOr        = regexp.MustCompile(`(?i)\bOR\b`)
	reNot       = regexp.MustCompile(`(?i)\bNOT\b`)
	reNull      = regexp.MustCompile(`(?i)\bNULL\b`)
	reBetween   = regexp.MustCompile(`(?i)([A-Za-z_][A-Za-z0-9_]*)\s+BETWEEN\s+('(?:[^']|'')*'|[\w.\-]+)\s+AND\s+('(?:[^']|'')*'|[\w.\-]+)`)
)

func rewriteBetween(s string) string {
	return reBetween.ReplaceAllString(s, "($1 >= $2 && $1 <= $3)")
}

func rewriteOperators(s string) (string, bool, error) {
	if reNotLike.MatchString(s) {
		return "", false, &Error{Msg: "NOT LIKE is not supported by the local feature source"}
	}

	s = reIsNotNull.ReplaceAllString(s, "!= nil")
	s = reIsNull.ReplaceAllString(s, "== nil")
	// Hide "not in" from the bare NOT rewrite below.
	s = reNotIn.ReplaceAllString(s, "\x05")
	s = reIn.ReplaceAllString(s, "in")
	s = reLike.ReplaceAllString(s, "matches")
	s = reAnd.ReplaceAllString(s, "&&")
	s = reOr.ReplaceAllString(s, "||")
	s = reNot.ReplaceAllString(s, "!")
	s = reNull.ReplaceAllString(s, "nil")
	s = strings.ReplaceAll(s, "\x05", "not in")

	// Protect compound operators before widening bare = to ==.
	s = strings.ReplaceAll(s, ">=", "\x01")
	s = strings.ReplaceAll(s, "<=", "\x02")
	s = strings.ReplaceAll(s, "!=", "\x03")
	s = strings.ReplaceAll(s, "<>", "\x03")
	s = strings.ReplaceAll(s, "==", "\x04")
	s = strings.ReplaceAll(s, "=", "==")
	s = strings.ReplaceAll(s, "\x01", ">=")
	s = strings.ReplaceAll(s, "\x02", "<=")
	s = strings.ReplaceAll(s, "\x03", "!=")
	s = strings.ReplaceAll(s, "\x04", "==")

	endsWithMatches := strings.HasSuffix(strings.TrimSpace(s), "matches")
	return s, endsWithMatches, nil
}

// convertInLists turns `x in (a, b)` parenthesized lists into expr array
// syntax `x in [a, b]`. Double-quoted literals are skipped while scanning.
func convertInLists(s string) string {
	var b strings.Builder
	var stack []bool // true when the open paren was converted to a bracket

	i := 0
	for i < len(s) {
		c := s[i]

		switch c {
		case '"':
			b.WriteByte(c)
			i++
			for i < len(s) {
				b.WriteByte(s[i])
				if s[i] == '\\' && i+1 < len(s) {
					i++
					b.WriteByte(s[i])
					i++
					continue
				}
				if s[i] == '"' {
					i++
					break
				}
				i++
			}
			continue
		case '(':
			if strings.HasSuffix(strings.TrimRight(b.String(), " \t"), "in") {
				b.WriteByte('[')
				stack = append(stack, true)
			} else {
				b.WriteByte('(')
				stack = append(stack, false)
			}
		case ')':
			converted := false
			if len(stack) > 0 {
				converted = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			}
			if converted {
				b.WriteByte(']')
			} else {
				b.WriteByte(')')
			}
		default:
			b.WriteByte(c)
		}
		i++
	}

	return b.String()
}

// sqlPatternToRegex converts a LIKE pattern to an anchored regular
// expression: % matches any run, _ matches one character.
func sqlPatternToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, c := range pattern {
		switch c {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}

func quoteExprString(s string) string {
	return fmt.Sprintf("%q", s)
}
