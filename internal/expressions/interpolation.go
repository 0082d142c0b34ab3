package expressions

import (
	"strings"
)

// Span is a half-open byte range inside the raw template.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type tokenKind int

const (
	tokenOutput tokenKind = iota // {{ ... }}
	tokenTag                     // {% ... %}
)

// token is one interpolation region found by lex.
type token struct {
	kind   tokenKind
	span   Span
	inner  string // content between the delimiters, whitespace-control markers removed
	closed bool
}

// verbatimTags hold content that is never interpolated.
var verbatimTags = map[string]bool{"raw": true, "comment": true}

// HasInterpolation reports whether raw contains any output or tag region.
func HasInterpolation(raw string) bool {
	return strings.Contains(raw, "{{") || strings.Contains(raw, "{%")
}

// lex scans raw for {{ }} outputs and {% %} tags. An unclosed region becomes
// the final token with closed=false and extends to the end of the input.
// Content inside raw and comment blocks is skipped.
func lex(raw string) []token {
	var tokens []token
	i := 0
	verbatim := ""
	for i < len(raw) {
		out := strings.Index(raw[i:], "{{")
		tag := strings.Index(raw[i:], "{%")
		if out == -1 && tag == -1 {
			break
		}

		kind, open, closer := tokenOutput, out, "}}"
		if out == -1 || (tag != -1 && tag < out) {
			kind, open, closer = tokenTag, tag, "%}"
		}
		start := i + open
		body := start + 2

		end := strings.Index(raw[body:], closer)
		if end == -1 {
			if verbatim == "" {
				tokens = append(tokens, token{
					kind:  kind,
					span:  Span{Start: start, End: len(raw)},
					inner: trimControl(raw[body:]),
				})
			}
			break
		}
		end += body

		t := token{
			kind:   kind,
			span:   Span{Start: start, End: end + len(closer)},
			inner:  trimControl(raw[body:end]),
			closed: true,
		}
		i = t.span.End

		if verbatim != "" {
			// Inside raw/comment only the matching end tag matters.
			if kind == tokenTag && tagName(t.inner) == "end"+verbatim {
				verbatim = ""
				tokens = append(tokens, t)
			}
			continue
		}
		if kind == tokenTag && verbatimTags[tagName(t.inner)] {
			verbatim = tagName(t.inner)
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// trimControl strips liquid whitespace-control dashes ({{- x -}}).
func trimControl(s string) string {
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimSuffix(s, "-")
	return s
}

// tagName returns the first word of a tag body.
func tagName(inner string) string {
	fields := strings.Fields(inner)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// snippet shortens a region for error messages.
func snippet(s string) string {
	const limit = 32
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
