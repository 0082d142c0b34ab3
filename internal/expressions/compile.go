package expressions

import (
	"fmt"
	"slices"
	"strings"
)

// blockTags open a block that must be closed by end<name>.
var blockTags = map[string]bool{
	"if":       true,
	"unless":   true,
	"for":      true,
	"case":     true,
	"capture":  true,
	"raw":      true,
	"comment":  true,
	"tablerow": true,
}

// branchTags are only legal inside specific blocks.
var branchTags = map[string][]string{
	"else":  {"if", "unless", "for", "case"},
	"elsif": {"if", "unless"},
	"when":  {"case"},
}

// Compile checks that raw is a well-formed template: every region is closed,
// blocks are balanced and branch tags sit inside a block that accepts them.
// It returns nil for templates without interpolation.
func Compile(raw string) error {
	if !HasInterpolation(raw) {
		return nil
	}

	var open []string
	for _, t := range lex(raw) {
		text := raw[t.span.Start:t.span.End]
		if !t.closed {
			if t.kind == tokenTag {
				return fmt.Errorf("tag %q not closed", snippet(text))
			}
			return fmt.Errorf("output %q not closed", snippet(text))
		}
		if t.kind != tokenTag {
			continue
		}

		name := tagName(t.inner)
		switch {
		case name == "":
			return fmt.Errorf("empty tag %q", snippet(text))
		case blockTags[name]:
			open = append(open, name)
		case strings.HasPrefix(name, "end") && blockTags[strings.TrimPrefix(name, "end")]:
			want := strings.TrimPrefix(name, "end")
			if len(open) == 0 {
				return fmt.Errorf("unexpected tag %q", name)
			}
			if top := open[len(open)-1]; top != want {
				return fmt.Errorf("tag %q closes %q, expected \"end%s\"", name, want, top)
			}
			open = open[:len(open)-1]
		case branchTags[name] != nil:
			if len(open) == 0 || !slices.Contains(branchTags[name], open[len(open)-1]) {
				return fmt.Errorf("unexpected tag %q", name)
			}
		}
	}
	if len(open) > 0 {
		return fmt.Errorf("tag %q not closed", open[len(open)-1])
	}
	return nil
}
