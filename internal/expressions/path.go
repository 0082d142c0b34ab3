package expressions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/stepcheck/pkg/schema"
)

// Segment is one step of a variable path: an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Path is a parsed variable path such as payload.items[0].name.
type Path []Segment

// Root returns the first segment's key, or "" for an empty path.
func (p Path) Root() string {
	if len(p) == 0 || p[0].IsIndex {
		return ""
	}
	return p[0].Key
}

// String renders the canonical form: identifier-like keys joined with dots,
// indices in brackets and any other key as a quoted bracket.
func (p Path) String() string {
	return p.render(false)
}

// DedupKey is the canonical form with every index collapsed to [0].
func (p Path) DedupKey() string {
	return p.render(true)
}

func (p Path) render(collapse bool) string {
	var b strings.Builder
	for i, seg := range p {
		switch {
		case seg.IsIndex:
			idx := seg.Index
			if collapse {
				idx = 0
			}
			b.WriteString("[")
			b.WriteString(strconv.Itoa(idx))
			b.WriteString("]")
		case isIdentKey(seg.Key):
			if i > 0 {
				b.WriteString(".")
			}
			b.WriteString(seg.Key)
		default:
			b.WriteString("[")
			b.WriteString(strconv.Quote(seg.Key))
			b.WriteString("]")
		}
	}
	return b.String()
}

// Append returns a new path with extra segments.
func (p Path) Append(more ...Segment) Path {
	out := make(Path, 0, len(p)+len(more))
	out = append(out, p...)
	return append(out, more...)
}

// Keys returns the path as jq-friendly components: strings for keys, ints for indices.
func (p Path) Keys() []any {
	out := make([]any, len(p))
	for i, seg := range p {
		if seg.IsIndex {
			out[i] = seg.Index
		} else {
			out[i] = seg.Key
		}
	}
	return out
}

// IsDigestEvents reports whether the path is steps.<id>.events.
func (p Path) IsDigestEvents() bool {
	return len(p) == 3 && p.Root() == "steps" && !p[1].IsIndex && !p[2].IsIndex && p[2].Key == "events"
}

func isIdentKey(k string) bool {
	if k == "" {
		return false
	}
	for i, r := range k {
		switch {
		case r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ParsePath parses a canonical path string: dotted keys, [n] indices and
// ["quoted"] keys. Purely numeric dotted segments are indices.
func ParsePath(s string) (Path, error) {
	var p Path
	i := 0
	expectKey := true
	for i < len(s) {
		switch c := s[i]; {
		case c == '.':
			if expectKey {
				return nil, fmt.Errorf("unexpected '.' at %d", i)
			}
			expectKey = true
			i++
		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end == -1 {
				return nil, fmt.Errorf("unclosed '[' at %d", i)
			}
			inner := s[i+1 : i+end]
			if n, err := strconv.Atoi(inner); err == nil && n >= 0 {
				p = append(p, Segment{Index: n, IsIndex: true})
			} else if key, err := strconv.Unquote(inner); err == nil {
				p = append(p, Segment{Key: key})
			} else if len(inner) >= 2 && inner[0] == '\'' && inner[len(inner)-1] == '\'' {
				p = append(p, Segment{Key: inner[1 : len(inner)-1]})
			} else {
				return nil, fmt.Errorf("invalid bracket segment %q", inner)
			}
			expectKey = false
			i += end + 1
		default:
			if !expectKey {
				return nil, fmt.Errorf("unexpected %q at %d", c, i)
			}
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			key := s[i:j]
			if strings.ContainsAny(key, " \t\n") {
				return nil, fmt.Errorf("segment %q contains whitespace", key)
			}
			if n, err := strconv.Atoi(key); err == nil && n >= 0 && len(p) > 0 {
				p = append(p, Segment{Index: n, IsIndex: true})
			} else {
				p = append(p, Segment{Key: key})
			}
			expectKey = false
			i = j
		}
	}
	if len(p) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	if expectKey {
		return nil, fmt.Errorf("path %q ends with '.'", s)
	}
	return p, nil
}

// Lookup walks root along p. It reports whether the path is legal and the
// node it ends on; the node is nil when the walk passed through an
// open-ended object, after which any remaining segments are legal.
// A nil root accepts every path.
func Lookup(root *schema.Node, p Path) (*schema.Node, bool) {
	cur := root
	for i := 0; i < len(p); {
		if cur == nil {
			return nil, true
		}
		seg := p[i]
		switch cur.Kind {
		case schema.KindObject:
			if cur.OpenEnded() {
				return nil, true
			}
			if !seg.IsIndex {
				if child, ok := cur.Property(seg.Key); ok {
					cur = child
					i++
					continue
				}
			}
			if ap := cur.AdditionalProperties; ap != nil && ap.Schema != nil {
				cur = ap.Schema
				i++
				continue
			}
			return nil, false
		case schema.KindArray:
			if cur.Items == nil {
				return nil, false
			}
			if seg.IsIndex {
				cur = cur.Items
				i++
				continue
			}
			// A key on an array addresses the item schema without consuming an index.
			cur = cur.Items
		default:
			return nil, false
		}
	}
	return cur, true
}
