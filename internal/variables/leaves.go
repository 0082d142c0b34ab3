package variables

import (
	"sort"
	"strings"

	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/pkg/schema"
)

// Wildcard suffix marking an open object in a leaf list.
const wildcard = ".*"

// LeafPaths lists the variable paths a rule may reference: every primitive
// leaf, every array, and "<prefix>.*" for each open object. Array items
// appear under "[0]". The result is sorted.
func LeafPaths(root *schema.Node) []string {
	var out []string
	collectLeaves(root, nil, &out)
	sort.Strings(out)
	return out
}

func collectLeaves(n *schema.Node, prefix expressions.Path, out *[]string) {
	if n == nil {
		return
	}
	switch n.Kind {
	case schema.KindObject:
		if n.OpenEnded() || (n.AdditionalProperties != nil && n.AdditionalProperties.Schema != nil) {
			if len(prefix) > 0 {
				*out = append(*out, prefix.String()+wildcard)
			}
		}
		for _, name := range n.PropertyNames() {
			child, _ := n.Property(name)
			collectLeaves(child, prefix.Append(expressions.Segment{Key: name}), out)
		}
	case schema.KindArray:
		if len(prefix) > 0 {
			*out = append(*out, prefix.String())
		}
		collectLeaves(n.Items, prefix.Append(expressions.Segment{Index: 0, IsIndex: true}), out)
	default:
		if len(prefix) > 0 {
			*out = append(*out, prefix.String())
		}
	}
}

// AllowedSet answers membership for rule variables, honoring wildcards and
// treating every array index as [0].
type AllowedSet struct {
	exact    map[string]bool
	prefixes []string
}

// NewAllowedSet builds a set from leaf paths such as those of LeafPaths.
func NewAllowedSet(paths []string) *AllowedSet {
	s := &AllowedSet{exact: make(map[string]bool, len(paths))}
	for _, p := range paths {
		if base, ok := strings.CutSuffix(p, wildcard); ok {
			s.prefixes = append(s.prefixes, canonical(base))
			continue
		}
		s.exact[canonical(p)] = true
	}
	return s
}

// Contains reports whether path is allowed.
func (s *AllowedSet) Contains(path string) bool {
	if s == nil {
		return false
	}
	key := canonical(path)
	if s.exact[key] {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(key, p+".") || strings.HasPrefix(key, p+"[") {
			return true
		}
	}
	return false
}

func canonical(path string) string {
	p, err := expressions.ParsePath(path)
	if err != nil {
		return path
	}
	return p.DedupKey()
}
