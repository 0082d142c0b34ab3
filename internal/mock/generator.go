// Package mock synthesizes example data from variable schemas for previews.
// Output depends only on the schema shape and the generator settings.
package mock

import (
	"strconv"
	"strings"
	"time"

	"github.com/rendis/stepcheck/pkg/schema"
)

// DefaultArrayItems is how many items a generated array holds.
const DefaultArrayItems = 2

// DefaultReference anchors every generated date.
var DefaultReference = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

// Generator produces example values for schema nodes. The zero value is not
// usable; call NewGenerator.
type Generator struct {
	// Reference is the instant generated dates and times are derived from.
	Reference time.Time
	// ArrayItems is the length of generated arrays.
	ArrayItems int
}

// NewGenerator returns a Generator with the default reference time and
// array length.
func NewGenerator() *Generator {
	return &Generator{Reference: DefaultReference, ArrayItems: DefaultArrayItems}
}

// Generate returns an example value for n. A nil node yields nil.
func (g *Generator) Generate(n *schema.Node) any {
	return g.value(n, nil)
}

// value builds the example for n found at path. The property name drives the
// heuristics; the whole path seeds id tokens.
func (g *Generator) value(n *schema.Node, path []string) any {
	if n == nil {
		return nil
	}
	if n.Default != nil {
		return n.Default
	}
	if len(n.Enum) > 0 {
		return n.Enum[0]
	}

	key := nameOf(path)

	switch n.Kind {
	case schema.KindObject:
		out := make(map[string]any, len(n.Properties))
		for _, name := range n.PropertyNames() {
			child, _ := n.Property(name)
			out[name] = g.value(child, appendPath(path, name))
		}
		for _, name := range n.Required {
			if _, ok := out[name]; !ok {
				out[name] = g.undeclared(n, appendPath(path, name))
			}
		}
		return out
	case schema.KindArray:
		items := g.ArrayItems
		if items <= 0 {
			items = DefaultArrayItems
		}
		out := make([]any, items)
		for i := range out {
			out[i] = g.value(n.Items, appendPath(path, strconv.Itoa(i)))
		}
		return out
	case schema.KindString:
		return g.stringFor(key, n.Format, strings.Join(path, "."))
	case schema.KindNumber:
		return numberFor(key, n.Integer)
	case schema.KindBoolean:
		return booleanFor(key)
	}
	return nil
}

// undeclared fills a required key that has no property schema. The
// additionalProperties schema shapes it when present; otherwise it is a
// string.
func (g *Generator) undeclared(n *schema.Node, path []string) any {
	if ap := n.AdditionalProperties; ap != nil && ap.Schema != nil {
		return g.value(ap.Schema, path)
	}
	return g.stringFor(nameOf(path), "", strings.Join(path, "."))
}

func appendPath(path []string, seg string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}

// nameOf returns the innermost property name of path. Array items are named
// after their array.
func nameOf(path []string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if _, err := strconv.Atoi(path[i]); err != nil {
			return path[i]
		}
	}
	return ""
}
