package variables

import (
	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/internal/rules"
	"github.com/rendis/stepcheck/pkg/schema"
)

// SkipKey is the control holding a step's skip rule.
const SkipKey = "skip"

// usage holds the variable paths found in control values, relative to their
// namespace root.
type usage struct {
	payload        []expressions.Path
	subscriberData []expressions.Path
}

// collectUsage scans the controls of every step. The target step's stored
// controls are replaced by overrides when those are given.
func collectUsage(wf *schema.Workflow, target string, overrides map[string]any) *usage {
	u := &usage{}
	idx := wf.IndexOf(target)
	for i, step := range wf.Steps {
		controls := step.Controls
		if i == idx && overrides != nil {
			controls = overrides
		}
		u.scan(controls)
	}
	if idx < 0 && overrides != nil {
		u.scan(overrides)
	}
	return u
}

func (u *usage) scan(controls map[string]any) {
	for k, v := range controls {
		if k == SkipKey {
			u.scanRule(v)
			continue
		}
		u.scanValue(v)
	}
}

func (u *usage) scanValue(v any) {
	switch val := v.(type) {
	case string:
		for _, ref := range expressions.Extract(val, nil).Valid {
			u.add(listPath(ref))
		}
	case map[string]any:
		for _, child := range val {
			u.scanValue(child)
		}
	case []any:
		for _, child := range val {
			u.scanValue(child)
		}
	}
}

// listPath returns the reference path, marked as an array when its first
// filter reduces a list, so {{payload.tags | join}} infers tags as an array.
func listPath(ref expressions.VariableReference) expressions.Path {
	p := ref.Segments
	if len(ref.Filters) == 0 || len(p) == 0 || p[len(p)-1].IsIndex {
		return p
	}
	if !expressions.IsSummarizingFilter(ref.Filters[0].Name) {
		return p
	}
	out := make(expressions.Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, expressions.Segment{IsIndex: true})
}

func (u *usage) scanRule(v any) {
	node, err := rules.Parse(v)
	if err != nil || node == nil {
		return
	}
	for _, path := range rules.Variables(node) {
		p, err := expressions.ParsePath(path)
		if err != nil {
			continue
		}
		u.add(p)
	}
}

func (u *usage) add(p expressions.Path) {
	switch p.Root() {
	case NamespacePayload:
		if len(p) > 1 {
			u.payload = append(u.payload, p[1:])
		}
	case NamespaceSubscriber:
		if len(p) > 2 && !p[1].IsIndex && p[1].Key == "data" {
			u.subscriberData = append(u.subscriberData, p[2:])
		}
	}
}

// inferObject builds the payload schema from usage. The root stays open so
// that keys not yet referenced remain legal; nested objects are closed.
func inferObject(paths []expressions.Path) *schema.Node {
	root := schema.Open()
	for _, p := range paths {
		place(root, p)
	}
	root.Required = root.PropertyNames()
	if len(root.Required) == 0 {
		root.Required = nil
	}
	return root
}

// place inserts p under obj. A path that is a prefix of another becomes an
// object rather than a leaf.
func place(obj *schema.Node, p expressions.Path) {
	if len(p) == 0 || p[0].IsIndex {
		return
	}
	key, rest := p[0].Key, p[1:]

	if len(rest) == 0 {
		if _, ok := obj.Properties[key]; !ok {
			obj.Properties[key] = leaf(key)
		}
		return
	}

	if rest[0].IsIndex {
		arr := obj.Properties[key]
		if arr == nil || arr.Kind != schema.KindArray {
			arr = schema.ArrayOf(nil)
			obj.Properties[key] = arr
		}
		rest = rest[1:]
		if len(rest) == 0 {
			if arr.Items == nil {
				arr.Items = leaf(key)
			}
			return
		}
		if arr.Items == nil || arr.Items.Kind != schema.KindObject {
			arr.Items = schema.Object(nil)
		}
		place(arr.Items, rest)
		return
	}

	child := obj.Properties[key]
	if child == nil || child.Kind != schema.KindObject {
		child = schema.Object(nil)
		obj.Properties[key] = child
	}
	place(child, rest)
}

func leaf(name string) *schema.Node {
	n := schema.String()
	n.Default = name
	return n
}
