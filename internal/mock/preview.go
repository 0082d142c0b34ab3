package mock

import "github.com/rendis/stepcheck/pkg/schema"

var previewNamespaces = []string{"subscriber", "payload", "steps"}

// PreviewPayload generates example data for a variable schema and overlays
// the user's example payload on it. The result always carries the
// subscriber, payload and steps keys.
func (g *Generator) PreviewPayload(variables *schema.Node, user map[string]any) map[string]any {
	out, _ := g.Generate(variables).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	for _, ns := range previewNamespaces {
		if _, ok := out[ns].(map[string]any); !ok {
			out[ns] = map[string]any{}
		}
	}
	return Merge(out, user)
}

// Merge deep-merges src over dst and returns a new map. Values from src win;
// nested objects merge key by key while arrays and scalars are replaced
// whole. Neither input is modified.
func Merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = Merge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}
