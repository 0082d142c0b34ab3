package validation

import (
	"strconv"
	"strings"

	"github.com/rendis/stepcheck/pkg/schema"
)

// urlFields hold URLs or paths and are trimmed before validation.
var urlFields = map[string]bool{"url": true, "avatar": true}

// Sanitize normalizes control values before validation. Workflows synced
// from code only have blank strings nulled; dashboard-authored workflows go
// through the per-step sanitizer. The input is never modified.
func Sanitize(origin schema.Origin, stepType schema.StepType, controls map[string]any) map[string]any {
	if origin == schema.OriginInternal {
		return sanitizeInternal(stepType, controls)
	}
	return sanitizeExternal(controls)
}

func sanitizeExternal(controls map[string]any) map[string]any {
	out := make(map[string]any, len(controls))
	for k, v := range controls {
		out[k] = blankToNil(v)
	}
	return out
}

func blankToNil(v any) any {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return val
	case map[string]any:
		return sanitizeExternal(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = blankToNil(item)
		}
		return out
	}
	return v
}

func sanitizeInternal(stepType schema.StepType, controls map[string]any) map[string]any {
	out := compact(controls)

	switch stepType {
	case schema.StepTypeInApp:
		for _, key := range []string{"primaryAction", "secondaryAction"} {
			action, ok := out[key].(map[string]any)
			if !ok {
				continue
			}
			dropEmptyRedirect(action)
			if _, hasLabel := action["label"]; !hasLabel {
				delete(out, key)
			}
		}
		dropEmptyRedirect(out)
	case schema.StepTypeDelay:
		coerceAmount(out)
	case schema.StepTypeDigest:
		coerceAmount(out)
		if lb, ok := out["lookBackWindow"].(map[string]any); ok {
			coerceAmount(lb)
		}
		if out["type"] == "timed" {
			delete(out, "amount")
			delete(out, "unit")
			delete(out, "lookBackWindow")
		} else {
			delete(out, "cron")
		}
	}
	return out
}

// compact copies m without nil, blank or empty values and trims url fields.
func compact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok && urlFields[k] {
			v = strings.TrimSpace(s)
		}
		if v = compactValue(v); v != nil {
			out[k] = v
		}
	}
	return out
}

func compactValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
	case map[string]any:
		c := compact(val)
		if len(c) == 0 {
			return nil
		}
		return c
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if item = compactValue(item); item != nil {
				out = append(out, item)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return v
}

// dropEmptyRedirect removes a redirect with no url. m is a sanitizer-owned copy.
func dropEmptyRedirect(m map[string]any) {
	redirect, ok := m["redirect"].(map[string]any)
	if !ok {
		return
	}
	if _, hasURL := redirect["url"]; !hasURL {
		delete(m, "redirect")
	}
}

// coerceAmount turns a numeric amount string into a number. m is a
// sanitizer-owned copy.
func coerceAmount(m map[string]any) {
	s, ok := m["amount"].(string)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		m["amount"] = f
	}
}
