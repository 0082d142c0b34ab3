package rules

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are accepted when a string is compared as a date.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch b {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// comparePair coerces two operands to a common comparable form: booleans
// first, then numbers, then dates as epoch milliseconds. Booleans order as
// 0 and 1.
func comparePair(a, b any) (float64, float64, bool) {
	if ba, ok := toBool(a); ok {
		if bb, ok := toBool(b); ok {
			return boolNum(ba), boolNum(bb), true
		}
	}
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na, nb, true
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return float64(ta.UnixMilli()), float64(tb.UnixMilli()), true
		}
	}
	return 0, 0, false
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// strictEqual matches values of the same JSON type. Numbers of any Go
// numeric type compare by value; arrays and objects never match.
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, ok := numeric(a); ok {
		nb, ok := numeric(b)
		return ok && na == nb
	}
	ka, kb := reflect.TypeOf(a).Kind(), reflect.TypeOf(b).Kind()
	if ka != kb {
		return false
	}
	switch ka {
	case reflect.Map, reflect.Slice:
		return false
	}
	return a == b
}

func numeric(v any) (float64, bool) {
	switch v.(type) {
	case string:
		return 0, false
	}
	return toNumber(v)
}

// truthy follows JSON-logic truthiness.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	}
	if n, ok := numeric(v); ok {
		return n != 0
	}
	return true
}

// isEmptyValue reports operands that leave a condition without a value.
func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	}
	return false
}
