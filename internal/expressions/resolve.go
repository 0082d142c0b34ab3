package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/rendis/stepcheck/pkg/schema"
)

// resolvePathProgram walks $path through the input. A string key applied to
// an array maps over its items, which is how liquid resolves
// steps.digest.events.payload.name.
const resolvePathProgram = `
def resolve_path($p):
  reduce $p[] as $k (.;
    if . == null then null
    elif type == "array" and ($k | type) == "string" then map(if type == "object" then .[$k] else null end)
    elif type == "array" then .[$k]
    elif type == "object" and ($k | type) == "string" then .[$k]
    else null end);
resolve_path($path)`

// Resolver looks values up in preview and rule data with jq. Compiled
// programs are cached and shared across goroutines.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]*gojq.Code)}
}

// Resolve returns the value at p in data, or nil when any segment is missing.
func (r *Resolver) Resolve(ctx context.Context, p Path, data map[string]any) (any, error) {
	code, err := r.getOrCompile(resolvePathProgram, "$path")
	if err != nil {
		return nil, err
	}
	out, err := first(code.RunWithContext(ctx, normalizeForJQ(data), p.Keys()))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "resolve %s: %s", p, err.Error()).WithCause(err)
	}
	return out, nil
}

// ResolveString parses path and resolves it.
func (r *Resolver) ResolveString(ctx context.Context, path string, data map[string]any) (any, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid path %q: %s", path, err.Error()).WithCause(err)
	}
	return r.Resolve(ctx, p, data)
}

// Query evaluates a jq expression against data. A single output is returned
// as is; several outputs are collected into a slice.
func (r *Resolver) Query(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}
	code, err := r.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalizeForJQ(data))
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func first(iter gojq.Iter) (any, error) {
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, err
	}
	return v, nil
}

func (r *Resolver) getOrCompile(expression string, variables ...string) (*gojq.Code, error) {
	r.mu.RLock()
	if code, ok := r.cache[expression]; ok {
		r.mu.RUnlock()
		return code, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := r.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	opts := []gojq.CompilerOption{
		// No $ENV inside expressions.
		gojq.WithEnvironLoader(func() []string { return nil }),
	}
	if len(variables) > 0 {
		opts = append(opts, gojq.WithVariables(variables))
	}
	code, err := gojq.Compile(query, opts...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	r.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts Go native numbers to float64, which is what jq
// operates on.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeForJQ(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeForJQ(v)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
