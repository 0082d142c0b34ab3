package rules

import (
	"context"
	"time"

	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/pkg/schema"
)

// Evaluator applies rules to data with the same vocabulary Validate checks.
type Evaluator struct {
	resolver   *expressions.Resolver
	clock      func() time.Time
	tolerances map[Unit]time.Duration
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock sets the source of "now" for relative-date operators.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.clock = now }
}

// WithTolerances replaces the exactlyXAgo tolerance windows. Units missing
// from m fall back to DefaultTolerances.
func WithTolerances(m map[Unit]time.Duration) EvaluatorOption {
	return func(e *Evaluator) { e.tolerances = m }
}

// WithResolver shares a path resolver (and its compiled program cache).
func WithResolver(r *expressions.Resolver) EvaluatorOption {
	return func(e *Evaluator) { e.resolver = r }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{clock: time.Now}
	for _, o := range opts {
		o(e)
	}
	if e.resolver == nil {
		e.resolver = expressions.NewResolver()
	}
	return e
}

func (e *Evaluator) now() time.Time { return e.clock() }

func (e *Evaluator) tolerance(u Unit) time.Duration {
	if d, ok := e.tolerances[u]; ok {
		return d
	}
	return DefaultTolerances[u]
}

// Evaluate applies rule and reports whether the result is truthy.
func (e *Evaluator) Evaluate(ctx context.Context, rule Node, data map[string]any) (bool, error) {
	out, err := e.Apply(ctx, rule, data)
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

// Apply evaluates rule and returns its raw result. Unknown operators are an
// error; operand type mismatches evaluate to false.
func (e *Evaluator) Apply(ctx context.Context, rule Node, data map[string]any) (any, error) {
	switch n := rule.(type) {
	case nil:
		return nil, nil
	case Literal:
		return n.Value, nil
	case Var:
		return e.variable(ctx, n, data)
	case List:
		out := make([]any, len(n.Items))
		for i, item := range n.Items {
			v, err := e.Apply(ctx, item, data)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case Op:
		return e.op(ctx, n, data)
	}
	return nil, schema.NewErrorf(schema.ErrCodeUnsupported, "unsupported rule node %T", rule)
}

func (e *Evaluator) variable(ctx context.Context, v Var, data map[string]any) (any, error) {
	if v.Path == "" {
		return data, nil
	}
	out, err := e.resolver.ResolveString(ctx, v.Path, data)
	if err != nil {
		return nil, err
	}
	if out == nil && v.HasDefault {
		return v.Default, nil
	}
	return out, nil
}

func (e *Evaluator) op(ctx context.Context, o Op, data map[string]any) (any, error) {
	name, spec, ok := lookupOperator(o.Operator)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnsupported, "operator %q is not supported", o.Operator)
	}
	if len(o.Operands) < spec.minArgs || (spec.maxArgs >= 0 && len(o.Operands) > spec.maxArgs) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"operator %q got %d operands", name, len(o.Operands))
	}

	if spec.lazy {
		return e.logic(ctx, name, o.Operands, data)
	}

	args := make([]any, len(o.Operands))
	for i, operand := range o.Operands {
		v, err := e.Apply(ctx, operand, data)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return spec.eval(e, args), nil
}

// logic implements and/or, which return the deciding operand's value.
func (e *Evaluator) logic(ctx context.Context, name string, operands []Node, data map[string]any) (any, error) {
	var last any
	for _, operand := range operands {
		v, err := e.Apply(ctx, operand, data)
		if err != nil {
			return nil, err
		}
		last = v
		if (name == "and") != truthy(v) {
			return v, nil
		}
	}
	return last, nil
}
