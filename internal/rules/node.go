package rules

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rendis/stepcheck/pkg/schema"
)

// Node is a parsed rule tree. The variants are Literal, Var, List and Op.
type Node interface {
	node()
}

// Literal is a constant value, including literal arrays and objects.
type Literal struct {
	Value any
}

// Var reads a value from the evaluation data by dotted path.
type Var struct {
	Path       string
	Default    any
	HasDefault bool
}

// List is an array holding at least one non-literal item.
type List struct {
	Items []Node
}

// Op applies an operator to its operands.
type Op struct {
	Operator string
	Operands []Node
}

func (Literal) node() {}
func (Var) node()     {}
func (List) node()    {}
func (Op) node()      {}

// Parse decodes a JSON-logic rule from a decoded JSON value or raw JSON
// bytes. A single-key object is an operator; {"var": ...} is a variable.
func Parse(v any) (Node, error) {
	switch raw := v.(type) {
	case json.RawMessage:
		return parseJSON(raw)
	case []byte:
		return parseJSON(raw)
	}
	return parse(v)
}

func parseJSON(data []byte) (Node, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "rule is not valid JSON: %s", err.Error()).WithCause(err)
	}
	return parse(v)
}

func parse(v any) (Node, error) {
	switch val := v.(type) {
	case map[string]any:
		return parseObject(val)
	case []any:
		items := make([]Node, len(val))
		literal := true
		for i, item := range val {
			n, err := parse(item)
			if err != nil {
				return nil, err
			}
			if _, ok := n.(Literal); !ok {
				literal = false
			}
			items[i] = n
		}
		if literal {
			return Literal{Value: val}, nil
		}
		return List{Items: items}, nil
	default:
		return Literal{Value: v}, nil
	}
}

func parseObject(m map[string]any) (Node, error) {
	// Only single-key objects are operations; anything else is data, such
	// as the {amount, unit} value of relative-date operators.
	if len(m) != 1 {
		return Literal{Value: m}, nil
	}

	for op, arg := range m {
		if op == "var" {
			return parseVar(arg)
		}
		var operands []Node
		if list, ok := arg.([]any); ok {
			operands = make([]Node, 0, len(list))
			for _, item := range list {
				n, err := parse(item)
				if err != nil {
					return nil, err
				}
				operands = append(operands, n)
			}
		} else {
			n, err := parse(arg)
			if err != nil {
				return nil, err
			}
			operands = []Node{n}
		}
		return Op{Operator: op, Operands: operands}, nil
	}
	return nil, nil
}

func parseVar(arg any) (Node, error) {
	switch a := arg.(type) {
	case []any:
		if len(a) == 0 {
			return Var{}, nil
		}
		path, err := varPath(a[0])
		if err != nil {
			return nil, err
		}
		v := Var{Path: path}
		if len(a) > 1 {
			v.Default, v.HasDefault = a[1], true
		}
		return v, nil
	default:
		path, err := varPath(a)
		if err != nil {
			return nil, err
		}
		return Var{Path: path}, nil
	}
}

func varPath(v any) (string, error) {
	switch p := v.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(p), nil
	default:
		return "", schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("var path must be a string, got %T", v))
	}
}

// Variables lists the distinct variable paths of a rule in the order they appear.
func Variables(n Node) []string {
	var out []string
	seen := map[string]bool{}
	walk(n, func(v Var) {
		if !seen[v.Path] {
			seen[v.Path] = true
			out = append(out, v.Path)
		}
	})
	return out
}

func walk(n Node, visit func(Var)) {
	switch v := n.(type) {
	case Var:
		visit(v)
	case List:
		for _, item := range v.Items {
			walk(item, visit)
		}
	case Op:
		for _, o := range v.Operands {
			walk(o, visit)
		}
	}
}
