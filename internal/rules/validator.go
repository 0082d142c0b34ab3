package rules

import (
	"fmt"
	"strings"

	"github.com/rendis/stepcheck/pkg/schema"
)

// Namespaces skip rules may read from. Step outputs are excluded because a
// skip decision is taken before later steps run.
var DefaultNamespaces = []string{"payload.", "subscriber.data."}

// Issue messages.
const (
	MsgValueRequired       = "Value is required"
	MsgInvalidRelativeDate = "Value must be a positive amount with a unit of minutes, hours, days, weeks, months or years"
	MsgInvalidRange        = "Value must be a list of two numbers"
)

// VariableSet answers whether a variable path may be referenced.
type VariableSet interface {
	Contains(path string) bool
}

// Validate walks rule and reports unknown operators, missing values and
// variables outside namespaces or absent from allowed. A nil allowed set
// only checks namespaces.
func Validate(rule Node, allowed VariableSet, namespaces []string) []schema.Issue {
	v := &validator{allowed: allowed, namespaces: namespaces}
	v.node(rule)
	return v.issues
}

type validator struct {
	allowed    VariableSet
	namespaces []string
	issues     []schema.Issue
}

func (v *validator) add(kind schema.IssueKind, msg, variable string) {
	v.issues = append(v.issues, schema.Issue{Message: msg, IssueType: kind, VariableName: variable})
}

func (v *validator) node(n Node) {
	switch val := n.(type) {
	case Var:
		v.variable(val)
	case List:
		for _, item := range val.Items {
			v.node(item)
		}
	case Op:
		v.op(val)
	}
}

func (v *validator) variable(x Var) {
	if strings.TrimSpace(x.Path) == "" {
		v.add(schema.IssueMissingValue, MsgValueRequired, "")
		return
	}
	if !v.inNamespace(x.Path) || (v.allowed != nil && !v.allowed.Contains(x.Path)) {
		v.add(schema.IssueIllegalVariable, fmt.Sprintf("Variable %q is not supported", x.Path), x.Path)
	}
}

func (v *validator) inNamespace(path string) bool {
	for _, ns := range v.namespaces {
		if strings.HasPrefix(path, ns) {
			return true
		}
	}
	return false
}

func (v *validator) op(o Op) {
	_, spec, ok := lookupOperator(o.Operator)
	if !ok {
		v.add(schema.IssueIllegalVariable, fmt.Sprintf("Operator %q is not supported", o.Operator), subjectOf(o))
		return
	}

	n := len(o.Operands)
	if n < spec.minArgs || (spec.maxArgs >= 0 && n > spec.maxArgs) {
		v.add(schema.IssueMissingValue, MsgValueRequired, subjectOf(o))
		for _, operand := range o.Operands {
			v.node(operand)
		}
		return
	}

	switch spec.shape {
	case shapeValue:
		for _, operand := range o.Operands {
			if isEmptyOperand(operand) {
				v.add(schema.IssueMissingValue, MsgValueRequired, subjectOf(o))
				break
			}
		}
	case shapeSubject:
		if isEmptyOperand(o.Operands[0]) {
			v.add(schema.IssueMissingValue, MsgValueRequired, "")
		}
	case shapeRange:
		if isEmptyOperand(o.Operands[0]) {
			v.add(schema.IssueMissingValue, MsgValueRequired, subjectOf(o))
		} else if lit, ok := o.Operands[1].(Literal); ok {
			if _, _, ok := rangeBounds(lit.Value); !ok {
				v.add(schema.IssueMissingValue, MsgInvalidRange, subjectOf(o))
			}
		}
	case shapeRelativeDate:
		if isEmptyOperand(o.Operands[0]) {
			v.add(schema.IssueMissingValue, MsgValueRequired, subjectOf(o))
		} else if lit, ok := o.Operands[1].(Literal); ok {
			if _, ok := parseRelativeDate(lit.Value); !ok {
				v.add(schema.IssueMissingValue, MsgInvalidRelativeDate, subjectOf(o))
			}
		}
	}

	for _, operand := range o.Operands {
		v.node(operand)
	}
}

// isEmptyOperand reports literal operands without a value. Variables with an
// empty path are reported when the variable itself is visited.
func isEmptyOperand(n Node) bool {
	lit, ok := n.(Literal)
	return ok && isEmptyValue(lit.Value)
}

// subjectOf returns the first variable operand of an operation, which is the
// field the condition is about.
func subjectOf(o Op) string {
	for _, operand := range o.Operands {
		if x, ok := operand.(Var); ok {
			return x.Path
		}
	}
	return ""
}
