package expressions

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/conf"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/parser"
)

// operand is a parsed output head or filter argument.
type operand struct {
	raw     string
	path    Path
	literal any
	isPath  bool
}

type parsedFilter struct {
	name string
	args []operand
}

type parsedOutput struct {
	head    operand
	filters []parsedFilter
}

// errNotPath marks expressions that parse but are neither literals nor a
// static property chain (arithmetic, calls, computed keys).
var errNotPath = errors.New("not a variable path")

// syntaxError carries a parser message for a malformed region.
type syntaxError struct {
	msg string
}

func (e *syntaxError) Error() string { return e.msg }

// spacedPath matches path-like words separated by whitespace, e.g. "payload.first name".
var spacedPath = regexp.MustCompile(`^[A-Za-z_][\w-]*(?:\.[\w-]+|\[[^\]]*\])*(?:\s+[\w-]+(?:\.[\w-]+|\[[^\]]*\])*)+$`)

var filterName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)

// liquidLiterals are bare words that liquid treats as values, not variables.
var liquidLiterals = map[string]any{"null": nil, "empty": "", "blank": ""}

// bareWord matches a single unqualified name such as foo or first-name.
var bareWord = regexp.MustCompile(`^[A-Za-z_][\w-]*$`)

// isBareIdentifier reports whether head is a lone name without a namespace.
// Literal words and expr keywords like "and" or "in" count as names here.
func isBareIdentifier(head string) bool {
	if !bareWord.MatchString(head) {
		return false
	}
	if _, lit := liquidLiterals[head]; lit {
		return false
	}
	switch head {
	case "true", "false", "nil":
		return false
	}
	return true
}

func parserConfig() *conf.Config {
	return conf.CreateNew()
}

// hasSpacedPath reports whether the head is a path broken by whitespace.
func hasSpacedPath(head string) bool {
	return spacedPath.MatchString(strings.TrimSpace(head))
}

// parseOutput splits an output body into head and filters and parses each
// piece with the expr parser.
func parseOutput(body string) (*parsedOutput, error) {
	pieces := splitTopLevel(body, '|')
	head := strings.TrimSpace(pieces[0])
	if head == "" {
		return nil, &syntaxError{msg: "expected expression before '|'"}
	}

	out := &parsedOutput{}
	h, err := parseOperand(head)
	if err != nil {
		return nil, err
	}
	out.head = h

	for _, piece := range pieces[1:] {
		f, err := parseFilter(piece)
		if err != nil {
			return nil, err
		}
		out.filters = append(out.filters, f)
	}
	return out, nil
}

func parseFilter(piece string) (parsedFilter, error) {
	piece = strings.TrimSpace(piece)
	name := filterName.FindString(piece)
	if name == "" {
		return parsedFilter{}, &syntaxError{msg: fmt.Sprintf("expected filter name after '|', got %q", snippet(piece))}
	}

	rest := strings.TrimSpace(piece[len(name):])
	var argSrc string
	switch {
	case rest == "":
	case rest[0] == ':':
		argSrc = strings.TrimSpace(rest[1:])
		if argSrc == "" {
			return parsedFilter{}, &syntaxError{msg: fmt.Sprintf("filter %q expects arguments after ':'", name)}
		}
	case rest[0] == '(' && rest[len(rest)-1] == ')':
		argSrc = strings.TrimSpace(rest[1 : len(rest)-1])
	default:
		return parsedFilter{}, &syntaxError{msg: fmt.Sprintf("unexpected %q after filter %q", snippet(rest), name)}
	}

	f := parsedFilter{name: name}
	if argSrc == "" {
		return f, nil
	}
	args, err := parseArgs(argSrc)
	if err != nil {
		return parsedFilter{}, err
	}
	f.args = args
	return f, nil
}

func parseOperand(src string) (operand, error) {
	tree, err := parser.ParseWithConfig(normalizeAccess(src), parserConfig())
	if err != nil {
		return operand{}, toSyntaxError(err)
	}
	op, err := toOperand(tree.Node)
	if err != nil {
		return operand{raw: src}, err
	}
	op.raw = src
	return op, nil
}

// parseArgs parses a comma-separated argument list as a single expr array.
func parseArgs(src string) ([]operand, error) {
	tree, err := parser.ParseWithConfig("["+normalizeAccess(src)+"]", parserConfig())
	if err != nil {
		return nil, toSyntaxError(err)
	}
	arr, ok := tree.Node.(*ast.ArrayNode)
	if !ok {
		return nil, &syntaxError{msg: fmt.Sprintf("invalid filter arguments %q", snippet(src))}
	}
	rawArgs := splitTopLevel(src, ',')
	args := make([]operand, 0, len(arr.Nodes))
	for i, n := range arr.Nodes {
		op, err := toOperand(n)
		if err != nil {
			return nil, &syntaxError{msg: fmt.Sprintf("unsupported filter argument %d", i+1)}
		}
		if i < len(rawArgs) {
			op.raw = strings.TrimSpace(rawArgs[i])
		}
		args = append(args, op)
	}
	return args, nil
}

func toSyntaxError(err error) error {
	var fe *file.Error
	if errors.As(err, &fe) {
		return &syntaxError{msg: fe.Message}
	}
	return &syntaxError{msg: err.Error()}
}

func toOperand(node ast.Node) (operand, error) {
	switch n := node.(type) {
	case *ast.StringNode:
		return operand{literal: n.Value}, nil
	case *ast.IntegerNode:
		return operand{literal: n.Value}, nil
	case *ast.FloatNode:
		return operand{literal: n.Value}, nil
	case *ast.BoolNode:
		return operand{literal: n.Value}, nil
	case *ast.NilNode:
		return operand{}, nil
	case *ast.UnaryNode:
		if n.Operator == "-" {
			switch v := n.Node.(type) {
			case *ast.IntegerNode:
				return operand{literal: -v.Value}, nil
			case *ast.FloatNode:
				return operand{literal: -v.Value}, nil
			}
		}
		return operand{}, errNotPath
	case *ast.IdentifierNode:
		if v, ok := liquidLiterals[n.Value]; ok {
			return operand{literal: v}, nil
		}
	}
	p, err := toPath(node)
	if err != nil {
		return operand{}, err
	}
	return operand{path: p, isPath: true}, nil
}

func toPath(node ast.Node) (Path, error) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		return Path{{Key: n.Value}}, nil
	case *ast.MemberNode:
		base, err := toPath(n.Node)
		if err != nil {
			return nil, err
		}
		switch prop := n.Property.(type) {
		case *ast.StringNode:
			return base.Append(Segment{Key: prop.Value}), nil
		case *ast.IntegerNode:
			if prop.Value < 0 {
				return nil, errNotPath
			}
			return base.Append(Segment{Index: prop.Value, IsIndex: true}), nil
		}
	}
	return nil, errNotPath
}

// normalizeAccess rewrites dotted member access into bracket access so that
// liquid keys the expr lexer would reject (hyphens, keywords, numeric
// segments) still parse: steps.digest-step.events[0] becomes
// steps["digest-step"]["events"][0].
func normalizeAccess(src string) string {
	var b strings.Builder
	b.Grow(len(src) + 8)
	member := false
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			j := skipString(src, i)
			b.WriteString(src[i:j])
			i = j
			member = true
		case c == '.' && member && i+1 < len(src) && isSegmentByte(src[i+1]):
			j := i + 1
			for j < len(src) && isSegmentByte(src[j]) {
				j++
			}
			seg := src[i+1 : j]
			if isDigits(seg) {
				b.WriteString("[" + seg + "]")
			} else {
				b.WriteString("[" + strconv.Quote(seg) + "]")
			}
			i = j
		case isDigit(c):
			j := i
			for j < len(src) && (isDigit(src[j]) || src[j] == '.' || src[j] == 'e' || src[j] == 'E' || src[j] == '_') {
				j++
			}
			b.WriteString(src[i:j])
			i = j
			member = false
		case isIdentStart(c):
			j := i
			for j < len(src) && (isIdentStart(src[j]) || isDigit(src[j])) {
				j++
			}
			b.WriteString(src[i:j])
			i = j
			member = true
		case c == ']' || c == ')':
			b.WriteByte(c)
			i++
			member = true
		default:
			b.WriteByte(c)
			i++
			member = false
		}
	}
	return b.String()
}

// splitTopLevel splits s on sep outside quotes and brackets.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, last := 0, 0
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"' || c == '\'':
			i = skipString(s, i)
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
		case c == sep && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
		i++
	}
	return append(parts, s[last:])
}

// skipString returns the index just past the string literal starting at i.
func skipString(s string, i int) int {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		}
	}
	return len(s)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSegmentByte(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '-' || c >= 0x80
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
