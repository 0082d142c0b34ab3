package expressions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/stepcheck/pkg/schema"
)

// FilterArg is a literal value or a nested variable reference.
type FilterArg struct {
	Literal any                `json:"literal,omitempty"`
	Ref     *VariableReference `json:"ref,omitempty"`
}

// FilterCall is one filter application on an output.
type FilterCall struct {
	Name string      `json:"name"`
	Args []FilterArg `json:"args,omitempty"`
}

// VariableReference is one variable used by a template.
type VariableReference struct {
	RawExpression string       `json:"rawExpression"`
	Path          string       `json:"path"`
	Segments      Path         `json:"-"`
	Filters       []FilterCall `json:"filters,omitempty"`
	Span          Span         `json:"sourceSpan"`
}

// Reason classifies why a reference is invalid.
type Reason string

const (
	ReasonSyntax      Reason = "syntax"
	ReasonNamespace   Reason = "namespace"
	ReasonWhitespace  Reason = "whitespace"
	ReasonUnsupported Reason = "unsupported"
	ReasonExpression  Reason = "expression"
	ReasonFilter      Reason = "filter"
)

// InvalidReference is a reference that failed a check.
type InvalidReference struct {
	VariableReference
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// Name is the label used in issue messages: the path when known, otherwise
// the raw region text.
func (r InvalidReference) Name() string {
	if r.Path != "" {
		return r.Path
	}
	return r.RawExpression
}

// Result holds the classified references of one template.
type Result struct {
	Valid   []VariableReference `json:"valid"`
	Invalid []InvalidReference  `json:"invalid"`
}

// Messages for invalid references.
const (
	MsgUnsupported   = "is not supported"
	MsgWhitespace    = "contains whitespaces"
	MsgNotExpression = "is not a valid variable expression"
)

// Extractor classifies template variables against a variable schema. It
// holds no mutable state and is safe for concurrent use.
type Extractor struct {
	strictFilters bool
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithStrictFilters reports filters missing from the filter table.
func WithStrictFilters(strict bool) ExtractorOption {
	return func(e *Extractor) { e.strictFilters = strict }
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{}
	for _, o := range opts {
		o(e)
	}
	return e
}

var defaultExtractor = NewExtractor()

// Extract classifies every variable in raw against root using default options.
func Extract(raw string, root *schema.Node) Result {
	return defaultExtractor.Extract(raw, root)
}

// Extract classifies every variable in raw against root. A nil root accepts
// any namespaced path, which is how usage is collected for payload inference.
func (e *Extractor) Extract(raw string, root *schema.Node) Result {
	res := Result{Valid: []VariableReference{}, Invalid: []InvalidReference{}}
	if !strings.Contains(raw, "{{") {
		return res
	}

	c := &collector{seen: map[string]bool{}, res: &res}
	for _, t := range lex(raw) {
		if t.kind != tokenOutput {
			continue
		}
		text := raw[t.span.Start:t.span.End]
		if !t.closed {
			c.invalid(InvalidReference{
				VariableReference: VariableReference{RawExpression: text, Span: t.span},
				Reason:            ReasonSyntax,
				Message:           fmt.Sprintf("output %q not closed", snippet(text)),
			}, text)
			continue
		}
		e.classify(c, raw, t, root)
	}
	return res
}

// collector deduplicates references by canonical path; the first occurrence
// of a path wins, whether it was valid or not.
type collector struct {
	seen map[string]bool
	res  *Result
}

func (c *collector) valid(ref VariableReference) {
	key := ref.Segments.DedupKey()
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.res.Valid = append(c.res.Valid, ref)
}

func (c *collector) invalid(ref InvalidReference, key string) {
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.res.Invalid = append(c.res.Invalid, ref)
}

func (e *Extractor) classify(c *collector, raw string, t token, root *schema.Node) {
	text := raw[t.span.Start:t.span.End]
	body := strings.TrimSpace(t.inner)
	if body == "" {
		return
	}
	base := VariableReference{RawExpression: text, Span: t.span}

	head := strings.TrimSpace(splitTopLevel(body, '|')[0])
	if hasSpacedPath(head) {
		ref := base
		ref.Path = head
		c.invalid(InvalidReference{VariableReference: ref, Reason: ReasonWhitespace, Message: MsgWhitespace}, head)
		return
	}

	if isBareIdentifier(head) {
		ref := base
		ref.Path = head
		ref.Segments = Path{{Key: head}}
		c.invalid(InvalidReference{VariableReference: ref, Reason: ReasonNamespace, Message: namespaceHint(head)}, ref.Segments.DedupKey())
		return
	}

	out, err := parseOutput(body)
	if err != nil {
		ref := base
		reason, msg := ReasonSyntax, err.Error()
		if errors.Is(err, errNotPath) {
			ref.Path = head
			reason, msg = ReasonExpression, MsgNotExpression
		}
		c.invalid(InvalidReference{VariableReference: ref, Reason: reason, Message: msg}, text)
		return
	}

	var nested []VariableReference
	filters := make([]FilterCall, 0, len(out.filters))
	for _, f := range out.filters {
		call := FilterCall{Name: f.name}
		for _, a := range f.args {
			if !a.isPath {
				call.Args = append(call.Args, FilterArg{Literal: a.literal})
				continue
			}
			ref := VariableReference{
				RawExpression: text,
				Path:          a.path.String(),
				Segments:      a.path,
				Span:          t.span,
			}
			call.Args = append(call.Args, FilterArg{Ref: &ref})
			nested = append(nested, ref)
		}
		filters = append(filters, call)
	}

	if out.head.isPath {
		ref := base
		ref.Path = out.head.path.String()
		ref.Segments = out.head.path
		ref.Filters = filters
		e.classifyHead(c, ref, root)
	}

	for _, ref := range nested {
		if _, ok := Lookup(root, ref.Segments); ok && len(ref.Segments) > 1 {
			c.valid(ref)
			continue
		}
		c.invalid(InvalidReference{VariableReference: ref, Reason: ReasonUnsupported, Message: MsgUnsupported}, ref.Segments.DedupKey())
	}
}

func (e *Extractor) classifyHead(c *collector, ref VariableReference, root *schema.Node) {
	key := ref.Segments.DedupKey()
	if len(ref.Segments) == 1 {
		c.invalid(InvalidReference{
			VariableReference: ref,
			Reason:            ReasonNamespace,
			Message:           namespaceHint(ref.Segments.Root()),
		}, key)
		return
	}

	node, ok := Lookup(root, ref.Segments)
	if !ok {
		c.invalid(InvalidReference{VariableReference: ref, Reason: ReasonUnsupported, Message: MsgUnsupported}, key)
		return
	}

	digestEvents := ref.Segments.IsDigestEvents()
	var composites []VariableReference
	for _, f := range ref.Filters {
		spec, known := filterTable[f.Name]
		if !known {
			if e.strictFilters {
				c.invalid(filterIssue(ref, fmt.Sprintf("%s is not a supported filter", f.Name)), filterKey(f.Name, key))
				return
			}
			continue
		}
		if msg := spec.checkArgs(f.Name, f.Args, digestEvents); msg != "" {
			c.invalid(filterIssue(ref, msg), filterKey(f.Name, key))
			return
		}

		kp, has := spec.keyPathArg(f.Args)
		if !has || node == nil || node.Kind != schema.KindArray {
			continue
		}
		keyPath, err := ParsePath(kp)
		if err == nil {
			_, err = lookupErr(node.Items, keyPath)
		}
		if err != nil {
			c.invalid(filterIssue(ref, fmt.Sprintf("%s key path %q is not supported", f.Name, kp)), filterKey(f.Name, key))
			return
		}
		composite := ref.Segments.Append(keyPath...)
		composites = append(composites, VariableReference{
			RawExpression: ref.RawExpression,
			Path:          composite.String(),
			Segments:      composite,
			Span:          ref.Span,
		})
	}

	c.valid(ref)
	for _, comp := range composites {
		c.valid(comp)
	}
}

var errKeyPath = errors.New("key path not in item schema")

func lookupErr(items *schema.Node, p Path) (*schema.Node, error) {
	n, ok := Lookup(items, p)
	if !ok {
		return nil, errKeyPath
	}
	return n, nil
}

func filterIssue(ref VariableReference, msg string) InvalidReference {
	return InvalidReference{VariableReference: ref, Reason: ReasonFilter, Message: msg}
}

func filterKey(name, key string) string {
	return "|" + name + "|" + key
}

func namespaceHint(root string) string {
	suggestion := "payload." + root
	if root == "payload" {
		suggestion = "payload.someKey"
	}
	return fmt.Sprintf("missing namespace. Did you mean {{%s}}?", suggestion)
}
