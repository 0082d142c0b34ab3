package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind is the JSON type a Node describes.
type Kind string

const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindNull    Kind = "null"
)

// Additional is the bool-or-schema value of additionalProperties.
type Additional struct {
	Allowed bool
	Schema  *Node
}

// Node is a JSON-Schema-like shape. Only the subset needed to decide path
// legality and to synthesize example data is modelled.
//
// An object node whose AdditionalProperties.Allowed is true accepts any
// further path segment below it.
type Node struct {
	Kind                 Kind
	Properties           map[string]*Node
	Items                *Node
	AdditionalProperties *Additional
	Required             []string
	Format               string
	Enum                 []any
	Default              any
	Integer              bool
	Description          string
}

// Open returns an empty object node that accepts any property.
func Open() *Node {
	return &Node{
		Kind:                 KindObject,
		Properties:           map[string]*Node{},
		AdditionalProperties: &Additional{Allowed: true},
	}
}

// Object returns a closed object node with the given properties.
func Object(props map[string]*Node, required ...string) *Node {
	if props == nil {
		props = map[string]*Node{}
	}
	return &Node{
		Kind:                 KindObject,
		Properties:           props,
		AdditionalProperties: &Additional{Allowed: false},
		Required:             required,
	}
}

// ArrayOf returns an array node with the given item shape.
func ArrayOf(items *Node) *Node {
	return &Node{Kind: KindArray, Items: items}
}

// String returns a plain string node.
func String() *Node { return &Node{Kind: KindString} }

// StringFormat returns a string node with a format annotation.
func StringFormat(format string) *Node { return &Node{Kind: KindString, Format: format} }

// Number returns a number node.
func Number() *Node { return &Node{Kind: KindNumber} }

// Integer returns a number node restricted to integers.
func Integer() *Node { return &Node{Kind: KindNumber, Integer: true} }

// Boolean returns a boolean node.
func Boolean() *Node { return &Node{Kind: KindBoolean} }

// OpenEnded reports whether the node accepts any further path segment. An
// object whose additional properties carry a schema is not open-ended.
func (n *Node) OpenEnded() bool {
	return n != nil && n.AdditionalProperties != nil && n.AdditionalProperties.Allowed &&
		n.AdditionalProperties.Schema == nil
}

// Property returns the declared property schema for name.
func (n *Node) Property(name string) (*Node, bool) {
	if n == nil || n.Properties == nil {
		return nil, false
	}
	p, ok := n.Properties[name]
	return p, ok && p != nil
}

// PropertyNames returns declared property names in sorted order.
func (n *Node) PropertyNames() []string {
	if n == nil {
		return nil
	}
	names := make([]string, 0, len(n.Properties))
	for k := range n.Properties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Properties != nil {
		out.Properties = make(map[string]*Node, len(n.Properties))
		for k, v := range n.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	out.Items = n.Items.Clone()
	if n.AdditionalProperties != nil {
		out.AdditionalProperties = &Additional{
			Allowed: n.AdditionalProperties.Allowed,
			Schema:  n.AdditionalProperties.Schema.Clone(),
		}
	}
	if n.Required != nil {
		out.Required = append([]string(nil), n.Required...)
	}
	if n.Enum != nil {
		out.Enum = append([]any(nil), n.Enum...)
	}
	return &out
}

// ParseNode decodes a JSON Schema document. Malformed or unsupported input
// degrades to Open() so a bad declared schema never blocks validation.
func ParseNode(raw []byte) *Node {
	if len(raw) == 0 {
		return Open()
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return Open()
	}
	if n.Kind != KindObject {
		return Open()
	}
	return &n
}

// MarshalJSON renders the node as a JSON Schema document.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.toMap())
}

func (n *Node) toMap() map[string]any {
	m := map[string]any{}
	switch {
	case n.Integer && n.Kind == KindNumber:
		m["type"] = "integer"
	case n.Kind != "":
		m["type"] = string(n.Kind)
	}
	if n.Kind == KindObject {
		props := make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			props[k] = v.toMap()
		}
		m["properties"] = props
		if len(n.Required) > 0 {
			m["required"] = n.Required
		}
	}
	if n.Items != nil {
		m["items"] = n.Items.toMap()
	}
	if n.AdditionalProperties != nil {
		if n.AdditionalProperties.Schema != nil {
			m["additionalProperties"] = n.AdditionalProperties.Schema.toMap()
		} else {
			m["additionalProperties"] = n.AdditionalProperties.Allowed
		}
	}
	if n.Format != "" {
		m["format"] = n.Format
	}
	if len(n.Enum) > 0 {
		m["enum"] = n.Enum
	}
	if n.Default != nil {
		m["default"] = n.Default
	}
	if n.Description != "" {
		m["description"] = n.Description
	}
	return m
}

// UnmarshalJSON decodes a JSON Schema document. Unlike ParseNode it reports
// malformed input.
func (n *Node) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := fromMap(m)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func fromMap(m map[string]any) (*Node, error) {
	kind, integer, err := kindOf(m)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		// Untyped schemas ({} or anyOf/oneOf compositions) accept anything.
		return Open(), nil
	}

	n := &Node{Kind: kind, Integer: integer}
	if v, ok := m["format"].(string); ok {
		n.Format = v
	}
	if v, ok := m["description"].(string); ok {
		n.Description = v
	}
	if v, ok := m["enum"].([]any); ok {
		n.Enum = v
	}
	if v, ok := m["default"]; ok {
		n.Default = v
	}

	switch kind {
	case KindObject:
		n.Properties = map[string]*Node{}
		if raw, ok := m["properties"]; ok {
			props, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("properties must be an object")
			}
			for name, pv := range props {
				pm, ok := pv.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("property %q must be a schema object", name)
				}
				child, err := fromMap(pm)
				if err != nil {
					return nil, fmt.Errorf("property %q: %w", name, err)
				}
				n.Properties[name] = child
			}
		}
		if raw, ok := m["required"].([]any); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					n.Required = append(n.Required, s)
				}
			}
		}
		switch ap := m["additionalProperties"].(type) {
		case bool:
			n.AdditionalProperties = &Additional{Allowed: ap}
		case map[string]any:
			child, err := fromMap(ap)
			if err != nil {
				return nil, fmt.Errorf("additionalProperties: %w", err)
			}
			n.AdditionalProperties = &Additional{Schema: child}
		}
	case KindArray:
		switch items := m["items"].(type) {
		case map[string]any:
			child, err := fromMap(items)
			if err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
			n.Items = child
		case nil:
			n.Items = Open()
		default:
			return nil, fmt.Errorf("items must be a schema object")
		}
	}
	return n, nil
}

func kindOf(m map[string]any) (Kind, bool, error) {
	var name string
	switch t := m["type"].(type) {
	case string:
		name = t
	case []any:
		// Nullable unions like ["string", "null"] take the first non-null type.
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				name = s
				break
			}
		}
		if name == "" && len(t) > 0 {
			name = "null"
		}
	case nil:
		if _, ok := m["properties"]; ok {
			return KindObject, false, nil
		}
		if _, ok := m["items"]; ok {
			return KindArray, false, nil
		}
		return "", false, nil
	default:
		return "", false, fmt.Errorf("type must be a string or array")
	}

	switch name {
	case "object":
		return KindObject, false, nil
	case "array":
		return KindArray, false, nil
	case "string":
		return KindString, false, nil
	case "number":
		return KindNumber, false, nil
	case "integer":
		return KindNumber, true, nil
	case "boolean":
		return KindBoolean, false, nil
	case "null":
		return KindNull, false, nil
	default:
		return "", false, fmt.Errorf("unsupported type %q", name)
	}
}
