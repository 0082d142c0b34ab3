package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rendis/stepcheck/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Structural issue messages.
const (
	MsgSubjectOrBody = "Subject or body is required"
	MsgInvalidURL    = "Invalid URL. Must be a valid full URL, path starting with /, or {{variable}}"
	MsgInvalidValue  = "Invalid value"
)

// StructuralValidator checks control values against a step's control JSON
// Schema (draft 2020-12). Compiled schemas are cached by their source text.
// It is safe for concurrent use.
type StructuralValidator struct {
	mu      sync.RWMutex
	cache   map[string]*jsonschema.Schema
	printer *message.Printer
}

// NewStructuralValidator creates a StructuralValidator with an empty cache.
func NewStructuralValidator() *StructuralValidator {
	return &StructuralValidator{
		cache:   make(map[string]*jsonschema.Schema),
		printer: message.NewPrinter(language.English),
	}
}

// Validate checks values against controlSchema and maps every violation to
// an issue keyed by its control path. stepType selects step-specific
// messages. An uncompilable schema is an input-contract error.
func (v *StructuralValidator) Validate(stepType schema.StepType, controlSchema json.RawMessage, values map[string]any) (*schema.StepIssues, error) {
	issues := schema.NewStepIssues()
	if len(controlSchema) == 0 {
		return issues, nil
	}

	compiled, err := v.getOrCompile(controlSchema)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid control schema").WithCause(err)
	}

	if values == nil {
		values = map[string]any{}
	}
	doc, err := toJSONValue(values)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize control values").WithCause(err)
	}

	err = compiled.Validate(doc)
	if err == nil {
		return issues, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, schema.NewError(schema.ErrCodeValidation, "control validation failed").WithCause(err)
	}

	// anyOf branches report the same violation once per branch.
	seen := map[finding]bool{}
	for _, leaf := range leaves(verr) {
		for _, f := range v.describe(stepType, leaf) {
			if seen[f] {
				continue
			}
			seen[f] = true
			issues.AddControl(f.path, schema.Issue{
				Message:      f.message,
				IssueType:    schema.IssueMissingValue,
				VariableName: f.path,
			})
		}
	}
	return issues, nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *StructuralValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets a unique URL and a fresh compiler.
	url := fmt.Sprintf("stepcheck://control-schema/%d", len(v.cache))
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// leaves flattens a ValidationError tree into the errors that carry no causes.
func leaves(verr *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(verr.Causes) == 0 {
		return []*jsonschema.ValidationError{verr}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range verr.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}

type finding struct {
	path    string
	message string
}

func (v *StructuralValidator) describe(stepType schema.StepType, verr *jsonschema.ValidationError) []finding {
	loc := verr.InstanceLocation
	at := func(msg string) []finding {
		return []finding{{path: strings.Join(loc, "."), message: msg}}
	}

	switch k := verr.ErrorKind.(type) {
	case *kind.Required:
		out := make([]finding, 0, len(k.Missing))
		for _, missing := range k.Missing {
			msg := capitalize(missing) + " is required"
			if stepType == schema.StepTypeInApp && len(loc) == 0 && (missing == "subject" || missing == "body") {
				msg = MsgSubjectOrBody
			}
			out = append(out, finding{path: joinPath(loc, missing), message: msg})
		}
		return out
	case *kind.MinLength:
		return at(capitalize(lastSegment(loc)) + " is required")
	case *kind.Type:
		if k.Got == "null" {
			return at(capitalize(lastSegment(loc)) + " is required")
		}
	case *kind.Pattern:
		if strings.Contains(k.Want, "https?://") {
			return at(MsgInvalidURL)
		}
	case *kind.Enum:
		want := make([]string, len(k.Want))
		for i, w := range k.Want {
			want[i] = fmt.Sprint(w)
		}
		return at("Must be one of: " + strings.Join(want, ", "))
	case *kind.AdditionalProperties:
		out := make([]finding, 0, len(k.Properties))
		for _, prop := range k.Properties {
			out = append(out, finding{path: joinPath(loc, prop), message: capitalize(prop) + " is not allowed"})
		}
		return out
	}

	if verr.ErrorKind != nil {
		if msg := verr.ErrorKind.LocalizedString(v.printer); msg != "" {
			return at(capitalize(msg))
		}
	}
	return at(MsgInvalidValue)
}

func joinPath(loc []string, last string) string {
	if len(loc) == 0 {
		return last
	}
	return strings.Join(loc, ".") + "." + last
}

func lastSegment(loc []string) string {
	if len(loc) == 0 {
		return ""
	}
	return loc[len(loc)-1]
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
