package schema

import "encoding/json"

// Origin records where a workflow was authored. Sanitization differs per origin.
type Origin string

const (
	// OriginExternal workflows are defined in code and synced in.
	OriginExternal Origin = "external"
	// OriginInternal workflows are authored in the dashboard editor.
	OriginInternal Origin = "internal"
)

// Workflow is the persisted workflow definition the engine validates against.
type Workflow struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id,omitempty"`
	EnvironmentID  string          `json:"environment_id,omitempty"`
	Origin         Origin          `json:"origin,omitempty"`
	PayloadSchema  json.RawMessage `json:"payload_schema,omitempty"`
	Steps          []Step          `json:"steps"`
}

// Step is one ordered workflow step and its stored control values.
type Step struct {
	ID           string          `json:"id,omitempty"`
	StepID       string          `json:"step_id"`
	Name         string          `json:"name,omitempty"`
	Type         StepType        `json:"type"`
	Controls     map[string]any  `json:"controls,omitempty"`
	ResultSchema json.RawMessage `json:"result_schema,omitempty"`
}

// Key returns the user-facing step key, falling back to the internal ID.
func (s Step) Key() string {
	if s.StepID != "" {
		return s.StepID
	}
	return s.ID
}

// IndexOf returns the position of the step matching key by StepID or ID,
// or -1 when absent.
func (w *Workflow) IndexOf(key string) int {
	if w == nil {
		return -1
	}
	for i, s := range w.Steps {
		if s.StepID == key || (s.ID != "" && s.ID == key) {
			return i
		}
	}
	return -1
}

// StepByKey returns the step matching key, if any.
func (w *Workflow) StepByKey(key string) (*Step, bool) {
	i := w.IndexOf(key)
	if i < 0 {
		return nil, false
	}
	return &w.Steps[i], true
}

// FeatureContext carries deployment toggles that alter validation. The zero
// value enables every check.
type FeatureContext struct {
	// SelfHosted disables plan/tier restriction checks.
	SelfHosted bool `json:"self_hosted,omitempty"`
	// StrictFilters reports filters missing from the filter table.
	StrictFilters bool `json:"strict_filters,omitempty"`
	// InferPayloadSchema ignores a declared payload schema and infers one from usage.
	InferPayloadSchema bool `json:"infer_payload_schema,omitempty"`
}
