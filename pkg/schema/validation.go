package schema

import "sort"

// IssueKind classifies a single step issue. The string values are the wire
// format persisted with the step and rendered by editors.
type IssueKind string

const (
	IssueMissingValue       IssueKind = "MISSING_VALUE"
	IssueIllegalVariable    IssueKind = "ILLEGAL_VARIABLE_IN_CONTROL_VALUE"
	IssueInvalidFilterArg   IssueKind = "INVALID_FILTER_ARG_IN_VARIABLE"
	IssueTierLimitExceeded  IssueKind = "TIER_LIMIT_EXCEEDED"
	IssueMissingIntegration IssueKind = "MISSING_INTEGRATION"
)

// Issue is a single validation finding attached to a control path or channel.
type Issue struct {
	Message      string    `json:"message"`
	IssueType    IssueKind `json:"issueType"`
	VariableName string    `json:"variableName,omitempty"`
}

// StepIssues groups issues by control-value path, plus a separate bucket
// keyed by channel for provider integration problems.
type StepIssues struct {
	Controls    map[string][]Issue `json:"controls,omitempty"`
	Integration map[string][]Issue `json:"integration,omitempty"`
}

// NewStepIssues returns an empty issues report.
func NewStepIssues() *StepIssues {
	return &StepIssues{
		Controls:    map[string][]Issue{},
		Integration: map[string][]Issue{},
	}
}

// AddControl appends an issue under a control path.
func (s *StepIssues) AddControl(path string, issue Issue) {
	if s.Controls == nil {
		s.Controls = map[string][]Issue{}
	}
	s.Controls[path] = append(s.Controls[path], issue)
}

// AddIntegration appends an issue under a channel.
func (s *StepIssues) AddIntegration(channel string, issue Issue) {
	if s.Integration == nil {
		s.Integration = map[string][]Issue{}
	}
	s.Integration[channel] = append(s.Integration[channel], issue)
}

// Merge appends every issue from other. Existing entries are never replaced.
func (s *StepIssues) Merge(other *StepIssues) {
	if other == nil {
		return
	}
	for _, path := range sortedKeys(other.Controls) {
		for _, issue := range other.Controls[path] {
			s.AddControl(path, issue)
		}
	}
	for _, channel := range sortedKeys(other.Integration) {
		for _, issue := range other.Integration[channel] {
			s.AddIntegration(channel, issue)
		}
	}
}

// Empty reports whether no issue was recorded.
func (s *StepIssues) Empty() bool {
	return s.Count() == 0
}

// Count returns the total number of issues across both buckets.
func (s *StepIssues) Count() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, issues := range s.Controls {
		n += len(issues)
	}
	for _, issues := range s.Integration {
		n += len(issues)
	}
	return n
}

// ControlPaths returns the control paths that carry issues, sorted.
func (s *StepIssues) ControlPaths() []string {
	return sortedKeys(s.Controls)
}

func sortedKeys(m map[string][]Issue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
