package store

import (
	"time"

	"github.com/rendis/stepcheck/pkg/schema"
)

// WorkflowFilter narrows ListWorkflows. Zero fields match everything.
type WorkflowFilter struct {
	OrganizationID string
	EnvironmentID  string
	Limit          int
	Offset         int
}

// Integration is a provider configured for one channel in an environment.
type Integration struct {
	ID            string         `json:"id"`
	EnvironmentID string         `json:"environment_id"`
	Channel       schema.Channel `json:"channel"`
	ProviderID    string         `json:"provider_id"`
	Primary       bool           `json:"primary"`
	Active        bool           `json:"active"`
	CreatedAt     time.Time      `json:"created_at"`
}

// StepIssuesRecord is a persisted validation result.
type StepIssuesRecord struct {
	WorkflowID string             `json:"workflow_id"`
	StepID     string             `json:"step_id"`
	Issues     *schema.StepIssues `json:"issues"`
	IssueCount int                `json:"issue_count"`
	UpdatedAt  time.Time          `json:"updated_at"`
}
