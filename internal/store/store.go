package store

import (
	"context"

	"github.com/rendis/stepcheck/internal/validation"
	"github.com/rendis/stepcheck/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows. SaveWorkflow replaces the stored step list wholesale.
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Step issues
	SaveStepIssues(ctx context.Context, workflowID, stepID string, issues *schema.StepIssues) error
	GetStepIssues(ctx context.Context, workflowID, stepID string) (*StepIssuesRecord, error)
	ListStepIssues(ctx context.Context, workflowID string) ([]*StepIssuesRecord, error)

	// Integrations
	UpsertIntegration(ctx context.Context, in *Integration) error
	ListIntegrations(ctx context.Context, environmentID string) ([]*Integration, error)
	validation.IntegrationLookup

	// Tier limits
	SetTierLimits(ctx context.Context, organizationID string, limits validation.TierLimits) error
	validation.TierLookup

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
