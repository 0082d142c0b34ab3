package validation

import (
	"context"

	"github.com/rendis/stepcheck/pkg/schema"
)

// Integration issue messages.
const (
	MsgMissingPrimaryIntegration = "Missing active primary integration provider"
	MsgMissingIntegration        = "Missing active integration provider"
)

// IntegrationIssues reports a missing provider for channel steps. Steps
// without a channel produce no issues. Lookup errors are returned so the
// caller can log and skip the check.
func IntegrationIssues(ctx context.Context, lookup IntegrationLookup, kind schema.StepKind, environmentID string) (*schema.StepIssues, error) {
	issues := schema.NewStepIssues()
	channel, ok := kind.Channel()
	if !ok || lookup == nil {
		return issues, nil
	}

	primary := kind.RequiresPrimaryIntegration()
	found, err := lookup.HasActiveIntegration(ctx, environmentID, channel, primary)
	if err != nil {
		return issues, err
	}
	if found {
		return issues, nil
	}

	msg := MsgMissingIntegration
	if primary {
		msg = MsgMissingPrimaryIntegration
	}
	issues.AddIntegration(string(channel), schema.Issue{Message: msg, IssueType: schema.IssueMissingIntegration})
	return issues, nil
}
