package validation

import (
	"errors"

	"github.com/rendis/stepcheck/internal/rules"
	"github.com/rendis/stepcheck/internal/variables"
	"github.com/rendis/stepcheck/pkg/schema"
)

// SkipIssues validates a skip rule against the primitive leaves of root,
// restricted to the payload and subscriber data namespaces. All issues are
// keyed by the skip control.
func SkipIssues(skip any, root *schema.Node) *schema.StepIssues {
	issues := schema.NewStepIssues()
	if skip == nil {
		return issues
	}

	rule, err := rules.Parse(skip)
	if err != nil {
		msg := err.Error()
		var cerr *schema.CheckError
		if errors.As(err, &cerr) {
			msg = cerr.Message
		}
		issues.AddControl(variables.SkipKey, schema.Issue{
			Message:   "Invalid rule: " + msg,
			IssueType: schema.IssueMissingValue,
		})
		return issues
	}

	allowed := variables.NewAllowedSet(variables.LeafPaths(root))
	for _, issue := range rules.Validate(rule, allowed, rules.DefaultNamespaces) {
		issues.AddControl(variables.SkipKey, issue)
	}
	return issues
}
