package validation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/internal/variables"
	"github.com/rendis/stepcheck/pkg/schema"
)

// TemplateIssues checks the template variables of every string control value
// outside the skip rule against root. Variable problems on a value hide its
// compile errors.
func TemplateIssues(ex *expressions.Extractor, controls map[string]any, root *schema.Node) *schema.StepIssues {
	issues := schema.NewStepIssues()
	keys := make([]string, 0, len(controls))
	for k := range controls {
		if k != variables.SkipKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		walkTemplates(ex, controls[k], []string{k}, root, issues)
	}
	return issues
}

func walkTemplates(ex *expressions.Extractor, v any, path []string, root *schema.Node, issues *schema.StepIssues) {
	switch val := v.(type) {
	case string:
		checkTemplate(ex, val, strings.Join(path, "."), root, issues)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkTemplates(ex, val[k], append(path[:len(path):len(path)], k), root, issues)
		}
	case []any:
		for i, item := range val {
			walkTemplates(ex, item, append(path[:len(path):len(path)], strconv.Itoa(i)), root, issues)
		}
	}
}

func checkTemplate(ex *expressions.Extractor, value, key string, root *schema.Node, issues *schema.StepIssues) {
	res := ex.Extract(value, root)
	if len(res.Invalid) > 0 {
		for _, ref := range res.Invalid {
			issues.AddControl(key, referenceIssue(ref))
		}
		return
	}
	if err := expressions.Compile(value); err != nil {
		issues.AddControl(key, schema.Issue{
			Message:      "Content compilation error: " + err.Error(),
			IssueType:    schema.IssueIllegalVariable,
			VariableName: key,
		})
	}
}

func referenceIssue(ref expressions.InvalidReference) schema.Issue {
	name := ref.Name()
	if ref.Reason == expressions.ReasonFilter {
		return schema.Issue{
			Message:      fmt.Sprintf(`Filter "%s" in "%s"`, ref.Message, name),
			IssueType:    schema.IssueInvalidFilterArg,
			VariableName: name,
		}
	}
	return schema.Issue{
		Message:      strings.TrimSpace(fmt.Sprintf(`Variable "%s" %s`, name, ref.Message)),
		IssueType:    schema.IssueIllegalVariable,
		VariableName: name,
	}
}
