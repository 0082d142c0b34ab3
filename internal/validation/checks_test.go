package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkRoot() *schema.Node {
	return schema.Object(map[string]*schema.Node{
		"subscriber": schema.Object(map[string]*schema.Node{
			"firstName": schema.String(),
			"data":      schema.Open(),
		}),
		"payload": schema.Object(map[string]*schema.Node{
			"name": schema.String(),
			"age":  schema.Integer(),
			"tags": schema.ArrayOf(schema.String()),
		}),
		"steps": schema.Object(nil),
	})
}

func mustKind(t *testing.T, st schema.StepType) schema.StepKind {
	t.Helper()
	k, err := schema.KindOf(st)
	require.NoError(t, err)
	return k
}

// --- Templates ---

func TestTemplateIssues_Valid(t *testing.T) {
	issues := TemplateIssues(expressions.NewExtractor(), map[string]any{
		"subject": "Hi {{subscriber.firstName}}",
		"body":    "{{payload.name | upcase}}",
		"count":   3,
	}, checkRoot())
	assert.True(t, issues.Empty())
}

func TestTemplateIssues_IllegalVariable(t *testing.T) {
	issues := TemplateIssues(expressions.NewExtractor(), map[string]any{
		"body": "Hi {{payload.missing}}",
	}, checkRoot())

	assert.Equal(t, []schema.Issue{{
		Message:      `Variable "payload.missing" is not supported`,
		IssueType:    schema.IssueIllegalVariable,
		VariableName: "payload.missing",
	}}, issues.Controls["body"])
}

func TestTemplateIssues_NestedPaths(t *testing.T) {
	issues := TemplateIssues(expressions.NewExtractor(), map[string]any{
		"primaryAction": map[string]any{"redirect": map[string]any{"url": "{{payload.nope}}"}},
		"headers":       []any{map[string]any{"key": "a", "value": "{{payload.nope}}"}},
	}, checkRoot())

	assert.Equal(t, []string{"headers.0.value", "primaryAction.redirect.url"}, issues.ControlPaths())
}

func TestTemplateIssues_FilterArgument(t *testing.T) {
	issues := TemplateIssues(expressions.NewExtractor(), map[string]any{
		"body": "{{payload.name | truncate}}",
	}, checkRoot())

	require.Len(t, issues.Controls["body"], 1)
	issue := issues.Controls["body"][0]
	assert.Equal(t, schema.IssueInvalidFilterArg, issue.IssueType)
	assert.Equal(t, `Filter "truncate expects 1 argument" in "payload.name"`, issue.Message)
	assert.Equal(t, "payload.name", issue.VariableName)
}

func TestTemplateIssues_StrictFilters(t *testing.T) {
	controls := map[string]any{"body": "{{payload.name | shout}}"}

	assert.True(t, TemplateIssues(expressions.NewExtractor(), controls, checkRoot()).Empty())
	strict := TemplateIssues(expressions.NewExtractor(expressions.WithStrictFilters(true)), controls, checkRoot())
	assert.Len(t, strict.Controls["body"], 1)
}

func TestTemplateIssues_CompileError(t *testing.T) {
	issues := TemplateIssues(expressions.NewExtractor(), map[string]any{
		"body": "{% if payload.name %}hello",
	}, checkRoot())

	assert.Equal(t, []schema.Issue{{
		Message:      `Content compilation error: tag "if" not closed`,
		IssueType:    schema.IssueIllegalVariable,
		VariableName: "body",
	}}, issues.Controls["body"])
}

func TestTemplateIssues_VariableBeatsCompileError(t *testing.T) {
	issues := TemplateIssues(expressions.NewExtractor(), map[string]any{
		"body": "{% if x %}{{payload.missing}}",
	}, checkRoot())

	require.Len(t, issues.Controls["body"], 1)
	assert.Equal(t, schema.IssueIllegalVariable, issues.Controls["body"][0].IssueType)
	assert.Equal(t, "payload.missing", issues.Controls["body"][0].VariableName)
}

func TestTemplateIssues_SkipIgnored(t *testing.T) {
	issues := TemplateIssues(expressions.NewExtractor(), map[string]any{
		"skip": map[string]any{"==": []any{"{{payload.nope}}", 1}},
	}, checkRoot())
	assert.True(t, issues.Empty())
}

// --- Skip rules ---

func TestSkipIssues_Valid(t *testing.T) {
	rule := map[string]any{"and": []any{
		map[string]any{">": []any{map[string]any{"var": "payload.age"}, 18}},
		map[string]any{"==": []any{map[string]any{"var": "subscriber.data.plan"}, "pro"}},
	}}
	assert.True(t, SkipIssues(rule, checkRoot()).Empty())
}

func TestSkipIssues_Nil(t *testing.T) {
	assert.True(t, SkipIssues(nil, checkRoot()).Empty())
}

func TestSkipIssues_OutsideNamespace(t *testing.T) {
	rule := map[string]any{"==": []any{map[string]any{"var": "subscriber.firstName"}, "Ada"}}
	issues := SkipIssues(rule, checkRoot())

	assert.Equal(t, []schema.Issue{{
		Message:      `Variable "subscriber.firstName" is not supported`,
		IssueType:    schema.IssueIllegalVariable,
		VariableName: "subscriber.firstName",
	}}, issues.Controls["skip"])
}

func TestSkipIssues_UnknownPayloadField(t *testing.T) {
	rule := map[string]any{"==": []any{map[string]any{"var": "payload.nope"}, 1}}
	issues := SkipIssues(rule, checkRoot())

	require.Len(t, issues.Controls["skip"], 1)
	assert.Equal(t, "payload.nope", issues.Controls["skip"][0].VariableName)
}

func TestSkipIssues_UnknownOperator(t *testing.T) {
	rule := map[string]any{"regex": []any{map[string]any{"var": "payload.name"}, "^a"}}
	issues := SkipIssues(rule, checkRoot())

	require.Len(t, issues.Controls["skip"], 1)
	assert.Equal(t, `Operator "regex" is not supported`, issues.Controls["skip"][0].Message)
}

func TestSkipIssues_Unparsable(t *testing.T) {
	rule := map[string]any{"==": []any{map[string]any{"var": true}, 1}}
	issues := SkipIssues(rule, checkRoot())

	require.Len(t, issues.Controls["skip"], 1)
	assert.Equal(t, schema.IssueMissingValue, issues.Controls["skip"][0].IssueType)
	assert.Contains(t, issues.Controls["skip"][0].Message, "Invalid rule: ")
}

// --- Tier limits ---

func TestTierIssues_WithinLimit(t *testing.T) {
	issues := TierIssues(mustKind(t, schema.StepTypeDelay), map[string]any{"amount": 5, "unit": "days"}, SystemTierLimits)
	assert.True(t, issues.Empty())
}

func TestTierIssues_DelayExceeded(t *testing.T) {
	issues := TierIssues(mustKind(t, schema.StepTypeDelay), map[string]any{"amount": 100, "unit": "days"}, SystemTierLimits)

	assert.Equal(t, []schema.Issue{{
		Message:      "The maximum delay window allowed is 90 days. Please contact us to support more.",
		IssueType:    schema.IssueTierLimitExceeded,
		VariableName: "amount",
	}}, issues.Controls["amount"])
}

func TestTierIssues_HugeAmountStillExceeds(t *testing.T) {
	digest := mustKind(t, schema.StepTypeDigest)
	delay := mustKind(t, schema.StepTypeDelay)
	limits := TierLimits{MaxDelay: 90 * 24 * time.Hour, MaxDigest: 7 * 24 * time.Hour}

	for _, amount := range []any{10, 200000, 1e6, 1e9, 1e12, 1e300, "1e15"} {
		issues := TierIssues(digest, map[string]any{"amount": amount, "unit": "days"}, limits)
		require.Len(t, issues.Controls["amount"], 1, "digest amount %v", amount)

		issues = TierIssues(delay, map[string]any{"amount": amount, "unit": "months"}, limits)
		require.Len(t, issues.Controls["amount"], 1, "delay amount %v", amount)
		assert.Equal(t, "amount", issues.Controls["amount"][0].VariableName)
	}
}

func TestTierIssues_DigestExceeded(t *testing.T) {
	limits := TierLimits{MaxDelay: time.Hour, MaxDigest: 24 * time.Hour, CronAllowed: true}
	issues := TierIssues(mustKind(t, schema.StepTypeDigest), map[string]any{"amount": "2", "unit": "days"}, limits)

	require.Len(t, issues.Controls["amount"], 1)
	assert.Equal(t, "The maximum digest window allowed is 1 day. Please contact us to support more.",
		issues.Controls["amount"][0].Message)
}

func TestTierIssues_NoLimitKind(t *testing.T) {
	issues := TierIssues(mustKind(t, schema.StepTypeEmail), map[string]any{"amount": 1000, "unit": "months"}, TierLimits{})
	assert.True(t, issues.Empty())
}

func TestTierIssues_MalformedWindowIgnored(t *testing.T) {
	kind := mustKind(t, schema.StepTypeDelay)
	assert.True(t, TierIssues(kind, map[string]any{"amount": "soon", "unit": "days"}, SystemTierLimits).Empty())
	assert.True(t, TierIssues(kind, map[string]any{"amount": 1000, "unit": "fortnights"}, SystemTierLimits).Empty())
}

func TestTierIssues_Cron(t *testing.T) {
	kind := mustKind(t, schema.StepTypeDigest)
	limits := TierLimits{MaxDigest: 7 * 24 * time.Hour, CronAllowed: true}

	assert.True(t, TierIssues(kind, map[string]any{"type": "timed", "cron": "0 9 * * *"}, limits).Empty())

	monthly := TierIssues(kind, map[string]any{"type": "timed", "cron": "0 0 1 * *"}, limits)
	require.Len(t, monthly.Controls["cron"], 1)
	assert.Equal(t, schema.IssueTierLimitExceeded, monthly.Controls["cron"][0].IssueType)
	assert.Equal(t, "The maximum digest window allowed is 7 days. Please contact us to support more.",
		monthly.Controls["cron"][0].Message)

	invalid := TierIssues(kind, map[string]any{"type": "timed", "cron": "every day"}, limits)
	assert.Equal(t, []schema.Issue{{Message: MsgInvalidCron, IssueType: schema.IssueMissingValue}}, invalid.Controls["cron"])
}

func TestTierIssues_CronNotAllowed(t *testing.T) {
	issues := TierIssues(mustKind(t, schema.StepTypeDigest),
		map[string]any{"type": "timed", "cron": "0 9 * * *"},
		TierLimits{MaxDigest: 24 * time.Hour})

	require.Len(t, issues.Controls["cron"], 1)
	assert.Equal(t, schema.IssueTierLimitExceeded, issues.Controls["cron"][0].IssueType)
}

func TestFormatWindow(t *testing.T) {
	assert.Equal(t, "90 days", formatWindow(90*24*time.Hour))
	assert.Equal(t, "1 day", formatWindow(24*time.Hour))
	assert.Equal(t, "2 hours", formatWindow(2*time.Hour))
	assert.Equal(t, "90 minutes", formatWindow(90*time.Minute))
	assert.Equal(t, "45 seconds", formatWindow(45*time.Second))
}

// --- Integrations ---

func TestIntegrationIssues_Present(t *testing.T) {
	lookup := StaticIntegrations{schema.ChannelEmail: true}
	issues, err := IntegrationIssues(context.Background(), lookup, mustKind(t, schema.StepTypeEmail), "env-1")
	require.NoError(t, err)
	assert.True(t, issues.Empty())
}

func TestIntegrationIssues_MissingPrimary(t *testing.T) {
	issues, err := IntegrationIssues(context.Background(), StaticIntegrations{}, mustKind(t, schema.StepTypeSMS), "env-1")
	require.NoError(t, err)

	assert.Equal(t, []schema.Issue{{
		Message:   MsgMissingPrimaryIntegration,
		IssueType: schema.IssueMissingIntegration,
	}}, issues.Integration["sms"])
}

func TestIntegrationIssues_MissingNonPrimary(t *testing.T) {
	issues, err := IntegrationIssues(context.Background(), StaticIntegrations{}, mustKind(t, schema.StepTypeInApp), "env-1")
	require.NoError(t, err)

	require.Len(t, issues.Integration["in_app"], 1)
	assert.Equal(t, MsgMissingIntegration, issues.Integration["in_app"][0].Message)
}

func TestIntegrationIssues_NoChannel(t *testing.T) {
	issues, err := IntegrationIssues(context.Background(), StaticIntegrations{}, mustKind(t, schema.StepTypeDelay), "env-1")
	require.NoError(t, err)
	assert.True(t, issues.Empty())
}

type failingIntegrations struct{}

func (failingIntegrations) HasActiveIntegration(context.Context, string, schema.Channel, bool) (bool, error) {
	return false, errors.New("store unavailable")
}

func TestIntegrationIssues_LookupError(t *testing.T) {
	_, err := IntegrationIssues(context.Background(), failingIntegrations{}, mustKind(t, schema.StepTypeChat), "env-1")
	assert.Error(t, err)
}
