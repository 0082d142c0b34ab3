package store

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepcheck/internal/validation"
	"github.com/rendis/stepcheck/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleWorkflow(id string) *schema.Workflow {
	return &schema.Workflow{
		ID:             id,
		OrganizationID: "org-1",
		EnvironmentID:  "env-1",
		Origin:         schema.OriginInternal,
		PayloadSchema:  json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`),
		Steps: []schema.Step{
			{ID: "s-1", StepID: "wait", Type: schema.StepTypeDelay, Controls: map[string]any{"amount": 2.0, "unit": "hours"}},
			{ID: "s-2", StepID: "welcome", Name: "Welcome", Type: schema.StepTypeEmail, Controls: map[string]any{"subject": "Hi", "body": "{{payload.name}}"}},
			{StepID: "sync", Type: schema.StepTypeCustom, ResultSchema: json.RawMessage(`{"type":"object"}`)},
		},
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var cerr *schema.CheckError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, code, cerr.Code)
}

// --- Workflow Tests ---

func TestSaveAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := sampleWorkflow(uuid.New().String())
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
	assert.Equal(t, "org-1", got.OrganizationID)
	assert.Equal(t, "env-1", got.EnvironmentID)
	assert.Equal(t, schema.OriginInternal, got.Origin)
	assert.JSONEq(t, string(wf.PayloadSchema), string(got.PayloadSchema))
	require.Len(t, got.Steps, 3)
	assert.Equal(t, wf.Steps[0], got.Steps[0])
	assert.Equal(t, wf.Steps[1], got.Steps[1])
	assert.Equal(t, "sync", got.Steps[2].StepID)
	assert.Nil(t, got.Steps[2].Controls)
	assert.JSONEq(t, `{"type":"object"}`, string(got.Steps[2].ResultSchema))
}

func TestSaveWorkflow_ReplacesSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := sampleWorkflow("wf-1")
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	wf.Steps = wf.Steps[1:2]
	wf.Origin = ""
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "welcome", got.Steps[0].StepID)
	assert.Equal(t, schema.OriginExternal, got.Origin)
}

func TestSaveWorkflow_RequiresID(t *testing.T) {
	s := newTestStore(t)
	requireCode(t, s.SaveWorkflow(context.Background(), &schema.Workflow{}), schema.ErrCodeValidation)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "nonexistent")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestListWorkflows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"wf-a", "wf-b", "wf-c"} {
		require.NoError(t, s.SaveWorkflow(ctx, sampleWorkflow(id)))
	}
	other := sampleWorkflow("wf-d")
	other.OrganizationID = "org-2"
	require.NoError(t, s.SaveWorkflow(ctx, other))

	list, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 4)

	list, err = s.ListWorkflows(ctx, WorkflowFilter{OrganizationID: "org-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "wf-a", list[0].ID)
	assert.Len(t, list[0].Steps, 3)

	list, err = s.ListWorkflows(ctx, WorkflowFilter{OrganizationID: "org-1", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "wf-c", list[0].ID)
}

func TestDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWorkflow(ctx, sampleWorkflow("wf-1")))
	require.NoError(t, s.SaveStepIssues(ctx, "wf-1", "welcome", schema.NewStepIssues()))
	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))

	_, err := s.GetWorkflow(ctx, "wf-1")
	requireCode(t, err, schema.ErrCodeNotFound)
	_, err = s.GetStepIssues(ctx, "wf-1", "welcome")
	requireCode(t, err, schema.ErrCodeNotFound)

	requireCode(t, s.DeleteWorkflow(ctx, "wf-1"), schema.ErrCodeNotFound)
}

// --- Step Issues Tests ---

func TestSaveAndGetStepIssues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issues := schema.NewStepIssues()
	issues.AddControl("subject", schema.Issue{Message: "Subject is required", IssueType: schema.IssueMissingValue, VariableName: "subject"})
	issues.AddIntegration(string(schema.ChannelEmail), schema.Issue{Message: "missing", IssueType: schema.IssueMissingIntegration})
	require.NoError(t, s.SaveStepIssues(ctx, "wf-1", "welcome", issues))

	rec, err := s.GetStepIssues(ctx, "wf-1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", rec.WorkflowID)
	assert.Equal(t, "welcome", rec.StepID)
	assert.Equal(t, 2, rec.IssueCount)
	assert.Equal(t, issues, rec.Issues)
	assert.False(t, rec.UpdatedAt.IsZero())

	require.NoError(t, s.SaveStepIssues(ctx, "wf-1", "welcome", nil))
	rec, err = s.GetStepIssues(ctx, "wf-1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.IssueCount)
	assert.True(t, rec.Issues.Empty())
}

func TestGetStepIssues_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetStepIssues(context.Background(), "wf-1", "nope")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestListStepIssues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, step := range []string{"b", "a"} {
		require.NoError(t, s.SaveStepIssues(ctx, "wf-1", step, schema.NewStepIssues()))
	}
	require.NoError(t, s.SaveStepIssues(ctx, "wf-2", "c", schema.NewStepIssues()))

	list, err := s.ListStepIssues(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].StepID)
	assert.Equal(t, "b", list[1].StepID)
}

// --- Integration Tests ---

func TestHasActiveIntegration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertIntegration(ctx, &Integration{EnvironmentID: "env-1", Channel: schema.ChannelSMS, ProviderID: "twilio", Active: true}))
	require.NoError(t, s.UpsertIntegration(ctx, &Integration{EnvironmentID: "env-1", Channel: schema.ChannelEmail, ProviderID: "sendgrid", Active: true}))
	require.NoError(t, s.UpsertIntegration(ctx, &Integration{EnvironmentID: "env-1", Channel: schema.ChannelPush, ProviderID: "fcm", Active: false, Primary: true}))

	cases := []struct {
		channel schema.Channel
		primary bool
		want    bool
	}{
		{schema.ChannelSMS, false, true},
		{schema.ChannelEmail, false, true},
		{schema.ChannelEmail, true, false},
		{schema.ChannelPush, false, false},
		{schema.ChannelChat, false, false},
	}
	for _, tc := range cases {
		got, err := s.HasActiveIntegration(ctx, "env-1", tc.channel, tc.primary)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s primary=%v", tc.channel, tc.primary)
	}

	got, err := s.HasActiveIntegration(ctx, "env-2", schema.ChannelSMS, false)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestUpsertIntegration_Update(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &Integration{EnvironmentID: "env-1", Channel: schema.ChannelEmail, ProviderID: "sendgrid", Active: true}
	require.NoError(t, s.UpsertIntegration(ctx, in))
	require.NotEmpty(t, in.ID)

	in.Primary = true
	require.NoError(t, s.UpsertIntegration(ctx, in))

	list, err := s.ListIntegrations(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, in.ID, list[0].ID)
	assert.True(t, list[0].Primary)
	assert.True(t, list[0].Active)
	assert.Equal(t, schema.ChannelEmail, list[0].Channel)
}

// --- Tier Limit Tests ---

func TestTierLimits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Limits(ctx, "org-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	want := validation.TierLimits{MaxDelay: 24 * time.Hour, MaxDigest: 30 * time.Minute, CronAllowed: false}
	require.NoError(t, s.SetTierLimits(ctx, "org-1", want))
	got, err = s.Limits(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	want.CronAllowed = true
	require.NoError(t, s.SetTierLimits(ctx, "org-1", want))
	got, err = s.Limits(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, got.CronAllowed)
}

// --- Lookups wired into validation ---

func TestStore_ServesAggregatorLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := sampleWorkflow("wf-1")
	require.NoError(t, s.SaveWorkflow(ctx, wf))
	require.NoError(t, s.SetTierLimits(ctx, "org-1", validation.TierLimits{MaxDelay: time.Hour, MaxDigest: time.Hour}))

	agg := validation.NewAggregator(
		validation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		validation.WithTierLookup(s),
		validation.WithIntegrationLookup(s),
	)

	stored, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)

	issues, err := agg.Execute(ctx, validation.Request{Workflow: stored, StepID: "wait"})
	require.NoError(t, err)
	require.Len(t, issues.Controls["amount"], 1)
	assert.Equal(t, schema.IssueTierLimitExceeded, issues.Controls["amount"][0].IssueType)

	issues, err = agg.Execute(ctx, validation.Request{Workflow: stored, StepID: "welcome"})
	require.NoError(t, err)
	assert.Len(t, issues.Integration[string(schema.ChannelEmail)], 1)

	require.NoError(t, s.SaveStepIssues(ctx, "wf-1", "welcome", issues))
	rec, err := s.GetStepIssues(ctx, "wf-1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, issues.Count(), rec.IssueCount)
}

// --- Migration Tests ---

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	// Migrate was already called in newTestStore; calling again should be a no-op.
	require.NoError(t, s.Migrate(context.Background()))
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "initial_schema", ms[0].Name)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header; with semicolon\nCREATE TABLE a (x INT);\n\n-- only a comment\nCREATE TABLE b (y INT); -- trailing\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, stmts)
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Vacuum(context.Background()))
}
