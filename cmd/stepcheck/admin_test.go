package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rendis/stepcheck/internal/store"
	"github.com/rendis/stepcheck/internal/validation"
	"github.com/rendis/stepcheck/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	st, err := openStore(context.Background(), filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// --- integration ---

func TestRunAdmin_Integration(t *testing.T) {
	ctx := context.Background()
	st := adminStore(t)
	var out bytes.Buffer

	require.NoError(t, runAdmin(ctx, st, []string{"integration", "-env", "env-1", "-channel", "sms", "-provider", "twilio", "-primary"}, &out))
	assert.Contains(t, out.String(), "env-1/sms")

	ok, err := st.HasActiveIntegration(ctx, "env-1", schema.ChannelSMS, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.HasActiveIntegration(ctx, "env-1", schema.ChannelEmail, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunAdmin_IntegrationDeactivate(t *testing.T) {
	ctx := context.Background()
	st := adminStore(t)

	require.NoError(t, runAdmin(ctx, st, []string{"integration", "-id", "int-1", "-env", "env-1", "-channel", "push", "-provider", "fcm"}, &bytes.Buffer{}))
	require.NoError(t, runAdmin(ctx, st, []string{"integration", "-id", "int-1", "-env", "env-1", "-channel", "push", "-provider", "fcm", "-active=false"}, &bytes.Buffer{}))

	list, err := st.ListIntegrations(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)
}

func TestRunAdmin_IntegrationInvalid(t *testing.T) {
	st := adminStore(t)

	err := runAdmin(context.Background(), st, []string{"integration", "-env", "env-1", "-channel", "fax", "-provider", "x"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "Channel")

	err = runAdmin(context.Background(), st, []string{"integration", "-channel", "sms", "-provider", "x"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "EnvironmentID")
}

// --- tier ---

func TestRunAdmin_Tier(t *testing.T) {
	ctx := context.Background()
	st := adminStore(t)
	var out bytes.Buffer

	require.NoError(t, runAdmin(ctx, st, []string{"tier", "-org", "org-1", "-max-delay", "720h", "-max-digest", "24h", "-cron=false"}, &out))
	assert.Contains(t, out.String(), "org-1")

	limits, err := st.Limits(ctx, "org-1")
	require.NoError(t, err)
	require.NotNil(t, limits)
	assert.Equal(t, validation.TierLimits{MaxDelay: 720 * time.Hour, MaxDigest: 24 * time.Hour, CronAllowed: false}, *limits)
}

func TestRunAdmin_TierInvalid(t *testing.T) {
	st := adminStore(t)

	assert.Error(t, runAdmin(context.Background(), st, []string{"tier", "-max-delay", "1h"}, &bytes.Buffer{}))
	assert.Error(t, runAdmin(context.Background(), st, []string{"tier", "-org", "org-1", "-max-delay", "0s"}, &bytes.Buffer{}))
	assert.Error(t, runAdmin(context.Background(), st, []string{"tier", "-org", "org-1", "-max-delay", "soon"}, &bytes.Buffer{}))
}

// --- workflows and maintenance ---

func TestRunAdmin_DeleteWorkflow(t *testing.T) {
	ctx := context.Background()
	st := adminStore(t)
	require.NoError(t, st.SaveWorkflow(ctx, &schema.Workflow{
		ID:     "wf-1",
		Origin: schema.OriginExternal,
		Steps:  []schema.Step{{StepID: "a", Type: schema.StepTypeSMS}},
	}))
	var out bytes.Buffer

	require.NoError(t, runAdmin(ctx, st, []string{"delete-workflow", "-id", "wf-1"}, &out))
	assert.Equal(t, "workflow wf-1 deleted\n", out.String())

	_, err := st.GetWorkflow(ctx, "wf-1")
	assert.Error(t, err)

	assert.Error(t, runAdmin(ctx, st, []string{"delete-workflow", "-id", "wf-1"}, &bytes.Buffer{}))
	assert.Error(t, runAdmin(ctx, st, []string{"delete-workflow"}, &bytes.Buffer{}))
}

func TestRunAdmin_Vacuum(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runAdmin(context.Background(), adminStore(t), []string{"vacuum"}, &out))
	assert.Equal(t, "database vacuumed\n", out.String())
}

func TestRunAdmin_UnknownAction(t *testing.T) {
	st := adminStore(t)
	assert.ErrorContains(t, runAdmin(context.Background(), st, nil, &bytes.Buffer{}), "missing action")
	assert.ErrorContains(t, runAdmin(context.Background(), st, []string{"reindex"}, &bytes.Buffer{}), `unknown action "reindex"`)
}
