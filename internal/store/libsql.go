package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/stepcheck/internal/validation"
	"github.com/rendis/stepcheck/pkg/schema"
)

var _ Store = (*LibSQLStore)(nil)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	origin := wf.Origin
	if origin == "" {
		origin = schema.OriginExternal
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflows (id, organization_id, environment_id, origin, payload_schema, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   organization_id=excluded.organization_id, environment_id=excluded.environment_id,
		   origin=excluded.origin, payload_schema=excluded.payload_schema, updated_at=CURRENT_TIMESTAMP`,
		wf.ID, nullStr(wf.OrganizationID), nullStr(wf.EnvironmentID), string(origin), nullRaw(wf.PayloadSchema),
	)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE workflow_id = ?`, wf.ID); err != nil {
		return fmt.Errorf("clear steps: %w", err)
	}
	for i, step := range wf.Steps {
		controls, err := marshalMapOrNil(step.Controls)
		if err != nil {
			return fmt.Errorf("marshal controls of step %q: %w", step.Key(), err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO steps (workflow_id, position, id, step_id, name, type, controls, result_schema)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			wf.ID, i, nullStr(step.ID), nullStr(step.StepID), nullStr(step.Name), string(step.Type),
			controls, nullRaw(step.ResultSchema),
		)
		if err != nil {
			return fmt.Errorf("insert step %q: %w", step.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workflow: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, environment_id, origin, payload_schema FROM workflows WHERE id = ?`, id,
	)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	if wf.Steps, err = s.loadSteps(ctx, wf.ID); err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.EnvironmentID != "" {
		where = append(where, "environment_id = ?")
		args = append(args, filter.EnvironmentID)
	}

	query := "SELECT id, organization_id, environment_id, origin, payload_schema FROM workflows"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Steps are loaded after the cursor is released; the pool holds a
	// single connection.
	for _, wf := range workflows {
		if wf.Steps, err = s.loadSteps(ctx, wf.ID); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE workflow_id = ?`, id); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "workflow", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM step_issues WHERE workflow_id = ?`, id); err != nil {
		return fmt.Errorf("delete step issues: %w", err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var orgID, envID, payloadSchema sql.NullString
	var origin string
	if err := row.Scan(&wf.ID, &orgID, &envID, &origin, &payloadSchema); err != nil {
		return nil, err
	}
	wf.OrganizationID = orgID.String
	wf.EnvironmentID = envID.String
	wf.Origin = schema.Origin(origin)
	wf.PayloadSchema = rawOrNil(payloadSchema)
	return wf, nil
}

func (s *LibSQLStore) loadSteps(ctx context.Context, workflowID string) ([]schema.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, step_id, name, type, controls, result_schema
		 FROM steps WHERE workflow_id = ? ORDER BY position ASC`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []schema.Step{}
	for rows.Next() {
		var step schema.Step
		var id, stepID, name, controls, resultSchema sql.NullString
		var typ string
		if err := rows.Scan(&id, &stepID, &name, &typ, &controls, &resultSchema); err != nil {
			return nil, err
		}
		step.ID = id.String
		step.StepID = stepID.String
		step.Name = name.String
		step.Type = schema.StepType(typ)
		step.ResultSchema = rawOrNil(resultSchema)
		if controls.Valid && controls.String != "" {
			if err := json.Unmarshal([]byte(controls.String), &step.Controls); err != nil {
				return nil, fmt.Errorf("unmarshal controls of step %q: %w", step.Key(), err)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// --- Step Issues ---

func (s *LibSQLStore) SaveStepIssues(ctx context.Context, workflowID, stepID string, issues *schema.StepIssues) error {
	if issues == nil {
		issues = schema.NewStepIssues()
	}
	data, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("marshal step issues: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO step_issues (workflow_id, step_id, issues, issue_count, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(workflow_id, step_id) DO UPDATE SET
		   issues=excluded.issues, issue_count=excluded.issue_count, updated_at=CURRENT_TIMESTAMP`,
		workflowID, stepID, string(data), issues.Count(),
	)
	if err != nil {
		return fmt.Errorf("save step issues: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetStepIssues(ctx context.Context, workflowID, stepID string) (*StepIssuesRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT workflow_id, step_id, issues, issue_count, updated_at
		 FROM step_issues WHERE workflow_id = ? AND step_id = ?`, workflowID, stepID,
	)
	rec, err := scanStepIssues(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("step issues", workflowID+"/"+stepID)
	}
	return rec, err
}

func (s *LibSQLStore) ListStepIssues(ctx context.Context, workflowID string) ([]*StepIssuesRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_id, step_id, issues, issue_count, updated_at
		 FROM step_issues WHERE workflow_id = ? ORDER BY step_id`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StepIssuesRecord
	for rows.Next() {
		rec, err := scanStepIssues(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanStepIssues(row scanner) (*StepIssuesRecord, error) {
	rec := &StepIssuesRecord{}
	var data string
	if err := row.Scan(&rec.WorkflowID, &rec.StepID, &data, &rec.IssueCount, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Issues = schema.NewStepIssues()
	if err := json.Unmarshal([]byte(data), rec.Issues); err != nil {
		return nil, fmt.Errorf("unmarshal step issues: %w", err)
	}
	if rec.Issues.Controls == nil {
		rec.Issues.Controls = map[string][]schema.Issue{}
	}
	if rec.Issues.Integration == nil {
		rec.Issues.Integration = map[string][]schema.Issue{}
	}
	return rec, nil
}

// --- Integrations ---

func (s *LibSQLStore) UpsertIntegration(ctx context.Context, in *Integration) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO integrations (id, environment_id, channel, provider_id, is_primary, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   environment_id=excluded.environment_id, channel=excluded.channel, provider_id=excluded.provider_id,
		   is_primary=excluded.is_primary, active=excluded.active`,
		in.ID, in.EnvironmentID, string(in.Channel), in.ProviderID, in.Primary, in.Active, timeOrNow(in.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert integration: %w", err)
	}
	return nil
}

func (s *LibSQLStore) ListIntegrations(ctx context.Context, environmentID string) ([]*Integration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment_id, channel, provider_id, is_primary, active, created_at
		 FROM integrations WHERE environment_id = ? ORDER BY channel, provider_id`, environmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Integration
	for rows.Next() {
		in := &Integration{}
		var channel string
		if err := rows.Scan(&in.ID, &in.EnvironmentID, &channel, &in.ProviderID, &in.Primary, &in.Active, &in.CreatedAt); err != nil {
			return nil, err
		}
		in.Channel = schema.Channel(channel)
		out = append(out, in)
	}
	return out, rows.Err()
}

// HasActiveIntegration implements validation.IntegrationLookup.
func (s *LibSQLStore) HasActiveIntegration(ctx context.Context, environmentID string, channel schema.Channel, primary bool) (bool, error) {
	query := `SELECT COUNT(*) FROM integrations WHERE environment_id = ? AND channel = ? AND active = 1`
	if primary {
		query += " AND is_primary = 1"
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, environmentID, string(channel)).Scan(&n); err != nil {
		return false, schema.NewError(schema.ErrCodeLookup, "integration lookup failed").WithCause(err)
	}
	return n > 0, nil
}

// --- Tier Limits ---

func (s *LibSQLStore) SetTierLimits(ctx context.Context, organizationID string, limits validation.TierLimits) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tier_limits (organization_id, max_delay_ms, max_digest_ms, cron_allowed, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(organization_id) DO UPDATE SET
		   max_delay_ms=excluded.max_delay_ms, max_digest_ms=excluded.max_digest_ms,
		   cron_allowed=excluded.cron_allowed, updated_at=CURRENT_TIMESTAMP`,
		organizationID, limits.MaxDelay.Milliseconds(), limits.MaxDigest.Milliseconds(), limits.CronAllowed,
	)
	if err != nil {
		return fmt.Errorf("set tier limits: %w", err)
	}
	return nil
}

// Limits implements validation.TierLookup. An organization without a row
// yields nil so the caller applies the system ceiling.
func (s *LibSQLStore) Limits(ctx context.Context, organizationID string) (*validation.TierLimits, error) {
	var delayMs, digestMs int64
	var cronAllowed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT max_delay_ms, max_digest_ms, cron_allowed FROM tier_limits WHERE organization_id = ?`, organizationID,
	).Scan(&delayMs, &digestMs, &cronAllowed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeLookup, "tier lookup failed").WithCause(err)
	}
	return &validation.TierLimits{
		MaxDelay:    time.Duration(delayMs) * time.Millisecond,
		MaxDigest:   time.Duration(digestMs) * time.Millisecond,
		CronAllowed: cronAllowed,
	}, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.CheckError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrNil(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
