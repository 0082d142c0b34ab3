package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/internal/logging"
	"github.com/rendis/stepcheck/internal/mock"
	"github.com/rendis/stepcheck/internal/rules"
	"github.com/rendis/stepcheck/internal/scheduler"
	"github.com/rendis/stepcheck/internal/store"
	"github.com/rendis/stepcheck/internal/validation"
	"github.com/rendis/stepcheck/pkg/mcp"
	"github.com/rendis/stepcheck/pkg/schema"
)

const usage = `usage: stepcheck <command> [flags]

commands:
  serve     run the MCP server over stdio
  check     validate the steps of a workflow file
  admin     manage integrations, tier limits and stored workflows
  version   print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "admin":
		runAdminCommand(os.Args[2:])
	case "version", "-v", "--version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func runServe(args []string) {
	cfg := loadConfig()
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DBPath, "database path")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	cfg.DBPath = *dbPath
	cfg.LogLevel = *logLevel

	// stdout carries the MCP protocol; logs go to stderr.
	logger := logging.New(os.Stderr, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "db_path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	deps := serverDeps(cfg, st, logger)
	srv := mcp.NewServer(deps)

	if cfg.RevalidateSchedule != "" {
		sched, err := scheduler.NewScheduler(st, deps.Aggregator, cfg.RevalidateSchedule,
			scheduler.WithNotifier(srv.Notifier()),
			scheduler.WithFeatures(deps.Features),
			scheduler.WithLogger(logger),
		)
		if err != nil {
			logger.Error("invalid revalidate_schedule", "error", err)
			os.Exit(1)
		}
		if err := sched.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
		defer sched.Stop()
	}

	logger.Info("stepcheck serving on stdio", "db_path", cfg.DBPath, "version", version)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func runCheck(args []string) {
	cfg := loadConfig()
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	file := fs.String("f", "", "workflow file (YAML or JSON)")
	stepID := fs.String("step", "", "only check this step")
	org := fs.String("org", "", "organization ID (overrides the file)")
	env := fs.String("env", "", "environment ID (overrides the file)")
	dbPath := fs.String("db", "", "database used for tier and integration lookups")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f is required")
		os.Exit(2)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)
	ctx := context.Background()

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	wf, err := decodeWorkflow(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", filepath.Base(*file), err)
		os.Exit(1)
	}
	if *org != "" {
		wf.OrganizationID = *org
	}
	if *env != "" {
		wf.EnvironmentID = *env
	}

	opts := []validation.Option{
		validation.WithSystemLimits(cfg.SystemLimits()),
		validation.WithLogger(logger),
	}
	if *dbPath != "" {
		st, err := openStore(ctx, *dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		opts = append(opts, validation.WithTierLookup(st), validation.WithIntegrationLookup(st))
	} else {
		opts = append(opts, validation.WithTierLookup(validation.NoTierData{}), validation.WithIntegrationLookup(validation.AllIntegrations{}))
	}

	reports, err := checkWorkflow(ctx, validation.NewAggregator(opts...), wf, *stepID, featuresFrom(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := writeReports(os.Stdout, reports); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, r := range reports {
		if r.IssueCount > 0 {
			os.Exit(1)
		}
	}
}

// stepReport is the check output for one step.
type stepReport struct {
	StepID     string             `json:"step_id"`
	Type       schema.StepType    `json:"type"`
	Issues     *schema.StepIssues `json:"issues"`
	IssueCount int                `json:"issue_count"`
}

// checkWorkflow validates every step of wf in order, or only stepID when set.
func checkWorkflow(ctx context.Context, agg *validation.Aggregator, wf *schema.Workflow, stepID string, features schema.FeatureContext) ([]stepReport, error) {
	if stepID != "" {
		if _, ok := wf.StepByKey(stepID); !ok {
			return nil, schema.NewError(schema.ErrCodeNotFound, fmt.Sprintf("step %q not found in workflow %q", stepID, wf.ID))
		}
	}

	var reports []stepReport
	for _, step := range wf.Steps {
		if stepID != "" && step.Key() != stepID {
			continue
		}
		issues, err := agg.Execute(ctx, validation.Request{
			Workflow: wf,
			StepID:   step.Key(),
			Features: features,
		})
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.Key(), err)
		}
		reports = append(reports, stepReport{
			StepID:     step.Key(),
			Type:       step.Type,
			Issues:     issues,
			IssueCount: issues.Count(),
		})
	}
	return reports, nil
}

func writeReports(w io.Writer, reports []stepReport) error {
	if reports == nil {
		reports = []stepReport{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

// decodeWorkflow reads a YAML or JSON workflow document. YAML is decoded
// generically and re-encoded so the JSON field tags of schema.Workflow apply.
func decodeWorkflow(data []byte) (*schema.Workflow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse workflow: empty document")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	var wf schema.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if wf.Origin == "" {
		wf.Origin = schema.OriginExternal
	}
	return &wf, nil
}

func openStore(ctx context.Context, dbPath string) (*store.LibSQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.NewLibSQLStore("file:" + dbPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func featuresFrom(cfg Config) schema.FeatureContext {
	return schema.FeatureContext{
		SelfHosted:    cfg.SelfHosted,
		StrictFilters: cfg.StrictFilters,
	}
}

func serverDeps(cfg Config, st store.Store, logger *slog.Logger) mcp.ServerDeps {
	gen := mock.NewGenerator()
	if ref, ok := cfg.ReferenceTime(); ok {
		gen.Reference = ref
	}
	resolver := expressions.NewResolver()
	return mcp.ServerDeps{
		Aggregator: validation.NewAggregator(
			validation.WithTierLookup(st),
			validation.WithIntegrationLookup(st),
			validation.WithSystemLimits(cfg.SystemLimits()),
			validation.WithLogger(logger),
		),
		Store:     st,
		Generator: gen,
		Resolver:  resolver,
		Evaluator: rules.NewEvaluator(rules.WithResolver(resolver)),
		Features:  featuresFrom(cfg),
		Logger:    logger,
	}
}
