package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rendis/stepcheck/internal/logging"
	"github.com/rendis/stepcheck/internal/store"
	"github.com/rendis/stepcheck/internal/validation"
	"github.com/rendis/stepcheck/pkg/schema"
)

const adminUsage = `usage: stepcheck admin <action> [flags]

actions:
  integration       add or update a provider integration
  tier              set the tier limits of an organization
  delete-workflow   remove a stored workflow and its issues
  vacuum            compact the database
`

type integrationArgs struct {
	ID            string
	EnvironmentID string `validate:"required"`
	Channel       string `validate:"required,oneof=email sms push chat in_app"`
	ProviderID    string `validate:"required"`
	Primary       bool
	Active        bool
}

type tierArgs struct {
	OrganizationID string        `validate:"required"`
	MaxDelay       time.Duration `validate:"gt=0"`
	MaxDigest      time.Duration `validate:"gt=0"`
	CronAllowed    bool
}

func runAdminCommand(args []string) {
	cfg := loadConfig()
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DBPath, "database path")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)
	ctx := context.Background()

	st, err := openStore(ctx, *dbPath)
	if err != nil {
		logger.Error("failed to open store", "db_path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := runAdmin(ctx, st, fs.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runAdmin applies one maintenance action to st and reports it on w.
func runAdmin(ctx context.Context, st store.Store, args []string, w io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("missing action\n\n%s", adminUsage)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())

	action, rest := args[0], args[1:]
	switch action {
	case "integration":
		var in integrationArgs
		fs := adminFlags(action)
		fs.StringVar(&in.ID, "id", "", "integration ID (generated when empty)")
		fs.StringVar(&in.EnvironmentID, "env", "", "environment ID")
		fs.StringVar(&in.Channel, "channel", "", "channel: email, sms, push, chat, in_app")
		fs.StringVar(&in.ProviderID, "provider", "", "provider ID")
		fs.BoolVar(&in.Primary, "primary", false, "mark as the primary provider of the channel")
		fs.BoolVar(&in.Active, "active", true, "whether the integration is active")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := validate.Struct(in); err != nil {
			return fmt.Errorf("integration: %w", err)
		}
		rec := &store.Integration{
			ID:            in.ID,
			EnvironmentID: in.EnvironmentID,
			Channel:       schema.Channel(in.Channel),
			ProviderID:    in.ProviderID,
			Primary:       in.Primary,
			Active:        in.Active,
		}
		if err := st.UpsertIntegration(ctx, rec); err != nil {
			return err
		}
		fmt.Fprintf(w, "integration %s saved (%s/%s)\n", rec.ID, rec.EnvironmentID, rec.Channel)

	case "tier":
		in := tierArgs{
			MaxDelay:    validation.SystemTierLimits.MaxDelay,
			MaxDigest:   validation.SystemTierLimits.MaxDigest,
			CronAllowed: validation.SystemTierLimits.CronAllowed,
		}
		fs := adminFlags(action)
		fs.StringVar(&in.OrganizationID, "org", "", "organization ID")
		fs.DurationVar(&in.MaxDelay, "max-delay", in.MaxDelay, "longest allowed delay")
		fs.DurationVar(&in.MaxDigest, "max-digest", in.MaxDigest, "longest allowed digest window")
		fs.BoolVar(&in.CronAllowed, "cron", in.CronAllowed, "whether cron digests are allowed")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := validate.Struct(in); err != nil {
			return fmt.Errorf("tier: %w", err)
		}
		limits := validation.TierLimits{MaxDelay: in.MaxDelay, MaxDigest: in.MaxDigest, CronAllowed: in.CronAllowed}
		if err := st.SetTierLimits(ctx, in.OrganizationID, limits); err != nil {
			return err
		}
		fmt.Fprintf(w, "tier limits saved for %s (delay %s, digest %s, cron %t)\n",
			in.OrganizationID, limits.MaxDelay, limits.MaxDigest, limits.CronAllowed)

	case "delete-workflow":
		fs := adminFlags(action)
		id := fs.String("id", "", "workflow ID")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == "" {
			return fmt.Errorf("delete-workflow: -id is required")
		}
		if err := st.DeleteWorkflow(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(w, "workflow %s deleted\n", *id)

	case "vacuum":
		if err := st.Vacuum(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "database vacuumed")

	default:
		return fmt.Errorf("unknown action %q\n\n%s", action, adminUsage)
	}
	return nil
}

func adminFlags(action string) *flag.FlagSet {
	fs := flag.NewFlagSet("admin "+action, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}
