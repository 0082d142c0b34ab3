package validation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/internal/logging"
	"github.com/rendis/stepcheck/internal/variables"
	"github.com/rendis/stepcheck/pkg/schema"
)

// Request is one step validation.
type Request struct {
	Workflow *schema.Workflow `json:"workflow" validate:"required"`
	// StepID is the target step key. A key missing from the workflow is a new
	// step; it then needs StepType.
	StepID string `json:"step_id" validate:"required"`
	// StepType overrides the stored step type.
	StepType schema.StepType `json:"step_type,omitempty"`
	// Controls, when non-nil, replace the stored control values.
	Controls map[string]any `json:"controls,omitempty"`
	// ControlSchema overrides the step type's built-in control schema.
	ControlSchema json.RawMessage       `json:"control_schema,omitempty"`
	Features      schema.FeatureContext `json:"features"`
}

// Aggregator runs every step check and merges the results into one report.
// It is safe for concurrent use.
type Aggregator struct {
	builder      *variables.Builder
	structural   *StructuralValidator
	lenient      *expressions.Extractor
	strict       *expressions.Extractor
	tiers        TierLookup
	integrations IntegrationLookup
	systemLimits TierLimits
	validate     *validator.Validate
	logger       *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTierLookup sets the plan limit source. Without one every organization
// gets the system limits.
func WithTierLookup(l TierLookup) Option {
	return func(a *Aggregator) { a.tiers = l }
}

// WithIntegrationLookup sets the integration source. Without one the
// integration check is skipped.
func WithIntegrationLookup(l IntegrationLookup) Option {
	return func(a *Aggregator) { a.integrations = l }
}

// WithSystemLimits replaces SystemTierLimits.
func WithSystemLimits(l TierLimits) Option {
	return func(a *Aggregator) { a.systemLimits = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		structural:   NewStructuralValidator(),
		lenient:      expressions.NewExtractor(),
		strict:       expressions.NewExtractor(expressions.WithStrictFilters(true)),
		systemLimits: SystemTierLimits,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if a.tiers == nil {
		a.tiers = NoTierData{}
	}
	a.builder = variables.NewBuilder(a.logger)
	return a
}

// Variables returns the variable schema the request's step sees.
func (a *Aggregator) Variables(req Request) *schema.Node {
	return a.builder.Build(variables.StepControlContext{
		Workflow: req.Workflow,
		StepID:   req.StepID,
		Controls: req.Controls,
		Features: req.Features,
	})
}

// Execute validates one step. Findings are returned as issues; an error
// means the request itself is unusable (missing workflow, step or type).
// Failed lookups degrade: tier limits fall back to the system limits and
// the integration check is skipped.
func (a *Aggregator) Execute(ctx context.Context, req Request) (*schema.StepIssues, error) {
	if err := a.validate.Struct(req); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid validation request").WithCause(err)
	}

	wf := req.Workflow
	stepType := req.StepType
	controls := req.Controls
	if stored, ok := wf.StepByKey(req.StepID); ok {
		if stepType == "" {
			stepType = stored.Type
		}
		if controls == nil {
			controls = stored.Controls
		}
	}
	kind, err := schema.KindOf(stepType)
	if err != nil {
		var cerr *schema.CheckError
		if errors.As(err, &cerr) {
			return nil, cerr.WithStep(req.StepID)
		}
		return nil, err
	}

	ctx = logging.WithIDs(ctx, wf.OrganizationID, wf.EnvironmentID, wf.ID, req.StepID)
	log := logging.LogWith(ctx, a.logger)

	root := a.Variables(req)
	sanitized := Sanitize(wf.Origin, stepType, controls)

	var (
		wg           sync.WaitGroup
		tierIssues   *schema.StepIssues
		integrations *schema.StepIssues
	)
	if kind.TierLimit() != schema.LimitNone && !req.Features.SelfHosted {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tierIssues = TierIssues(kind, sanitized, a.limits(ctx, log, wf.OrganizationID))
		}()
	}
	if a.integrations != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := IntegrationIssues(ctx, a.integrations, kind, wf.EnvironmentID)
			if err != nil {
				log.Warn("integration lookup failed, check skipped", "error", err)
				return
			}
			integrations = out
		}()
	}

	controlSchema := req.ControlSchema
	if len(controlSchema) == 0 {
		controlSchema = kind.ControlSchema()
	}
	structural, err := a.structural.Validate(stepType, controlSchema, sanitized)
	if err != nil {
		wg.Wait()
		return nil, err
	}

	ex := a.lenient
	if req.Features.StrictFilters {
		ex = a.strict
	}
	templates := TemplateIssues(ex, sanitized, root)
	skip := SkipIssues(sanitized[variables.SkipKey], root)

	wg.Wait()

	issues := schema.NewStepIssues()
	for _, part := range []*schema.StepIssues{structural, templates, tierIssues, skip, integrations} {
		issues.Merge(part)
	}
	log.Debug("step validated", "step_type", stepType, "issues", issues.Count())
	return issues, nil
}

func (a *Aggregator) limits(ctx context.Context, log *slog.Logger, organizationID string) TierLimits {
	limits, err := a.tiers.Limits(ctx, organizationID)
	if err != nil {
		log.Warn("tier lookup failed, using system limits", "error", err)
		return a.systemLimits
	}
	if limits == nil {
		return a.systemLimits
	}
	return *limits
}
