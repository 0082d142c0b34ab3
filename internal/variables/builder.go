package variables

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/rendis/stepcheck/pkg/schema"
)

// Top-level namespaces of the variable schema.
const (
	NamespaceSubscriber = "subscriber"
	NamespacePayload    = "payload"
	NamespaceSteps      = "steps"
)

// StepControlContext is the input of one Build call. It is assembled per
// validation from the stored workflow plus any unsaved control values.
type StepControlContext struct {
	Workflow *schema.Workflow
	// StepID is the target step key (StepID or internal ID). A key missing
	// from the workflow is treated as a new step appended at the end.
	StepID string
	// Controls, when non-nil, replace the stored controls of the target step.
	Controls map[string]any
	Features schema.FeatureContext
}

// Builder computes the schema of every variable path legal for a step.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a Builder. A nil logger logs to stderr.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Builder{logger: logger}
}

// Build returns an object schema with exactly the subscriber, payload and
// steps properties. Only steps strictly before the target appear under steps.
// Build never fails: malformed declared schemas degrade to open objects.
func (b *Builder) Build(c StepControlContext) *schema.Node {
	wf := c.Workflow
	if wf == nil {
		wf = &schema.Workflow{}
	}

	usage := collectUsage(wf, c.StepID, c.Controls)
	payload := b.payloadSchema(wf, c.Features, usage)

	steps := schema.Object(nil)
	for _, step := range previousSteps(wf, c.StepID) {
		kind, err := schema.KindOf(step.Type)
		if err != nil {
			b.logger.Warn("previous step has no known result shape",
				"step_id", step.Key(), "type", step.Type, "error", err)
			steps.Properties[step.Key()] = schema.Open()
			continue
		}
		steps.Properties[step.Key()] = kind.ResultSchema(payload, step.ResultSchema)
	}

	return schema.Object(map[string]*schema.Node{
		NamespaceSubscriber: subscriberSchema(usage.subscriberData),
		NamespacePayload:    payload,
		NamespaceSteps:      steps,
	}, NamespaceSubscriber, NamespacePayload, NamespaceSteps)
}

func (b *Builder) payloadSchema(wf *schema.Workflow, features schema.FeatureContext, usage *usage) *schema.Node {
	if len(wf.Steps) == 0 {
		return schema.Open()
	}
	declared := bytes.TrimSpace(wf.PayloadSchema)
	if len(declared) > 0 && !bytes.Equal(declared, []byte("null")) && !features.InferPayloadSchema {
		if !json.Valid(declared) {
			b.logger.Warn("declared payload schema is not valid JSON, using an open payload",
				"workflow_id", wf.ID)
		}
		return schema.ParseNode(declared)
	}
	return inferObject(usage.payload)
}

// previousSteps returns the steps that run before key. A key that is not in
// the workflow sees every step.
func previousSteps(wf *schema.Workflow, key string) []schema.Step {
	idx := wf.IndexOf(key)
	if idx < 0 {
		return wf.Steps
	}
	return wf.Steps[:idx]
}
