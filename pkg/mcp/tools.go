package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/internal/rules"
	"github.com/rendis/stepcheck/internal/validation"
	"github.com/rendis/stepcheck/internal/variables"
	"github.com/rendis/stepcheck/pkg/schema"
)

// handleIssues validates one step and optionally persists the result.
func (s *Server) handleIssues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vreq, errResult := s.validationRequest(ctx, req)
	if errResult != nil {
		return errResult, nil
	}
	if raw := mcp.ParseStringMap(req, "control_schema", nil); raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid control_schema: %v", err)), nil
		}
		vreq.ControlSchema = data
	}

	issues, err := s.aggregator.Execute(ctx, vreq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("validation failed: %v", err)), nil
	}

	persisted := false
	if req.GetBool("persist", false) {
		if s.store == nil {
			return mcp.NewToolResultError("persist requires a configured store"), nil
		}
		if err := s.store.SaveStepIssues(ctx, vreq.Workflow.ID, vreq.StepID, issues); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to persist issues: %v", err)), nil
		}
		persisted = true
		if err := s.notifier.IssuesChanged(ctx, vreq.Workflow.ID, vreq.StepID, issues); err != nil {
			s.logger.Warn("issues notification failed", "workflow_id", vreq.Workflow.ID, "error", err)
		}
	}

	return marshalResult(map[string]any{
		"workflow_id": vreq.Workflow.ID,
		"step_id":     vreq.StepID,
		"issues":      issues,
		"issue_count": issues.Count(),
		"persisted":   persisted,
	})
}

// handleVariables returns the variable schema and its leaf paths.
func (s *Server) handleVariables(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vreq, errResult := s.validationRequest(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	root := s.aggregator.Variables(vreq)
	return marshalResult(map[string]any{
		"step_id": vreq.StepID,
		"schema":  root,
		"paths":   variables.LeafPaths(root),
	})
}

// handlePreview generates an example payload and resolves every valid
// template variable of the step against it.
func (s *Server) handlePreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vreq, errResult := s.validationRequest(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	root := s.aggregator.Variables(vreq)
	payload := s.generator.PreviewPayload(root, mcp.ParseStringMap(req, "payload", nil))

	controls := vreq.Controls
	if controls == nil {
		if stored, ok := vreq.Workflow.StepByKey(vreq.StepID); ok {
			controls = stored.Controls
		}
	}

	extractor := expressions.NewExtractor(expressions.WithStrictFilters(vreq.Features.StrictFilters))
	resolved := map[string]any{}
	var invalid []string
	for _, tpl := range templateStrings(controls) {
		result := extractor.Extract(tpl, root)
		for _, ref := range result.Valid {
			if _, done := resolved[ref.Path]; done {
				continue
			}
			v, err := s.resolver.Resolve(ctx, ref.Segments, payload)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("resolve %s: %v", ref.Path, err)), nil
			}
			resolved[ref.Path] = v
		}
		for _, ref := range result.Invalid {
			invalid = append(invalid, ref.Name())
		}
	}
	sort.Strings(invalid)

	out := map[string]any{
		"step_id":   vreq.StepID,
		"payload":   payload,
		"variables": resolved,
		"invalid":   invalid,
	}
	if query := mcp.ParseString(req, "query", ""); query != "" {
		v, err := s.resolver.Query(ctx, query, payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query: %v", err)), nil
		}
		out["query_result"] = v
	}
	return marshalResult(out)
}

// handleEvaluateRule parses and evaluates a skip rule.
func (s *Server) handleEvaluateRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := mcp.ParseStringMap(req, "rule", nil)
	if raw == nil {
		return mcp.NewToolResultError("rule is required"), nil
	}
	rule, err := rules.Parse(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid rule: %v", err)), nil
	}
	data := mcp.ParseStringMap(req, "data", nil)
	if data == nil {
		data = map[string]any{}
	}

	result, err := s.evaluator.Evaluate(ctx, rule, data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluation failed: %v", err)), nil
	}
	vars := rules.Variables(rule)
	if vars == nil {
		vars = []string{}
	}
	return marshalResult(map[string]any{
		"result":    result,
		"variables": vars,
	})
}

// --- Internal helpers ---

// validationRequest assembles the validation request shared by the step
// tools. A non-nil result is an error to hand back to the client.
func (s *Server) validationRequest(ctx context.Context, req mcp.CallToolRequest) (validation.Request, *mcp.CallToolResult) {
	stepID, err := req.RequireString("step_id")
	if err != nil {
		return validation.Request{}, mcp.NewToolResultError("step_id is required")
	}

	wf, errResult := s.loadWorkflow(ctx, req)
	if errResult != nil {
		return validation.Request{}, errResult
	}

	features := s.features
	if raw := mcp.ParseStringMap(req, "features", nil); raw != nil {
		if err := decodeInto(raw, &features); err != nil {
			return validation.Request{}, mcp.NewToolResultError(fmt.Sprintf("invalid features: %v", err))
		}
	}

	return validation.Request{
		Workflow: wf,
		StepID:   stepID,
		StepType: schema.StepType(req.GetString("step_type", "")),
		Controls: mcp.ParseStringMap(req, "controls", nil),
		Features: features,
	}, nil
}

// loadWorkflow decodes the inline workflow, or reads workflow_id from the
// store and records the caller as a watcher of it.
func (s *Server) loadWorkflow(ctx context.Context, req mcp.CallToolRequest) (*schema.Workflow, *mcp.CallToolResult) {
	if raw := mcp.ParseStringMap(req, "workflow", nil); raw != nil {
		var wf schema.Workflow
		if err := decodeInto(raw, &wf); err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid workflow: %v", err))
		}
		return &wf, nil
	}

	workflowID := req.GetString("workflow_id", "")
	if workflowID == "" {
		return nil, mcp.NewToolResultError("one of workflow or workflow_id is required")
	}
	if s.store == nil {
		return nil, mcp.NewToolResultError("workflow_id requires a configured store")
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err))
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.watches.Watch(workflowID, session.SessionID())
	}
	return wf, nil
}

// templateStrings returns every string found in controls, walking nested
// objects and arrays. The skip rule is not a template and is left out.
func templateStrings(controls map[string]any) []string {
	keys := make([]string, 0, len(controls))
	for k := range controls {
		if k != variables.SkipKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			nested := make([]string, 0, len(t))
			for k := range t {
				nested = append(nested, k)
			}
			sort.Strings(nested)
			for _, k := range nested {
				walk(t[k])
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		}
	}
	for _, k := range keys {
		walk(controls[k])
	}
	return out
}

// decodeInto converts a loosely typed tool argument into a typed value.
func decodeInto(raw map[string]any, target any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
