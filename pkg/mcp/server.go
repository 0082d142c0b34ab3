package mcp

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/stepcheck/internal/expressions"
	"github.com/rendis/stepcheck/internal/mock"
	"github.com/rendis/stepcheck/internal/rules"
	"github.com/rendis/stepcheck/internal/store"
	"github.com/rendis/stepcheck/internal/validation"
	"github.com/rendis/stepcheck/pkg/schema"
)

// ServerDeps holds the dependencies for creating a Server. Only Aggregator is
// required; a nil Store limits the tools to inline workflows.
type ServerDeps struct {
	Aggregator *validation.Aggregator
	Store      store.Store
	Generator  *mock.Generator
	Evaluator  *rules.Evaluator
	Resolver   *expressions.Resolver
	// Features are the defaults applied when a call sends none.
	Features schema.FeatureContext
	Logger   *slog.Logger
}

// Server wraps an MCP server with the stepcheck tool handlers.
type Server struct {
	aggregator *validation.Aggregator
	store      store.Store
	generator  *mock.Generator
	evaluator  *rules.Evaluator
	resolver   *expressions.Resolver
	features   schema.FeatureContext
	watches    *WatchRegistry
	notifier   IssuesNotifier
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewServer creates a Server with all 4 tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		aggregator: deps.Aggregator,
		store:      deps.Store,
		generator:  deps.Generator,
		evaluator:  deps.Evaluator,
		resolver:   deps.Resolver,
		features:   deps.Features,
		watches:    NewWatchRegistry(),
		logger:     logger,
	}
	if s.aggregator == nil {
		s.aggregator = validation.NewAggregator(validation.WithLogger(logger))
	}
	if s.generator == nil {
		s.generator = mock.NewGenerator()
	}
	if s.resolver == nil {
		s.resolver = expressions.NewResolver()
	}
	if s.evaluator == nil {
		s.evaluator = rules.NewEvaluator(rules.WithResolver(s.resolver))
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.watches.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"stepcheck",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Stepcheck validates notification workflow steps. Use stepcheck.issues to list the problems of a step's control values, stepcheck.variables to see which template variables a step may use, stepcheck.preview to build an example payload and resolve a step's variables against it, and stepcheck.evaluate_rule to run a skip rule against data."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.watches)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Notifier returns the notifier that pushes issue changes to watching sessions.
func (s *Server) Notifier() IssuesNotifier {
	return s.notifier
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: issuesTool(), Handler: s.handleIssues},
		{Tool: variablesTool(), Handler: s.handleVariables},
		{Tool: previewTool(), Handler: s.handlePreview},
		{Tool: evaluateRuleTool(), Handler: s.handleEvaluateRule},
	}
}

// --- Tool definitions ---

func workflowArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithObject("workflow", mcp.Description("Inline workflow definition (id, organization_id, environment_id, origin, payload_schema, steps)")),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow; used when no inline workflow is given")),
		mcp.WithString("step_id", mcp.Required(), mcp.Description("Key of the target step. An unknown key is treated as a new step appended at the end")),
		mcp.WithString("step_type", mcp.Description("Step type, required for a new step. One of: "+stepTypeList())),
		mcp.WithObject("controls", mcp.Description("Unsaved control values replacing the stored ones. Templates may use the filters: "+strings.Join(expressions.FilterNames(), ", "))),
		mcp.WithObject("features", mcp.Description("Feature flags: self_hosted, strict_filters, infer_payload_schema")),
	}
}

func issuesTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Validate a workflow step and return its issues"),
	}, workflowArgs()...)
	opts = append(opts,
		mcp.WithObject("control_schema", mcp.Description("JSON Schema replacing the step type's control schema")),
		mcp.WithBoolean("persist", mcp.Description("Store the issues next to the step (requires a store)")),
	)
	return mcp.NewTool("stepcheck.issues", opts...)
}

func variablesTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Return the variable schema available to a workflow step"),
	}, workflowArgs()...)
	return mcp.NewTool("stepcheck.variables", opts...)
}

func previewTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Build an example payload for a step and resolve its template variables"),
	}, workflowArgs()...)
	opts = append(opts,
		mcp.WithObject("payload", mcp.Description("Example values merged over the generated payload")),
		mcp.WithString("query", mcp.Description("jq expression evaluated against the preview payload, e.g. [.payload.items[].name]")),
	)
	return mcp.NewTool("stepcheck.preview", opts...)
}

func evaluateRuleTool() mcp.Tool {
	return mcp.NewTool("stepcheck.evaluate_rule",
		mcp.WithDescription("Evaluate a skip rule against data"),
		mcp.WithObject("rule", mcp.Required(), mcp.Description("JSON-logic rule. Operators: "+strings.Join(rules.Operators(), ", "))),
		mcp.WithObject("data", mcp.Description("Evaluation data (subscriber, payload, steps)")),
	)
}

func stepTypeList() string {
	types := schema.AllStepTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
