package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.aggregator)
	assert.NotNil(t, s.generator)
	assert.NotNil(t, s.evaluator)
	assert.NotNil(t, s.notifier)
	assert.Same(t, s.notifier, s.Notifier())
}

func TestToolRegistration(t *testing.T) {
	s := NewServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 4)

	expectedTools := []string{
		"stepcheck.issues",
		"stepcheck.variables",
		"stepcheck.preview",
		"stepcheck.evaluate_rule",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"issues", "stepcheck.issues", "Validate a workflow step and return its issues"},
		{"variables", "stepcheck.variables", "Return the variable schema available to a workflow step"},
		{"preview", "stepcheck.preview", "Build an example payload for a step and resolve its template variables"},
		{"evaluate_rule", "stepcheck.evaluate_rule", "Evaluate a skip rule against data"},
	}

	s := NewServer(ServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}

func TestToolRequiredArgs(t *testing.T) {
	s := NewServer(ServerDeps{})

	issues := s.mcpServer.GetTool("stepcheck.issues")
	require.NotNil(t, issues)
	assert.Contains(t, issues.Tool.InputSchema.Required, "step_id")
	assert.Contains(t, issues.Tool.InputSchema.Properties, "persist")

	rule := s.mcpServer.GetTool("stepcheck.evaluate_rule")
	require.NotNil(t, rule)
	assert.Equal(t, []string{"rule"}, rule.Tool.InputSchema.Required)
}

func TestToolArgsListVocabulary(t *testing.T) {
	s := NewServer(ServerDeps{})

	issues := s.mcpServer.GetTool("stepcheck.issues")
	require.NotNil(t, issues)
	stepType, ok := issues.Tool.InputSchema.Properties["step_type"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, stepType["description"], "delay, ")
	assert.Contains(t, stepType["description"], "in_app")

	controls, ok := issues.Tool.InputSchema.Properties["controls"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, controls["description"], "toSentence")
	assert.Contains(t, controls["description"], "upcase")

	rule := s.mcpServer.GetTool("stepcheck.evaluate_rule")
	require.NotNil(t, rule)
	ruleArg, ok := rule.Tool.InputSchema.Properties["rule"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, ruleArg["description"], "moreThanXAgo")
	assert.Contains(t, ruleArg["description"], "between")

	preview := s.mcpServer.GetTool("stepcheck.preview")
	require.NotNil(t, preview)
	assert.Contains(t, preview.Tool.InputSchema.Properties, "query")
}
