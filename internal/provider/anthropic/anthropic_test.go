package anthropic

import (
	"testing"

	"github.com/conduitbot/conduit/internal/provider"
	"github.com/conduitbot/conduit/pkg/models"
)

func testModel() *provider.RuntimeModel {
	return &provider.RuntimeModel{UUID: "m1", Name: "claude-sonnet-4-0", APIKey: "k"}
}

func TestBuildParamsSplitsSystemAndTurns(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "be terse"},
		{Role: models.RoleUser, Content: "look it up"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{
			ID:       "call-1",
			Type:     "function",
			Function: models.FunctionCall{Name: "lookup", Arguments: `{"q":"x"}`},
		}}},
		{Role: models.RoleTool, Content: "42", ToolCallID: "call-1"},
	}
	tools := []models.LLMFunction{{
		Name:        "lookup",
		Description: "look things up",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
		},
	}}

	params, err := buildParams(testModel(), messages, tools, nil)
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.System) != 1 || params.System[0].Text != "be terse" {
		t.Fatalf("system = %+v", params.System)
	}
	// System messages never appear as turns.
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(params.Messages))
	}
	if string(params.Messages[0].Role) != "user" {
		t.Fatalf("first turn role = %q", params.Messages[0].Role)
	}
	if string(params.Messages[1].Role) != "assistant" {
		t.Fatalf("tool call turn role = %q", params.Messages[1].Role)
	}
	// Tool results travel as user turns in this dialect.
	if string(params.Messages[2].Role) != "user" {
		t.Fatalf("tool result turn role = %q", params.Messages[2].Role)
	}
	if len(params.Tools) != 1 || params.Tools[0].OfTool == nil {
		t.Fatalf("tools = %+v", params.Tools)
	}
	if got := params.Tools[0].OfTool.Name; got != "lookup" {
		t.Fatalf("tool name = %q", got)
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Fatalf("max tokens = %d, want %d", params.MaxTokens, defaultMaxTokens)
	}
}

func TestBuildParamsMaxTokensOverride(t *testing.T) {
	params, err := buildParams(testModel(),
		[]models.Message{{Role: models.RoleUser, Content: "hi"}}, nil,
		map[string]any{"max_tokens": 512})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.MaxTokens != 512 {
		t.Fatalf("max tokens = %d, want 512", params.MaxTokens)
	}
}

func TestBuildParamsRejectsMalformedToolArguments(t *testing.T) {
	messages := []models.Message{{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{
		ID:       "call-1",
		Type:     "function",
		Function: models.FunctionCall{Name: "lookup", Arguments: `{"q":`},
	}}}}
	_, err := buildParams(testModel(), messages, nil, nil)
	if err == nil {
		t.Fatal("truncated tool arguments should fail")
	}
	if kind := provider.KindOf(err); kind != provider.KindBadRequest {
		t.Fatalf("kind = %q, want bad_request", kind)
	}
}

func TestBuildParamsSkipsEmptyTurns(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant},
		{Role: models.RoleUser, Content: "still there?"},
	}
	params, err := buildParams(testModel(), messages, nil, nil)
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (empty assistant turn dropped)", len(params.Messages))
	}
}
