package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/conduitbot/conduit/pkg/models"
)

func echoTool(name string) InternalTool {
	return InternalTool{
		Function: models.LLMFunction{
			Name:        name,
			Description: "echoes its input",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"x": map[string]any{"type": "number"}},
				"required":   []any{"x"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"ok": true, "x": args["x"]}, nil
		},
	}
}

func TestManagerExecuteRoutesToOwningLoader(t *testing.T) {
	internal := NewInternalLoader()
	internal.Register(echoTool("echo"))
	plugins := NewPluginLoader()
	plugins.Register("foo", models.LLMFunction{Name: "echo"}, func(ctx context.Context, args map[string]any) (any, error) {
		return "plugin result", nil
	})
	mgr := NewManager(internal, plugins)

	result, err := mgr.Execute(context.Background(), "echo", `{"x": 1}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if m, ok := result.(map[string]any); !ok || m["ok"] != true {
		t.Fatalf("internal tool not chosen: %v", result)
	}

	result, err = mgr.Execute(context.Background(), "plugin-foo-echo", `{}`)
	if err != nil {
		t.Fatalf("Execute plugin tool: %v", err)
	}
	if result != "plugin result" {
		t.Fatalf("plugin result = %v", result)
	}
}

func TestManagerExecuteUnknownTool(t *testing.T) {
	mgr := NewManager(NewInternalLoader())
	_, err := mgr.Execute(context.Background(), "nope", "{}")
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrToolNotFound", err)
	}
}

func TestManagerValidatesArguments(t *testing.T) {
	internal := NewInternalLoader()
	internal.Register(echoTool("echo"))
	mgr := NewManager(internal)

	if _, err := mgr.Execute(context.Background(), "echo", `{"x": "not a number"}`); err == nil {
		t.Fatal("expected schema validation error")
	}
	var execErr *ExecutionError
	_, err := mgr.Execute(context.Background(), "echo", `{}`)
	if !errors.As(err, &execErr) {
		t.Fatalf("missing required arg: err = %v", err)
	}
}

func TestGetAllToolsRespectsFilters(t *testing.T) {
	plugins := NewPluginLoader()
	plugins.Register("foo", models.LLMFunction{Name: "a"}, nil)
	plugins.Register("bar", models.LLMFunction{Name: "b"}, nil)
	mgr := NewManager(plugins)

	all, err := mgr.GetAllTools(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d tools", len(all))
	}

	filtered, err := mgr.GetAllTools(context.Background(), []string{"foo"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Name != "plugin-foo-a" {
		t.Fatalf("filtered = %+v", filtered)
	}

	none, err := mgr.GetAllTools(context.Background(), []string{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("empty filter should drop all plugin tools, got %d", len(none))
	}
}

func TestSchemaGenerators(t *testing.T) {
	fns := []models.LLMFunction{{
		Name:        "search",
		Description: "web search",
		Parameters:  map[string]any{"type": "object"},
	}}

	oa := GenerateToolsForOpenAI(fns)
	if oa[0]["type"] != "function" {
		t.Errorf("openai schema = %v", oa[0])
	}
	fn := oa[0]["function"].(map[string]any)
	if fn["name"] != "search" || fn["parameters"] == nil {
		t.Errorf("openai function = %v", fn)
	}

	an := GenerateToolsForAnthropic(fns)
	if an[0]["name"] != "search" || an[0]["input_schema"] == nil {
		t.Errorf("anthropic schema = %v", an[0])
	}
	if _, hasType := an[0]["type"]; hasType {
		t.Error("anthropic schema must not carry a type wrapper")
	}
}
