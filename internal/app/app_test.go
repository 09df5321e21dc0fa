package app

import (
	"context"
	"testing"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/plugins"
	"github.com/conduitbot/conduit/pkg/models"
)

func minimalConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pipelines = []config.PipelineConfig{
		{UUID: "default"},
		{UUID: "secondary"},
	}
	return cfg
}

func TestNewBuildsPipelines(t *testing.T) {
	a, err := New(context.Background(), minimalConfig(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if rp := a.runtimePipeline("secondary"); rp == nil || rp.Config.UUID != "secondary" {
		t.Fatalf("runtimePipeline(secondary) = %v", rp)
	}
	if rp := a.runtimePipeline(""); rp == nil || rp.Config.UUID != "default" {
		t.Fatal("empty pipeline id should fall back to the first pipeline")
	}
	if rp := a.runtimePipeline("missing"); rp == nil || rp.Config.UUID != "default" {
		t.Fatal("unknown pipeline id should fall back to the first pipeline")
	}
}

func TestBuiltinCommandsRegistered(t *testing.T) {
	a, err := New(context.Background(), minimalConfig(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	names := map[string]bool{}
	for _, cmd := range a.host.ListCommands(nil) {
		names[cmd.Name] = true
	}
	for _, want := range []string{"help", "reset"} {
		if !names[want] {
			t.Fatalf("builtin command %q not registered (have %v)", want, names)
		}
	}
}

func TestResetCommandClearsConversation(t *testing.T) {
	a, err := New(context.Background(), minimalConfig(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	session := a.sessions.GetSession(models.LauncherPerson, "7")
	conv := a.sessions.GetConversation(session, nil, "default", a.botUUID, nil)

	ctx := plugins.WithInvocation(context.Background(), plugins.CommandInvocation{
		LauncherType: models.LauncherPerson,
		LauncherID:   "7",
		SenderID:     "7",
	})
	var returns []plugins.CommandReturn
	err = a.host.ExecuteCommand(ctx, "reset", nil, nil, func(cr plugins.CommandReturn) {
		returns = append(returns, cr)
	})
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if len(returns) != 1 || returns[0].Text != "Conversation reset" {
		t.Fatalf("returns = %+v", returns)
	}

	next := a.sessions.GetConversation(session, nil, "default", a.botUUID, nil)
	if next.UUID == conv.UUID {
		t.Fatal("reset should start a fresh conversation")
	}
}

func TestResetWithoutInvocationFails(t *testing.T) {
	a, err := New(context.Background(), minimalConfig(), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = a.host.ExecuteCommand(context.Background(), "reset", nil, nil, func(plugins.CommandReturn) {})
	if err == nil {
		t.Fatal("reset without caller identity should fail")
	}
}
