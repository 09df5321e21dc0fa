package plugins

import (
	"context"
	"testing"
)

func TestEmitEventRunsHandlersInOrder(t *testing.T) {
	host := NewInProcessHost()
	var order []string
	host.RegisterHandler("a", PersonNormalMessageReceived, func(ctx context.Context, ec *EventContext) {
		order = append(order, "a")
		ec.SetAlter("altered")
	})
	host.RegisterHandler("b", PersonNormalMessageReceived, func(ctx context.Context, ec *EventContext) {
		order = append(order, "b")
	})

	ec, err := host.EmitEvent(context.Background(), &Event{Name: PersonNormalMessageReceived, Text: "hi"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v", order)
	}
	if ec.Alter == nil || *ec.Alter != "altered" {
		t.Fatalf("alter = %v", ec.Alter)
	}
}

func TestEmitEventHonorsBoundPlugins(t *testing.T) {
	host := NewInProcessHost()
	called := map[string]bool{}
	for _, p := range []string{"a", "b"} {
		plugin := p
		host.RegisterHandler(plugin, GroupNormalMessageReceived, func(ctx context.Context, ec *EventContext) {
			called[plugin] = true
		})
	}

	if _, err := host.EmitEvent(context.Background(), &Event{Name: GroupNormalMessageReceived}, []string{"b"}); err != nil {
		t.Fatal(err)
	}
	if called["a"] || !called["b"] {
		t.Fatalf("called = %v", called)
	}
}

func TestExecuteCommandStreamsReturns(t *testing.T) {
	host := NewInProcessHost()
	host.RegisterCommand(Command{
		Plugin: "foo",
		Name:   "roll",
		Handler: func(ctx context.Context, args []string, yield func(CommandReturn)) error {
			yield(CommandReturn{Type: CommandReturnText, Text: "4"})
			yield(CommandReturn{Type: CommandReturnText, Text: "done"})
			return nil
		},
	})

	var got []string
	err := host.ExecuteCommand(context.Background(), "roll", nil, nil, func(r CommandReturn) {
		got = append(got, r.Text)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "4" {
		t.Fatalf("got = %v", got)
	}

	if err := host.ExecuteCommand(context.Background(), "missing", nil, nil, func(CommandReturn) {}); err == nil {
		t.Fatal("expected error for unknown command")
	}
	// Bound filter excludes the owning plugin.
	if err := host.ExecuteCommand(context.Background(), "roll", nil, []string{"other"}, func(CommandReturn) {}); err == nil {
		t.Fatal("expected error when plugin not bound")
	}
}
