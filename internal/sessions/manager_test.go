package sessions

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/pkg/models"
)

func TestGetSessionReturnsSameInstance(t *testing.T) {
	m := NewManager(2, nil)
	a := m.GetSession(models.LauncherPerson, "42")
	b := m.GetSession(models.LauncherPerson, "42")
	if a != b {
		t.Fatal("same launcher must map to one session")
	}
	c := m.GetSession(models.LauncherGroup, "42")
	if a == c {
		t.Fatal("group and person launchers must not share a session")
	}
	if a.Key() != "person_42" || c.Key() != "group_42" {
		t.Fatalf("keys = %s, %s", a.Key(), c.Key())
	}
}

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	m := NewManager(2, nil)
	s := m.GetSession(models.LauncherPerson, "1")

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			defer s.Release()
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds semaphore capacity 2", peak.Load())
	}
}

func TestGetConversationReusesActivePipeline(t *testing.T) {
	m := NewManager(1, nil)
	s := m.GetSession(models.LauncherPerson, "7")
	prompt := []config.PromptMessage{{Role: "system", Content: "be nice"}}

	c1 := m.GetConversation(s, prompt, "pipe-a", "bot-1", nil)
	c2 := m.GetConversation(s, prompt, "pipe-a", "bot-1", nil)
	if c1 != c2 {
		t.Fatal("active conversation not reused for same pipeline")
	}

	c3 := m.GetConversation(s, prompt, "pipe-b", "bot-1", nil)
	if c3 == c1 {
		t.Fatal("pipeline change must create a new conversation")
	}
	if got := len(s.Conversations()); got != 2 {
		t.Fatalf("conversations retained = %d, want 2", got)
	}
	if s.Current() != c3 {
		t.Fatal("current pointer not updated")
	}
}

func TestResetConversationStartsFresh(t *testing.T) {
	m := NewManager(1, nil)
	s := m.GetSession(models.LauncherPerson, "9")
	c1 := m.GetConversation(s, nil, "pipe", "bot", nil)
	m.ResetConversation(s)
	c2 := m.GetConversation(s, nil, "pipe", "bot", nil)
	if c1 == c2 {
		t.Fatal("reset did not detach the active conversation")
	}
}

func TestTruncateDropsOrphanToolMessages(t *testing.T) {
	c := newConversation("p", "b", nil, nil)
	c.Append(
		models.Message{Role: models.RoleUser, Content: "q1"},
		models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "t1"}}},
		models.Message{Role: models.RoleTool, ToolCallID: "t1", Content: "r"},
		models.Message{Role: models.RoleAssistant, Content: "a1"},
		models.Message{Role: models.RoleUser, Content: "q2"},
		models.Message{Role: models.RoleAssistant, Content: "a2"},
	)
	c.Truncate(5)
	msgs := c.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4 (orphan tool dropped)", len(msgs))
	}
	if msgs[0].Role == models.RoleTool {
		t.Fatal("history starts with an orphan tool message")
	}
}

func TestCommitTurnPersists(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir() + "/conduit.db")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	m := NewManager(1, store)
	s := m.GetSession(models.LauncherPerson, "5")
	conv := m.GetConversation(s, nil, "pipe", "bot", nil)

	turn := []models.Message{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi there"},
	}
	if err := m.CommitTurn(context.Background(), conv, turn); err != nil {
		t.Fatal(err)
	}
	if conv.Len() != 2 {
		t.Fatalf("in-memory history = %d", conv.Len())
	}

	stored, err := store.GetMessages(context.Background(), conv.UUID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 || stored[1].Content != "hi there" {
		t.Fatalf("stored = %+v", stored)
	}

	limited, err := store.GetMessages(context.Background(), conv.UUID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Content != "hi there" {
		t.Fatalf("limited = %+v", limited)
	}
}
