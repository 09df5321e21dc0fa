package webchat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/pkg/models"
)

func dialTestAdapter(t *testing.T) (*Adapter, *websocket.Conn) {
	t.Helper()
	a, err := NewAdapter(config.WebChatConfig{Listen: ":0"}, observability.NewTestLogger())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(a.handleChat))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=u1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return a, ws
}

func TestInboundMessageDispatchesEvent(t *testing.T) {
	a, ws := dialTestAdapter(t)

	events := make(chan *models.MessageEvent, 1)
	a.RegisterListener(models.EventFriendMessage, func(_ context.Context, ev *models.MessageEvent) {
		events <- ev
	})

	if err := ws.WriteJSON(frame{Type: "message", Content: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Sender.ID != "u1" {
			t.Fatalf("sender = %q, want u1", ev.Sender.ID)
		}
		if got := ev.Chain.PlainText(); got != "hello" {
			t.Fatalf("text = %q, want hello", got)
		}
		if _, ok := ev.Chain.Source(); !ok {
			t.Fatal("chain missing source marker")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event dispatched")
	}
}

func TestReplyRoundTrip(t *testing.T) {
	a, ws := dialTestAdapter(t)

	a.RegisterListener(models.EventFriendMessage, func(ctx context.Context, ev *models.MessageEvent) {
		chain := models.MessageChain{models.Text{Text: "pong"}}
		if err := a.ReplyMessage(ctx, ev, chain, false); err != nil {
			t.Errorf("ReplyMessage: %v", err)
		}
	})

	if err := ws.WriteJSON(frame{Type: "message", Content: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got frame
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "message" || got.Content != "pong" {
		t.Fatalf("frame = %+v, want message pong", got)
	}
}

func TestChunkFramesCarrySequenceIdentity(t *testing.T) {
	a, ws := dialTestAdapter(t)

	a.RegisterListener(models.EventFriendMessage, func(ctx context.Context, ev *models.MessageEvent) {
		for i, text := range []string{"par", "partial", "partial answer"} {
			chain := models.MessageChain{models.Text{Text: text}}
			if err := a.ReplyMessageChunk(ctx, ev, "resp-1", chain, false, i == 2); err != nil {
				t.Errorf("ReplyMessageChunk: %v", err)
			}
		}
	})

	if err := ws.WriteJSON(frame{Type: "message", Content: "go"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frames []frame
	for len(frames) < 3 {
		var got frame
		if err := ws.ReadJSON(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		frames = append(frames, got)
	}
	for _, f := range frames {
		if f.Type != "chunk" || f.MessageID != "resp-1" {
			t.Fatalf("frame = %+v, want chunk resp-1", f)
		}
	}
	if !frames[2].IsFinal {
		t.Fatal("last frame should be final")
	}
	if frames[0].IsFinal || frames[1].IsFinal {
		t.Fatal("non-terminal frames must not be final")
	}
	if frames[2].Content != "partial answer" {
		t.Fatalf("final content = %q", frames[2].Content)
	}
}
