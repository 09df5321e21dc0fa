// Package webchat serves a WebSocket chat endpoint and adapts it to the
// platform seam. Each connection is one person session; streaming chunks
// are forwarded natively as frames.
package webchat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/platform"
	"github.com/conduitbot/conduit/pkg/models"
)

const (
	maxFrameBytes = 1 << 20
	writeWait     = 10 * time.Second
)

// frame is the wire format in both directions.
type frame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsFinal   bool   `json:"is_final,omitempty"`
}

type conn struct {
	ws     *websocket.Conn
	userID string

	writeMu sync.Mutex
}

func (c *conn) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

type Adapter struct {
	*platform.Listeners

	cfg      config.WebChatConfig
	log      *observability.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu    sync.RWMutex
	conns map[string]*conn
}

func NewAdapter(cfg config.WebChatConfig, log *observability.Logger) (*Adapter, error) {
	if cfg.Listen == "" {
		return nil, fmt.Errorf("webchat: listen address is required")
	}
	a := &Adapter{
		Listeners: platform.NewListeners(),
		cfg:       cfg,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", a.handleChat)
	a.server = &http.Server{Addr: cfg.Listen, Handler: mux}
	return a, nil
}

func (a *Adapter) Name() string { return "webchat" }

func (a *Adapter) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()
	a.log.Info(ctx, "webchat adapter listening", "addr", a.cfg.Listen)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *Adapter) Kill(ctx context.Context) bool {
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn(ctx, "webchat shutdown failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = uuid.NewString()
	}
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn(r.Context(), "webchat upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	c := &conn{ws: ws, userID: userID}
	a.mu.Lock()
	if prev, ok := a.conns[userID]; ok {
		prev.ws.Close()
	}
	a.conns[userID] = c
	a.mu.Unlock()

	a.log.Info(r.Context(), "webchat client connected", "user", userID)
	a.readLoop(c)

	a.mu.Lock()
	if a.conns[userID] == c {
		delete(a.conns, userID)
	}
	a.mu.Unlock()
	ws.Close()
}

func (a *Adapter) readLoop(c *conn) {
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != "message" || f.Content == "" {
			continue
		}
		messageID := f.MessageID
		if messageID == "" {
			messageID = uuid.NewString()
		}
		event := &models.MessageEvent{
			Kind:   models.EventFriendMessage,
			Sender: models.Sender{ID: c.userID},
			Chain: models.MessageChain{
				models.Source{MessageID: messageID, Time: time.Now()},
				models.Text{Text: f.Content},
			},
			Time:           time.Now(),
			PlatformObject: c,
		}
		a.Dispatch(context.Background(), event)
	}
}

func (a *Adapter) SendMessage(_ context.Context, _ platform.TargetType, targetID string, chain models.MessageChain) error {
	a.mu.RLock()
	c, ok := a.conns[targetID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("webchat: no connection for %q", targetID)
	}
	return c.writeFrame(frame{Type: "message", Content: chain.PlainText()})
}

func (a *Adapter) ReplyMessage(_ context.Context, event *models.MessageEvent, chain models.MessageChain, _ bool) error {
	c, ok := event.PlatformObject.(*conn)
	if !ok {
		return fmt.Errorf("webchat: event does not carry a connection")
	}
	if err := c.writeFrame(frame{Type: "message", Content: chain.PlainText()}); err != nil {
		return fmt.Errorf("webchat: write: %w", err)
	}
	return nil
}

func (a *Adapter) ReplyMessageChunk(_ context.Context, event *models.MessageEvent, respMessageID string, chain models.MessageChain, _ bool, isFinal bool) error {
	c, ok := event.PlatformObject.(*conn)
	if !ok {
		return fmt.Errorf("webchat: event does not carry a connection")
	}
	err := c.writeFrame(frame{
		Type:      "chunk",
		MessageID: respMessageID,
		Content:   chain.PlainText(),
		IsFinal:   isFinal,
	})
	if err != nil {
		return fmt.Errorf("webchat: write chunk: %w", err)
	}
	return nil
}

func (a *Adapter) IsStreamOutputSupported() bool { return true }

func (a *Adapter) IsMuted(context.Context, string) bool { return false }
