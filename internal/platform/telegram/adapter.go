// Package telegram adapts the Telegram Bot API to the platform seam using
// long polling. Streaming output is emulated by editing the sent message
// in place.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/platform"
	"github.com/conduitbot/conduit/pkg/models"
)

type Adapter struct {
	*platform.Listeners

	cfg config.TelegramConfig
	log *observability.Logger
	bot *bot.Bot

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// streamed tracks the Telegram message each response stream edits.
	streamMu sync.Mutex
	streamed map[string]streamState
}

type streamState struct {
	chatID    int64
	messageID int
	lastText  string
}

func NewAdapter(cfg config.TelegramConfig, log *observability.Logger) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot-token is required")
	}
	a := &Adapter{
		Listeners: platform.NewListeners(),
		cfg:       cfg,
		log:       log,
		streamed:  make(map[string]streamState),
	}
	b, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b
	return a, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancelMu.Lock()
	a.cancel = cancel
	a.cancelMu.Unlock()

	a.log.Info(ctx, "telegram adapter listening")
	a.bot.Start(ctx)
	return ctx.Err()
}

func (a *Adapter) Kill(ctx context.Context) bool {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	if a.cancel == nil {
		return false
	}
	a.cancel()
	a.cancel = nil
	return true
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}

	chain := models.MessageChain{models.Source{
		MessageID: strconv.Itoa(msg.ID),
		Time:      time.Unix(int64(msg.Date), 0),
	}}
	if text := firstNonEmpty(msg.Text, msg.Caption); text != "" {
		chain = append(chain, models.Text{Text: text})
	}
	if len(msg.Photo) > 0 {
		if url, err := a.fileURL(ctx, msg.Photo[len(msg.Photo)-1].FileID); err == nil {
			chain = append(chain, models.Image{URL: url})
		} else {
			a.log.Warn(ctx, "failed to resolve photo url", "error", err)
		}
	}
	if msg.Document != nil {
		url, err := a.fileURL(ctx, msg.Document.FileID)
		if err != nil {
			a.log.Warn(ctx, "failed to resolve document url", "error", err)
		}
		chain = append(chain, models.File{
			Name: msg.Document.FileName,
			URL:  url,
			Size: msg.Document.FileSize,
		})
	}
	if len(chain) == 1 {
		return
	}

	event := &models.MessageEvent{
		Sender: models.Sender{
			ID:       strconv.FormatInt(msg.From.ID, 10),
			Nickname: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		},
		Chain:          chain,
		Time:           time.Unix(int64(msg.Date), 0),
		PlatformObject: msg,
	}
	if msg.Chat.Type == "private" {
		event.Kind = models.EventFriendMessage
	} else {
		event.Kind = models.EventGroupMessage
		event.Sender.GroupID = strconv.FormatInt(msg.Chat.ID, 10)
	}
	a.Dispatch(ctx, event)
}

func (a *Adapter) fileURL(ctx context.Context, fileID string) (string, error) {
	file, err := a.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", err
	}
	return a.bot.FileDownloadLink(file), nil
}

func (a *Adapter) SendMessage(ctx context.Context, _ platform.TargetType, targetID string, chain models.MessageChain) error {
	chatID, err := strconv.ParseInt(targetID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad target id %q: %w", targetID, err)
	}
	return a.deliver(ctx, chatID, 0, chain)
}

func (a *Adapter) ReplyMessage(ctx context.Context, event *models.MessageEvent, chain models.MessageChain, quoteOrigin bool) error {
	origin, ok := event.PlatformObject.(*tgmodels.Message)
	if !ok {
		return fmt.Errorf("telegram: event does not carry a telegram message")
	}
	replyTo := 0
	if quoteOrigin {
		replyTo = origin.ID
	}
	return a.deliver(ctx, origin.Chat.ID, replyTo, chain)
}

// deliver renders the chain and sends text plus media. Text goes first so
// mention and quote semantics land on the textual message.
func (a *Adapter) deliver(ctx context.Context, chatID int64, replyTo int, chain models.MessageChain) error {
	if text := renderText(chain); text != "" {
		params := &bot.SendMessageParams{ChatID: chatID, Text: text}
		if replyTo != 0 {
			params.ReplyParameters = &tgmodels.ReplyParameters{MessageID: replyTo}
		}
		if _, err := a.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	for _, el := range chain {
		switch part := el.(type) {
		case models.Image:
			ref := firstNonEmpty(part.URL, part.Base64)
			if ref == "" {
				continue
			}
			if _, err := a.bot.SendPhoto(ctx, &bot.SendPhotoParams{
				ChatID: chatID,
				Photo:  &tgmodels.InputFileString{Data: ref},
			}); err != nil {
				return fmt.Errorf("telegram: send photo: %w", err)
			}
		case models.File:
			if part.URL == "" {
				continue
			}
			if _, err := a.bot.SendDocument(ctx, &bot.SendDocumentParams{
				ChatID:   chatID,
				Document: &tgmodels.InputFileString{Data: part.URL},
			}); err != nil {
				return fmt.Errorf("telegram: send document: %w", err)
			}
		}
	}
	return nil
}

// ReplyMessageChunk sends the first chunk as a normal message and edits it
// in place for every later chunk of the same respMessageID.
func (a *Adapter) ReplyMessageChunk(ctx context.Context, event *models.MessageEvent, respMessageID string, chain models.MessageChain, quoteOrigin, isFinal bool) error {
	origin, ok := event.PlatformObject.(*tgmodels.Message)
	if !ok {
		return fmt.Errorf("telegram: event does not carry a telegram message")
	}
	text := renderText(chain)
	if text == "" {
		return nil
	}

	a.streamMu.Lock()
	state, started := a.streamed[respMessageID]
	a.streamMu.Unlock()

	if !started {
		params := &bot.SendMessageParams{ChatID: origin.Chat.ID, Text: text}
		if quoteOrigin {
			params.ReplyParameters = &tgmodels.ReplyParameters{MessageID: origin.ID}
		}
		sent, err := a.bot.SendMessage(ctx, params)
		if err != nil {
			return fmt.Errorf("telegram: send chunk: %w", err)
		}
		a.streamMu.Lock()
		a.streamed[respMessageID] = streamState{chatID: origin.Chat.ID, messageID: sent.ID, lastText: text}
		a.streamMu.Unlock()
	} else if text != state.lastText {
		_, err := a.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    state.chatID,
			MessageID: state.messageID,
			Text:      text,
		})
		if err != nil {
			return fmt.Errorf("telegram: edit chunk: %w", err)
		}
		state.lastText = text
		a.streamMu.Lock()
		a.streamed[respMessageID] = state
		a.streamMu.Unlock()
	}

	if isFinal {
		a.streamMu.Lock()
		delete(a.streamed, respMessageID)
		a.streamMu.Unlock()
	}
	return nil
}

func (a *Adapter) IsStreamOutputSupported() bool { return true }

func (a *Adapter) IsMuted(context.Context, string) bool { return false }

// renderText flattens the textual parts of a chain. Mentions degrade to a
// plain @-prefix because Telegram cannot mention users by numeric ID in
// message text.
func renderText(chain models.MessageChain) string {
	var b strings.Builder
	for _, el := range chain {
		switch part := el.(type) {
		case models.Text:
			b.WriteString(part.Text)
		case models.At:
			b.WriteString("@" + part.Target + " ")
		case models.Forward:
			for _, node := range part.Nodes {
				b.WriteString(node.Chain.PlainText())
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
