// Package discord adapts the Discord gateway to the platform seam.
// Streaming output is emulated by editing the sent message in place.
package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/conduitbot/conduit/internal/config"
	"github.com/conduitbot/conduit/internal/observability"
	"github.com/conduitbot/conduit/internal/platform"
	"github.com/conduitbot/conduit/pkg/models"
)

type Adapter struct {
	*platform.Listeners

	cfg     config.DiscordConfig
	log     *observability.Logger
	session *discordgo.Session

	streamMu sync.Mutex
	streamed map[string]streamState
}

type streamState struct {
	channelID string
	messageID string
	lastText  string
}

func NewAdapter(cfg config.DiscordConfig, log *observability.Logger) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord: bot-token is required")
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	a := &Adapter{
		Listeners: platform.NewListeners(),
		cfg:       cfg,
		log:       log,
		session:   session,
		streamed:  make(map[string]streamState),
	}
	session.AddHandler(a.handleMessageCreate)
	return a, nil
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) Run(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.log.Info(ctx, "discord adapter listening")
	<-ctx.Done()
	if err := a.session.Close(); err != nil {
		a.log.Warn(ctx, "discord gateway close failed", "error", err)
	}
	return ctx.Err()
}

func (a *Adapter) Kill(ctx context.Context) bool {
	if err := a.session.Close(); err != nil {
		a.log.Warn(ctx, "discord gateway close failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	chain := models.MessageChain{models.Source{MessageID: m.ID, Time: m.Timestamp}}
	if m.Content != "" {
		chain = append(chain, models.Text{Text: m.Content})
	}
	for _, att := range m.Attachments {
		if strings.HasPrefix(att.ContentType, "image/") {
			chain = append(chain, models.Image{URL: att.URL})
			continue
		}
		chain = append(chain, models.File{
			Name: att.Filename,
			URL:  att.URL,
			Size: int64(att.Size),
		})
	}
	if len(chain) == 1 {
		return
	}

	event := &models.MessageEvent{
		Sender: models.Sender{
			ID:       m.Author.ID,
			Nickname: m.Author.Username,
		},
		Chain:          chain,
		Time:           m.Timestamp,
		PlatformObject: m.Message,
	}
	if m.GuildID == "" {
		event.Kind = models.EventFriendMessage
	} else {
		event.Kind = models.EventGroupMessage
		event.Sender.GroupID = m.ChannelID
	}
	a.Dispatch(context.Background(), event)
}

func (a *Adapter) SendMessage(_ context.Context, _ platform.TargetType, targetID string, chain models.MessageChain) error {
	return a.deliver(targetID, nil, chain)
}

func (a *Adapter) ReplyMessage(_ context.Context, event *models.MessageEvent, chain models.MessageChain, quoteOrigin bool) error {
	origin, ok := event.PlatformObject.(*discordgo.Message)
	if !ok {
		return fmt.Errorf("discord: event does not carry a discord message")
	}
	var ref *discordgo.MessageReference
	if quoteOrigin {
		ref = origin.Reference()
	}
	return a.deliver(origin.ChannelID, ref, chain)
}

func (a *Adapter) deliver(channelID string, ref *discordgo.MessageReference, chain models.MessageChain) error {
	send := &discordgo.MessageSend{
		Content:   renderText(chain),
		Reference: ref,
	}
	for _, el := range chain {
		if img, ok := el.(models.Image); ok && img.URL != "" {
			send.Embeds = append(send.Embeds, &discordgo.MessageEmbed{
				Image: &discordgo.MessageEmbedImage{URL: img.URL},
			})
		}
		if f, ok := el.(models.File); ok && f.URL != "" {
			send.Content += "\n" + f.URL
		}
	}
	if send.Content == "" && len(send.Embeds) == 0 {
		return nil
	}
	if _, err := a.session.ChannelMessageSendComplex(channelID, send); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// ReplyMessageChunk sends the first chunk as a normal message and edits it
// in place for every later chunk of the same respMessageID.
func (a *Adapter) ReplyMessageChunk(_ context.Context, event *models.MessageEvent, respMessageID string, chain models.MessageChain, quoteOrigin, isFinal bool) error {
	origin, ok := event.PlatformObject.(*discordgo.Message)
	if !ok {
		return fmt.Errorf("discord: event does not carry a discord message")
	}
	text := renderText(chain)
	if text == "" {
		return nil
	}

	a.streamMu.Lock()
	state, started := a.streamed[respMessageID]
	a.streamMu.Unlock()

	if !started {
		send := &discordgo.MessageSend{Content: text}
		if quoteOrigin {
			send.Reference = origin.Reference()
		}
		sent, err := a.session.ChannelMessageSendComplex(origin.ChannelID, send)
		if err != nil {
			return fmt.Errorf("discord: send chunk: %w", err)
		}
		a.streamMu.Lock()
		a.streamed[respMessageID] = streamState{channelID: origin.ChannelID, messageID: sent.ID, lastText: text}
		a.streamMu.Unlock()
	} else if text != state.lastText {
		if _, err := a.session.ChannelMessageEdit(state.channelID, state.messageID, text); err != nil {
			return fmt.Errorf("discord: edit chunk: %w", err)
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

func renderText(chain models.MessageChain) string {
	var b strings.Builder
	for _, el := range chain {
		switch part := el.(type) {
		case models.Text:
			b.WriteString(part.Text)
		case models.At:
			b.WriteString("<@" + part.Target + "> ")
		case models.AtAll:
			b.WriteString("@everyone ")
		case models.Forward:
			for _, node := range part.Nodes {
				b.WriteString(node.Chain.PlainText())
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(b.String())
}
