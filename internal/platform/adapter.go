// Package platform defines the seam between the core pipeline and concrete
// chat platform adapters.
package platform

import (
	"context"
	"errors"

	"github.com/conduitbot/conduit/pkg/models"
)

// TargetType selects a direct or group destination for Send.
type TargetType string

const (
	TargetPerson TargetType = "person"
	TargetGroup  TargetType = "group"
)

// EventListener receives normalized inbound events from an adapter.
type EventListener func(ctx context.Context, event *models.MessageEvent)

// Adapter converts between an external chat protocol and the internal
// MessageChain model. The core never constructs platform payloads; it only
// hands chains to the adapter and receives events back.
type Adapter interface {
	// Name identifies the adapter instance for routing and logging.
	Name() string

	// Run is the long-running listen loop. It blocks until ctx is done.
	Run(ctx context.Context) error

	// Kill shuts the adapter down and reports whether shutdown took effect.
	Kill(ctx context.Context) bool

	// RegisterListener subscribes to inbound events of the given kind.
	RegisterListener(kind models.EventKind, listener EventListener)

	// UnregisterListeners drops all subscriptions for the kind.
	UnregisterListeners(kind models.EventKind)

	// SendMessage delivers a chain to an arbitrary target.
	SendMessage(ctx context.Context, target TargetType, targetID string, chain models.MessageChain) error

	// ReplyMessage delivers a chain in reply to a source event.
	ReplyMessage(ctx context.Context, event *models.MessageEvent, chain models.MessageChain, quoteOrigin bool) error

	// ReplyMessageChunk delivers one streaming update for respMessageID.
	// Only called when IsStreamOutputSupported reports true.
	ReplyMessageChunk(ctx context.Context, event *models.MessageEvent, respMessageID string, chain models.MessageChain, quoteOrigin, isFinal bool) error

	// IsStreamOutputSupported reports whether ReplyMessageChunk works.
	IsStreamOutputSupported() bool

	// IsMuted reports whether the bot is muted in the group.
	IsMuted(ctx context.Context, groupID string) bool
}

// ErrSendFailed wraps adapter delivery failures; the pipeline logs these
// without aborting the turn.
var ErrSendFailed = errors.New("platform send failed")
