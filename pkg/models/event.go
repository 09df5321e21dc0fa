package models

import "time"

// LauncherType distinguishes private chats from group chats.
type LauncherType string

const (
	LauncherPerson LauncherType = "person"
	LauncherGroup  LauncherType = "group"
)

// Sender is the entity that produced an inbound message.
type Sender struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname,omitempty"`
	// GroupID is set for group senders.
	GroupID string `json:"group_id,omitempty"`
}

// EventKind identifies the message event variant.
type EventKind string

const (
	EventFriendMessage EventKind = "friend_message"
	EventGroupMessage  EventKind = "group_message"
)

// MessageEvent is an inbound message normalized by a platform adapter.
//
// PlatformObject is an opaque handle owned by the originating adapter; the
// core never inspects it and hands it back unchanged when replying.
type MessageEvent struct {
	Kind           EventKind
	Sender         Sender
	Chain          MessageChain
	Time           time.Time
	PlatformObject any
}

// LauncherType derives the session launcher type from the event kind.
func (e *MessageEvent) LauncherType() LauncherType {
	if e.Kind == EventGroupMessage {
		return LauncherGroup
	}
	return LauncherPerson
}

// LauncherID is the chat the event originated from: the group ID for group
// messages, the sender ID otherwise.
func (e *MessageEvent) LauncherID() string {
	if e.Kind == EventGroupMessage && e.Sender.GroupID != "" {
		return e.Sender.GroupID
	}
	return e.Sender.ID
}
