package agent

import "github.com/conduitbot/conduit/pkg/models"

// applyThink folds a separate reasoning trace into the message content.
// When removeThink is set the reasoning is dropped; otherwise it is
// inlined as a <think> block ahead of the answer. Either way the
// standalone field is cleared so downstream consumers see one content
// string.
func applyThink(msg *models.Message, removeThink bool) {
	if msg == nil || msg.Reasoning == "" {
		return
	}
	if !removeThink {
		msg.Content = "<think>\n" + msg.Reasoning + "\n</think>\n" + msg.Content
	}
	msg.Reasoning = ""
}
