package runners

import (
	"context"

	"github.com/conduitbot/conduit/internal/agent"
)

// DifyRunner relays chat turns to a Dify chat application.
type DifyRunner struct {
	pool *clientPool
}

func NewDifyRunner() *DifyRunner { return &DifyRunner{pool: newClientPool()} }

func (r *DifyRunner) Name() string { return "dify-service-api" }

type difyChatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id,omitempty"`
	User           string         `json:"user"`
}

type difyChatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
}

func (r *DifyRunner) Run(ctx context.Context, req *agent.Request) (<-chan agent.Item, error) {
	client := r.pool.get(req.App)
	payload := difyChatRequest{
		Inputs:         map[string]any{},
		Query:          req.UserMessage.PlainText(),
		ResponseMode:   "blocking",
		ConversationID: client.remoteSession(req.ConversationUUID),
		User:           req.ConversationUUID,
	}
	var resp difyChatResponse
	err := client.postJSON(ctx,
		joinURL(req.App.BaseURL, "/chat-messages"),
		map[string]string{"Authorization": "Bearer " + req.App.APIKey},
		payload, &resp)
	if err == nil {
		client.bindRemoteSession(req.ConversationUUID, resp.ConversationID)
	}
	return singleReply(resp.Answer, err), nil
}
