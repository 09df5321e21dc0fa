package runners

import (
	"context"

	"github.com/conduitbot/conduit/internal/agent"
)

// DashscopeRunner relays chat turns to a Dashscope application.
type DashscopeRunner struct {
	pool *clientPool
}

func NewDashscopeRunner() *DashscopeRunner { return &DashscopeRunner{pool: newClientPool()} }

func (r *DashscopeRunner) Name() string { return "dashscope-app-api" }

type dashscopeRequest struct {
	Input dashscopeInput `json:"input"`
}

type dashscopeInput struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
}

type dashscopeResponse struct {
	Output struct {
		Text      string `json:"text"`
		SessionID string `json:"session_id"`
	} `json:"output"`
}

func (r *DashscopeRunner) Run(ctx context.Context, req *agent.Request) (<-chan agent.Item, error) {
	client := r.pool.get(req.App)
	payload := dashscopeRequest{Input: dashscopeInput{
		Prompt:    req.UserMessage.PlainText(),
		SessionID: client.remoteSession(req.ConversationUUID),
	}}
	var resp dashscopeResponse
	err := client.postJSON(ctx,
		joinURL(req.App.BaseURL, "/api/v1/apps/"+req.App.AppID+"/completion"),
		map[string]string{"Authorization": "Bearer " + req.App.APIKey},
		payload, &resp)
	if err == nil {
		client.bindRemoteSession(req.ConversationUUID, resp.Output.SessionID)
	}
	return singleReply(resp.Output.Text, err), nil
}
