package runners

import (
	"context"

	"github.com/conduitbot/conduit/internal/agent"
)

// N8NRunner posts chat turns to an n8n webhook workflow.
type N8NRunner struct {
	pool *clientPool
}

func NewN8NRunner() *N8NRunner { return &N8NRunner{pool: newClientPool()} }

func (r *N8NRunner) Name() string { return "n8n-service-api" }

type n8nRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type n8nResponse struct {
	Output string `json:"output"`
	Text   string `json:"text"`
}

func (r *N8NRunner) Run(ctx context.Context, req *agent.Request) (<-chan agent.Item, error) {
	client := r.pool.get(req.App)
	headers := map[string]string{}
	if req.App.APIKey != "" {
		headers["Authorization"] = "Bearer " + req.App.APIKey
	}
	var resp n8nResponse
	err := client.postJSON(ctx, req.App.BaseURL, headers, n8nRequest{
		Message:        req.UserMessage.PlainText(),
		ConversationID: req.ConversationUUID,
	}, &resp)
	answer := resp.Output
	if answer == "" {
		answer = resp.Text
	}
	return singleReply(answer, err), nil
}
