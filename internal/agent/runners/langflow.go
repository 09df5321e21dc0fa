package runners

import (
	"context"

	"github.com/conduitbot/conduit/internal/agent"
)

// LangflowRunner executes a Langflow flow in chat mode.
type LangflowRunner struct {
	pool *clientPool
}

func NewLangflowRunner() *LangflowRunner { return &LangflowRunner{pool: newClientPool()} }

func (r *LangflowRunner) Name() string { return "langflow-api" }

type langflowRequest struct {
	InputValue string `json:"input_value"`
	InputType  string `json:"input_type"`
	OutputType string `json:"output_type"`
	SessionID  string `json:"session_id,omitempty"`
}

type langflowResponse struct {
	Outputs []struct {
		Outputs []struct {
			Results struct {
				Message struct {
					Text string `json:"text"`
				} `json:"message"`
			} `json:"results"`
		} `json:"outputs"`
	} `json:"outputs"`
}

func (r *LangflowRunner) Run(ctx context.Context, req *agent.Request) (<-chan agent.Item, error) {
	client := r.pool.get(req.App)
	payload := langflowRequest{
		InputValue: req.UserMessage.PlainText(),
		InputType:  "chat",
		OutputType: "chat",
		SessionID:  req.ConversationUUID,
	}
	headers := map[string]string{}
	if req.App.APIKey != "" {
		headers["x-api-key"] = req.App.APIKey
	}
	var resp langflowResponse
	err := client.postJSON(ctx,
		joinURL(req.App.BaseURL, "/api/v1/run/"+req.App.FlowID),
		headers, payload, &resp)

	var answer string
	if len(resp.Outputs) > 0 && len(resp.Outputs[0].Outputs) > 0 {
		answer = resp.Outputs[0].Outputs[0].Results.Message.Text
	}
	return singleReply(answer, err), nil
}
