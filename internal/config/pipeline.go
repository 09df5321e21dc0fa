package config

// PipelineConfig is the per-pipeline configuration tree. Key paths follow
// the recognized config surface exactly, so pipeline files written for the
// management layer decode without translation.
type PipelineConfig struct {
	UUID string `yaml:"uuid"`
	Name string `yaml:"name"`

	Trigger   TriggerConfig   `yaml:"trigger"`
	AI        AIConfig        `yaml:"ai"`
	Output    OutputConfig    `yaml:"output"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`

	// KnowledgeBaseUUID binds the pipeline to a knowledge base for RAG.
	KnowledgeBaseUUID string `yaml:"knowledge-base-uuid"`

	// BoundPlugins and BoundMCPServers filter which loaders contribute
	// tools and commands. Empty means all.
	BoundPlugins    []string `yaml:"bound-plugins"`
	BoundMCPServers []string `yaml:"bound-mcp-servers"`
}

type TriggerConfig struct {
	AccessControl AccessControlConfig `yaml:"access-control"`
	Prefix        PrefixConfig        `yaml:"prefix"`
	Misc          TriggerMiscConfig   `yaml:"misc"`
}

type AccessControlConfig struct {
	// Mode is "whitelist" or "blacklist".
	Mode      string   `yaml:"mode"`
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
}

// Entries returns the list matching the configured mode.
func (c AccessControlConfig) Entries() []string {
	if c.Mode == "whitelist" {
		return c.Whitelist
	}
	return c.Blacklist
}

type PrefixConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Prefixes []string `yaml:"prefixes"`
}

type TriggerMiscConfig struct {
	CombineQuoteMessage bool `yaml:"combine-quote-message"`
	RemoveThink         bool `yaml:"remove_think"`
}

type AIConfig struct {
	Runner RunnerConfig `yaml:"runner"`

	// MaxHistoryMessages bounds the conversation history copied into a
	// query. Zero keeps everything.
	MaxHistoryMessages int `yaml:"max-history-messages"`

	LocalAgent LocalAgentConfig `yaml:"local-agent"`
	Dify       AppAPIConfig     `yaml:"dify-service-api"`
	Dashscope  AppAPIConfig     `yaml:"dashscope-app-api"`
	N8N        AppAPIConfig     `yaml:"n8n-service-api"`
	Langflow   AppAPIConfig     `yaml:"langflow-api"`
}

type RunnerConfig struct {
	// Runner is one of local-agent, dify-service-api, dashscope-app-api,
	// n8n-service-api, langflow-api.
	Runner string `yaml:"runner"`
}

type LocalAgentConfig struct {
	Model  string          `yaml:"model"`
	Prompt []PromptMessage `yaml:"prompt"`

	// MaxRounds caps assistant/tool iterations. Zero means the default.
	MaxRounds int `yaml:"max-rounds"`
}

// PromptMessage is one fixed leading message of a conversation prompt.
type PromptMessage struct {
	Role    string `yaml:"role" json:"role"`
	Content string `yaml:"content" json:"content"`
}

// AppAPIConfig configures an external workflow runner (Dify, Dashscope,
// n8n, Langflow). Unused fields are ignored by runners that do not need them.
type AppAPIConfig struct {
	BaseURL string `yaml:"base-url"`
	APIKey  string `yaml:"api-key"`
	AppID   string `yaml:"app-id"`
	FlowID  string `yaml:"flow-id"`
	Timeout int    `yaml:"timeout"`
}

type OutputConfig struct {
	LongText   LongTextConfig   `yaml:"long-text-processing"`
	ForceDelay ForceDelayConfig `yaml:"force-delay"`
	Misc       OutputMiscConfig `yaml:"misc"`
}

type LongTextConfig struct {
	// Strategy is "forward" or "image".
	Strategy  string `yaml:"strategy"`
	Threshold int    `yaml:"threshold"`
	FontPath  string `yaml:"font-path"`
}

type ForceDelayConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type OutputMiscConfig struct {
	AtSender           bool `yaml:"at-sender"`
	QuoteOrigin        bool `yaml:"quote-origin"`
	HideException      bool `yaml:"hide-exception"`
	TrackFunctionCalls bool `yaml:"track-function-calls"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// WindowSize is the window length in seconds.
	WindowSize int `yaml:"window-size"`
	// Limit is the number of queries admitted per window per session.
	Limit int `yaml:"limit"`
}
