package models

// ToolOrigin identifies which loader contributed a tool.
type ToolOrigin string

const (
	ToolOriginInternal ToolOrigin = "internal"
	ToolOriginPlugin   ToolOrigin = "plugin"
	ToolOriginMCP      ToolOrigin = "mcp"
)

// LLMFunction describes an LLM-callable tool. Name is globally unique;
// Parameters is a JSON-Schema object describing the arguments.
type LLMFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Origin      ToolOrigin     `json:"origin"`
}
