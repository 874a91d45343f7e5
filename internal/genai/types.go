package genai

// ResponseFormat selects between free text and JSON output.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json"
)

// ToolMode controls how the model may invoke declared tools.
type ToolMode string

const (
	// ToolModeDisabled never lets the model call a tool.
	ToolModeDisabled ToolMode = "disabled"
	// ToolModeForced requires the model to call a tool (ForcedTool when set).
	ToolModeForced ToolMode = "forced"
	// ToolModeAutomatic lets the model decide.
	ToolModeAutomatic ToolMode = "automatic"
)

// ToolDefinition declares a callable capability. Parameters is a JSON schema object.
// Tools are never executed by the provider runtime; the caller runs them.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request is the provider-neutral completion request.
type Request struct {
	SystemInstruction string           `json:"system_instruction,omitempty"`
	Prompt            string           `json:"prompt"`
	Temperature       float64          `json:"temperature"`
	MaxOutputTokens   int              `json:"max_output_tokens,omitempty"`
	ResponseFormat    ResponseFormat   `json:"response_format,omitempty"`
	SchemaName        string           `json:"schema_name,omitempty"`
	ResponseSchema    map[string]any   `json:"response_schema,omitempty"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	ToolMode          ToolMode         `json:"tool_mode,omitempty"`
	ForcedTool        string           `json:"forced_tool,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments holds the raw JSON object.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is a completion result. Err is set only by Complete when every candidate failed,
// in which case Text holds the displayable failure message.
type Response struct {
	Model     string     `json:"model,omitempty"`
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Err       error      `json:"-"`
}

// Failed reports whether the response is a synthesized failure.
func (r *Response) Failed() bool {
	return r != nil && r.Err != nil
}
