package chatformat

// Roles understood by every dialog format. Tool results use "ipython".
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleIPython   = "ipython"
	RoleTool      = "tool"
)

type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	CallID    string         `json:"call_id,omitempty"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

type RenderOptions struct {
	Format              Format
	Messages            []Message
	AddGenerationPrompt bool
}
