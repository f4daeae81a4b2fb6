// ABOUTME: AgentEvent tagged union streamed to callers during a turn.
// ABOUTME: Variants cover text, reasoning, tool lifecycle, activity, done, error.

package events

// Type discriminates AgentEvent variants.
type Type string

const (
	TypeText      Type = "text"
	TypeReasoning Type = "reasoning"
	TypeToolStart Type = "tool_start"
	TypeToolEnd   Type = "tool_end"
	TypeActivity  Type = "activity"
	TypeDone      Type = "done"
	TypeError     Type = "error"
)

// Usage is optional token accounting attached to done events.
type Usage struct {
	InputTokens  int64 `json:"inputTokens,omitempty"`
	OutputTokens int64 `json:"outputTokens,omitempty"`
}

// AgentEvent is one element of the uniform event stream. Fields are
// populated per variant; the zero values of unused fields are omitted
// from JSON encodings.
type AgentEvent struct {
	Type Type `json:"type"`

	// Delta carries streamed text for text and reasoning events.
	Delta string `json:"delta,omitempty"`

	// Tool fields for tool_start and tool_end.
	ToolID  string         `json:"id,omitempty"`
	Name    string         `json:"name,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
	Result  string         `json:"result,omitempty"`
	IsError bool           `json:"isError,omitempty"`

	// Usage for done events, when the agent reported it.
	Usage *Usage `json:"usage,omitempty"`

	// Message for error events.
	Message string `json:"message,omitempty"`
}
