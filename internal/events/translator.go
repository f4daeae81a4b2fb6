// ABOUTME: Translates agent protocol notifications into AgentEvents.
// ABOUTME: Stateful only for the current turn id; recreate per turn.

package events

import (
	"encoding/json"
	"strings"

	"github.com/flint-sh/flint/internal/protocol"
)

// Translator maps protocol notifications to AgentEvents. It tracks the
// current turn id so callers can target turn/interrupt.
type Translator struct {
	currentTurnID string
}

// NewTranslator returns a fresh translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// CurrentTurnID returns the id recorded from the last turn/started.
func (t *Translator) CurrentTurnID() string {
	return t.currentTurnID
}

// Translate converts one notification. The second return is false when the
// notification produces no event (output deltas, unknown methods).
func (t *Translator) Translate(n protocol.Notification) (AgentEvent, bool) {
	switch n.Method {
	case protocol.NotifyAgentMessageDelta:
		var p protocol.AgentMessageDeltaParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return AgentEvent{}, false
		}
		return AgentEvent{Type: TypeText, Delta: p.Delta}, true

	case protocol.NotifyReasoningDelta:
		var p protocol.ReasoningDeltaParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return AgentEvent{}, false
		}
		return AgentEvent{Type: TypeReasoning, Delta: p.Delta}, true

	case protocol.NotifyItemStarted:
		return t.translateItemStarted(n.Params)

	case protocol.NotifyItemCompleted:
		return t.translateItemCompleted(n.Params)

	case protocol.NotifyTurnStarted:
		var p protocol.TurnStartedParams
		if err := json.Unmarshal(n.Params, &p); err == nil {
			t.currentTurnID = p.Turn.ID
		}
		return AgentEvent{}, false

	case protocol.NotifyTurnCompleted:
		var p protocol.TurnCompletedParams
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return AgentEvent{Type: TypeDone}, true
		}
		if p.Status == "failed" {
			msg := p.Error
			if msg == "" {
				msg = "turn failed"
			}
			return AgentEvent{Type: TypeError, Message: msg}, true
		}
		ev := AgentEvent{Type: TypeDone}
		if p.Usage != nil {
			ev.Usage = &Usage{InputTokens: p.Usage.InputTokens, OutputTokens: p.Usage.OutputTokens}
		}
		return ev, true

	case protocol.MethodApproveCommand, protocol.MethodApproveFileChange:
		// Reverse approval requests surface as activity so watchdogs reset.
		return AgentEvent{Type: TypeActivity}, true
	}

	if strings.HasSuffix(n.Method, "/outputDelta") {
		return AgentEvent{}, false
	}
	return AgentEvent{}, false
}

func (t *Translator) translateItemStarted(params json.RawMessage) (AgentEvent, bool) {
	var p protocol.ItemParams
	if err := json.Unmarshal(params, &p); err != nil {
		return AgentEvent{}, false
	}
	item := p.Item

	switch item.Type {
	case protocol.ItemCommandExecution:
		input := map[string]any{"command": item.Command}
		if item.Cwd != "" {
			input["cwd"] = item.Cwd
		}
		return AgentEvent{Type: TypeToolStart, ToolID: item.ID, Name: "Bash", Input: input}, true

	case protocol.ItemFileChange:
		name := "Edit"
		var path string
		if len(item.Changes) > 0 {
			if item.Changes[0].Kind == "add" {
				name = "Write"
			}
			path = item.Changes[0].Path
		}
		input := map[string]any{}
		if path != "" {
			input["file_path"] = path
		}
		return AgentEvent{Type: TypeToolStart, ToolID: item.ID, Name: name, Input: input}, true

	case protocol.ItemMCPToolCall:
		input := map[string]any{}
		if len(item.Arguments) > 0 {
			_ = json.Unmarshal(item.Arguments, &input)
		}
		return AgentEvent{Type: TypeToolStart, ToolID: item.ID, Name: item.Tool, Input: input}, true
	}
	return AgentEvent{}, false
}

func (t *Translator) translateItemCompleted(params json.RawMessage) (AgentEvent, bool) {
	var p protocol.ItemParams
	if err := json.Unmarshal(params, &p); err != nil {
		return AgentEvent{}, false
	}
	item := p.Item

	switch item.Type {
	case protocol.ItemCommandExecution:
		isErr := item.ExitCode != nil && *item.ExitCode != 0
		return AgentEvent{Type: TypeToolEnd, ToolID: item.ID, Result: item.AggregatedOutput, IsError: isErr}, true

	case protocol.ItemFileChange:
		return AgentEvent{Type: TypeToolEnd, ToolID: item.ID}, true

	case protocol.ItemMCPToolCall:
		var result string
		if len(item.Result) > 0 {
			// Unquote plain strings; other JSON values pass through raw.
			var s string
			if err := json.Unmarshal(item.Result, &s); err == nil {
				result = s
			} else {
				result = string(item.Result)
			}
		}
		return AgentEvent{Type: TypeToolEnd, ToolID: item.ID, Result: result}, true
	}
	return AgentEvent{}, false
}
