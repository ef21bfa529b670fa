package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event kinds carried by "event" frames.
const (
	// EventAgent carries run-scoped tool/agent activity, keyed by runId.
	EventAgent = "agent"
	// EventChat carries session-scoped chat progress, keyed by sessionKey.
	EventChat = "chat"
)

// Agent event streams.
const (
	StreamTool = "tool"
)

// Tool phases within an agent event.
const (
	PhaseStart  = "start"
	PhaseResult = "result"
)

// ChatState enumerates the states a chat event can report.
type ChatState string

const (
	// ChatDelta carries the entire cumulative response text so far.
	ChatDelta ChatState = "delta"
	// ChatFinal and ChatDone both terminate a run successfully.
	ChatFinal ChatState = "final"
	ChatDone  ChatState = "done"
	// ChatError terminates a run with a backend failure.
	ChatError ChatState = "error"
	// ChatAborted terminates a run after an abort request.
	ChatAborted ChatState = "aborted"
)

// Terminal reports whether the state ends the run.
func (s ChatState) Terminal() bool {
	switch s {
	case ChatFinal, ChatDone, ChatError, ChatAborted:
		return true
	}
	return false
}

// AgentEvent is the payload of an EventAgent frame.
type AgentEvent struct {
	RunID  string    `json:"runId"`
	Stream string    `json:"stream"`
	Data   ToolEvent `json:"data"`
}

// ToolEvent describes one tool invocation phase within a run.
type ToolEvent struct {
	Phase      string `json:"phase"`
	Name       string `json:"name"`
	ToolCallID string `json:"toolCallId"`
	IsError    bool   `json:"isError,omitempty"`
}

// ChatEvent is the payload of an EventChat frame.
type ChatEvent struct {
	SessionKey string       `json:"sessionKey"`
	State      ChatState    `json:"state"`
	Message    *ChatMessage `json:"message,omitempty"`
}

// ChatMessage holds the cumulative assistant message content.
type ChatMessage struct {
	Content []ChatContent `json:"content"`
}

// ChatContent is one block of chat message content.
type ChatContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text concatenates the text-typed content blocks of the message.
func (m *ChatMessage) Text() string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ParseAgentEvent decodes an EventAgent frame payload.
//
// ok is false when the frame is not an agent event. A nil error with ok=true
// guarantees the required correlation fields are present.
func ParseAgentEvent(f Frame) (AgentEvent, bool, error) {
	if f.Type != FrameEvent || f.Event != EventAgent {
		return AgentEvent{}, false, nil
	}
	var ev AgentEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return AgentEvent{}, false, err
	}
	if ev.RunID == "" {
		return AgentEvent{}, false, fmt.Errorf("agent event missing runId")
	}
	if ev.Data.Phase != PhaseStart && ev.Data.Phase != PhaseResult {
		return AgentEvent{}, false, fmt.Errorf("agent event has unknown phase %q", ev.Data.Phase)
	}
	return ev, true, nil
}

// ParseChatEvent decodes an EventChat frame payload.
//
// ok is false when the frame is not a chat event.
func ParseChatEvent(f Frame) (ChatEvent, bool, error) {
	if f.Type != FrameEvent || f.Event != EventChat {
		return ChatEvent{}, false, nil
	}
	var ev ChatEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return ChatEvent{}, false, err
	}
	if ev.SessionKey == "" {
		return ChatEvent{}, false, fmt.Errorf("chat event missing sessionKey")
	}
	switch ev.State {
	case ChatDelta, ChatFinal, ChatDone, ChatError, ChatAborted:
	default:
		return ChatEvent{}, false, fmt.Errorf("chat event has unknown state %q", ev.State)
	}
	return ev, true, nil
}
