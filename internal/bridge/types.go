package bridge

import "errors"

// ErrSessionNotFound is returned by protocol calls referencing an unknown
// sessionId.
var ErrSessionNotFound = errors.New("session not found")

// StopReason explains why a prompt turn ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopCancelled StopReason = "cancelled"
	StopRefusal   StopReason = "refusal"
)

// PromptResult is the outcome of a completed prompt turn.
type PromptResult struct {
	StopReason StopReason
}

// Content block types accepted by Prompt. Anything else is dropped.
const (
	ContentText  = "text"
	ContentImage = "image"
)

// ContentBlock is one block of inbound prompt content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Data is the base64-encoded payload for image blocks.
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Update is a streaming update addressed to one session, a closed union of
// ToolCallStart, ToolCallEnd, and TextChunk.
type Update interface {
	isUpdate()
}

// ToolCallStart reports a tool invocation beginning.
type ToolCallStart struct {
	ToolCallID string
	Title      string
}

// ToolCallEnd reports a tool invocation finishing.
type ToolCallEnd struct {
	ToolCallID string
	Failed     bool
}

// TextChunk carries an incremental piece of the assistant response.
type TextChunk struct {
	Text string
}

func (ToolCallStart) isUpdate() {}
func (ToolCallEnd) isUpdate()   {}
func (TextChunk) isUpdate()     {}

// UpdateSink receives streaming updates for delivery to the client. Calls may
// arrive from the transport read loop; implementations must be safe for
// concurrent use.
type UpdateSink interface {
	SendUpdate(sessionID string, update Update)
}

// InitializeResult is the fixed capability descriptor returned by Initialize.
type InitializeResult struct {
	ProtocolVersion   int               `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
}

// AgentCapabilities describes what this agent supports.
type AgentCapabilities struct {
	LoadSession        bool               `json:"loadSession"`
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
}

// PromptCapabilities describes accepted prompt content.
type PromptCapabilities struct {
	Image           bool `json:"image"`
	EmbeddedContext bool `json:"embeddedContext"`
}

// protocolVersion is the agent protocol revision this bridge implements.
const protocolVersion = 1
