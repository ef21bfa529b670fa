// Package acpserve serves the agent protocol over newline-delimited JSON-RPC
// 2.0 on a byte stream (stdio in production). It is a thin adapter: method
// payloads are decoded into Go types and handed to the bridge, which never
// sees the wire encoding.
package acpserve

import (
	"encoding/json"

	"github.com/clawdhq/clawd-go/internal/bridge"
)

// Inbound methods.
const (
	MethodInitialize     = "initialize"
	MethodAuthenticate   = "authenticate"
	MethodSessionNew     = "session/new"
	MethodSessionSetMode = "session/set_mode"
	MethodSessionPrompt  = "session/prompt"
	// MethodSessionCancel is usually a notification but is also accepted as a
	// request for clients that want an acknowledgment.
	MethodSessionCancel = "session/cancel"
)

// Outbound notifications.
const (
	NotifySessionUpdate = "session/update"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32000
	codeSessionGone    = -32001
)

type rpcMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *rpcError        `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewSessionParams is the payload of session/new.
type NewSessionParams struct {
	Cwd string `json:"cwd"`
}

// NewSessionResult is the reply to session/new.
type NewSessionResult struct {
	SessionID string `json:"sessionId"`
}

// SetModeParams is the payload of session/set_mode.
type SetModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

// PromptParams is the payload of session/prompt.
type PromptParams struct {
	SessionID string                `json:"sessionId"`
	Prompt    []bridge.ContentBlock `json:"prompt"`
}

// PromptResultBody is the reply to session/prompt.
type PromptResultBody struct {
	StopReason string `json:"stopReason"`
}

// CancelParams is the payload of session/cancel.
type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// Update kinds inside a session/update notification.
const (
	updateToolCall       = "tool_call"
	updateToolCallUpdate = "tool_call_update"
	updateMessageChunk   = "agent_message_chunk"
)

// Tool call statuses reported to the client.
const (
	statusInProgress = "in_progress"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

// SessionUpdateParams is the payload of a session/update notification.
type SessionUpdateParams struct {
	SessionID string     `json:"sessionId"`
	Update    UpdateBody `json:"update"`
}

// UpdateBody is the tagged update union, discriminated by SessionUpdate.
type UpdateBody struct {
	SessionUpdate string         `json:"sessionUpdate"`
	ToolCallID    string         `json:"toolCallId,omitempty"`
	Title         string         `json:"title,omitempty"`
	Status        string         `json:"status,omitempty"`
	Content       *UpdateContent `json:"content,omitempty"`
}

// UpdateContent is a content block within an update.
type UpdateContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
