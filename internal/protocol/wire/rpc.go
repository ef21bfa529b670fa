// Package wire defines the gateway wire protocol: JSON frames exchanged over
// the WebSocket transport. Outbound traffic is id-correlated RPC requests;
// inbound traffic is RPC responses plus an asynchronous event stream.
package wire

import "encoding/json"

// Frame type tags.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"
)

// RPC methods issued by the bridge.
const (
	// MethodConnect is the post-dial handshake carrying the auth token.
	MethodConnect = "connect"
	// MethodChatSend enqueues a user message for an agent run.
	MethodChatSend = "chat.send"
	// MethodChatAbort asks the gateway to stop the active run for a session.
	MethodChatAbort = "chat.abort"
	// MethodSessionsPatch adjusts per-session execution parameters.
	MethodSessionsPatch = "sessions.patch"
)

// Request is an outbound RPC frame.
type Request struct {
	Type   string          `json:"type"`
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the gateway's reply to a Request, matched by ID.
type Response struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error payload carried by a failed Response.
type ResponseError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Frame is the top-level inbound frame union, distinguished by Type.
//
// Response fields are populated for "res" frames, event fields for "event"
// frames. Unknown frame types are dropped by the transport.
type Frame struct {
	Type string `json:"type"`

	// Response fields.
	ID      int64           `json:"id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`

	// Event fields.
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectRequest is the handshake payload for MethodConnect.
//
// The token is also presented during the HTTP upgrade; the handshake repeats
// it so gateways behind header-stripping proxies can still authenticate.
type ConnectRequest struct {
	Token         string `json:"token"`
	Client        string `json:"client"`
	ClientVersion string `json:"clientVersion,omitempty"`
}

// ConnectResponse is the handshake result payload.
type ConnectResponse struct {
	Server        string `json:"server,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
}

// ChatSendRequest is the payload for MethodChatSend.
type ChatSendRequest struct {
	SessionKey     string       `json:"sessionKey"`
	Message        string       `json:"message"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey"`
}

// Attachment is a binary prompt attachment (images only today).
type Attachment struct {
	MimeType string `json:"mimeType"`
	// Data is the base64-encoded payload.
	Data string `json:"data"`
}

// ChatAbortRequest is the payload for MethodChatAbort.
type ChatAbortRequest struct {
	SessionKey string `json:"sessionKey"`
}

// SessionsPatchRequest is the payload for MethodSessionsPatch.
type SessionsPatchRequest struct {
	SessionKey    string `json:"sessionKey"`
	ThinkingLevel string `json:"thinkingLevel"`
}
