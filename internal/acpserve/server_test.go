package acpserve_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clawdhq/clawd-go/internal/acpserve"
	"github.com/clawdhq/clawd-go/internal/bridge"
)

type fakeAgent struct {
	newSession func(cwd string) (string, error)
	setMode    func(ctx context.Context, sessionID, modeID string) error
	prompt     func(ctx context.Context, sessionID string, content []bridge.ContentBlock) (bridge.PromptResult, error)
	cancel     func(ctx context.Context, sessionID string) error
}

func (a *fakeAgent) Initialize() bridge.InitializeResult {
	return bridge.InitializeResult{
		ProtocolVersion: 1,
		AgentCapabilities: bridge.AgentCapabilities{
			PromptCapabilities: bridge.PromptCapabilities{Image: true},
		},
	}
}

func (a *fakeAgent) Authenticate() error { return nil }

func (a *fakeAgent) NewSession(cwd string) (string, error) {
	if a.newSession != nil {
		return a.newSession(cwd)
	}
	return "sess-1", nil
}

func (a *fakeAgent) SetSessionMode(ctx context.Context, sessionID, modeID string) error {
	if a.setMode != nil {
		return a.setMode(ctx, sessionID, modeID)
	}
	return nil
}

func (a *fakeAgent) Prompt(ctx context.Context, sessionID string, content []bridge.ContentBlock) (bridge.PromptResult, error) {
	if a.prompt != nil {
		return a.prompt(ctx, sessionID, content)
	}
	return bridge.PromptResult{StopReason: bridge.StopEndTurn}, nil
}

func (a *fakeAgent) Cancel(ctx context.Context, sessionID string) error {
	if a.cancel != nil {
		return a.cancel(ctx, sessionID)
	}
	return nil
}

type replyFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type harness struct {
	t       *testing.T
	srv     *acpserve.Server
	in      io.WriteCloser
	scanner *bufio.Scanner
	done    chan error
}

func newHarness(t *testing.T, agent acpserve.Agent) *harness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	srv := acpserve.New(inR, outW)
	srv.BindAgent(agent)

	h := &harness{
		t:       t,
		srv:     srv,
		in:      inW,
		scanner: bufio.NewScanner(outR),
		done:    make(chan error, 1),
	}
	go func() { h.done <- srv.Serve(context.Background()) }()

	t.Cleanup(func() {
		_ = inW.Close()
		select {
		case err := <-h.done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
		_ = outR.Close()
	})
	return h
}

func (h *harness) send(line string) {
	h.t.Helper()
	_, err := io.WriteString(h.in, line+"\n")
	require.NoError(h.t, err)
}

func (h *harness) recv() replyFrame {
	h.t.Helper()
	require.True(h.t, h.scanner.Scan(), "expected a frame, got stream end: %v", h.scanner.Err())
	var f replyFrame
	require.NoError(h.t, json.Unmarshal(h.scanner.Bytes(), &f))
	return f
}

func TestInitializeRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAgent{})
	h.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)

	f := h.recv()
	require.NotNil(t, f.ID)
	require.Equal(t, 1, *f.ID)
	require.Nil(t, f.Error)

	var res bridge.InitializeResult
	require.NoError(t, json.Unmarshal(f.Result, &res))
	require.Equal(t, 1, res.ProtocolVersion)
	require.True(t, res.AgentCapabilities.PromptCapabilities.Image)
}

func TestNewSession(t *testing.T) {
	t.Parallel()

	var gotCwd string
	agent := &fakeAgent{newSession: func(cwd string) (string, error) {
		gotCwd = cwd
		return "sess-42", nil
	}}
	h := newHarness(t, agent)
	h.send(`{"jsonrpc":"2.0","id":2,"method":"session/new","params":{"cwd":"/work/project"}}`)

	f := h.recv()
	require.Nil(t, f.Error)
	var res acpserve.NewSessionResult
	require.NoError(t, json.Unmarshal(f.Result, &res))
	require.Equal(t, "sess-42", res.SessionID)
	require.Equal(t, "/work/project", gotCwd)
}

func TestPromptReply(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{prompt: func(ctx context.Context, sessionID string, content []bridge.ContentBlock) (bridge.PromptResult, error) {
		require.Equal(t, "sess-1", sessionID)
		require.Len(t, content, 1)
		require.Equal(t, "hello", content[0].Text)
		return bridge.PromptResult{StopReason: bridge.StopEndTurn}, nil
	}}
	h := newHarness(t, agent)
	h.send(`{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"sess-1","prompt":[{"type":"text","text":"hello"}]}}`)

	f := h.recv()
	require.Nil(t, f.Error)
	var res acpserve.PromptResultBody
	require.NoError(t, json.Unmarshal(f.Result, &res))
	require.Equal(t, "end_turn", res.StopReason)
}

func TestCancelNotificationDuringPrompt(t *testing.T) {
	t.Parallel()

	release := make(chan bridge.PromptResult)
	cancelled := make(chan string, 1)
	agent := &fakeAgent{
		prompt: func(ctx context.Context, sessionID string, content []bridge.ContentBlock) (bridge.PromptResult, error) {
			return <-release, nil
		},
		cancel: func(ctx context.Context, sessionID string) error {
			cancelled <- sessionID
			return nil
		},
	}
	h := newHarness(t, agent)

	h.send(`{"jsonrpc":"2.0","id":4,"method":"session/prompt","params":{"sessionId":"sess-1","prompt":[{"type":"text","text":"hi"}]}}`)
	// A notification (no id) must be processed while the prompt is blocked.
	h.send(`{"jsonrpc":"2.0","method":"session/cancel","params":{"sessionId":"sess-1"}}`)

	select {
	case sid := <-cancelled:
		require.Equal(t, "sess-1", sid)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel not dispatched during prompt")
	}

	release <- bridge.PromptResult{StopReason: bridge.StopCancelled}
	f := h.recv()
	require.NotNil(t, f.ID)
	require.Equal(t, 4, *f.ID)
	var res acpserve.PromptResultBody
	require.NoError(t, json.Unmarshal(f.Result, &res))
	require.Equal(t, "cancelled", res.StopReason)
}

func TestSessionGoneError(t *testing.T) {
	t.Parallel()

	agent := &fakeAgent{prompt: func(ctx context.Context, sessionID string, content []bridge.ContentBlock) (bridge.PromptResult, error) {
		return bridge.PromptResult{}, fmt.Errorf("%w: %s", bridge.ErrSessionNotFound, sessionID)
	}}
	h := newHarness(t, agent)
	h.send(`{"jsonrpc":"2.0","id":5,"method":"session/prompt","params":{"sessionId":"gone","prompt":[]}}`)

	f := h.recv()
	require.NotNil(t, f.Error)
	require.Equal(t, -32001, f.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAgent{})
	h.send(`{"jsonrpc":"2.0","id":6,"method":"session/load","params":{}}`)

	f := h.recv()
	require.NotNil(t, f.Error)
	require.Equal(t, -32601, f.Error.Code)
}

func TestInvalidParams(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAgent{})
	h.send(`{"jsonrpc":"2.0","id":7,"method":"session/new","params":"not-an-object"}`)

	f := h.recv()
	require.NotNil(t, f.Error)
	require.Equal(t, -32602, f.Error.Code)
}

func TestGarbageLineDoesNotStopServing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAgent{})
	h.send(`{garbage`)

	// The broken line yields a parse-error reply with a null id.
	f := h.recv()
	require.Nil(t, f.ID)
	require.NotNil(t, f.Error)
	require.Equal(t, -32700, f.Error.Code)

	// The next request must still be answered.
	h.send(`{"jsonrpc":"2.0","id":8,"method":"initialize","params":{}}`)
	f = h.recv()
	require.NotNil(t, f.ID)
	require.Equal(t, 8, *f.ID)
	require.Nil(t, f.Error)
}

func TestServeReturnsContextErrorWhenReadInterrupted(t *testing.T) {
	t.Parallel()

	// Shutdown unblocks a stalled read by closing the input stream; Serve
	// must report the cancellation, not the read failure.
	inR, inW := io.Pipe()
	srv := acpserve.New(inR, io.Discard)
	srv.BindAgent(&fakeAgent{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	require.NoError(t, inR.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the read was interrupted")
	}
	_ = inW.Close()
}

func TestSendUpdateNotifications(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeAgent{})

	// Pipe writes block until read, so updates are emitted from a goroutine.
	go func() {
		h.srv.SendUpdate("sess-1", bridge.ToolCallStart{ToolCallID: "tc-1", Title: "read_file"})
		h.srv.SendUpdate("sess-1", bridge.TextChunk{Text: "partial"})
		h.srv.SendUpdate("sess-1", bridge.ToolCallEnd{ToolCallID: "tc-1", Failed: true})
	}()

	f := h.recv()
	require.Nil(t, f.ID)
	require.Equal(t, "session/update", f.Method)
	var params acpserve.SessionUpdateParams
	require.NoError(t, json.Unmarshal(f.Params, &params))
	require.Equal(t, "sess-1", params.SessionID)
	require.Equal(t, "tool_call", params.Update.SessionUpdate)
	require.Equal(t, "tc-1", params.Update.ToolCallID)
	require.Equal(t, "read_file", params.Update.Title)
	require.Equal(t, "in_progress", params.Update.Status)

	f = h.recv()
	require.NoError(t, json.Unmarshal(f.Params, &params))
	require.Equal(t, "agent_message_chunk", params.Update.SessionUpdate)
	require.NotNil(t, params.Update.Content)
	require.Equal(t, "text", params.Update.Content.Type)
	require.Equal(t, "partial", params.Update.Content.Text)

	f = h.recv()
	require.NoError(t, json.Unmarshal(f.Params, &params))
	require.Equal(t, "tool_call_update", params.Update.SessionUpdate)
	require.Equal(t, "failed", params.Update.Status)
}
