package acpserve

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/clawdhq/clawd-go/internal/bridge"
	"github.com/clawdhq/clawd-go/pkg/logger"
)

// scannerMaxToken bounds the size of a single JSONL message we accept.
//
// bufio.Scanner defaults to a 64KiB token limit; prompts carrying base64
// image attachments can exceed that.
const scannerMaxToken = 8 * 1024 * 1024

// Agent is the protocol surface the server exposes. *bridge.Bridge implements
// it.
type Agent interface {
	Initialize() bridge.InitializeResult
	Authenticate() error
	NewSession(cwd string) (string, error)
	SetSessionMode(ctx context.Context, sessionID, modeID string) error
	Prompt(ctx context.Context, sessionID string, content []bridge.ContentBlock) (bridge.PromptResult, error)
	Cancel(ctx context.Context, sessionID string) error
}

// Server reads JSON-RPC requests line by line and dispatches them to the
// agent. It also implements bridge.UpdateSink, turning streaming updates into
// session/update notifications.
type Server struct {
	in  io.Reader
	out io.Writer

	agent Agent

	// writeMu serializes output lines; updates and prompt replies race.
	writeMu sync.Mutex

	wg sync.WaitGroup
}

var _ bridge.UpdateSink = (*Server)(nil)

// New creates a server over the given streams. BindAgent must be called
// before Serve.
func New(in io.Reader, out io.Writer) *Server {
	return &Server{in: in, out: out}
}

// BindAgent attaches the agent implementation. Construction is two-phase
// because the bridge needs the server as its update sink.
func (s *Server) BindAgent(agent Agent) { s.agent = agent }

// Serve processes requests until the input stream ends or the context is
// canceled. In-flight prompt handlers are drained before returning.
func (s *Server) Serve(ctx context.Context) error {
	if s.agent == nil {
		return errors.New("acpserve: no agent bound")
	}
	defer s.wg.Wait()

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), scannerMaxToken)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Debugf("acpserve: dropping unparseable line: %v", err)
			// No request id is recoverable from a broken line; JSON-RPC
			// prescribes a null id for parse errors.
			nullID := json.RawMessage("null")
			s.write(rpcMessage{JSONRPC: "2.0", ID: &nullID, Error: &rpcError{Code: codeParseError, Message: "parse error"}})
			continue
		}
		if msg.Method == "" {
			// A response frame; we issue no client-bound requests, so ignore.
			continue
		}
		s.dispatch(ctx, msg)
	}
	if err := scanner.Err(); err != nil {
		// Shutdown closes the input stream to interrupt a blocked read; that
		// is cancellation, not a read failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("acpserve: read: %w", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, msg rpcMessage) {
	logger.Tracef("acpserve <- %s", msg.Method)
	switch msg.Method {
	case MethodInitialize:
		s.reply(msg.ID, s.agent.Initialize())

	case MethodAuthenticate:
		if err := s.agent.Authenticate(); err != nil {
			s.replyError(msg.ID, codeInternalError, err.Error())
			return
		}
		s.reply(msg.ID, struct{}{})

	case MethodSessionNew:
		var params NewSessionParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.replyError(msg.ID, codeInvalidParams, "invalid session/new params")
			return
		}
		id, err := s.agent.NewSession(params.Cwd)
		if err != nil {
			s.replyError(msg.ID, codeInternalError, err.Error())
			return
		}
		s.reply(msg.ID, NewSessionResult{SessionID: id})

	case MethodSessionSetMode:
		var params SetModeParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.replyError(msg.ID, codeInvalidParams, "invalid session/set_mode params")
			return
		}
		if err := s.agent.SetSessionMode(ctx, params.SessionID, params.ModeID); err != nil {
			s.replyError(msg.ID, errorCode(err), err.Error())
			return
		}
		s.reply(msg.ID, struct{}{})

	case MethodSessionPrompt:
		var params PromptParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.replyError(msg.ID, codeInvalidParams, "invalid session/prompt params")
			return
		}
		// Prompts block until the run completes; handle each on its own
		// goroutine so cancel and further prompts stay responsive.
		id := msg.ID
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			res, err := s.agent.Prompt(ctx, params.SessionID, params.Prompt)
			if err != nil {
				s.replyError(id, errorCode(err), err.Error())
				return
			}
			s.reply(id, PromptResultBody{StopReason: string(res.StopReason)})
		}()

	case MethodSessionCancel:
		var params CancelParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.replyError(msg.ID, codeInvalidParams, "invalid session/cancel params")
			return
		}
		if err := s.agent.Cancel(ctx, params.SessionID); err != nil {
			s.replyError(msg.ID, errorCode(err), err.Error())
			return
		}
		if msg.ID != nil {
			s.reply(msg.ID, struct{}{})
		}

	default:
		s.replyError(msg.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", msg.Method))
	}
}

// SendUpdate implements bridge.UpdateSink by emitting a session/update
// notification.
func (s *Server) SendUpdate(sessionID string, update bridge.Update) {
	var body UpdateBody
	switch u := update.(type) {
	case bridge.ToolCallStart:
		body = UpdateBody{
			SessionUpdate: updateToolCall,
			ToolCallID:    u.ToolCallID,
			Title:         u.Title,
			Status:        statusInProgress,
		}
	case bridge.ToolCallEnd:
		status := statusCompleted
		if u.Failed {
			status = statusFailed
		}
		body = UpdateBody{
			SessionUpdate: updateToolCallUpdate,
			ToolCallID:    u.ToolCallID,
			Status:        status,
		}
	case bridge.TextChunk:
		body = UpdateBody{
			SessionUpdate: updateMessageChunk,
			Content:       &UpdateContent{Type: "text", Text: u.Text},
		}
	default:
		logger.Debugf("acpserve: dropping unknown update type %T", update)
		return
	}
	s.notify(NotifySessionUpdate, SessionUpdateParams{SessionID: sessionID, Update: body})
}

func (s *Server) reply(id *json.RawMessage, result any) {
	if id == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		logger.Errorf("acpserve: marshal result: %v", err)
		s.replyError(id, codeInternalError, "internal error")
		return
	}
	s.write(rpcMessage{JSONRPC: "2.0", ID: id, Result: raw})
}

func (s *Server) replyError(id *json.RawMessage, code int, message string) {
	if id == nil {
		return
	}
	s.write(rpcMessage{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (s *Server) notify(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		logger.Errorf("acpserve: marshal notification: %v", err)
		return
	}
	s.write(rpcMessage{JSONRPC: "2.0", Method: method, Params: raw})
}

func (s *Server) write(msg rpcMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("acpserve: marshal frame: %v", err)
		return
	}
	data = append(data, '\n')
	s.writeMu.Lock()
	_, err = s.out.Write(data)
	s.writeMu.Unlock()
	if err != nil {
		logger.Warnf("acpserve: write failed: %v", err)
	}
}

// errorCode maps bridge errors to JSON-RPC error codes.
func errorCode(err error) int {
	if errors.Is(err, bridge.ErrSessionNotFound) {
		return codeSessionGone
	}
	return codeInternalError
}
