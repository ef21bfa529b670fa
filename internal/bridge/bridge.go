// Package bridge translates the client-facing agent protocol into gateway
// RPCs and converts the gateway's cumulative event stream back into
// incremental protocol updates.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/clawdhq/clawd-go/internal/gateway"
	"github.com/clawdhq/clawd-go/internal/protocol/wire"
	"github.com/clawdhq/clawd-go/internal/session"
	"github.com/clawdhq/clawd-go/pkg/logger"
)

// promptOutcome is delivered exactly once per pending prompt.
type promptOutcome struct {
	result PromptResult
	err    error
}

// pendingPrompt tracks an in-flight prompt awaiting gateway completion.
//
// sentLen/sentText hold the streaming-diff state used to turn the gateway's
// cumulative delta payloads into incremental chunks. Guarded by Bridge.mu.
type pendingPrompt struct {
	sessionID string
	runID     string
	done      chan promptOutcome

	sentLen  int
	sentText string
}

// Bridge implements the agent protocol surface against the session store and
// the gateway transport. It is safe for concurrent use.
type Bridge struct {
	store *session.Store
	sink  UpdateSink

	mu        sync.Mutex
	rpc       gateway.RPC // nil while disconnected
	connected bool
	// pending holds at most one in-flight prompt per session.
	pending map[string]*pendingPrompt
}

var _ gateway.Listener = (*Bridge)(nil)

// New creates a bridge over the given store, delivering streaming updates to
// sink.
func New(store *session.Store, sink UpdateSink) *Bridge {
	return &Bridge{
		store:   store,
		sink:    sink,
		pending: make(map[string]*pendingPrompt),
	}
}

// Initialize returns the fixed capability descriptor. No gateway call is
// involved; capability negotiation is not needed.
func (b *Bridge) Initialize() InitializeResult {
	return InitializeResult{
		ProtocolVersion: protocolVersion,
		AgentCapabilities: AgentCapabilities{
			LoadSession: false,
			PromptCapabilities: PromptCapabilities{
				Image: true,
			},
		},
	}
}

// NewSession creates a session for the working directory and returns its id.
func (b *Bridge) NewSession(cwd string) (string, error) {
	return b.store.Create(cwd).ID, nil
}

// Authenticate is a no-op: the gateway owns authentication.
func (b *Bridge) Authenticate() error { return nil }

// DeleteSession removes a session, cancelling any in-flight run first.
func (b *Bridge) DeleteSession(sessionID string) bool {
	return b.store.Delete(sessionID)
}

// Connected reports whether the bridge currently has a live transport.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SetSessionMode adjusts a per-session execution parameter (the gateway's
// thinking level) best-effort. RPC failures are logged, never returned: the
// call is advisory and not required for correctness.
func (b *Bridge) SetSessionMode(ctx context.Context, sessionID, modeID string) error {
	sess, ok := b.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	b.mu.Lock()
	rpc := b.rpc
	b.mu.Unlock()
	if rpc == nil {
		logger.Debugf("sessions.patch skipped for %s: not connected", sessionID)
		return nil
	}

	req := wire.SessionsPatchRequest{SessionKey: sess.Key, ThinkingLevel: modeID}
	if err := rpc.Call(ctx, wire.MethodSessionsPatch, req, nil); err != nil {
		logger.Warnf("sessions.patch failed for %s: %v", sessionID, err)
	}
	return nil
}

// Prompt dispatches prompt content for a session and blocks until the run
// completes, is cancelled, or the connection drops.
//
// There is no built-in timeout: a run the gateway silently drops leaves the
// call blocked until ctx expires. Timeout policy belongs to the caller's
// context.
func (b *Bridge) Prompt(ctx context.Context, sessionID string, content []ContentBlock) (PromptResult, error) {
	sess, ok := b.store.Get(sessionID)
	if !ok {
		return PromptResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	text, attachments := extractContent(content)
	message := fmt.Sprintf("[Working directory: %s]\n\n%s", sess.Cwd, text)
	runID := uuid.NewString()

	p := &pendingPrompt{
		sessionID: sessionID,
		runID:     runID,
		done:      make(chan promptOutcome, 1),
	}

	// Bookkeeping must exist before dispatch so a gateway reply arriving
	// faster than we return cannot miss it. Single-flight displacement
	// happens in the same critical section: concurrent prompts on one session
	// cannot both pass the check and orphan a pending prompt. SetActiveRun
	// drops the displaced run's index entry and cancel handle.
	b.mu.Lock()
	displaced := b.pending[sessionID]
	b.pending[sessionID] = p
	b.store.SetActiveRun(sessionID, runID, func() {
		b.resolve(p, promptOutcome{result: PromptResult{StopReason: StopCancelled}})
	})
	rpc := b.rpc
	b.mu.Unlock()

	if displaced != nil {
		logger.Debugf("prompt for %s displaced an active run", sessionID)
		displaced.done <- promptOutcome{result: PromptResult{StopReason: StopCancelled}}
	}

	if rpc == nil {
		b.abandon(p)
		return PromptResult{}, gateway.ErrNotConnected
	}

	req := wire.ChatSendRequest{
		SessionKey:     sess.Key,
		Message:        message,
		Attachments:    attachments,
		IdempotencyKey: runID,
	}
	// The RPC reply only confirms enqueue; completion arrives as a chat event.
	if err := rpc.Call(ctx, wire.MethodChatSend, req, nil); err != nil {
		b.abandon(p)
		return PromptResult{}, fmt.Errorf("chat.send: %w", err)
	}
	logger.Debugf("prompt dispatched: session=%s run=%s", sessionID, runID)

	select {
	case out := <-p.done:
		return out.result, out.err
	case <-ctx.Done():
		b.abandon(p)
		return PromptResult{}, ctx.Err()
	}
}

// Cancel stops the in-flight run for a session, if any. The pending prompt
// resolves immediately with a cancelled stop reason; the gateway is asked to
// abort best-effort without waiting for acknowledgment. Unknown sessions are
// a no-op.
func (b *Bridge) Cancel(ctx context.Context, sessionID string) error {
	sess, ok := b.store.Get(sessionID)
	if !ok {
		return nil
	}

	if b.store.CancelActiveRun(sessionID) {
		logger.Debugf("cancelled active run for session %s", sessionID)
	}

	b.mu.Lock()
	rpc := b.rpc
	b.mu.Unlock()
	if rpc != nil {
		req := wire.ChatAbortRequest{SessionKey: sess.Key}
		if err := rpc.Call(ctx, wire.MethodChatAbort, req, nil); err != nil {
			logger.Debugf("chat.abort failed for %s: %v", sessionID, err)
		}
	}
	return nil
}

// OnTransport rebinds the gateway transport. Sessions and pending prompts are
// untouched: session keys are local identifiers and stay valid across
// transport replacement.
func (b *Bridge) OnTransport(rpc gateway.RPC) {
	b.mu.Lock()
	b.rpc = rpc
	b.mu.Unlock()
}

// OnConnected marks the bridge connected. No replay is needed.
func (b *Bridge) OnConnected() {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	logger.Infof("bridge connected to gateway")
}

// OnDisconnected rejects every pending prompt with a descriptive error and
// clears the affected sessions' run bookkeeping, so clients observe an
// explicit failure and the sessions immediately accept new prompts.
func (b *Bridge) OnDisconnected(code int, reason string) {
	b.mu.Lock()
	b.connected = false
	b.rpc = nil
	pending := b.pending
	b.pending = make(map[string]*pendingPrompt)
	b.mu.Unlock()

	for sid, p := range pending {
		b.store.ClearActiveRun(sid)
		p.done <- promptOutcome{err: &gateway.DisconnectedError{Code: code, Reason: reason}}
	}
	if len(pending) > 0 {
		logger.Warnf("rejected %d pending prompt(s) after disconnect (code=%d)", len(pending), code)
	}
}

// resolve completes a pending prompt exactly once. It is a no-op if the
// prompt was already resolved or displaced.
func (b *Bridge) resolve(p *pendingPrompt, out promptOutcome) {
	b.mu.Lock()
	cur, ok := b.pending[p.sessionID]
	if !ok || cur != p {
		b.mu.Unlock()
		return
	}
	delete(b.pending, p.sessionID)
	b.mu.Unlock()

	b.store.ClearActiveRun(p.sessionID)
	p.done <- out
}

// abandon drops a pending prompt's bookkeeping without delivering an outcome;
// the caller reports the error itself. A prompt that was already displaced
// leaves the successor's bookkeeping untouched.
func (b *Bridge) abandon(p *pendingPrompt) {
	b.mu.Lock()
	cur, ok := b.pending[p.sessionID]
	current := ok && cur == p
	if current {
		delete(b.pending, p.sessionID)
	}
	b.mu.Unlock()
	if current {
		b.store.ClearActiveRun(p.sessionID)
	}
}

// extractContent flattens prompt content: text blocks are concatenated, image
// blocks become attachments, anything else is dropped.
func extractContent(content []ContentBlock) (string, []wire.Attachment) {
	var text strings.Builder
	var attachments []wire.Attachment
	for _, block := range content {
		switch block.Type {
		case ContentText:
			text.WriteString(block.Text)
		case ContentImage:
			if block.Data == "" {
				continue
			}
			attachments = append(attachments, wire.Attachment{
				MimeType: block.MimeType,
				Data:     block.Data,
			})
		default:
			logger.Tracef("dropping unsupported content block %q", block.Type)
		}
	}
	return text.String(), attachments
}
