package bridge

import (
	"github.com/clawdhq/clawd-go/internal/protocol/wire"
	"github.com/clawdhq/clawd-go/pkg/logger"
)

// OnEvent consumes one gateway event frame. Malformed payloads are dropped
// with a debug log; a single bad frame must not take down the event stream.
func (b *Bridge) OnEvent(f wire.Frame) {
	switch f.Event {
	case wire.EventAgent:
		ev, ok, err := wire.ParseAgentEvent(f)
		if err != nil {
			logger.Debugf("dropping malformed agent event: %v", err)
			return
		}
		if ok {
			b.handleAgentEvent(ev)
		}
	case wire.EventChat:
		ev, ok, err := wire.ParseChatEvent(f)
		if err != nil {
			logger.Debugf("dropping malformed chat event: %v", err)
			return
		}
		if ok {
			b.handleChatEvent(ev)
		}
	default:
		logger.Tracef("ignoring gateway event %q", f.Event)
	}
}

// handleAgentEvent routes a run-keyed tool event to its owning session.
// Events for an unknown run are dropped: the run may have completed or been
// cancelled already.
func (b *Bridge) handleAgentEvent(ev wire.AgentEvent) {
	if ev.Stream != wire.StreamTool {
		logger.Tracef("ignoring agent stream %q for run %s", ev.Stream, ev.RunID)
		return
	}
	sess, ok := b.store.GetByRunID(ev.RunID)
	if !ok {
		logger.Debugf("dropping tool event for unknown run %s", ev.RunID)
		return
	}

	switch ev.Data.Phase {
	case wire.PhaseStart:
		b.sink.SendUpdate(sess.ID, ToolCallStart{
			ToolCallID: ev.Data.ToolCallID,
			Title:      ev.Data.Name,
		})
	case wire.PhaseResult:
		b.sink.SendUpdate(sess.ID, ToolCallEnd{
			ToolCallID: ev.Data.ToolCallID,
			Failed:     ev.Data.IsError,
		})
	}
}

// handleChatEvent routes a session-keyed chat event to its pending prompt.
//
// Chat events carry a sessionKey rather than a runId, so the pending prompt
// is located by scanning sessions for a matching key. Tool events use the
// runId index instead; the asymmetry is the gateway protocol's, kept as is
// with both paths maintained by the session store.
func (b *Bridge) handleChatEvent(ev wire.ChatEvent) {
	b.mu.Lock()
	var p *pendingPrompt
	for sid, cand := range b.pending {
		if sess, ok := b.store.Get(sid); ok && sess.Key == ev.SessionKey {
			p = cand
			break
		}
	}
	b.mu.Unlock()
	if p == nil {
		logger.Debugf("dropping chat event for %s: no pending prompt", ev.SessionKey)
		return
	}

	if ev.State == wire.ChatDelta {
		b.streamDelta(p, ev.Message.Text())
		return
	}
	if !ev.State.Terminal() {
		logger.Debugf("dropping chat event with unhandled state %q", ev.State)
		return
	}
	b.resolve(p, promptOutcome{result: PromptResult{StopReason: stopReasonFor(ev.State)}})
}

// streamDelta forwards the incremental suffix of a cumulative delta payload.
func (b *Bridge) streamDelta(p *pendingPrompt, cumulative string) {
	b.mu.Lock()
	if b.pending[p.sessionID] != p {
		b.mu.Unlock()
		return
	}
	var segment string
	if len(cumulative) > p.sentLen {
		segment = cumulative[p.sentLen:]
	}
	if segment == "" {
		b.mu.Unlock()
		return
	}
	if duplicatesTail(p.sentText, segment) {
		b.mu.Unlock()
		logger.Debugf("suppressing re-sent delta segment for run %s (%d bytes)", p.runID, len(segment))
		return
	}
	p.sentLen += len(segment)
	p.sentText += segment
	sid := p.sessionID
	b.mu.Unlock()

	b.sink.SendUpdate(sid, TextChunk{Text: segment})
}

// duplicatesTail reports whether a delta segment re-sends content that was
// already forwarded: its prefix matches the tail of the sent text. The
// gateway occasionally re-emits the full message instead of appending to it.
func duplicatesTail(sent, segment string) bool {
	if sent == "" || segment == "" {
		return false
	}
	n := len(segment)
	if len(sent) < n {
		n = len(sent)
	}
	return segment[:n] == sent[len(sent)-n:]
}

// stopReasonFor maps a terminal chat state to a protocol stop reason. The
// gateway does not distinguish refusal from generic failure, so error maps to
// refusal as the closest available reason.
func stopReasonFor(state wire.ChatState) StopReason {
	switch state {
	case wire.ChatAborted:
		return StopCancelled
	case wire.ChatError:
		return StopRefusal
	default:
		return StopEndTurn
	}
}
