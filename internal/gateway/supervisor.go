package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdhq/clawd-go/internal/protocol/wire"
	"github.com/clawdhq/clawd-go/pkg/logger"
)

// State is the supervisor connection state.
type State string

const (
	StateConnecting         State = "connecting"
	StateConnected          State = "connected"
	StateDisconnected       State = "disconnected"
	StateReconnectScheduled State = "reconnect-scheduled"
	StateGivingUp           State = "giving-up"
)

// Listener receives connection lifecycle notifications. The translator
// implements this.
//
// OnTransport is invoked with a fresh transport before each connection
// attempt, so translator state (sessions, pending prompts) survives transport
// replacement untouched. OnDisconnected is invoked synchronously before any
// reconnect is scheduled.
type Listener interface {
	OnTransport(rpc RPC)
	OnConnected()
	OnDisconnected(code int, reason string)
	OnEvent(f wire.Frame)
}

// Config holds supervisor tuning.
type Config struct {
	// Token is the gateway auth token, inspected (not verified) for expiry
	// warnings before reconnect attempts.
	Token string
	// BaseDelay is the backoff unit; attempt n waits n × BaseDelay.
	BaseDelay time.Duration
	// MaxAttempts caps consecutive failed attempts before giving up.
	MaxAttempts int
}

const (
	defaultBaseDelay   = time.Second
	defaultMaxAttempts = 5
)

// Supervisor owns the gateway transport lifecycle: it dials, detects
// disconnects, applies linear backoff, and rebinds fresh transports into the
// listener. Giving up is terminal for self-healing but not fatal to the
// process.
type Supervisor struct {
	cfg          Config
	newTransport func() Transport
	listener     Listener

	// after is the reconnect timer source, injectable for tests.
	after func(time.Duration) <-chan time.Time
	clock Clock

	mu    sync.Mutex
	state State
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithClock replaces the supervisor's time source.
func WithClock(c Clock) SupervisorOption {
	return func(s *Supervisor) { s.clock = c }
}

// WithAfter replaces the reconnect timer source. Tests use this to drive the
// backoff schedule deterministically.
func WithAfter(after func(time.Duration) <-chan time.Time) SupervisorOption {
	return func(s *Supervisor) { s.after = after }
}

// NewSupervisor creates a supervisor. newTransport must return an unconnected
// transport on every call.
func NewSupervisor(cfg Config, newTransport func() Transport, listener Listener, opts ...SupervisorOption) *Supervisor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	s := &Supervisor{
		cfg:          cfg,
		newTransport: newTransport,
		listener:     listener,
		after:        time.After,
		clock:        RealClock{},
		state:        StateConnecting,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the connection state machine until the context is canceled, the
// gateway closes the connection cleanly, or reconnect attempts are exhausted.
// Exhaustion is logged, not returned as an error: the process keeps running,
// it just will not self-heal.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		s.setState(StateConnecting)
		t := s.newTransport()
		t.OnEvent(s.listener.OnEvent)
		// Rebind before connecting so a fast first event cannot race the swap.
		s.listener.OnTransport(t)

		err := t.Connect(ctx)
		if ctx.Err() != nil {
			_ = t.Close()
			return ctx.Err()
		}
		if err == nil {
			attempt = 0
			s.setState(StateConnected)
			s.listener.OnConnected()

			code, reason := t.Wait(ctx)
			if ctx.Err() != nil {
				_ = t.Close()
				return ctx.Err()
			}
			s.setState(StateDisconnected)
			s.listener.OnDisconnected(code, reason)
			if isCleanClose(code) {
				logger.Infof("gateway closed cleanly (code=%d), not reconnecting", code)
				return nil
			}
			logger.Warnf("gateway connection lost (code=%d reason=%q)", code, reason)
		} else {
			s.setState(StateDisconnected)
			logger.Warnf("gateway connection attempt failed: %v", err)
		}

		attempt++
		if attempt > s.cfg.MaxAttempts {
			s.setState(StateGivingUp)
			logger.Errorf("gateway reconnect attempts exhausted after %d tries, giving up", s.cfg.MaxAttempts)
			return nil
		}
		if tokenExpired(s.cfg.Token, s.clock.Now()) {
			logger.Warnf("gateway token is expired; reconnect attempts will likely be rejected")
		}

		delay := time.Duration(attempt) * s.cfg.BaseDelay
		s.setState(StateReconnectScheduled)
		logger.Infof("gateway reconnect attempt %d/%d in %s", attempt, s.cfg.MaxAttempts, delay)
		select {
		case <-s.after(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// isCleanClose reports whether a close code represents an intentional
// shutdown that must not trigger reconnection.
func isCleanClose(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
}
