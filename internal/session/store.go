// Package session owns session identity and active-run bookkeeping for the
// gateway bridge.
package session

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawdhq/clawd-go/pkg/logger"
)

// Namespace prefixes every sessionKey so multiple bridge clients can share one
// gateway without colliding.
const Namespace = "acp"

// Session is a bridge session: a stable local identity plus the ephemeral
// state of an in-flight run.
type Session struct {
	// ID is the process-unique session identifier.
	ID string
	// Key is the gateway-facing identifier, Namespace + ":" + ID.
	Key string
	// Cwd is the working directory supplied at creation.
	Cwd string
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time

	// Ephemeral run state. Never persisted; guarded by the store mutex.
	activeRunID string
	cancel      func()
}

// ActiveRunID returns the runId of the in-flight run, if any.
//
// Snapshot only: the run may complete concurrently.
func (s *Store) ActiveRunID(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess.activeRunID
	}
	return ""
}

// persistedSession is the on-disk shape of a session. Ephemeral run fields are
// deliberately absent: in-flight runs cannot be resumed across a restart, so
// reloaded sessions always start idle.
type persistedSession struct {
	SessionID  string    `json:"sessionId"`
	SessionKey string    `json:"sessionKey"`
	Cwd        string    `json:"cwd"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is the single source of truth for session existence and active-run
// bookkeeping. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// byRun maps runId -> sessionId so run-keyed gateway events can be routed
	// back to their session. Maintained in lockstep with Session.activeRunID.
	byRun map[string]string

	// path is the persistence file. Empty disables persistence.
	path string
}

// NewStore creates a session store. A non-empty path enables persistence:
// existing sessions are loaded immediately and every mutation re-serializes
// the store best-effort.
func NewStore(path string) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		byRun:    make(map[string]string),
		path:     path,
	}
	if path != "" {
		s.load()
	}
	return s
}

// Create generates a new session for the working directory. It never fails.
func (s *Store) Create(cwd string) *Session {
	id := uuid.NewString()
	sess := &Session{
		ID:        id,
		Key:       Namespace + ":" + id,
		Cwd:       cwd,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.saveLocked()
	s.mu.Unlock()

	logger.Debugf("session created: %s (cwd=%s)", id, cwd)
	return sess
}

// Get returns the session for id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// GetByRunID returns the session owning the given run.
func (s *Store) GetByRunID(runID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRun[runID]
	if !ok {
		return nil, false
	}
	sess, ok := s.sessions[id]
	return sess, ok
}

// Delete removes a session, cancelling any active run first. It reports
// whether a session existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	var cancel func()
	if ok {
		cancel = s.clearRunLocked(sess)
		delete(s.sessions, id)
		s.saveLocked()
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ok {
		logger.Debugf("session deleted: %s", id)
	}
	return ok
}

// SetActiveRun records the in-flight run for a session and indexes the runId.
// No-op if the session is absent.
func (s *Store) SetActiveRun(id, runID string, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if sess.activeRunID != "" {
		delete(s.byRun, sess.activeRunID)
	}
	sess.activeRunID = runID
	sess.cancel = cancel
	s.byRun[runID] = id
}

// ClearActiveRun drops the run bookkeeping for a session without triggering
// cancellation.
func (s *Store) ClearActiveRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		s.clearRunLocked(sess)
	}
}

// CancelActiveRun signals the session's cancel handle (if any) and clears the
// run bookkeeping. It reports whether there was anything to cancel.
func (s *Store) CancelActiveRun(id string) bool {
	s.mu.Lock()
	var cancel func()
	if sess, ok := s.sessions[id]; ok {
		cancel = s.clearRunLocked(sess)
	}
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// clearRunLocked nulls the ephemeral run fields and returns the displaced
// cancel handle so callers can invoke it outside the lock.
func (s *Store) clearRunLocked(sess *Session) func() {
	cancel := sess.cancel
	if sess.activeRunID != "" {
		delete(s.byRun, sess.activeRunID)
	}
	sess.activeRunID = ""
	sess.cancel = nil
	return cancel
}

// Len returns the number of sessions in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// load reads the persisted store. A missing or corrupt file yields an empty
// store; persistence failures are never fatal.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("session store unreadable, starting empty: %v", err)
		}
		return
	}
	var entries []persistedSession
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warnf("session store corrupt, starting empty: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.SessionID == "" {
			continue
		}
		key := e.SessionKey
		if key == "" {
			key = Namespace + ":" + e.SessionID
		}
		s.sessions[e.SessionID] = &Session{
			ID:        e.SessionID,
			Key:       key,
			Cwd:       e.Cwd,
			CreatedAt: e.CreatedAt,
		}
	}
	logger.Debugf("session store loaded: %d sessions", len(s.sessions))
}

// saveLocked re-serializes the full store. Best-effort: write failures are
// logged and swallowed; the in-memory store stays authoritative.
func (s *Store) saveLocked() {
	if s.path == "" {
		return
	}
	entries := make([]persistedSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		entries = append(entries, persistedSession{
			SessionID:  sess.ID,
			SessionKey: sess.Key,
			Cwd:        sess.Cwd,
			CreatedAt:  sess.CreatedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].SessionID < entries[j].SessionID
	})

	data, err := json.Marshal(entries)
	if err != nil {
		logger.Warnf("session store marshal failed: %v", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		logger.Warnf("session store write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		logger.Warnf("session store rename failed: %v", err)
	}
}
