// Package sessionstore implements SessionStore (§4.J): a durable,
// in-memory map of session-id -> session record, persisted atomically and
// reconciled against the container runtime at startup.
package sessionstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/streamspace/sealskin/internal/broker"
	"github.com/streamspace/sealskin/internal/containerruntime"
	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/types"
)

// Store is the single-lock-guarded durable session table (§5: "SessionStore
// mutation => hold a single per-store lock; persistence call holds it for
// the duration of the temp-file rename").
type Store struct {
	path string

	mu       sync.Mutex
	sessions map[string]*types.Session
}

// Load reads path (absent file => empty store) without reconciling against
// the runtime; call Reconcile separately at startup.
func Load(path string) (*Store, error) {
	s := &Store{path: path, sessions: make(map[string]*types.Session)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, broker.Internal("read sessions db", err)
	}
	var loaded map[string]*types.Session
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, broker.Internal("parse sessions db", err)
	}
	if loaded != nil {
		s.sessions = loaded
	}
	return s, nil
}

// Reconcile probes runtime for every entry's instance id, drops entries
// whose container no longer exists, and persists the pruned map. This
// implements §4.J's startup procedure and the §8 "runtime.exists(S.instance_id)"
// invariant.
func (s *Store) Reconcile(ctx context.Context, runtime containerruntime.Runtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		exists, err := runtime.Exists(ctx, sess.InstanceID)
		if err != nil {
			// Startup reconciliation only prunes containers confirmed absent;
			// a transient runtime failure does not mark the session stale
			// (§9 Open Questions).
			logger.Broker().Warn().Err(err).Str("session_id", id).Msg("reconcile: runtime probe failed, keeping session")
			continue
		}
		if !exists {
			delete(s.sessions, id)
			logger.Broker().Info().Str("session_id", id).Msg("reconcile: dropped stale session")
		}
	}
	return s.persistLocked()
}

// Get returns a copy of the session for id, or ok=false.
func (s *Store) Get(id string) (types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return types.Session{}, false
	}
	return *sess, true
}

// Put inserts or replaces a session and persists the store.
func (s *Store) Put(sess types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sess
	s.sessions[sess.SessionID] = &cp
	return s.persistLocked()
}

// Mutate applies fn to the session for id under the store lock, then
// persists. fn must not block on I/O.
func (s *Store) Mutate(id string, fn func(*types.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return broker.NotFound("unknown session")
	}
	if err := fn(sess); err != nil {
		return err
	}
	return s.persistLocked()
}

// Delete removes id and persists the store.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return s.persistLocked()
}

// All returns a snapshot of every session.
func (s *Store) All() []types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

// persistLocked writes the entire map to a temp file in the same directory
// and atomically renames it over path. Caller must hold s.mu.
func (s *Store) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return broker.Internal("create sessions db dir", err)
	}
	raw, err := yaml.Marshal(s.sessions)
	if err != nil {
		return broker.Internal("marshal sessions db", err)
	}
	tmp, err := os.CreateTemp(dir, "sessions-*.tmp")
	if err != nil {
		return broker.Internal("create temp sessions file", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return broker.Internal("write temp sessions file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return broker.Internal("fsync temp sessions file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return broker.Internal("close temp sessions file", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return broker.Internal("rename sessions db", err)
	}
	return nil
}
