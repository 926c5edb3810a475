package editor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/smeta/internal/common"
	"github.com/Veraticus/smeta/internal/model"
)

// Session is a server-hosted editor store bound to the file it was loaded from.
type Session struct {
	CreatedAt  time.Time    `json:"created_at"`
	Store      *Store       `json:"-"`
	ID         string       `json:"id"`
	SourceFile string       `json:"source_file"`
	Schema     model.Schema `json:"schema"`

	lastAccess time.Time
}

// Sessions is a registry of live sessions that expire after a period of
// inactivity.
type Sessions struct {
	now          func() time.Time
	sessions     map[string]*Session
	ttl          time.Duration
	historyLimit int
	mu           sync.RWMutex
}

// NewSessions creates a registry. A zero ttl keeps sessions until deleted.
func NewSessions(ttl time.Duration, historyLimit int) *Sessions {
	return &Sessions{
		sessions:     make(map[string]*Session),
		ttl:          ttl,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Create opens a session holding records. The initial load is not undoable
// and does not mark the session dirty.
func (r *Sessions) Create(source string, schema model.Schema, records []model.CanonicalRecord) *Session {
	store := NewStore(r.historyLimit)
	store.Load(records)

	now := r.now()
	sess := &Session{
		ID:         uuid.NewString(),
		SourceFile: source,
		Schema:     schema,
		Store:      store,
		CreatedAt:  now,
		lastAccess: now,
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	slog.Debug("Opened editor session", "id", sess.ID, "source", source, "rows", len(records))
	return sess
}

// Get returns a live session and refreshes its access time.
func (r *Sessions) Get(id string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || r.expired(sess) {
		return nil, fmt.Errorf("session %s: %w", id, common.ErrNotFound)
	}

	r.mu.Lock()
	sess.lastAccess = r.now()
	r.mu.Unlock()
	return sess, nil
}

// Delete closes a session.
func (r *Sessions) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// Sweep drops expired sessions and returns how many were removed.
func (r *Sessions) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, sess := range r.sessions {
		if r.expiredLocked(sess) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Expired editor sessions", "count", removed)
	}
	return removed
}

// Len returns the number of registered sessions.
func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Sessions) expired(sess *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expiredLocked(sess)
}

func (r *Sessions) expiredLocked(sess *Session) bool {
	return r.ttl > 0 && r.now().Sub(sess.lastAccess) > r.ttl
}
