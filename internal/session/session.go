// Package session tracks live diagnostic sessions by UUID.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/diagd/internal/orchestrator"
)

// Errors for session lookup and lifecycle.
var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session registry is closed")
)

// Factory builds a new Session for a freshly minted id.
type Factory func(id string) *orchestrator.Session

// Entry pairs a session with its registry bookkeeping.
type Entry struct {
	Session   *orchestrator.Session
	CreatedAt time.Time
}

// Registry owns every live session. All methods are safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	factory Factory
	logger  *zap.Logger
	closed  bool
}

var timeNow = time.Now

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		factory: factory,
		logger:  logger,
	}
}

// Create mints a session id, builds the session, and registers it.
func (r *Registry) Create() (*orchestrator.Session, error) {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	sess := r.factory(id)
	r.entries[id] = &Entry{Session: sess, CreatedAt: timeNow()}
	r.logger.Info("session created", zap.String("session_id", id))
	return sess, nil
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*orchestrator.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Session, nil
}

// End terminates a session and removes it from the registry.
func (r *Registry) End(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.Session.Terminate()
	r.logger.Info("session ended", zap.String("session_id", id))
	return nil
}

// List returns a snapshot of every live session id, oldest first.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.entries[ids[i]].CreatedAt.Before(r.entries[ids[j]].CreatedAt)
	})
	return ids
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close terminates every session and rejects further Create calls.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()
	for _, e := range entries {
		e.Session.Terminate()
	}
}
