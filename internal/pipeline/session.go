package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/kyleking/askdb/internal/dialog"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/types"
)

// Session is one conversation over one schema and database. Turns on a session
// run one at a time; separate sessions share no mutable state.
type Session struct {
	id       string
	schema   *types.Schema
	database string
	pipeline *Pipeline
	logger   *logging.Logger

	mu     sync.Mutex
	dialog *dialog.Manager
	closed bool
}

func (s *Session) ID() string { return s.id }

func (s *Session) Database() string { return s.database }

func (s *Session) Schema() *types.Schema { return s.schema }

// Ask processes one user input. Blank input returns dialog.ErrEmptyInput and leaves
// the conversation untouched; stage failures are reported in the Outcome.
func (s *Session) Ask(ctx context.Context, input string) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	return s.pipeline.turn(ctx, s, input)
}

// State returns a snapshot of the conversation
func (s *Session) State() dialog.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dialog.State()
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.dialog = dialog.NewManager(s.id, s.database, s.pipeline.dialogCfg, nil)
	s.logger.Info("session closed")
}

// Registry holds the open sessions of one pipeline
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.id] = s
}

// Get returns an open session
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]

	return s, ok
}

// Close removes a session and discards its conversation. Retrieval state for
// its schema is released once no open session shares that schema.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	delete(r.sessions, id)

	shared := false
	for _, other := range r.sessions {
		if other.schema == s.schema {
			shared = true
			break
		}
	}
	r.mu.Unlock()

	s.close()

	if !shared && s.pipeline != nil {
		s.pipeline.release(s.schema)
	}

	return true
}

// CloseAll closes every session
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Close(id)
	}
}

// Len returns the number of open sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// IDs returns the open session ids, sorted
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
