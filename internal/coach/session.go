package coach

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BTreeMap/CalorieCoach/internal/models"
	"github.com/BTreeMap/CalorieCoach/internal/util"
)

// DefaultMaxSessions bounds the in-memory session cache.
const DefaultMaxSessions = 1024

// Session is one user's coaching state. Turns on a session are serialized.
type Session struct {
	ID        string
	CreatedAt time.Time

	turnMu    sync.Mutex
	mu        sync.RWMutex
	profile   *ProfileStore
	log       *ConversationLog
	intensity models.Intensity
}

func newSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		profile:   NewProfileStore(),
		log:       NewConversationLog(),
		intensity: models.DefaultIntensity,
	}
}

// Profile returns the session's profile store.
func (s *Session) Profile() *ProfileStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Log returns the session's conversation log.
func (s *Session) Log() *ConversationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log
}

// Intensity returns the intensity selected for upcoming turns.
func (s *Session) Intensity() models.Intensity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intensity
}

// SetIntensity changes the selected intensity.
func (s *Session) SetIntensity(i models.Intensity) error {
	if !i.IsValid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidIntensity, i)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intensity = i
	return nil
}

// Reset starts a fresh conversation with a default profile. The previous log is
// left untouched for any reader still holding it.
func (s *Session) Reset() {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = NewProfileStore()
	s.log = NewConversationLog()
	s.intensity = models.DefaultIntensity
}

// Turn runs one user message through o. An empty intensity uses the session's selection.
// Only one turn runs at a time per session.
func (s *Session) Turn(ctx context.Context, o *Orchestrator, text string, intensity models.Intensity) models.Content {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	if intensity == "" {
		intensity = s.Intensity()
	}
	profile := s.Profile().Snapshot()
	return o.HandleTurn(ctx, s.Log(), text, intensity, &profile)
}

// SessionStore is a bounded in-memory map of sessions; the least recently used
// session is dropped when the bound is reached.
type SessionStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Session]
}

// NewSessionStore creates a store holding at most size sessions.
func NewSessionStore(size int) (*SessionStore, error) {
	if size <= 0 {
		size = DefaultMaxSessions
	}
	cache, err := lru.NewWithEvict(size, func(id string, s *Session) {
		slog.Debug("SessionStore: session evicted", "sessionID", id, "turns", s.Log().Len())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &SessionStore{cache: cache}, nil
}

// Create starts a new session under a random ID.
func (st *SessionStore) Create() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	for {
		id := util.GenerateSessionID()
		if st.cache.Contains(id) {
			continue
		}
		s := newSession(id)
		st.cache.Add(id, s)
		slog.Debug("SessionStore.Create: session created", "sessionID", id)
		return s
	}
}

// GetOrCreate returns the session for id, creating it on first access.
// created reports whether a new session was made.
func (st *SessionStore) GetOrCreate(id string) (s *Session, created bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if existing, ok := st.cache.Get(id); ok {
		return existing, false
	}
	s = newSession(id)
	st.cache.Add(id, s)
	slog.Debug("SessionStore.GetOrCreate: session created", "sessionID", id)
	return s, true
}

// Get returns an existing session.
func (st *SessionStore) Get(id string) (*Session, bool) {
	return st.cache.Get(id)
}

// Delete removes a session, reporting whether it existed.
func (st *SessionStore) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cache.Remove(id)
}

// Len returns the number of live sessions.
func (st *SessionStore) Len() int {
	return st.cache.Len()
}
