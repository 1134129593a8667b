package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/liliang-cn/groundchat/internal/domain"
)

// SessionIDPrefix starts every generated session identifier
const SessionIDPrefix = "sess_"

// DefaultSystemPrompt seeds every new session
const DefaultSystemPrompt = "You are a helpful robotics tutor for the Physical AI and Humanoid Robotics course. " +
	"Answer questions based on textbook content retrieved through search_knowledge_base tool."

var (
	// ErrSessionInactive is returned when appending to an ended session
	ErrSessionInactive = errors.New("session is not active")
	// ErrInvalidMessage is returned for an unknown role or empty content
	ErrInvalidMessage = errors.New("invalid message")
)

// EvictReason tells eviction hooks why a session left the store
type EvictReason string

const (
	EvictEnded   EvictReason = "ended"
	EvictExpired EvictReason = "expired"
)

// EvictFunc observes sessions after they are removed from the store
type EvictFunc func(s *Session, reason EvictReason)

// Session is the server-held state of one conversation. All fields behind
// mu are only reachable through methods, so callers never see a half
// applied append.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mu           sync.RWMutex
	messages     []domain.Message
	lastActivity time.Time
	tokenCount   int
	active       bool

	// turn serializes pipeline turns on this session
	turn chan struct{}
}

// Messages returns a copy of the conversation in order
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// TokenCount returns the chars/4 size estimate of the conversation
func (s *Session) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenCount
}

// LastActivity returns the time of the latest append
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// IsActive reports whether the session may still be resumed
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Summary describes the session without its history
func (s *Session) Summary() domain.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SessionSummary{
		SessionID:    s.ID,
		UserID:       s.UserID,
		MessageCount: len(s.messages),
		TokenCount:   s.tokenCount,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
}

// AcquireTurn blocks until no other turn runs on this session or ctx ends
func (s *Session) AcquireTurn(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseTurn ends the turn started by AcquireTurn
func (s *Session) ReleaseTurn() {
	<-s.turn
}

// ContextWindow returns the messages to hand to the model. Within budget it
// is the full history. Over budget the oldest non-system messages are left
// out until the estimate fits; the system message and the latest message
// are always included.
func (s *Session) ContextWindow(maxTokens int) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxTokens <= 0 || s.tokenCount <= maxTokens || len(s.messages) <= 2 {
		out := make([]domain.Message, len(s.messages))
		copy(out, s.messages)
		return out
	}

	budget := maxTokens * 4
	used := charCount(s.messages[0].Content)
	start := len(s.messages) - 1
	used += charCount(s.messages[start].Content)
	for start > 1 {
		next := charCount(s.messages[start-1].Content)
		if used+next > budget {
			break
		}
		used += next
		start--
	}

	out := make([]domain.Message, 0, len(s.messages)-start+1)
	out = append(out, s.messages[0])
	out = append(out, s.messages[start:]...)
	return out
}

func (s *Session) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func charCount(text string) int {
	return utf8.RuneCountInString(text)
}

// estimateTokens approximates token usage as total characters / 4
func estimateTokens(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += charCount(m.Content)
	}
	return total / 4
}

// StoreOption configures a SessionStore
type StoreOption func(*SessionStore)

// WithTimeout sets the inactivity timeout used by SweepExpired
func WithTimeout(d time.Duration) StoreOption {
	return func(s *SessionStore) { s.timeout = d }
}

// WithSystemPrompt replaces the seed system message
func WithSystemPrompt(prompt string) StoreOption {
	return func(s *SessionStore) { s.systemPrompt = prompt }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) StoreOption {
	return func(s *SessionStore) { s.now = now }
}

// WithIDGenerator replaces the session id generator
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *SessionStore) { s.newID = gen }
}

// WithEvictHook registers fn to run after a session is ended or swept
func WithEvictHook(fn EvictFunc) StoreOption {
	return func(s *SessionStore) { s.onEvict = append(s.onEvict, fn) }
}

// SessionStore owns every live session. It is safe for concurrent use.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// retired remembers every id ever issued so none is handed out twice
	retired map[string]struct{}

	timeout      time.Duration
	systemPrompt string
	now          func() time.Time
	newID        func() string
	onEvict      []EvictFunc

	swept atomic.Int64
	ended atomic.Int64
}

// NewSessionStore creates an empty store
func NewSessionStore(opts ...StoreOption) *SessionStore {
	s := &SessionStore{
		sessions:     make(map[string]*Session),
		retired:      make(map[string]struct{}),
		timeout:      time.Hour,
		systemPrompt: DefaultSystemPrompt,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        generateSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func generateSessionID() string {
	return SessionIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create registers a new active session seeded with the system message
func (s *SessionStore) Create(userID string) *Session {
	now := s.now()
	seed := domain.Message{Role: domain.RoleSystem, Content: s.systemPrompt, Timestamp: now}
	sess := &Session{
		UserID:       userID,
		CreatedAt:    now,
		messages:     []domain.Message{seed},
		lastActivity: now,
		tokenCount:   estimateTokens([]domain.Message{seed}),
		active:       true,
		turn:         make(chan struct{}, 1),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	for s.issued(id) {
		id = s.newID()
	}
	sess.ID = id
	s.sessions[id] = sess
	s.retired[id] = struct{}{}
	return sess
}

func (s *SessionStore) issued(id string) bool {
	_, ok := s.retired[id]
	return ok
}

// Get returns the session if it exists and is active
func (s *SessionStore) Get(sessionID string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || !sess.IsActive() {
		return nil, false
	}
	return sess, true
}

// GetOrCreate resumes sessionID when it is active and owned by userID.
// Any other case, including a session owned by someone else, silently
// starts a new session for userID.
func (s *SessionStore) GetOrCreate(userID, sessionID string) *Session {
	if sessionID != "" {
		if sess, ok := s.Get(sessionID); ok && sess.UserID == userID {
			return sess
		}
	}
	return s.Create(userID)
}

// Append adds a message to the session and refreshes its bookkeeping
func (s *SessionStore) Append(sess *Session, role domain.Role, content string) error {
	if !role.Valid() || content == "" {
		return ErrInvalidMessage
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.active {
		return ErrSessionInactive
	}
	now := s.now()
	sess.messages = append(sess.messages, domain.Message{Role: role, Content: content, Timestamp: now})
	sess.lastActivity = now
	sess.tokenCount = estimateTokens(sess.messages)
	return nil
}

// SweepExpired removes sessions idle for longer than the configured timeout
func (s *SessionStore) SweepExpired() int {
	return s.Sweep(s.timeout)
}

// Sweep removes every session whose last activity is at least timeout old
// and returns how many were removed. A zero timeout removes all sessions.
func (s *SessionStore) Sweep(timeout time.Duration) int {
	cutoff := s.now().Add(-timeout)

	var removed []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if !sess.LastActivity().After(cutoff) {
			delete(s.sessions, id)
			removed = append(removed, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range removed {
		sess.deactivate()
		s.evicted(sess, EvictExpired)
	}
	s.swept.Add(int64(len(removed)))
	return len(removed)
}

// End deactivates and removes a session, reporting whether it existed
func (s *SessionStore) End(sessionID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	sess.deactivate()
	s.evicted(sess, EvictEnded)
	s.ended.Add(1)
	return true
}

func (s *SessionStore) evicted(sess *Session, reason EvictReason) {
	for _, fn := range s.onEvict {
		fn(sess, reason)
	}
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stats reports live and removed session counts
func (s *SessionStore) Stats() domain.Stats {
	return domain.Stats{
		ActiveSessions: s.Len(),
		SweptSessions:  s.swept.Load(),
		EndedSessions:  s.ended.Load(),
	}
}
