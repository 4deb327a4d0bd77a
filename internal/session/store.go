// Package session provides the in-memory conversation store.
package session

import (
	"sync"
	"time"

	"github.com/robbarto2/AgenticOps/internal/cards"
)

// Roles stored in history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one history entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation: its history and the cards emitted so far.
type Session struct {
	ID        string       `json:"session_id"`
	Messages  []Message    `json:"messages"`
	Cards     []cards.Card `json:"cards"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (c *Session) copy() *Session {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	out.Cards = append([]cards.Card(nil), c.Cards...)
	return &out
}

// Store holds every session for the life of the process. Sessions are
// created on first reference and never evicted. Callers always receive
// copies.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// getOrCreate must be called with mu held for writing.
func (s *Store) getOrCreate(id string) *Session {
	sess, ok := s.sessions[id]
	if !ok {
		now := s.now()
		sess = &Session{ID: id, Messages: []Message{}, Cards: []cards.Card{}, CreatedAt: now, UpdatedAt: now}
		s.sessions[id] = sess
	}
	return sess
}

// GetOrCreate returns the session, registering an empty one if needed.
func (s *Store) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(id).copy()
}

// Get returns the session if it exists.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.copy(), true
}

// AddMessage appends one timestamped message.
func (s *Store) AddMessage(id, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreate(id)
	now := s.now()
	sess.Messages = append(sess.Messages, Message{Role: role, Content: content, Timestamp: now})
	sess.UpdatedAt = now
}

// AppendTurn records a completed exchange. Both messages are written
// under one lock so readers never see half a turn.
func (s *Store) AppendTurn(id, user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreate(id)
	now := s.now()
	sess.Messages = append(sess.Messages,
		Message{Role: RoleUser, Content: user, Timestamp: now},
		Message{Role: RoleAssistant, Content: assistant, Timestamp: now},
	)
	sess.UpdatedAt = now
}

// Messages returns a copy of the history, oldest first.
func (s *Store) Messages(id string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return []Message{}
	}
	return append([]Message(nil), sess.Messages...)
}

// LastAssistant returns the most recent assistant message.
func (s *Store) LastAssistant(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == RoleAssistant {
			return sess.Messages[i].Content, true
		}
	}
	return "", false
}

// AddCards appends emitted cards.
func (s *Store) AddCards(id string, cs ...cards.Card) {
	if len(cs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreate(id)
	sess.Cards = append(sess.Cards, cs...)
	sess.UpdatedAt = s.now()
}

// Cards returns a copy of the session's cards.
func (s *Store) Cards(id string) []cards.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return []cards.Card{}
	}
	return append([]cards.Card(nil), sess.Cards...)
}

// RemoveCard deletes a card by ID and reports whether it existed.
func (s *Store) RemoveCard(id, cardID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	kept := sess.Cards[:0]
	removed := false
	for _, c := range sess.Cards {
		if c.ID == cardID {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	sess.Cards = kept
	if removed {
		sess.UpdatedAt = s.now()
	}
	return removed
}

// Stats returns store statistics.
func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages, cardCount := 0, 0
	for _, sess := range s.sessions {
		messages += len(sess.Messages)
		cardCount += len(sess.Cards)
	}
	return map[string]any{
		"sessions": len(s.sessions),
		"messages": messages,
		"cards":    cardCount,
	}
}
