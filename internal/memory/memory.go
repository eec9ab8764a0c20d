// Package memory keeps multi-turn conversation state in process memory: a
// sliding window of messages per session, request assembly for the chat
// collaborator, and a per-session turn lock.
package memory

import (
	"encoding/base64"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voiceforge/voiceforge/pkg/models"
)

// ErrSessionBusy reports a turn already in flight on the session.
var ErrSessionBusy = fmt.Errorf("session busy: a turn is already in progress")

// NotFoundError reports an unknown session ID.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

type sessionState struct {
	session *models.Session
	inTurn  bool
}

// ChatMemory is a thread-safe store of conversation sessions with a
// per-session sliding window.
type ChatMemory struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	maxRounds    int
	systemPrompt string
}

// New creates an empty store. maxRounds is the window size in conversation
// rounds; the window keeps the last 2*maxRounds messages.
func New(maxRounds int, systemPrompt string) *ChatMemory {
	return &ChatMemory{
		sessions:     make(map[string]*sessionState),
		maxRounds:    maxRounds,
		systemPrompt: systemPrompt,
	}
}

// CreateSession allocates a new empty session and returns its ID.
func (m *ChatMemory) CreateSession() string {
	id := uuid.NewString()[:8]
	now := time.Now().UTC()

	m.mu.Lock()
	m.sessions[id] = &sessionState{
		session: &models.Session{ID: id, CreatedAt: now, UpdatedAt: now},
	}
	m.mu.Unlock()

	log.Info().Str("session", id).Msg("Session created")
	return id
}

// GetSession returns a copy of the session.
func (m *ChatMemory) GetSession(id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return nil, &NotFoundError{SessionID: id}
	}
	cp := *st.session
	cp.Messages = append([]models.Message(nil), st.session.Messages...)
	return &cp, nil
}

// DeleteSession removes the session. Deleting an unknown session is a no-op.
func (m *ChatMemory) DeleteSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// ListSessions returns the IDs of all live sessions.
func (m *ChatMemory) ListSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Append adds a message to the session, creating the session if the ID is
// unknown, then trims the window to the last 2*maxRounds messages.
func (m *ChatMemory) Append(id string, msg models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		now := time.Now().UTC()
		st = &sessionState{session: &models.Session{ID: id, CreatedAt: now, UpdatedAt: now}}
		m.sessions[id] = st
	}

	st.session.Messages = append(st.session.Messages, msg)
	if limit := m.maxRounds * 2; len(st.session.Messages) > limit {
		st.session.Messages = st.session.Messages[len(st.session.Messages)-limit:]
	}
	st.session.UpdatedAt = time.Now().UTC()
}

// Clear drops the session's messages but keeps the session alive.
func (m *ChatMemory) Clear(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return &NotFoundError{SessionID: id}
	}
	st.session.Messages = nil
	st.session.UpdatedAt = time.Now().UTC()
	return nil
}

// MessageCount returns the number of windowed messages in the session.
func (m *ChatMemory) MessageCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[id]; ok {
		return len(st.session.Messages)
	}
	return 0
}

// RoundCount returns the number of complete conversation rounds retained.
func (m *ChatMemory) RoundCount(id string) int {
	return m.MessageCount(id) / 2
}

// BuildRequest assembles the wire messages for a chat call: the system
// prompt first when includeSystem is set, then the windowed history with
// image attachments resolved to base64. An attachment that cannot be read is
// dropped and reported in the returned warnings instead of failing the call.
func (m *ChatMemory) BuildRequest(id string, includeSystem bool) ([]models.ChatMessage, []string) {
	m.mu.Lock()
	var history []models.Message
	prompt := m.systemPrompt
	if st, ok := m.sessions[id]; ok {
		history = append(history, st.session.Messages...)
	}
	m.mu.Unlock()

	out := make([]models.ChatMessage, 0, len(history)+1)
	if includeSystem && prompt != "" {
		out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: prompt})
	}

	var warnings []string
	for _, msg := range history {
		cm := models.ChatMessage{Role: msg.Role, Content: msg.Content}
		if msg.Image != "" {
			data, err := os.ReadFile(msg.Image)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("image %s dropped: %v", msg.Image, err))
				log.Warn().Str("session", id).Str("image", msg.Image).Err(err).Msg("Attachment dropped")
			} else {
				cm.Images = []string{base64.StdEncoding.EncodeToString(data)}
			}
		}
		out = append(out, cm)
	}
	return out, warnings
}

// AcquireTurn marks the session as running a turn. Creates the session when
// the ID is unknown. Returns ErrSessionBusy if a turn is already in flight.
func (m *ChatMemory) AcquireTurn(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		now := time.Now().UTC()
		st = &sessionState{session: &models.Session{ID: id, CreatedAt: now, UpdatedAt: now}}
		m.sessions[id] = st
	}
	if st.inTurn {
		return ErrSessionBusy
	}
	st.inTurn = true
	return nil
}

// ReleaseTurn clears the in-flight mark. Safe if the session was deleted.
func (m *ChatMemory) ReleaseTurn(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[id]; ok {
		st.inTurn = false
	}
}

// SetMaxRounds adjusts the window size at runtime. Existing sessions are
// trimmed on their next Append.
func (m *ChatMemory) SetMaxRounds(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.maxRounds = n
	}
}

// SetSystemPrompt replaces the system prompt used by BuildRequest.
func (m *ChatMemory) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

// SystemPrompt returns the current system prompt.
func (m *ChatMemory) SystemPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.systemPrompt
}
