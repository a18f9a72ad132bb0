package models

import "time"

// SessionState is the durable per-chat record the gateway reads at the
// start of a turn and writes back at the end. Owned exclusively by its
// chat; one instance per chat.
type SessionState struct {
	ChatID       string          `json:"chat_id"`
	UserID       string          `json:"user_id"`
	ActiveModule Module          `json:"active_module"`
	LastDecision *RouterDecision `json:"last_decision,omitempty"`
	Summary      string          `json:"summary,omitempty"` // JSON-encoded rolling summary
	History      ChatMessages    `json:"history"`
	TokensUsed   int64           `json:"tokens_used"` // usage within the current quota window
	Version      int64           `json:"version"`     // optimistic locking (redis driver)
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewSessionState creates the default state for a chat's first turn.
func NewSessionState(chatID, userID string) *SessionState {
	now := time.Now()
	return &SessionState{
		ChatID:       chatID,
		UserID:       userID,
		ActiveModule: DefaultModule,
		History:      make(ChatMessages, 0, 8),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AddMessage appends a conversation turn to the history.
func (s *SessionState) AddMessage(role Role, content string, tokens int) {
	s.History = append(s.History, ChatMessage{
		Role:      role,
		Content:   content,
		Tokens:    tokens,
		Timestamp: time.Now(),
	})
	s.UpdatedAt = time.Now()
}

// TrimHistory drops the oldest history entries so at most max remain.
func (s *SessionState) TrimHistory(max int) {
	if max <= 0 || len(s.History) <= max {
		return
	}
	s.History = append(ChatMessages(nil), s.History[len(s.History)-max:]...)
}

// RecentMessages returns the last n history entries, oldest first.
func (s *SessionState) RecentMessages(n int) []ChatMessage {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// Sane reports whether the state can be trusted for routing. Corrupt rows
// (unknown module, missing owner) are treated as fresh sessions upstream.
func (s *SessionState) Sane() bool {
	return s != nil && s.ChatID != "" && s.ActiveModule.Valid()
}
