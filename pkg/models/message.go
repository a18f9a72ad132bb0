package models

import "time"

// Role tags a message with its author kind.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ComposedMessage is one entry in the ordered instruction/context list
// handed to the completion backend. Constructed fresh every turn, never
// persisted as such.
type ComposedMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatMessage is a persisted conversation turn within a chat session.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`
}
