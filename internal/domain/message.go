package domain

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks a message sent by the learner.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the tutor.
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one immutable entry in a user's conversation ledger.
// Seq is the store-assigned insertion order and is authoritative for ordering;
// two messages may share a timestamp.
type ConversationMessage struct {
	Seq       int64     `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ThreadKey string    `json:"problem_id"`
	CreatedAt time.Time `json:"timestamp"`
}
