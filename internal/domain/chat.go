// internal/domain/chat.go
package domain

import (
	"context"
	"time"
)

// ChatHistory is one persisted conversational turn.
type ChatHistory struct {
	ID           int64     `json:"id,omitempty"`
	SessionID    string    `json:"session_id"`
	HumanMessage string    `json:"human_message"`
	AIMessage    string    `json:"ai_message"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatRepository stores conversation turns partitioned by session.
type ChatRepository interface {
	Add(ctx context.Context, record *ChatHistory) error
	// GetBySession returns the turns of a session, oldest first.
	GetBySession(ctx context.Context, sessionID string) ([]*ChatHistory, error)
}
