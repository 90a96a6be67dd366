// internal/infra/sqlite/chat_repository.go
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"ai-orchestrator/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	human_message TEXT NOT NULL,
	ai_message    TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_history_session_id ON chat_history (session_id);
`

// ChatRepository persists chat turns in a SQLite database.
type ChatRepository struct {
	db     *sql.DB
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

var _ domain.ChatRepository = (*ChatRepository)(nil)

// Open opens the database at dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*ChatRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create chat schema: %w", err)
	}
	return &ChatRepository{
		db:     db,
		logger: logger.With("component", "chat-repository"),
		tracer: otel.Tracer("ai-orchestrator-sqlite"),
		now:    time.Now,
	}, nil
}

// Close closes the database.
func (r *ChatRepository) Close() error {
	return r.db.Close()
}

// Add inserts one chat turn. It never updates an existing row.
func (r *ChatRepository) Add(ctx context.Context, record *domain.ChatHistory) error {
	ctx, span := r.tracer.Start(ctx, "repo.sqlite.AddChat")
	defer span.End()
	span.SetAttributes(attribute.String("chat.session_id", record.SessionID))

	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_history (session_id, human_message, ai_message, created_at) VALUES (?, ?, ?, ?)`,
		record.SessionID, record.HumanMessage, record.AIMessage, record.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert chat history")
		return fmt.Errorf("failed to save chat history for session %s: %w", record.SessionID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// GetBySession returns the turns of sessionID in insertion order.
func (r *ChatRepository) GetBySession(ctx context.Context, sessionID string) ([]*domain.ChatHistory, error) {
	ctx, span := r.tracer.Start(ctx, "repo.sqlite.GetChatBySession")
	defer span.End()
	span.SetAttributes(attribute.String("chat.session_id", sessionID))

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, human_message, ai_message, created_at FROM chat_history WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query chat history")
		return nil, fmt.Errorf("failed to list chat history for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	history := make([]*domain.ChatHistory, 0)
	for rows.Next() {
		var h domain.ChatHistory
		if err := rows.Scan(&h.ID, &h.SessionID, &h.HumanMessage, &h.AIMessage, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat history row: %w", err)
		}
		history = append(history, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat history rows: %w", err)
	}
	span.SetAttributes(attribute.Int("records_returned", len(history)))
	return history, nil
}
