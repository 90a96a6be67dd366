package usecase

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/dispatch"
	"ai-orchestrator/internal/domain"
)

// TextReply is the envelope of a text generation plus the session it was
// recorded under.
type TextReply struct {
	domain.Envelope
	SessionID string `json:"session_id"`
}

// TextService runs synchronous text generation and keeps the chat history.
type TextService struct {
	providers domain.ProviderSelector
	chats     domain.ChatRepository
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewTextService creates a TextService. chats may be nil, in which case
// nothing is persisted.
func NewTextService(providers domain.ProviderSelector, chats domain.ChatRepository, logger *slog.Logger) *TextService {
	return &TextService{
		providers: providers,
		chats:     chats,
		logger:    logger.With("component", "text-service"),
		tracer:    otel.Tracer("ai-orchestrator-usecase"),
	}
}

// GenerateText asks the provider serving model for a completion of prompt.
// A missing sessionID is replaced by a fresh one; the reply always carries
// the session it belongs to.
func (s *TextService) GenerateText(ctx context.Context, prompt, model, sessionID string) TextReply {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx, span := s.tracer.Start(ctx, "service.GenerateText", trace.WithAttributes(
		attribute.String("model", model),
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	env := dispatch.Wrap(ctx, func(ctx context.Context) (any, error) {
		provider, providerModel, err := s.providers.Select(model)
		if err != nil {
			return nil, err
		}
		text, err := provider.Generate(ctx, providerModel, prompt)
		if err != nil {
			return nil, err
		}
		if s.chats != nil {
			record := &domain.ChatHistory{SessionID: sessionID, HumanMessage: prompt, AIMessage: text}
			if err := s.chats.Add(ctx, record); err != nil {
				return nil, err
			}
		}
		return text, nil
	})
	if !env.Succeeded() {
		span.SetStatus(codes.Error, env.Error)
		s.logger.Warn("text generation failed", "model", model, "session_id", sessionID, "kind", env.Kind, "error", env.Error)
	}
	return TextReply{Envelope: env, SessionID: sessionID}
}

// History returns the turns recorded under sessionID, oldest first.
func (s *TextService) History(ctx context.Context, sessionID string) ([]*domain.ChatHistory, error) {
	ctx, span := s.tracer.Start(ctx, "service.History", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	if s.chats == nil {
		return []*domain.ChatHistory{}, nil
	}
	records, err := s.chats.GetBySession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load chat history")
		return nil, err
	}
	return records, nil
}
