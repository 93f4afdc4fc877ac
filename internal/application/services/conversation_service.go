package services

import (
	"context"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// DefaultMessageWindow is the number of recent messages returned when the
// caller does not ask for a specific count.
const DefaultMessageWindow = 20

// ConversationService records channel transcripts and serves the recent
// conversation window of a session.
type ConversationService struct {
	messages repositories.ConversationRepository
	counter  providers.TokenCounter
	budget   int
}

// NewConversationService creates a new conversation service. A non-positive
// budget disables token trimming.
func NewConversationService(messages repositories.ConversationRepository, counter providers.TokenCounter, budget int) *ConversationService {
	return &ConversationService{messages: messages, counter: counter, budget: budget}
}

// Record stores one message.
func (s *ConversationService) Record(ctx context.Context, message *entities.ConversationMessage) error {
	if !message.Role.IsValid() {
		return apperrors.NewValidationError("invalid message role: " + string(message.Role))
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	return s.messages.Append(ctx, message)
}

// Recent returns up to n of the newest messages in creation order, dropping
// the oldest of them until the window fits the token budget.
func (s *ConversationService) Recent(ctx context.Context, sessionID string, n int) ([]*entities.ConversationMessage, error) {
	if n <= 0 {
		n = DefaultMessageWindow
	}
	messages, err := s.messages.LastN(ctx, sessionID, n)
	if err != nil {
		return nil, err
	}
	trimmed := TrimToBudget(messages, s.counter, s.budget)
	if dropped := len(messages) - len(trimmed); dropped > 0 {
		observability.LoggerFromContext(ctx).Debug().
			Str("session_id", sessionID).
			Int("dropped", dropped).
			Msg("conversation window trimmed to token budget")
	}
	return trimmed, nil
}

// TrimToBudget keeps the newest messages whose combined token count fits the
// budget. The newest message is always kept.
func TrimToBudget(messages []*entities.ConversationMessage, counter providers.TokenCounter, budget int) []*entities.ConversationMessage {
	if budget <= 0 || counter == nil || len(messages) == 0 {
		return messages
	}

	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		tokens := counter.Count(messages[i].Content)
		if total+tokens > budget && start < len(messages) {
			break
		}
		total += tokens
		start = i
	}
	return messages[start:]
}
