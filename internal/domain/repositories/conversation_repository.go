package repositories

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// ConversationRepository defines the interface for conversation message data
type ConversationRepository interface {
	// Append stores a message
	Append(ctx context.Context, message *entities.ConversationMessage) error

	// ListBySession returns all messages in creation order
	ListBySession(ctx context.Context, sessionID string) ([]*entities.ConversationMessage, error)

	// LastN returns the n most recent messages in creation order
	LastN(ctx context.Context, sessionID string, n int) ([]*entities.ConversationMessage, error)
}
