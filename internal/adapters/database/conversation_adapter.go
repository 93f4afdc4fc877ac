package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const messagesTable = "conversation_messages"

var messageColumns = []interface{}{
	"id", "session_id", "role", "content", "frame_id", "video_timestamp_ms", "created_at",
}

// ConversationAdapter implements ConversationRepository
type ConversationAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewConversationAdapter creates a new conversation adapter
func NewConversationAdapter(client *postgres.Client) repositories.ConversationRepository {
	return &ConversationAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Append stores a message
func (a *ConversationAdapter) Append(ctx context.Context, message *entities.ConversationMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	var frameID sql.NullString
	if message.FrameID != nil {
		frameID = sql.NullString{String: *message.FrameID, Valid: true}
	}
	var videoTS sql.NullInt64
	if message.VideoTimestampMS != nil {
		videoTS = sql.NullInt64{Int64: *message.VideoTimestampMS, Valid: true}
	}

	query, args, err := a.db.Insert(messagesTable).Rows(goqu.Record{
		"id":                 message.ID,
		"session_id":         message.SessionID,
		"role":               message.Role,
		"content":            message.Content,
		"frame_id":           frameID,
		"video_timestamp_ms": videoTS,
		"created_at":         message.CreatedAt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to append message", err)
	}
	return nil
}

// ListBySession returns all messages in creation order
func (a *ConversationAdapter) ListBySession(ctx context.Context, sessionID string) ([]*entities.ConversationMessage, error) {
	return a.query(ctx, a.db.Select(messageColumns...).
		From(messagesTable).
		Where(goqu.Ex{"session_id": sessionID}).
		Order(goqu.I("created_at").Asc()))
}

// LastN returns the n most recent messages in creation order
func (a *ConversationAdapter) LastN(ctx context.Context, sessionID string, n int) ([]*entities.ConversationMessage, error) {
	if n <= 0 {
		return []*entities.ConversationMessage{}, nil
	}

	messages, err := a.query(ctx, a.db.Select(messageColumns...).
		From(messagesTable).
		Where(goqu.Ex{"session_id": sessionID}).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(n)))
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (a *ConversationAdapter) query(ctx context.Context, ds *goqu.SelectDataset) ([]*entities.ConversationMessage, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list messages", err)
	}
	defer rows.Close()

	messages := []*entities.ConversationMessage{}
	for rows.Next() {
		m := &entities.ConversationMessage{}
		var frameID sql.NullString
		var videoTS sql.NullInt64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &frameID, &videoTS, &m.CreatedAt); err != nil {
			return nil, apperrors.NewInternalError("failed to scan message", err)
		}
		if frameID.Valid {
			m.FrameID = &frameID.String
		}
		if videoTS.Valid {
			m.VideoTimestampMS = &videoTS.Int64
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating messages", err)
	}
	return messages, nil
}
