package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const sessionsTable = "procedure_sessions"

var sessionColumns = []interface{}{
	"id", "kind", "title", "procedure_type", "status", "progress", "error_message",
	"source_key", "source_filename", "export_key", "duration_seconds", "total_frames",
	"started_at", "completed_at", "created_at", "updated_at",
}

// SessionAdapter implements SessionRepository
type SessionAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewSessionAdapter creates a new session adapter
func NewSessionAdapter(client *postgres.Client) repositories.SessionRepository {
	return &SessionAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create creates a new session
func (a *SessionAdapter) Create(ctx context.Context, session *entities.ProcedureSession) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	record := goqu.Record{
		"id":               session.ID,
		"kind":             session.Kind,
		"title":            session.Title,
		"procedure_type":   session.ProcedureType,
		"status":           session.Status,
		"progress":         session.Progress,
		"error_message":    nullString(session.ErrorMessage),
		"source_key":       nullString(session.SourceKey),
		"source_filename":  nullString(session.SourceFilename),
		"export_key":       nullString(session.ExportKey),
		"duration_seconds": session.DurationSeconds,
		"total_frames":     session.TotalFrames,
		"started_at":       nullTime(session.StartedAt),
		"completed_at":     nullTime(session.CompletedAt),
		"created_at":       session.CreatedAt,
		"updated_at":       session.UpdatedAt,
	}

	query, args, err := a.db.Insert(sessionsTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create session", err)
	}
	return nil
}

// GetByID retrieves a session by ID
func (a *SessionAdapter) GetByID(ctx context.Context, id string) (*entities.ProcedureSession, error) {
	query, args, err := a.db.Select(sessionColumns...).
		From(sessionsTable).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	session, err := scanSession(a.client.DB().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("session with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get session", err)
	}
	return session, nil
}

// List retrieves sessions with filters, newest first
func (a *SessionAdapter) List(ctx context.Context, filter repositories.SessionFilter) ([]*entities.ProcedureSession, error) {
	ds := a.db.Select(sessionColumns...).From(sessionsTable)

	if filter.ProcedureType != "" {
		ds = ds.Where(goqu.Ex{"procedure_type": filter.ProcedureType})
	}
	if filter.Kind != "" {
		ds = ds.Where(goqu.Ex{"kind": filter.Kind})
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": filter.Status})
	}

	ds = ds.Order(goqu.I("created_at").Desc(), goqu.I("id").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list sessions", err)
	}
	defer rows.Close()

	sessions := []*entities.ProcedureSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan session", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating sessions", err)
	}
	return sessions, nil
}

// Update persists descriptive fields. Status and progress only move through
// TransitionStatus and AdvanceProgress.
func (a *SessionAdapter) Update(ctx context.Context, session *entities.ProcedureSession) error {
	session.UpdatedAt = time.Now().UTC()

	record := goqu.Record{
		"title":            session.Title,
		"source_key":       nullString(session.SourceKey),
		"source_filename":  nullString(session.SourceFilename),
		"export_key":       nullString(session.ExportKey),
		"duration_seconds": session.DurationSeconds,
		"total_frames":     session.TotalFrames,
		"updated_at":       session.UpdatedAt,
	}

	query, args, err := a.db.Update(sessionsTable).
		Set(record).
		Where(goqu.Ex{"id": session.ID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update session", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("session with id %s not found", session.ID))
	}
	return nil
}

// TransitionStatus is a compare-and-set on status.
func (a *SessionAdapter) TransitionStatus(ctx context.Context, id string, from []entities.SessionStatus, to entities.SessionStatus, errorMessage string) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	now := time.Now().UTC()
	record := goqu.Record{
		"status":        to,
		"error_message": nullString(errorMessage),
		"updated_at":    now,
	}
	switch {
	case to == entities.SessionStatusProcessing || to == entities.SessionStatusActive:
		record["started_at"] = goqu.L("COALESCE(started_at, ?)", now)
	case to.IsTerminal():
		record["completed_at"] = now
		if to == entities.SessionStatusCompleted {
			record["progress"] = 100
		}
	}

	query, args, err := a.db.Update(sessionsTable).
		Set(record).
		Where(goqu.Ex{"id": id, "status": from}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperrors.NewInternalError("failed to transition session", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to get rows affected", err)
	}
	return rowsAffected > 0, nil
}

// AdvanceProgress raises progress with GREATEST so concurrent writers never move it backwards.
func (a *SessionAdapter) AdvanceProgress(ctx context.Context, id string, status entities.SessionStatus, value int) (int, error) {
	query, args, err := a.db.Update(sessionsTable).
		Set(goqu.Record{
			"progress":   goqu.L("GREATEST(progress, ?)", value),
			"updated_at": time.Now().UTC(),
		}).
		Where(goqu.Ex{"id": id, "status": status}).
		Returning("progress").
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build update query", err)
	}

	var progress int
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(&progress)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.NewConflictError(fmt.Sprintf("session %s is not %s", id, status))
	}
	if err != nil {
		return 0, apperrors.NewInternalError("failed to advance progress", err)
	}
	return progress, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*entities.ProcedureSession, error) {
	session := &entities.ProcedureSession{}
	var errorMessage, sourceKey, sourceFilename, exportKey sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.Kind,
		&session.Title,
		&session.ProcedureType,
		&session.Status,
		&session.Progress,
		&errorMessage,
		&sourceKey,
		&sourceFilename,
		&exportKey,
		&session.DurationSeconds,
		&session.TotalFrames,
		&startedAt,
		&completedAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.ErrorMessage = errorMessage.String
	session.SourceKey = sourceKey.String
	session.SourceFilename = sourceFilename.String
	session.ExportKey = exportKey.String
	session.StartedAt = timePtr(startedAt)
	session.CompletedAt = timePtr(completedAt)
	return session, nil
}
