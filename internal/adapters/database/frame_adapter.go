package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const framesTable = "frames"

var frameColumns = []interface{}{
	"id", "session_id", "frame_index", "timestamp_ms", "is_keyframe",
	"analyzed", "image_key", "motion_score", "created_at",
}

// FrameAdapter implements FrameRepository
type FrameAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewFrameAdapter creates a new frame adapter
func NewFrameAdapter(client *postgres.Client) repositories.FrameRepository {
	return &FrameAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// CreateBatch inserts frames; an index the session already has is left untouched.
func (a *FrameAdapter) CreateBatch(ctx context.Context, frames []*entities.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]interface{}, 0, len(frames))
	for _, f := range frames {
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		rows = append(rows, goqu.Record{
			"id":           f.ID,
			"session_id":   f.SessionID,
			"frame_index":  f.Index,
			"timestamp_ms": f.TimestampMS,
			"is_keyframe":  f.IsKeyframe,
			"analyzed":     f.Analyzed,
			"image_key":    f.ImageKey,
			"motion_score": f.MotionScore,
			"created_at":   f.CreatedAt,
		})
	}

	query, args, err := a.db.Insert(framesTable).
		Rows(rows...).
		OnConflict(goqu.DoNothing()).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create frames", err)
	}
	return nil
}

// ListBySession returns frames ordered by index
func (a *FrameAdapter) ListBySession(ctx context.Context, sessionID string, offset, limit int) ([]*entities.Frame, error) {
	ds := a.db.Select(frameColumns...).
		From(framesTable).
		Where(goqu.Ex{"session_id": sessionID}).
		Order(goqu.I("frame_index").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	if offset > 0 {
		ds = ds.Offset(uint(offset))
	}
	return a.query(ctx, ds)
}

// ListUnanalyzed returns frames still awaiting analysis
func (a *FrameAdapter) ListUnanalyzed(ctx context.Context, sessionID string) ([]*entities.Frame, error) {
	ds := a.db.Select(frameColumns...).
		From(framesTable).
		Where(goqu.Ex{"session_id": sessionID, "analyzed": false}).
		Order(goqu.I("frame_index").Asc())
	return a.query(ctx, ds)
}

// CountBySession returns the number of frames of a session
func (a *FrameAdapter) CountBySession(ctx context.Context, sessionID string) (int, error) {
	query, args, err := a.db.Select(goqu.COUNT("*")).
		From(framesTable).
		Where(goqu.Ex{"session_id": sessionID}).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build query", err)
	}

	var count int
	if err := a.client.DB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, apperrors.NewInternalError("failed to count frames", err)
	}
	return count, nil
}

// MarkAnalyzed sets the analyzed flag
func (a *FrameAdapter) MarkAnalyzed(ctx context.Context, frameID string) error {
	query, args, err := a.db.Update(framesTable).
		Set(goqu.Record{"analyzed": true}).
		Where(goqu.Ex{"id": frameID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to mark frame analyzed", err)
	}
	return nil
}

func (a *FrameAdapter) query(ctx context.Context, ds *goqu.SelectDataset) ([]*entities.Frame, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list frames", err)
	}
	defer rows.Close()

	frames := []*entities.Frame{}
	for rows.Next() {
		f := &entities.Frame{}
		if err := rows.Scan(
			&f.ID,
			&f.SessionID,
			&f.Index,
			&f.TimestampMS,
			&f.IsKeyframe,
			&f.Analyzed,
			&f.ImageKey,
			&f.MotionScore,
			&f.CreatedAt,
		); err != nil {
			return nil, apperrors.NewInternalError("failed to scan frame", err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating frames", err)
	}
	return frames, nil
}
