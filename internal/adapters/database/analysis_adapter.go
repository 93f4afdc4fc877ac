package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const analysesTable = "analysis_results"

var analysisColumns = []interface{}{
	"id", "session_id", "frame_id", "frame_index", "model_id", "inference_ms",
	"finding", "location", "risk_level", "confidence", "features", "raw_output", "created_at",
}

// AnalysisAdapter implements AnalysisRepository
type AnalysisAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewAnalysisAdapter creates a new analysis adapter
func NewAnalysisAdapter(client *postgres.Client) repositories.AnalysisRepository {
	return &AnalysisAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Upsert writes the analysis of a frame. A frame has at most one analysis.
func (a *AnalysisAdapter) Upsert(ctx context.Context, result *entities.AnalysisResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	features := result.Features
	if features == nil {
		features = []string{}
	}

	record := goqu.Record{
		"id":           result.ID,
		"session_id":   result.SessionID,
		"frame_id":     result.FrameID,
		"frame_index":  result.FrameIndex,
		"model_id":     result.ModelID,
		"inference_ms": result.InferenceMS,
		"finding":      result.Finding,
		"location":     result.Location,
		"risk_level":   result.RiskLevel,
		"confidence":   result.Confidence,
		"features":     pq.Array(features),
		"raw_output":   result.RawOutput,
		"created_at":   result.CreatedAt,
	}

	query, args, err := a.db.Insert(analysesTable).
		Rows(record).
		OnConflict(goqu.DoUpdate("frame_id", goqu.Record{
			"model_id":     goqu.L("EXCLUDED.model_id"),
			"inference_ms": goqu.L("EXCLUDED.inference_ms"),
			"finding":      goqu.L("EXCLUDED.finding"),
			"location":     goqu.L("EXCLUDED.location"),
			"risk_level":   goqu.L("EXCLUDED.risk_level"),
			"confidence":   goqu.L("EXCLUDED.confidence"),
			"features":     goqu.L("EXCLUDED.features"),
			"raw_output":   goqu.L("EXCLUDED.raw_output"),
		})).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build upsert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to store analysis", err)
	}
	return nil
}

// GetByFrameIDs returns the analyses of the given frames
func (a *AnalysisAdapter) GetByFrameIDs(ctx context.Context, frameIDs []string) ([]*entities.AnalysisResult, error) {
	if len(frameIDs) == 0 {
		return []*entities.AnalysisResult{}, nil
	}
	return a.query(ctx, a.db.Select(analysisColumns...).
		From(analysesTable).
		Where(goqu.Ex{"frame_id": frameIDs}))
}

// ListBySession returns all analyses of a session ordered by frame index
func (a *AnalysisAdapter) ListBySession(ctx context.Context, sessionID string) ([]*entities.AnalysisResult, error) {
	return a.query(ctx, a.db.Select(analysisColumns...).
		From(analysesTable).
		Where(goqu.Ex{"session_id": sessionID}).
		Order(goqu.I("frame_index").Asc()))
}

func (a *AnalysisAdapter) query(ctx context.Context, ds *goqu.SelectDataset) ([]*entities.AnalysisResult, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list analyses", err)
	}
	defer rows.Close()

	results := []*entities.AnalysisResult{}
	for rows.Next() {
		r := &entities.AnalysisResult{}
		if err := rows.Scan(
			&r.ID,
			&r.SessionID,
			&r.FrameID,
			&r.FrameIndex,
			&r.ModelID,
			&r.InferenceMS,
			&r.Finding,
			&r.Location,
			&r.RiskLevel,
			&r.Confidence,
			pq.Array(&r.Features),
			&r.RawOutput,
			&r.CreatedAt,
		); err != nil {
			return nil, apperrors.NewInternalError("failed to scan analysis", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating analyses", err)
	}
	return results, nil
}
