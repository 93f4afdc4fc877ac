package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const summariesTable = "session_summaries"

// SummaryAdapter implements SummaryRepository
type SummaryAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewSummaryAdapter creates a new summary adapter
func NewSummaryAdapter(client *postgres.Client) repositories.SummaryRepository {
	return &SummaryAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Upsert stores the summary, replacing a previous one for the session
func (a *SummaryAdapter) Upsert(ctx context.Context, summary *entities.SessionSummary) error {
	keyFindings, err := json.Marshal(summary.KeyFindings)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal key findings", err)
	}
	regions := summary.Regions
	if regions == nil {
		regions = []string{}
	}

	query, args, err := a.db.Insert(summariesTable).
		Rows(goqu.Record{
			"session_id":     summary.SessionID,
			"overview":       summary.Overview,
			"key_findings":   string(keyFindings),
			"total_analyzed": summary.TotalAnalyzed,
			"high_risk":      summary.HighRisk,
			"medium_risk":    summary.MediumRisk,
			"regions":        pq.Array(regions),
			"generated_at":   summary.GeneratedAt,
		}).
		OnConflict(goqu.DoUpdate("session_id", goqu.Record{
			"overview":       goqu.L("EXCLUDED.overview"),
			"key_findings":   goqu.L("EXCLUDED.key_findings"),
			"total_analyzed": goqu.L("EXCLUDED.total_analyzed"),
			"high_risk":      goqu.L("EXCLUDED.high_risk"),
			"medium_risk":    goqu.L("EXCLUDED.medium_risk"),
			"regions":        goqu.L("EXCLUDED.regions"),
			"generated_at":   goqu.L("EXCLUDED.generated_at"),
		})).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build upsert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to store summary", err)
	}
	return nil
}

// GetBySession returns the summary of a session
func (a *SummaryAdapter) GetBySession(ctx context.Context, sessionID string) (*entities.SessionSummary, error) {
	query, args, err := a.db.Select(
		"session_id", "overview", "key_findings", "total_analyzed",
		"high_risk", "medium_risk", "regions", "generated_at",
	).From(summariesTable).
		Where(goqu.Ex{"session_id": sessionID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	summary := &entities.SessionSummary{}
	var keyFindings []byte
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&summary.SessionID,
		&summary.Overview,
		&keyFindings,
		&summary.TotalAnalyzed,
		&summary.HighRisk,
		&summary.MediumRisk,
		pq.Array(&summary.Regions),
		&summary.GeneratedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("summary for session %s not found", sessionID))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get summary", err)
	}

	if err := json.Unmarshal(keyFindings, &summary.KeyFindings); err != nil {
		return nil, apperrors.NewInternalError("failed to decode key findings", err)
	}
	return summary, nil
}
