package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	tsclient "github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/typesense"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 250
)

// TypesenseAdapter implements the findings index using Typesense
type TypesenseAdapter struct {
	client *tsclient.Client
}

var _ providers.FindingIndex = (*TypesenseAdapter)(nil)

// NewTypesenseAdapter creates a new Typesense adapter
func NewTypesenseAdapter(client *tsclient.Client) *TypesenseAdapter {
	return &TypesenseAdapter{client: client}
}

// InitSchema ensures the collection exists
func (a *TypesenseAdapter) InitSchema(ctx context.Context) error {
	return a.client.InitSchema(ctx)
}

// IndexAnalyses upserts one document per analysis. Analyses without finding text are skipped.
func (a *TypesenseAdapter) IndexAnalyses(ctx context.Context, session *entities.ProcedureSession, analyses []*entities.AnalysisResult) error {
	docs := a.client.Client().Collection(tsclient.FindingsCollection).Documents()
	for _, analysis := range analyses {
		doc, ok := buildFindingDocument(session, analysis)
		if !ok {
			continue
		}
		if _, err := docs.Upsert(ctx, doc); err != nil {
			return apperrors.NewExternalError(fmt.Sprintf("failed to index finding %s", analysis.ID), err)
		}
	}
	return nil
}

// Search runs a full-text query over indexed findings
func (a *TypesenseAdapter) Search(ctx context.Context, params providers.FindingSearchParams) ([]providers.IndexedFinding, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	query := strings.TrimSpace(params.Query)
	if query == "" {
		query = "*"
	}

	searchParams := &api.SearchCollectionParams{
		Q:       pointer.String(query),
		QueryBy: pointer.String("finding,location"),
		SortBy:  pointer.String("_text_match:desc,confidence:desc"),
		PerPage: pointer.Int(limit),
	}
	if filter := buildFilter(params); filter != "" {
		searchParams.FilterBy = pointer.String(filter)
	}

	result, err := a.client.Client().Collection(tsclient.FindingsCollection).Documents().Search(ctx, searchParams)
	if err != nil {
		return nil, apperrors.NewExternalError("failed to search findings", err)
	}

	findings := []providers.IndexedFinding{}
	if result.Hits == nil {
		return findings, nil
	}
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		findings = append(findings, parseFindingDocument(*hit.Document))
	}
	return findings, nil
}
