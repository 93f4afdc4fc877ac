package typesense

import (
	"context"
	"fmt"
	"time"

	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	"github.com/zatekoja/procedurecopilot/backend/pkg/retry"
)

const (
	FindingsCollection = "findings"
)

// Client represents a Typesense client
type Client struct {
	client *typesense.Client
}

// NewClient creates a new Typesense client with exponential backoff retry
func NewClient(cfg *config.TypesenseConfig) (*Client, error) {
	logger := observability.GetLogger()
	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)

	retryConfig := retry.DefaultConfig()
	err := retry.DoWithLog(
		context.Background(),
		retryConfig,
		"Typesense",
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := client.Health(ctx, 2*time.Second)
			return err
		},
		func(attempt int, err error, nextDelay time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", nextDelay).Msg("Typesense connection attempt failed")
		},
	)

	if err != nil {
		return nil, fmt.Errorf("failed to connect to Typesense after retries: %w", err)
	}

	logger.Info().Msg("Successfully connected to Typesense")
	return &Client{client: client}, nil
}

// NewFromClient wraps an existing Typesense client without a health check
func NewFromClient(client *typesense.Client) *Client {
	return &Client{client: client}
}

// Client returns the underlying Typesense client
func (c *Client) Client() *typesense.Client {
	return c.client
}

// InitSchema ensures the findings collection exists
func (c *Client) InitSchema(ctx context.Context) error {
	logger := observability.LoggerFromContext(ctx)

	collections, err := c.client.Collections().Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve collections: %w", err)
	}

	for _, col := range collections {
		if col.Name == FindingsCollection {
			logger.Debug().Str("collection", FindingsCollection).Msg("Typesense collection already exists")
			return nil
		}
	}

	_, err = c.client.Collections().Create(ctx, FindingsSchema())
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	logger.Info().Str("collection", FindingsCollection).Msg("Created Typesense collection")
	return nil
}

// FindingsSchema is the findings collection schema
func FindingsSchema() *api.CollectionSchema {
	return &api.CollectionSchema{
		Name: FindingsCollection,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "session_id", Type: "string", Facet: pointer.True()},
			{Name: "frame_index", Type: "int32"},
			{Name: "finding", Type: "string"},
			{Name: "location", Type: "string", Facet: pointer.True()},
			{Name: "risk_level", Type: "string", Facet: pointer.True()},
			{Name: "confidence", Type: "float"},
			{Name: "procedure_type", Type: "string", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "features", Type: "string[]", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "created_at", Type: "int64"},
		},
		DefaultSortingField: pointer.String("created_at"),
	}
}
