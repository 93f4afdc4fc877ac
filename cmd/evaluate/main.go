package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/database"
	"github.com/zatekoja/procedurecopilot/backend/internal/bootstrap"
	"github.com/zatekoja/procedurecopilot/backend/internal/evaluation"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

func main() {
	cfg, err := bootstrap.LoadConfig(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger("procedure-evaluate", cfg.Environment)
	logger := observability.GetLogger()

	goldenPath := "config/golden_outputs.json"
	if _, err := os.Stat("backend/" + goldenPath); err == nil {
		goldenPath = "backend/" + goldenPath
	}
	if p := os.Getenv("EVAL_GOLDEN_PATH"); p != "" {
		goldenPath = p
	}

	cases, err := evaluation.LoadGoldenOutputs(goldenPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load golden outputs")
	}
	if err := evaluation.ValidateGoldenOutputs(cases); err != nil {
		logger.Fatal().Err(err).Msg("invalid golden outputs")
	}

	ctx := context.Background()
	runner := evaluation.NewRunner(nil)
	summary, err := runner.Run(ctx, cases)
	if err != nil {
		logger.Fatal().Err(err).Msg("evaluation failed")
	}

	report := map[string]interface{}{"golden": summary}

	// Stored outputs of a session can be re-parsed to spot grammar drift.
	if sessionID := os.Getenv("EVAL_SESSION_ID"); sessionID != "" {
		pgClient, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pgClient.Close()

		replay, err := runner.Replay(ctx, database.NewAnalysisAdapter(pgClient), sessionID)
		if err != nil {
			logger.Fatal().Err(err).Str("session_id", sessionID).Msg("replay failed")
		}
		report["replay"] = replay
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	guardrails := evaluation.NewGuardrails(evaluation.GuardrailConfig{
		MinOutcomeAccuracy: 0.9,
		MinFieldAccuracy:   0.9,
		MaxRejectionRate:   0.5,
	})
	if violations := guardrails.Violations(summary); len(violations) > 0 {
		for _, v := range violations {
			logger.Error().Str("violation", v).Msg("parser evaluation below threshold")
		}
		os.Exit(1)
	}
}
