// Package results persists per-task evaluation outcomes to PostgreSQL.
//
// It requires an `evaluation_results` table:
//
//	CREATE TABLE evaluation_results (
//	    id              BIGSERIAL PRIMARY KEY,
//	    run_id          TEXT NOT NULL,
//	    experiment      TEXT NOT NULL,
//	    task_id         INT NOT NULL,
//	    scores          JSONB NOT NULL,
//	    elapsed_seconds DOUBLE PRECISION NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/continualrank/trainer/pkg/postgres"
)

// Store writes evaluation results to the database.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a results store over an open connection.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "results-store"),
	}
}

// Save persists one task's evaluation scores and elapsed training time.
func (s *Store) Save(ctx context.Context, runID, experiment string, taskID int, scores map[string]float64, elapsed time.Duration) error {
	data, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("marshaling scores: %w", err)
	}

	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO evaluation_results (run_id, experiment, task_id, scores, elapsed_seconds, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, experiment, taskID, data, elapsed.Seconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving evaluation result: %w", err)
	}

	s.logger.Info("evaluation result saved",
		"experiment", experiment,
		"task_id", taskID,
		"elapsed_seconds", elapsed.Seconds(),
	)
	return nil
}
