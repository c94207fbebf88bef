// Package registry tracks live run progress in Redis so operators can
// inspect a long-running training job without attaching to its logs. The
// registry is observability only: the run never reads its own state back to
// resume, because re-running a consumed task would corrupt the
// Fisher/snapshot lineage.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/continualrank/trainer/pkg/config"
	"github.com/continualrank/trainer/pkg/redis"
)

// Phase labels what the run is currently doing.
type Phase string

const (
	PhaseTraining   Phase = "training"
	PhaseIndexing   Phase = "indexing"
	PhaseTesting    Phase = "testing"
	PhaseEvaluating Phase = "evaluating"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Progress is the state snapshot stored per experiment.
type Progress struct {
	RunID      string             `json:"run_id"`
	Experiment string             `json:"experiment"`
	TaskID     int                `json:"task_id"`
	Phase      Phase              `json:"phase"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Registry records run progress under run:<experiment> keys.
type Registry struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis and returns a Registry, or (nil, nil) when the
// registry is not configured.
func New(cfg config.RedisConfig) (*Registry, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client, err := redis.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting run registry: %w", err)
	}
	return &Registry{
		client: client,
		ttl:    cfg.ProgressTTL,
		logger: slog.Default().With("component", "run-registry"),
	}, nil
}

// Update stores the progress snapshot. A nil Registry is a no-op, so callers
// never need to branch on whether the registry is configured. Write failures
// are logged and swallowed.
func (r *Registry) Update(ctx context.Context, progress Progress) {
	if r == nil {
		return
	}
	progress.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(progress)
	if err != nil {
		r.logger.Error("marshaling progress", "error", err)
		return
	}
	key := fmt.Sprintf("run:%s", progress.Experiment)
	if err := r.client.Set(ctx, key, data, r.ttl); err != nil {
		r.logger.Error("recording progress", "key", key, "error", err)
	}
}

// Close releases the Redis connection. Safe on a nil Registry.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	return r.client.Close()
}

// Ping verifies the Redis connection, for health probes. Safe on a nil
// Registry.
func (r *Registry) Ping(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.client.Ping(ctx)
}
