// Package continual implements the continual-learning strategies the
// orchestrator drives across the task stream. A Strategy sees two lifecycle
// points, invoked in a fixed order: OnTaskStart before any training step of
// a task, and Penalty (via model.PenaltyHook) before every optimizer step.
package continual

import (
	"context"

	"github.com/continualrank/trainer/internal/dataset"
	"github.com/continualrank/trainer/internal/model"
)

// Strategy is the explicit lifecycle contract between the orchestrator and a
// continual-learning method. No implicit registration or discovery: the
// orchestrator calls OnTaskStart exactly once per task, passing the previous
// task's training loader (nil for the first task), and the model invokes
// Penalty on every training step.
type Strategy interface {
	model.PenaltyHook

	Name() string
	OnTaskStart(ctx context.Context, taskID int, prev *dataset.Loader) error
}

// Noop is the strategy used by baseline runs: no state, no penalty.
type Noop struct{}

// Name implements Strategy.
func (Noop) Name() string { return "none" }

// OnTaskStart implements Strategy.
func (Noop) OnTaskStart(context.Context, int, *dataset.Loader) error { return nil }

// Penalty implements model.PenaltyHook.
func (Noop) Penalty([]*model.Param) float32 { return 0 }
