package continual

import (
	"context"
	"log/slog"
	"time"

	"github.com/continualrank/trainer/internal/dataset"
	"github.com/continualrank/trainer/internal/model"
	apperrors "github.com/continualrank/trainer/pkg/errors"
)

// EWC implements Elastic Weight Consolidation. At every task transition it
// captures a snapshot of the trainable parameters (the anchor of the
// previous task's optimum) and estimates a diagonal Fisher information
// matrix over the previous task's training data. During the next task it
// penalizes drift from the snapshot weighted by that importance.
//
// Only the immediately preceding task's snapshot and Fisher matrix are
// retained; both are replaced wholesale at each transition.
type EWC struct {
	lambda float64
	model  *model.BiEncoder

	// means is the parameter snapshot, keyed by parameter name. Its key set
	// is exactly the trainable-parameter name set.
	means  map[string][]float32
	fisher map[string][]float32
	active bool

	logger *slog.Logger
}

// NewEWC creates an EWC strategy with the given penalty coefficient.
func NewEWC(lambda float64, m *model.BiEncoder) *EWC {
	return &EWC{
		lambda: lambda,
		model:  m,
		logger: slog.Default().With("component", "ewc"),
	}
}

// Name implements Strategy.
func (e *EWC) Name() string { return "ewc" }

// OnTaskStart is inert for the first task. For every later task it snapshots
// the current parameters and recomputes the Fisher matrix from one full pass
// over the previous task's training data. A missing previous loader is a
// fatal precondition violation: the orchestrator must guarantee it.
func (e *EWC) OnTaskStart(ctx context.Context, taskID int, prev *dataset.Loader) error {
	if taskID == 0 {
		return nil
	}
	if prev == nil {
		return apperrors.Newf(apperrors.ErrMissingDataloader, apperrors.ClassPrecondition,
			"fisher estimation for task %d has no previous-task dataloader", taskID)
	}

	start := time.Now()
	e.snapshot()
	fisher, err := e.diagFisher(ctx, prev)
	if err != nil {
		return err
	}
	e.fisher = fisher
	e.active = true

	e.logger.Info("fisher matrix computed",
		"task_id", taskID,
		"batches", prev.NumBatches(),
		"duration", time.Since(start),
	)
	return nil
}

// Penalty adds lambda * sum(F (theta - snapshot)^2) to the loss and the
// matching gradient 2 lambda F (theta - snapshot) to each parameter. Zero
// for the first task, a zero Fisher matrix, or lambda == 0.
func (e *EWC) Penalty(params []*model.Param) float32 {
	if !e.active || e.lambda == 0 {
		return 0
	}
	grad := 2 * float32(e.lambda)
	var penalty float64
	for _, p := range params {
		mean := e.means[p.Name]
		fisher := e.fisher[p.Name]
		for i := range p.Data {
			diff := p.Data[i] - mean[i]
			penalty += float64(fisher[i]) * float64(diff) * float64(diff)
			p.Grad[i] += grad * fisher[i] * diff
		}
	}
	return float32(e.lambda * penalty)
}

// FisherMatrix exposes the current importance estimates, keyed by parameter
// name.
func (e *EWC) FisherMatrix() map[string][]float32 {
	return e.fisher
}

// Snapshot exposes the current parameter anchor, keyed by parameter name.
func (e *EWC) Snapshot() map[string][]float32 {
	return e.means
}

// snapshot replaces the parameter anchor with the current values.
func (e *EWC) snapshot() {
	means := make(map[string][]float32, len(e.model.Params()))
	for _, p := range e.model.Params() {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		means[p.Name] = data
	}
	e.means = means
}

// diagFisher averages squared per-parameter gradients over one full pass of
// the previous task's batches. The pass is read-only with respect to the
// weights: gradients are computed and discarded, no optimizer step runs.
func (e *EWC) diagFisher(ctx context.Context, prev *dataset.Loader) (map[string][]float32, error) {
	fisher := make(map[string][]float32, len(e.model.Params()))
	for _, p := range e.model.Params() {
		fisher[p.Name] = make([]float32, len(p.Data))
	}

	inv := 1 / float32(prev.NumBatches())
	err := prev.Each(ctx, func(batch *dataset.Batch) error {
		e.model.ZeroGrad()
		e.model.SharedStep(batch)
		for _, p := range e.model.Params() {
			acc := fisher[p.Name]
			for i, g := range p.Grad {
				acc[i] += g * g * inv
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.model.ZeroGrad()
	return fisher, nil
}
