package dataset

import (
	"math/rand"

	apperrors "github.com/continualrank/trainer/pkg/errors"
)

// Task is one disjoint, order-preserving chunk of the shuffled training
// stream, presented to the model as a single continual-learning stage.
type Task struct {
	ID      int
	Records []Record
}

// Split deterministically shuffles records under the given seed, then slices
// them into tasks along the cumulative boundaries.
//
// In baseline mode a single task holding the first boundaries[len-1] records
// is returned. In continual mode len(boundaries)-1 tasks are returned, task i
// spanning [boundaries[i], boundaries[i+1]). The input slice is not mutated;
// the shuffle operates on a copy.
func Split(records []Record, boundaries []int, baseline bool, seed int64) ([]Task, error) {
	if len(boundaries) < 2 {
		return nil, apperrors.Newf(apperrors.ErrInvalidBoundaries, apperrors.ClassPrecondition,
			"need at least two cumulative boundaries, got %d", len(boundaries))
	}
	if boundaries[0] < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidBoundaries, apperrors.ClassPrecondition,
			"boundaries must be non-negative, got %v", boundaries)
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] <= boundaries[i-1] {
			return nil, apperrors.Newf(apperrors.ErrInvalidBoundaries, apperrors.ClassPrecondition,
				"boundaries must be strictly increasing, got %v", boundaries)
		}
	}
	last := boundaries[len(boundaries)-1]
	if last > len(records) {
		return nil, apperrors.Newf(apperrors.ErrInvalidBoundaries, apperrors.ClassPrecondition,
			"last boundary %d exceeds dataset size %d", last, len(records))
	}

	shuffled := make([]Record, len(records))
	copy(shuffled, records)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if baseline {
		return []Task{{ID: 0, Records: shuffled[:last]}}, nil
	}

	tasks := make([]Task, 0, len(boundaries)-1)
	for i := 0; i < len(boundaries)-1; i++ {
		tasks = append(tasks, Task{
			ID:      i,
			Records: shuffled[boundaries[i]:boundaries[i+1]],
		})
	}
	return tasks, nil
}

// ScaleBoundaries multiplies every cumulative boundary by factor, used to
// derive the validation stream boundaries from the training ones.
func ScaleBoundaries(boundaries []int, factor float64) []int {
	if factor == 0 {
		return boundaries
	}
	scaled := make([]int, len(boundaries))
	for i, b := range boundaries {
		scaled[i] = int(float64(b) * factor)
	}
	return scaled
}
