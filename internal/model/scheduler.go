package model

// Scheduler implements the linear warmup / linear decay learning-rate
// policy: the factor climbs from 0 to 1 over warmup steps, then decays
// linearly to a floor of 1e-7 over the remaining scheduled steps.
type Scheduler struct {
	baseLR  float64
	warmup  int
	total   int
	current int
}

const lrFloor = 1e-7

// NewScheduler builds a Scheduler over totalSteps optimization steps.
func NewScheduler(baseLR float64, warmupSteps, totalSteps int) *Scheduler {
	return &Scheduler{baseLR: baseLR, warmup: warmupSteps, total: totalSteps}
}

// Factor returns the multiplicative learning-rate factor at the given step.
func (s *Scheduler) Factor(step int) float64 {
	if step < s.warmup {
		return float64(step) / float64(maxInt(1, s.warmup))
	}
	factor := float64(s.total-step) / float64(maxInt(1, s.total-s.warmup))
	if factor < lrFloor {
		return lrFloor
	}
	return factor
}

// LR returns the effective learning rate at the current step.
func (s *Scheduler) LR() float64 {
	return s.baseLR * s.Factor(s.current)
}

// Step advances the schedule and returns the learning rate that the next
// optimization step will use.
func (s *Scheduler) Step() float64 {
	s.current++
	return s.LR()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
