package trainer

// TrainContext carries the per-task running counters through the training
// loop. The orchestrator creates one per task and resets it at epoch
// boundaries, so the model itself stays free of mutable bookkeeping.
type TrainContext struct {
	TaskID      int
	TrainLength int
	ValLength   int

	TrainCorrect int
	ValCorrect   int
	EpochLoss    float64
	RollingLoss  float64
}

// NewTrainContext builds counters for one task given its split sizes.
func NewTrainContext(taskID, trainLength, valLength int) *TrainContext {
	return &TrainContext{
		TaskID:      taskID,
		TrainLength: trainLength,
		ValLength:   valLength,
	}
}

// ObserveTrainStep records one training step.
func (c *TrainContext) ObserveTrainStep(loss float32, correct int) {
	c.TrainCorrect += correct
	c.EpochLoss += float64(loss)
	c.RollingLoss += float64(loss)
}

// ObserveValStep records one validation step.
func (c *TrainContext) ObserveValStep(correct int) {
	c.ValCorrect += correct
}

// TrainAccuracy returns the epoch's correct-prediction ratio on the
// training split.
func (c *TrainContext) TrainAccuracy() float64 {
	if c.TrainLength == 0 {
		return 0
	}
	return float64(c.TrainCorrect) / float64(c.TrainLength)
}

// ValAccuracy returns the epoch's correct-prediction ratio on the
// validation split.
func (c *TrainContext) ValAccuracy() float64 {
	if c.ValLength == 0 {
		return 0
	}
	return float64(c.ValCorrect) / float64(c.ValLength)
}

// ResetEpoch clears the per-epoch counters. The rolling loss is flushed
// separately on its own step cadence.
func (c *TrainContext) ResetEpoch() {
	c.TrainCorrect = 0
	c.ValCorrect = 0
	c.EpochLoss = 0
}

// FlushRollingLoss returns and clears the rolling loss accumulator.
func (c *TrainContext) FlushRollingLoss() float64 {
	v := c.RollingLoss
	c.RollingLoss = 0
	return v
}
