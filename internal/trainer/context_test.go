package trainer

import "testing"

func TestTrainContextAccuracies(t *testing.T) {
	c := NewTrainContext(2, 100, 10)
	if c.TaskID != 2 {
		t.Errorf("TaskID = %d, want 2", c.TaskID)
	}

	c.ObserveTrainStep(1.5, 20)
	c.ObserveTrainStep(0.5, 30)
	c.ObserveValStep(4)
	c.ObserveValStep(3)

	if got := c.TrainAccuracy(); got != 0.5 {
		t.Errorf("TrainAccuracy = %v, want 0.5", got)
	}
	if got := c.ValAccuracy(); got != 0.7 {
		t.Errorf("ValAccuracy = %v, want 0.7", got)
	}
	if c.EpochLoss != 2 {
		t.Errorf("EpochLoss = %v, want 2", c.EpochLoss)
	}
}

func TestTrainContextResetEpoch(t *testing.T) {
	c := NewTrainContext(0, 10, 10)
	c.ObserveTrainStep(1, 5)
	c.ObserveValStep(5)
	c.ResetEpoch()

	if c.TrainCorrect != 0 || c.ValCorrect != 0 || c.EpochLoss != 0 {
		t.Errorf("counters not cleared: %+v", c)
	}
	// The rolling loss survives epoch boundaries; it flushes on its own
	// step cadence.
	if c.RollingLoss != 1 {
		t.Errorf("RollingLoss = %v after reset, want 1", c.RollingLoss)
	}
}

func TestTrainContextFlushRollingLoss(t *testing.T) {
	c := NewTrainContext(0, 10, 10)
	c.ObserveTrainStep(0.25, 0)
	c.ObserveTrainStep(0.75, 0)

	if got := c.FlushRollingLoss(); got != 1 {
		t.Errorf("FlushRollingLoss = %v, want 1", got)
	}
	if got := c.FlushRollingLoss(); got != 0 {
		t.Errorf("second flush = %v, want 0", got)
	}
}

func TestTrainContextZeroLengthSplits(t *testing.T) {
	c := NewTrainContext(0, 0, 0)
	if c.TrainAccuracy() != 0 || c.ValAccuracy() != 0 {
		t.Error("accuracy over empty splits must be 0, not NaN")
	}
}
