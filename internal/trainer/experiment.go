// Package trainer orchestrates the continual-learning run: it partitions the
// stream into tasks and, for each task strictly in order, trains the
// bi-encoder with the strategy's hooks, rebuilds the retrieval index,
// embeds the held-out queries, invokes the evaluator, and releases memory
// before moving on. Task t+1 depends on task t's final parameters and Fisher
// matrix, so tasks never overlap.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/continualrank/trainer/internal/artifact"
	"github.com/continualrank/trainer/internal/continual"
	"github.com/continualrank/trainer/internal/dataset"
	"github.com/continualrank/trainer/internal/evaluator"
	"github.com/continualrank/trainer/internal/model"
	"github.com/continualrank/trainer/internal/notify"
	"github.com/continualrank/trainer/internal/registry"
	"github.com/continualrank/trainer/internal/results"
	"github.com/continualrank/trainer/pkg/config"
	"github.com/continualrank/trainer/pkg/metrics"
)

// rollingLossEvery is the step cadence at which the rolling training loss is
// flushed to the log and metrics.
const rollingLossEvery = 500

// Runner is the capability set every experiment variant must supply. The
// orchestrator invokes the setup capabilities in this order, then
// RunTraining and RunTesting.
type Runner interface {
	PrepareDataloaders() error
	SetupModel() error
	SetupStrategy() error
	SetupCallbacks() error
	RunTraining(ctx context.Context) error
	RunTesting(ctx context.Context) error
}

var _ Runner = (*Experiment)(nil)

// Experiment is the continual-learning experiment: it implements Runner and
// owns every collaborator of the task loop.
type Experiment struct {
	cfg   *config.Config
	runID string

	tok          *dataset.Tokenizer
	trainLoaders []*dataset.Loader
	valLoaders   []*dataset.Loader
	indexSet     []dataset.Passage
	testSet      []dataset.TestRecord
	indexLoader  *dataset.TextLoader
	testLoader   *dataset.TextLoader

	model    *model.BiEncoder
	strategy continual.Strategy

	notifier notify.Notifier
	metrics  *metrics.Metrics
	registry *registry.Registry
	results  *results.Store

	trainingTime time.Duration
	currentTask  int
	logger       *slog.Logger
}

// Option wires an optional collaborator into the experiment.
type Option func(*Experiment)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Experiment) { e.metrics = m }
}

// WithRegistry attaches the Redis run registry.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Experiment) { e.registry = r }
}

// WithResults attaches the PostgreSQL results store.
func WithResults(s *results.Store) Option {
	return func(e *Experiment) { e.results = s }
}

// NewExperiment builds an experiment for one run.
func NewExperiment(cfg *config.Config, runID string, notifier notify.Notifier, opts ...Option) *Experiment {
	e := &Experiment{
		cfg:         cfg,
		runID:       runID,
		notifier:    notifier,
		currentTask: -1,
		logger:      slog.Default().With("component", "experiment", "run_id", runID),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs setup, training, and testing. Any failure is alerted with the
// run name and the task index it struck, then returned to terminate the
// process. There are no retries: re-running a consumed task would corrupt
// the Fisher/snapshot lineage.
func (e *Experiment) Execute(ctx context.Context) error {
	err := e.execute(ctx)
	if err != nil {
		e.notifier.Alert(ctx, "Run has crashed!",
			fmt.Sprintf("Run %s failed at task %d: %v", e.cfg.Experiment.Name, e.currentTask, err),
			notify.LevelError)
		e.registry.Update(ctx, registry.Progress{
			RunID:      e.runID,
			Experiment: e.cfg.Experiment.Name,
			TaskID:     e.currentTask,
			Phase:      registry.PhaseFailed,
		})
		return fmt.Errorf("run %s failed at task %d: %w", e.cfg.Experiment.Name, e.currentTask, err)
	}
	return nil
}

func (e *Experiment) execute(ctx context.Context) error {
	if err := e.PrepareDataloaders(); err != nil {
		return err
	}
	if err := e.SetupModel(); err != nil {
		return err
	}
	if err := e.SetupStrategy(); err != nil {
		return err
	}
	if err := e.SetupCallbacks(); err != nil {
		return err
	}
	if err := e.RunTraining(ctx); err != nil {
		return err
	}
	return e.RunTesting(ctx)
}

// PrepareDataloaders loads every dataset file, splits the training and
// validation streams into tasks along the cumulative boundaries, and builds
// the task-invariant index and test loaders.
func (e *Experiment) PrepareDataloaders() error {
	bi := e.cfg.Biencoder
	e.tok = dataset.NewTokenizer(bi.VocabSize, bi.SequenceLength)

	trainRecords, err := dataset.LoadRecords(e.cfg.Datasets.Train)
	if err != nil {
		return err
	}
	valRecords, err := dataset.LoadRecords(e.cfg.Datasets.Val)
	if err != nil {
		return err
	}

	trainTasks, err := dataset.Split(trainRecords, e.cfg.RunType.Sizes, e.cfg.RunType.Baseline, e.cfg.Seed)
	if err != nil {
		return err
	}
	valBoundaries := dataset.ScaleBoundaries(e.cfg.RunType.Sizes, e.cfg.Datasets.SplitSize)
	valTasks, err := dataset.Split(valRecords, valBoundaries, e.cfg.RunType.Baseline, e.cfg.Seed)
	if err != nil {
		return err
	}

	for _, task := range trainTasks {
		e.trainLoaders = append(e.trainLoaders,
			dataset.NewLoader(task.Records, e.tok, bi.BatchSize, e.cfg.NegativesAmount, bi.NumWorkers))
	}
	for _, task := range valTasks {
		e.valLoaders = append(e.valLoaders,
			dataset.NewLoader(task.Records, e.tok, bi.EvalBatchSize, e.cfg.NegativesAmount, bi.NumWorkers))
	}

	e.indexSet, err = dataset.LoadPassages(e.cfg.Datasets.Index)
	if err != nil {
		return err
	}
	e.testSet, err = dataset.LoadTestRecords(e.cfg.Datasets.Test)
	if err != nil {
		return err
	}

	indexTexts := make([]string, len(e.indexSet))
	for i, p := range e.indexSet {
		indexTexts[i] = p.Text
	}
	testTexts := make([]string, len(e.testSet))
	for i, r := range e.testSet {
		testTexts[i] = r.Question
	}
	e.indexLoader = dataset.NewTextLoader(indexTexts, e.tok, bi.IndexBatchSize, bi.NumWorkers)
	e.testLoader = dataset.NewTextLoader(testTexts, e.tok, bi.EvalBatchSize, bi.NumWorkers)

	// Fast dev runs cap only the train and validation passes. The index and
	// test passes always run in full: the evaluator validates artifact row
	// counts against the datasets.
	if e.cfg.FastDevRun {
		for _, l := range e.trainLoaders {
			l.Limit = 1
		}
		for _, l := range e.valLoaders {
			l.Limit = 1
		}
	}

	e.logger.Info("dataloaders prepared",
		"tasks", len(e.trainLoaders),
		"train_records", len(trainRecords),
		"val_records", len(valRecords),
		"index_passages", len(e.indexSet),
		"test_queries", len(e.testSet),
	)
	return nil
}

// SetupModel builds the bi-encoder with a learning-rate schedule spanning
// the whole run's optimization steps.
func (e *Experiment) SetupModel() error {
	if e.trainLoaders == nil {
		return fmt.Errorf("dataloaders must be prepared before the model")
	}
	totalSteps := 0
	for _, l := range e.trainLoaders {
		totalSteps += l.NumBatches() * e.cfg.Biencoder.MaxEpochs
	}
	e.model = model.New(e.cfg.Biencoder, totalSteps, e.cfg.Seed)

	if e.cfg.Device == "gpu" {
		e.logger.Warn("device gpu requested; tensor computation runs on cpu, the device label is propagated to the evaluator")
	}
	e.logger.Info("model ready", "embedding_dim", e.model.Dim(), "total_steps", totalSteps)
	return nil
}

// SetupStrategy selects the continual-learning strategy: EWC for continual
// runs, no strategy for the baseline.
func (e *Experiment) SetupStrategy() error {
	if e.model == nil {
		return fmt.Errorf("model must be set up before the strategy")
	}
	if e.cfg.RunType.Baseline {
		e.strategy = continual.Noop{}
	} else {
		e.strategy = continual.NewEWC(e.cfg.EWCLambda, e.model)
	}
	e.logger.Info("strategy ready", "strategy", e.strategy.Name())
	return nil
}

// SetupCallbacks verifies the optional observers. Metrics, registry, and
// results store are all usable when nil; nothing to construct here beyond
// what the options already wired.
func (e *Experiment) SetupCallbacks() error {
	if e.metrics == nil {
		e.logger.Info("metrics collectors not attached; step metrics disabled")
	}
	return nil
}

// RunTraining drives the task loop strictly sequentially.
func (e *Experiment) RunTraining(ctx context.Context) error {
	cfgDump, err := yaml.Marshal(e.cfg)
	if err != nil {
		return fmt.Errorf("dumping config: %w", err)
	}
	e.notifier.Alert(ctx,
		fmt.Sprintf("Training for %s started!", e.cfg.Experiment.Name),
		string(cfgDump), notify.LevelInfo)

	for i := range e.trainLoaders {
		e.currentTask = i
		if err := e.runTask(ctx, i); err != nil {
			return err
		}
		// Index/test embeddings and Fisher accumulators of the finished
		// task must be gone before the next task allocates its own.
		e.freeMemory()
	}
	return nil
}

// runTask trains, indexes, tests, and evaluates one task.
func (e *Experiment) runTask(ctx context.Context, streamPos int) error {
	trainLoader := e.trainLoaders[streamPos]
	valLoader := e.valLoaders[streamPos]
	taskID := e.taskID(streamPos)

	trainCtx := NewTrainContext(taskID, trainLoader.Len(), valLoader.Len())
	e.registry.Update(ctx, registry.Progress{
		RunID:      e.runID,
		Experiment: e.cfg.Experiment.Name,
		TaskID:     taskID,
		Phase:      registry.PhaseTraining,
	})
	e.notifier.Alert(ctx,
		fmt.Sprintf("Experiment #%d for %s started!", taskID, e.cfg.Experiment.Name),
		fmt.Sprintf("Training dataloader size: %d\nValidation dataloader size: %d", trainLoader.Len(), valLoader.Len()),
		notify.LevelInfo)

	// The strategy sees the stream position, not the override id: the first
	// task of a stream has no predecessor regardless of how it is labelled.
	var prev *dataset.Loader
	if streamPos > 0 {
		prev = e.trainLoaders[streamPos-1]
	}
	fisherStart := time.Now()
	if err := e.strategy.OnTaskStart(ctx, streamPos, prev); err != nil {
		return err
	}
	if streamPos > 0 && e.metrics != nil {
		e.metrics.FisherComputeSeconds.Observe(time.Since(fisherStart).Seconds())
	}

	start := time.Now()
	for epoch := 0; epoch < e.cfg.Biencoder.MaxEpochs; epoch++ {
		if err := e.trainEpoch(ctx, trainLoader, trainCtx); err != nil {
			return err
		}
		if err := e.validateEpoch(ctx, valLoader, trainCtx); err != nil {
			return err
		}
		e.logger.Info("epoch finished",
			"task_id", taskID,
			"epoch", epoch,
			"epoch_loss", trainCtx.EpochLoss,
			"train_accuracy", trainCtx.TrainAccuracy(),
			"val_accuracy", trainCtx.ValAccuracy(),
		)
		if e.metrics != nil {
			e.metrics.EpochAccuracy.WithLabelValues("train").Set(trainCtx.TrainAccuracy())
			e.metrics.EpochAccuracy.WithLabelValues("val").Set(trainCtx.ValAccuracy())
		}
		trainCtx.ResetEpoch()
	}
	elapsed := time.Since(start)
	e.trainingTime += elapsed

	e.notifier.Alert(ctx,
		fmt.Sprintf("Experiment #%d for %s trained!", taskID, e.cfg.Experiment.Name),
		fmt.Sprintf("Training took %.1fs", elapsed.Seconds()),
		notify.LevelInfo)

	if err := e.evaluateTask(ctx, taskID, elapsed); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.TaskDuration.Observe(elapsed.Seconds())
		e.metrics.TasksCompletedTotal.Inc()
	}
	return nil
}

// trainEpoch runs one pass of manual-optimization steps over the task.
func (e *Experiment) trainEpoch(ctx context.Context, loader *dataset.Loader, trainCtx *TrainContext) error {
	return loader.Each(ctx, func(batch *dataset.Batch) error {
		result := e.model.TrainStep(batch, e.strategy)
		trainCtx.ObserveTrainStep(result.Loss, result.Correct)

		if e.metrics != nil {
			e.metrics.TrainLoss.Set(float64(result.Loss))
			e.metrics.LearningRate.Set(result.LR)
			e.metrics.TrainStepDuration.Observe(result.Duration.Seconds())
		}
		if e.model.GlobalStep()%rollingLossEvery == 0 {
			rolling := trainCtx.FlushRollingLoss()
			e.logger.Info("rolling training loss", "step", e.model.GlobalStep(), "rolling_loss", rolling)
			if e.metrics != nil {
				e.metrics.RollingTrainLoss.Set(rolling)
			}
		}
		return nil
	})
}

// validateEpoch runs one gradient-free pass over the validation split.
func (e *Experiment) validateEpoch(ctx context.Context, loader *dataset.Loader, trainCtx *TrainContext) error {
	return loader.Each(ctx, func(batch *dataset.Batch) error {
		_, correct := e.model.EvalStep(batch)
		trainCtx.ObserveValStep(correct)
		return nil
	})
}

// evaluateTask rebuilds the index and test embeddings, persists both
// artifacts, and invokes the evaluator.
func (e *Experiment) evaluateTask(ctx context.Context, taskID int, elapsed time.Duration) error {
	indexPath, err := e.indexPass(ctx, taskID)
	if err != nil {
		return err
	}
	testPath, err := e.testPass(ctx, taskID)
	if err != nil {
		return err
	}

	e.registry.Update(ctx, registry.Progress{
		RunID:      e.runID,
		Experiment: e.cfg.Experiment.Name,
		TaskID:     taskID,
		Phase:      registry.PhaseEvaluating,
	})
	e.notifier.Alert(ctx,
		fmt.Sprintf("Evaluation for %s #%d started!", e.cfg.Experiment.Name, taskID),
		"", notify.LevelInfo)

	eval := evaluator.New(evaluator.Params{
		Dim:       e.model.Dim(),
		IndexSet:  e.indexSet,
		IndexPath: indexPath,
		TestSet:   e.testSet,
		TestPath:  testPath,
		Device:    e.cfg.Device,
		TaskID:    taskID,
	})
	scores, err := eval.Evaluate()
	if err != nil {
		return err
	}

	if e.metrics != nil {
		for name, value := range scores {
			e.metrics.EvalScore.WithLabelValues(name).Set(value)
		}
	}
	if e.results != nil {
		if err := e.results.Save(ctx, e.runID, e.cfg.Experiment.Name, taskID, scores, elapsed); err != nil {
			return err
		}
	}
	e.registry.Update(ctx, registry.Progress{
		RunID:      e.runID,
		Experiment: e.cfg.Experiment.Name,
		TaskID:     taskID,
		Phase:      registry.PhaseEvaluating,
		Scores:     scores,
	})
	e.notifier.Alert(ctx, "Evaluation finished!",
		fmt.Sprintf("%v", scores), notify.LevelInfo)
	return nil
}

// indexPass embeds the task-invariant index corpus through the context
// tower, persists the artifact, and releases the in-memory embeddings.
func (e *Experiment) indexPass(ctx context.Context, taskID int) (string, error) {
	e.registry.Update(ctx, registry.Progress{
		RunID:      e.runID,
		Experiment: e.cfg.Experiment.Name,
		TaskID:     taskID,
		Phase:      registry.PhaseIndexing,
	})
	e.notifier.Alert(ctx,
		fmt.Sprintf("Indexing for %s started!", e.cfg.Experiment.Name),
		fmt.Sprintf("Index dataloader size: %d", e.indexLoader.Len()),
		notify.LevelInfo)

	embeddings := make([][]float32, 0, e.indexLoader.Len())
	err := e.indexLoader.Each(ctx, func(tokens [][]int) error {
		embeddings = append(embeddings, e.model.EncodeContexts(tokens)...)
		return nil
	})
	if err != nil {
		return "", err
	}

	path, err := artifact.Write(e.cfg.ArtifactDir, artifact.Name("index", e.cfg.Experiment.Name, taskID), embeddings)
	if err != nil {
		return "", err
	}
	if e.metrics != nil {
		e.metrics.EmbeddingsBuiltTotal.WithLabelValues("index").Add(float64(len(embeddings)))
	}
	e.notifier.Alert(ctx, "Indexing finished!",
		fmt.Sprintf("Indexed %d samples, dimension %d", len(embeddings), e.model.Dim()),
		notify.LevelInfo)
	return path, nil
}

// testPass embeds the held-out queries through the question tower, persists
// the artifact, and releases the in-memory embeddings.
func (e *Experiment) testPass(ctx context.Context, taskID int) (string, error) {
	e.registry.Update(ctx, registry.Progress{
		RunID:      e.runID,
		Experiment: e.cfg.Experiment.Name,
		TaskID:     taskID,
		Phase:      registry.PhaseTesting,
	})
	e.notifier.Alert(ctx,
		fmt.Sprintf("Testing for %s #%d started!", e.cfg.Experiment.Name, taskID),
		fmt.Sprintf("Test dataloader size: %d", e.testLoader.Len()),
		notify.LevelInfo)

	embeddings := make([][]float32, 0, e.testLoader.Len())
	err := e.testLoader.Each(ctx, func(tokens [][]int) error {
		embeddings = append(embeddings, e.model.EncodeQueries(tokens)...)
		return nil
	})
	if err != nil {
		return "", err
	}

	path, err := artifact.Write(e.cfg.ArtifactDir, artifact.Name("test", e.cfg.Experiment.Name, taskID), embeddings)
	if err != nil {
		return "", err
	}
	if e.metrics != nil {
		e.metrics.EmbeddingsBuiltTotal.WithLabelValues("test").Add(float64(len(embeddings)))
	}
	e.notifier.Alert(ctx, "Testing finished!",
		fmt.Sprintf("Tested %d samples, dimension %d", len(embeddings), e.model.Dim()),
		notify.LevelInfo)
	return path, nil
}

// RunTesting closes the run: final summary alert and registry state.
func (e *Experiment) RunTesting(ctx context.Context) error {
	e.logger.Info("run finished",
		"tasks", len(e.trainLoaders),
		"training_time", e.trainingTime,
	)
	e.notifier.Alert(ctx,
		fmt.Sprintf("Run %s finished!", e.cfg.Experiment.Name),
		fmt.Sprintf("Trained %d tasks in %.1fs", len(e.trainLoaders), e.trainingTime.Seconds()),
		notify.LevelInfo)
	e.registry.Update(ctx, registry.Progress{
		RunID:      e.runID,
		Experiment: e.cfg.Experiment.Name,
		TaskID:     e.taskID(len(e.trainLoaders) - 1),
		Phase:      registry.PhaseDone,
	})
	return nil
}

// taskID resolves the task identifier: the stream position unless the
// experiment pins an override id.
func (e *Experiment) taskID(streamPos int) int {
	if e.cfg.Experiment.ID >= 0 {
		return e.cfg.Experiment.ID
	}
	return streamPos
}

// freeMemory drops what the finished task left behind and asks the runtime
// to collect before the next task allocates its own structures.
func (e *Experiment) freeMemory() {
	runtime.GC()
}
