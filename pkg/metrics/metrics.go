// Package metrics defines the Prometheus metric collectors used by the
// trainer and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the trainer.
type Metrics struct {
	TrainLoss            prometheus.Gauge
	RollingTrainLoss     prometheus.Gauge
	LearningRate         prometheus.Gauge
	TrainStepDuration    prometheus.Histogram
	EpochAccuracy        *prometheus.GaugeVec
	TaskDuration         prometheus.Histogram
	TasksCompletedTotal  prometheus.Counter
	FisherComputeSeconds prometheus.Histogram
	EmbeddingsBuiltTotal *prometheus.CounterVec
	EvalScore            *prometheus.GaugeVec
}

// New creates and registers all trainer metrics.
func New() *Metrics {
	m := &Metrics{
		TrainLoss: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "train_loss",
				Help: "Training loss of the most recent optimization step.",
			},
		),
		RollingTrainLoss: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rolling_train_loss",
				Help: "Training loss accumulated over the last 500 steps.",
			},
		),
		LearningRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "learning_rate",
				Help: "Effective learning rate after the scheduler step.",
			},
		),
		TrainStepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "train_step_duration_seconds",
				Help:    "Wall-clock duration of a single training step.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		EpochAccuracy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "epoch_accuracy",
				Help: "Correct-prediction ratio per epoch by split (train, val).",
			},
			[]string{"split"},
		),
		TaskDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "task_duration_seconds",
				Help:    "Wall-clock duration of one continual-learning task.",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
			},
		),
		TasksCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tasks_completed_total",
				Help: "Number of tasks that finished training and evaluation.",
			},
		),
		FisherComputeSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fisher_compute_seconds",
				Help:    "Duration of the diagonal Fisher estimation pass.",
				Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900},
			},
		),
		EmbeddingsBuiltTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embeddings_built_total",
				Help: "Embeddings produced by indexing and testing passes.",
			},
			[]string{"pass"},
		),
		EvalScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eval_score",
				Help: "Retrieval evaluation scores of the latest task by metric.",
			},
			[]string{"metric"},
		),
	}

	prometheus.MustRegister(
		m.TrainLoss,
		m.RollingTrainLoss,
		m.LearningRate,
		m.TrainStepDuration,
		m.EpochAccuracy,
		m.TaskDuration,
		m.TasksCompletedTotal,
		m.FisherComputeSeconds,
		m.EmbeddingsBuiltTotal,
		m.EvalScore,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
