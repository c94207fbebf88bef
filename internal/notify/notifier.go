// Package notify delivers run alerts. Alerts fire at run start, per-task
// start/finish, after indexing, testing and evaluation, and on failure.
// When Kafka is configured they are published as events keyed by run id;
// otherwise they go to the structured log. Both paths honour the logging_on
// switch: a disabled notifier drops everything.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/continualrank/trainer/pkg/config"
	"github.com/continualrank/trainer/pkg/kafka"
)

// Level grades an alert.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notifier delivers alerts to wherever the run reports to.
type Notifier interface {
	Alert(ctx context.Context, title, text string, level Level)
	Close() error
}

// AlertEvent is the payload published for each alert.
type AlertEvent struct {
	RunID      string    `json:"run_id"`
	Experiment string    `json:"experiment"`
	Title      string    `json:"title"`
	Text       string    `json:"text,omitempty"`
	Level      Level     `json:"level"`
	FiredAt    time.Time `json:"fired_at"`
}

// New builds the notifier for a run: disabled when logging is off, Kafka
// backed when brokers are configured, slog backed otherwise.
func New(cfg *config.Config, runID string) Notifier {
	if !cfg.LoggingOn {
		return disabled{}
	}
	if cfg.Kafka.Enabled() {
		return &kafkaNotifier{
			producer:   kafka.NewProducer(cfg.Kafka, cfg.Kafka.AlertsTopic),
			runID:      runID,
			experiment: cfg.Experiment.Name,
			logger:     slog.Default().With("component", "notifier"),
		}
	}
	return &logNotifier{
		runID:      runID,
		experiment: cfg.Experiment.Name,
		logger:     slog.Default().With("component", "notifier"),
	}
}

type disabled struct{}

func (disabled) Alert(context.Context, string, string, Level) {}
func (disabled) Close() error                                 { return nil }

type logNotifier struct {
	runID      string
	experiment string
	logger     *slog.Logger
}

func (n *logNotifier) Alert(ctx context.Context, title, text string, level Level) {
	attrs := []any{"run_id", n.runID, "experiment", n.experiment, "title", title, "text", text}
	switch level {
	case LevelError:
		n.logger.Error("alert", attrs...)
	case LevelWarn:
		n.logger.Warn("alert", attrs...)
	default:
		n.logger.Info("alert", attrs...)
	}
}

func (n *logNotifier) Close() error { return nil }

type kafkaNotifier struct {
	producer   *kafka.Producer
	runID      string
	experiment string
	logger     *slog.Logger
}

// Alert publishes the event. Delivery failures are logged and swallowed: an
// unreachable broker must not abort a multi-hour training run.
func (n *kafkaNotifier) Alert(ctx context.Context, title, text string, level Level) {
	event := kafka.Event{
		Key: n.runID,
		Value: AlertEvent{
			RunID:      n.runID,
			Experiment: n.experiment,
			Title:      title,
			Text:       text,
			Level:      level,
			FiredAt:    time.Now().UTC(),
		},
	}
	if err := n.producer.Publish(ctx, event); err != nil {
		n.logger.Error("alert delivery failed", "title", title, "error", err)
	}
}

func (n *kafkaNotifier) Close() error {
	return n.producer.Close()
}
