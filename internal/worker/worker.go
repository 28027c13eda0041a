// Package worker schedules analysis runs from the EventBus and a ticker.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Runner executes one analysis run.
type Runner interface {
	Run(ctx context.Context, asOf time.Time) (*analysis.Report, error)
}

// Worker runs the orchestrator on request and on a schedule.
type Worker struct {
	bus    domain.EventBus
	runner Runner
	now    func() time.Time

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	runs    atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Interval runs analysis on a ticker. Zero disables scheduled runs.
	Interval time.Duration
}

// RunRequest is the optional payload of an analysis request message.
type RunRequest struct {
	AsOf *time.Time `json:"asOf,omitempty"`
}

// RunCompleted is published after every successful run.
type RunCompleted struct {
	RunID         string                     `json:"runId"`
	AsOf          time.Time                  `json:"asOf"`
	TotalPatterns int                        `json:"totalPatterns"`
	HighRisk      int                        `json:"highRisk"`
	ByPattern     map[domain.PatternType]int `json:"byPattern"`
	AlertsCreated int                        `json:"alertsCreated"`
	DurationMs    int64                      `json:"durationMs"`
}

// NewWorker creates a new analysis worker.
func NewWorker(eventBus domain.EventBus, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		runner: runner,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to analysis requests and starts the ticker if configured.
func (w *Worker) Start(cfg Config) error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicAnalysisRequested, w.handleRequest)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	if cfg.Interval > 0 {
		w.wg.Add(1)
		go w.schedule(cfg.Interval)
	}

	slog.Info("analysis worker started",
		"topic", domain.TopicAnalysisRequested,
		"interval", cfg.Interval.String(),
	)
	return nil
}

func (w *Worker) schedule(interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.run(w.ctx, w.now())
		}
	}
}

// handleRequest runs analysis for a bus request. An empty payload runs as of now.
func (w *Worker) handleRequest(ctx context.Context, msg *domain.Message) error {
	asOf := w.now()
	if len(msg.Payload) > 0 {
		var req RunRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			slog.Error("failed to parse analysis request",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
		if req.AsOf != nil {
			asOf = *req.AsOf
		}
	}

	return w.run(ctx, asOf)
}

// run executes one analysis and publishes its summary. A run already in
// progress elsewhere is skipped, not retried.
func (w *Worker) run(ctx context.Context, asOf time.Time) error {
	report, err := w.runner.Run(ctx, asOf)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		w.skipped.Add(1)
		slog.Info("analysis run skipped", "reason", "run in progress")
		return nil
	case err != nil:
		w.failed.Add(1)
		slog.Error("analysis run failed", "error", err)
		return err
	}
	w.runs.Add(1)

	completed := RunCompleted{
		RunID:         report.RunID,
		AsOf:          report.AsOf,
		TotalPatterns: report.TotalPatterns,
		HighRisk:      report.HighRisk,
		ByPattern:     report.ByPattern,
		AlertsCreated: report.Alerts.Created,
		DurationMs:    report.DurationMs,
	}
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicAnalysisCompleted, completed); err != nil {
		slog.Error("failed to publish analysis completion",
			"run_id", report.RunID,
			"error", err,
		)
	}
	return nil
}

// Stop gracefully stops the worker and waits for the scheduler to exit.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("analysis worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Runs              int64    `json:"runs"`
	Skipped           int64    `json:"skipped"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Runs:              w.runs.Load(),
		Skipped:           w.skipped.Load(),
		Failed:            w.failed.Load(),
	}
}
