package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, asOf time.Time) (*analysis.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, asOf)
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Report{
		RunID:         "run-1",
		AsOf:          asOf,
		TotalPatterns: 2,
		HighRisk:      1,
		ByPattern:     map[domain.PatternType]int{domain.PatternCarousel: 2},
	}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		worker := NewWorker(eventBus, &fakeRunner{})
		if err := worker.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicAnalysisRequested {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := worker.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := worker.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("RunOnRequest", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()
		ctx := context.Background()

		completed := make(chan RunCompleted, 1)
		eventBus.Subscribe(ctx, domain.TopicAnalysisCompleted, func(ctx context.Context, msg *domain.Message) error {
			var c RunCompleted
			if err := json.Unmarshal(msg.Payload, &c); err != nil {
				return err
			}
			completed <- c
			return nil
		})

		runner := &fakeRunner{}
		worker := NewWorker(eventBus, runner)
		if err := worker.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer worker.Stop()

		asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		if err := bus.PublishJSON(ctx, eventBus, domain.TopicAnalysisRequested, RunRequest{AsOf: &asOf}); err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}

		select {
		case c := <-completed:
			if c.RunID != "run-1" || !c.AsOf.Equal(asOf) || c.ByPattern[domain.PatternCarousel] != 2 {
				t.Errorf("unexpected completion %+v", c)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for completion event")
		}

		if stats := worker.GetStats(); stats.Runs != 1 {
			t.Errorf("expected 1 run, got %d", stats.Runs)
		}
	})

	t.Run("EmptyPayloadRunsNow", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		runner := &fakeRunner{}
		worker := NewWorker(eventBus, runner)
		fixed := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
		worker.now = func() time.Time { return fixed }
		worker.Start(Config{})
		defer worker.Stop()

		eventBus.Publish(context.Background(), domain.TopicAnalysisRequested, nil)
		waitFor(t, func() bool { return runner.callCount() == 1 })

		runner.mu.Lock()
		got := runner.calls[0]
		runner.mu.Unlock()
		if !got.Equal(fixed) {
			t.Errorf("expected run as of now, got %v", got)
		}
	})

	t.Run("SkipsRunInProgress", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		runner := &fakeRunner{err: domain.ErrRunInProgress}
		worker := NewWorker(eventBus, runner)
		if err := worker.run(context.Background(), time.Now()); err != nil {
			t.Errorf("a skipped run is not an error, got %v", err)
		}
		if stats := worker.GetStats(); stats.Skipped != 1 || stats.Runs != 0 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})

	t.Run("Failure", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		runner := &fakeRunner{err: domain.ErrStorageUnavailable}
		worker := NewWorker(eventBus, runner)
		if err := worker.run(context.Background(), time.Now()); !errors.Is(err, domain.ErrStorageUnavailable) {
			t.Errorf("expected storage error, got %v", err)
		}
		if stats := worker.GetStats(); stats.Failed != 1 {
			t.Errorf("expected 1 failure, got %d", stats.Failed)
		}
	})

	t.Run("Schedule", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		runner := &fakeRunner{}
		worker := NewWorker(eventBus, runner)
		if err := worker.Start(Config{Interval: 10 * time.Millisecond}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		waitFor(t, func() bool { return runner.callCount() >= 2 })
		worker.Stop()

		after := runner.callCount()
		time.Sleep(50 * time.Millisecond)
		if runner.callCount() != after {
			t.Error("ticker must stop with the worker")
		}
	})
}
