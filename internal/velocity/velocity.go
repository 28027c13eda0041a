// Package velocity provides transaction velocity calculation.
package velocity

import (
	"context"
	"fmt"
	"time"
)

// Counter counts an account's outbound transfers since a point in time.
// domain.TransferTx satisfies it inside the admission unit.
type Counter interface {
	CountOutbound(ctx context.Context, accountID string, since time.Time) (int64, error)
}

// Service calculates sender velocity over a fixed window.
type Service struct {
	window time.Duration
}

// NewService creates a new velocity service.
func NewService(window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{window: window}
}

// Window returns the configured window.
func (s *Service) Window() time.Duration {
	return s.window
}

// GetTransactionCount returns the sender's outbound transfer count in the window ending at now.
func (s *Service) GetTransactionCount(ctx context.Context, src Counter, accountID string, now time.Time) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("accountID is required")
	}
	if src == nil {
		return 0, fmt.Errorf("no data source available")
	}

	count, err := src.CountOutbound(ctx, accountID, now.Add(-s.window))
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// Burst is the densest run of events found by MaxBurst.
type Burst struct {
	// Start and End index into the sorted input, End exclusive.
	Start int
	End   int
}

// Count returns the number of events in the burst.
func (b Burst) Count() int {
	return b.End - b.Start
}

// MaxBurst finds the largest set of events that fit inside one window of
// the given width. times must be sorted ascending. Ties keep the earliest run.
func MaxBurst(times []time.Time, width time.Duration) Burst {
	var best Burst
	lo := 0
	for hi := range times {
		for times[hi].Sub(times[lo]) >= width {
			lo++
		}
		if hi+1-lo > best.Count() {
			best = Burst{Start: lo, End: hi + 1}
		}
	}
	return best
}
