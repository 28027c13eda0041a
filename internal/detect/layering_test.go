package detect

import (
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLayering(t *testing.T) {
	finder := NewLayering(domain.LayeringConfig{})

	t.Run("ParallelChains", func(t *testing.T) {
		snap := snapshotAt(time.Hour,
			transfer("t1", "O", "X1", 5000, 1*time.Minute),
			transfer("t2", "X1", "Y1", 4900, 2*time.Minute),
			transfer("t3", "Y1", "F", 4800, 3*time.Minute),
			transfer("t4", "O", "X2", 5000, 4*time.Minute),
			transfer("t5", "X2", "Y2", 4900, 5*time.Minute),
			transfer("t6", "Y2", "F", 4800, 6*time.Minute),
		)

		findings := detectAll(t, finder, snap)
		if len(findings) != 1 {
			t.Fatalf("expected 1 finding, got %d", len(findings))
		}

		f := findings[0]
		if f.Subject != "O->F" {
			t.Errorf("expected subject O->F, got %s", f.Subject)
		}
		if got := strings.Join(f.Accounts, ","); got != "O,X1,X2,Y1,Y2,F" {
			t.Errorf("unexpected accounts %s", got)
		}
		detail := f.Detail.(domain.LayeringDetail)
		if detail.ChainLength != 3 || detail.ChainCount != 2 {
			t.Errorf("expected 2 chains of 3 hops, got %d of %d", detail.ChainCount, detail.ChainLength)
		}
		if detail.Originator != "O" || detail.Beneficiary != "F" {
			t.Errorf("unexpected endpoints %s -> %s", detail.Originator, detail.Beneficiary)
		}
		if len(f.TransactionIDs) != 6 {
			t.Errorf("expected 6 transactions, got %d", len(f.TransactionIDs))
		}
	})

	t.Run("SingleChain", func(t *testing.T) {
		snap := snapshotAt(time.Hour,
			transfer("t1", "O", "X1", 5000, 1*time.Minute),
			transfer("t2", "X1", "Y1", 4900, 2*time.Minute),
			transfer("t3", "Y1", "F", 4800, 3*time.Minute),
		)

		if findings := detectAll(t, finder, snap); len(findings) != 0 {
			t.Errorf("expected no findings for a single chain, got %d", len(findings))
		}
	})

	t.Run("OutOfOrderHops", func(t *testing.T) {
		snap := snapshotAt(time.Hour,
			transfer("t1", "O", "X1", 5000, 10*time.Minute),
			transfer("t2", "X1", "Y1", 4900, 2*time.Minute),
			transfer("t3", "Y1", "F", 4800, 3*time.Minute),
			transfer("t4", "O", "X2", 5000, 10*time.Minute),
			transfer("t5", "X2", "Y2", 4900, 5*time.Minute),
			transfer("t6", "Y2", "F", 4800, 6*time.Minute),
		)

		if findings := detectAll(t, finder, snap); len(findings) != 0 {
			t.Errorf("expected no findings for non-chronological hops, got %d", len(findings))
		}
	})

	t.Run("SimultaneousHopsAreNotAChain", func(t *testing.T) {
		snap := snapshotAt(time.Hour,
			transfer("t1", "O", "X1", 5000, 1*time.Minute),
			transfer("t2", "X1", "Y1", 4900, 1*time.Minute),
			transfer("t3", "Y1", "F", 4800, 3*time.Minute),
			transfer("t4", "O", "X2", 5000, 4*time.Minute),
			transfer("t5", "X2", "Y2", 4900, 4*time.Minute),
			transfer("t6", "Y2", "F", 4800, 6*time.Minute),
		)

		if findings := detectAll(t, finder, snap); len(findings) != 0 {
			t.Errorf("expected strictly increasing hops, got %d findings", len(findings))
		}
	})
}
