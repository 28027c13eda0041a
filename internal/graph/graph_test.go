package graph

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func transfer(id, from, to string, amount int64, at time.Duration) *domain.Transaction {
	return &domain.Transaction{
		ID:                id,
		SenderAccountID:   from,
		ReceiverAccountID: to,
		Amount:            decimal.NewFromInt(amount),
		Timestamp:         base.Add(at),
	}
}

func TestBuild(t *testing.T) {
	w := domain.Window{Start: base.Add(-time.Hour), End: base.Add(time.Hour)}
	txs := []*domain.Transaction{
		transfer("t3", "A", "B", 300, 30*time.Minute),
		transfer("t1", "A", "B", 100, 10*time.Minute),
		transfer("t2", "B", "C", 50, 20*time.Minute),
		transfer("self", "C", "C", 999, 0),
		transfer("late", "C", "A", 10, 2*time.Hour),
	}

	g := Build(txs, w)

	t.Run("Aggregates", func(t *testing.T) {
		e := g.Edge("A", "B")
		if e == nil {
			t.Fatal("expected edge A->B")
		}
		if e.Count != 2 {
			t.Errorf("expected count 2, got %d", e.Count)
		}
		if !e.Total.Equal(decimal.NewFromInt(400)) {
			t.Errorf("expected total 400, got %s", e.Total)
		}
		if !e.Latest.Equal(base.Add(30 * time.Minute)) {
			t.Errorf("unexpected latest timestamp %v", e.Latest)
		}
		if e.Transactions[0].ID != "t1" || e.Transactions[1].ID != "t3" {
			t.Errorf("transactions not ordered by time: %s, %s", e.Transactions[0].ID, e.Transactions[1].ID)
		}
	})

	t.Run("DropsSelfAndOutOfWindow", func(t *testing.T) {
		if g.Edge("C", "C") != nil {
			t.Error("self transfer should be dropped")
		}
		if g.Edge("C", "A") != nil {
			t.Error("transfer outside the window should be dropped")
		}
		if g.EdgeCount() != 2 {
			t.Errorf("expected 2 edges, got %d", g.EdgeCount())
		}
	})

	t.Run("Nodes", func(t *testing.T) {
		nodes := g.Nodes()
		want := []string{"A", "B", "C"}
		if len(nodes) != len(want) {
			t.Fatalf("expected %v, got %v", want, nodes)
		}
		for i := range want {
			if nodes[i] != want[i] {
				t.Errorf("expected %v, got %v", want, nodes)
			}
		}
	})

	t.Run("Undirected", func(t *testing.T) {
		adj := g.Undirected()
		if adj["A"]["B"] != 2 || adj["B"]["A"] != 2 {
			t.Errorf("expected symmetric weight 2, got %d/%d", adj["A"]["B"], adj["B"]["A"])
		}
		if adj["C"]["B"] != 1 {
			t.Errorf("expected weight 1 for B-C, got %d", adj["C"]["B"])
		}
	})
}

func TestEdgeSearch(t *testing.T) {
	w := domain.Window{Start: base.Add(-time.Hour), End: base.Add(time.Hour)}
	g := Build([]*domain.Transaction{
		transfer("t1", "A", "B", 1, 0),
		transfer("t2", "A", "B", 1, 10*time.Minute),
	}, w)
	e := g.Edge("A", "B")

	if tx := e.EarliestAtOrAfter(base); tx == nil || tx.ID != "t1" {
		t.Errorf("expected t1 at or after base, got %v", tx)
	}
	if tx := e.EarliestAfter(base); tx == nil || tx.ID != "t2" {
		t.Errorf("expected t2 strictly after base, got %v", tx)
	}
	if tx := e.EarliestAtOrAfter(base.Add(11 * time.Minute)); tx != nil {
		t.Errorf("expected nil, got %s", tx.ID)
	}
}
