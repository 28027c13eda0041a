// Package detect implements the pattern detectors run by batch analysis.
//
// Detectors are pure functions over a Snapshot. They never write to
// storage and never block accounts.
package detect

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/shopspring/decimal"
)

// Detector finds one family of patterns.
type Detector interface {
	Name() string
	Detect(ctx context.Context, snap *Snapshot) ([]domain.Finding, error)
}

// GraphDetector is a Detector that traverses the transfer graph over its lookback.
type GraphDetector interface {
	Detector
	Lookback() time.Duration
}

// Spanner reports how far back from the as-of time a detector reads transactions.
type Spanner interface {
	Span() time.Duration
}

// FetchSpan returns the widest span among detectors, the range a run must load.
func FetchSpan(detectors []Detector) time.Duration {
	var widest time.Duration
	for _, d := range detectors {
		if s, ok := d.(Spanner); ok && s.Span() > widest {
			widest = s.Span()
		}
	}
	return widest
}

// Snapshot is the immutable input shared by every detector in a run.
type Snapshot struct {
	AsOf         time.Time
	Transactions []*domain.Transaction
	Accounts     map[string]*domain.Account
	Devices      []*domain.Device
	IPs          []*domain.IPAddress

	graphs map[time.Duration]*graph.Graph
}

// NewSnapshot sorts the transactions by timestamp, then ID.
func NewSnapshot(asOf time.Time, txs []*domain.Transaction, accounts map[string]*domain.Account, devices []*domain.Device, ips []*domain.IPAddress) *Snapshot {
	sorted := make([]*domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx != nil {
			sorted = append(sorted, tx)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Timestamp.Equal(b.Timestamp) {
			return a.ID < b.ID
		}
		return a.Timestamp.Before(b.Timestamp)
	})
	if accounts == nil {
		accounts = make(map[string]*domain.Account)
	}

	return &Snapshot{
		AsOf:         asOf,
		Transactions: sorted,
		Accounts:     accounts,
		Devices:      devices,
		IPs:          ips,
		graphs:       make(map[time.Duration]*graph.Graph),
	}
}

// PrepareGraphs builds the graphs for the given lookbacks. It must be
// called before the snapshot is shared between goroutines.
func (s *Snapshot) PrepareGraphs(lookbacks ...time.Duration) {
	for _, d := range lookbacks {
		if _, ok := s.graphs[d]; ok {
			continue
		}
		w := s.Window(d)
		s.graphs[d] = graph.Build(s.TransactionsIn(w), w)
	}
}

// Graph returns the graph over the lookback ending at AsOf. Graphs not
// prepared up front are built on demand and not retained.
func (s *Snapshot) Graph(lookback time.Duration) *graph.Graph {
	if g, ok := s.graphs[lookback]; ok {
		return g
	}
	w := s.Window(lookback)
	return graph.Build(s.TransactionsIn(w), w)
}

// Window returns the lookback window ending at AsOf.
func (s *Snapshot) Window(lookback time.Duration) domain.Window {
	return domain.Lookback(s.AsOf, lookback)
}

// TransactionsIn returns the transactions inside w, in time order.
func (s *Snapshot) TransactionsIn(w domain.Window) []*domain.Transaction {
	lo := sort.Search(len(s.Transactions), func(i int) bool {
		return !s.Transactions[i].Timestamp.Before(w.Start)
	})
	hi := sort.Search(len(s.Transactions), func(i int) bool {
		return !s.Transactions[i].Timestamp.Before(w.End)
	})
	return s.Transactions[lo:hi]
}

// Defaults returns the full detector set for a configuration.
func Defaults(cfg domain.AnalysisConfig) []Detector {
	return []Detector{
		NewCarousel(cfg.Carousel),
		NewVelocity(cfg.Velocity),
		NewLayering(cfg.Layering),
		NewCluster(cfg.Cluster),
		NewDevice(cfg.Device),
		NewIP(cfg.Device),
	}
}

type findingParts struct {
	pattern  domain.PatternType
	subject  string
	accounts []string
	txs      []*domain.Transaction
	window   domain.Window
	detail   domain.Detail
}

// newFinding assembles a Finding and scores it with its pattern strategy.
func newFinding(asOf time.Time, p findingParts) (domain.Finding, error) {
	ids := make([]string, len(p.txs))
	total := decimal.Zero
	for i, tx := range p.txs {
		ids[i] = tx.ID
		total = total.Add(tx.Amount)
	}

	f := domain.Finding{
		ID:             uuid.New().String(),
		Pattern:        p.pattern,
		Subject:        p.subject,
		Accounts:       p.accounts,
		TransactionIDs: ids,
		TotalAmount:    total,
		Window:         p.window,
		DetectedAt:     asOf,
		Detail:         p.detail,
	}

	score, err := scoring.Score(&f)
	if err != nil {
		return domain.Finding{}, err
	}
	f.RiskScore = score
	return f, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func uniqueSenders(txs []*domain.Transaction) []string {
	set := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		set[tx.SenderAccountID] = struct{}{}
	}
	return sortedKeys(set)
}
