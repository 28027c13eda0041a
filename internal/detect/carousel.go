package detect

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
	"github.com/shopspring/decimal"
)

// Carousel finds closed directed cycles whose transfers are chronologically
// coherent: timestamps never decrease along the cycle.
type Carousel struct {
	cfg domain.CarouselConfig
}

// NewCarousel creates a cycle finder. Zero fields take the defaults.
func NewCarousel(cfg domain.CarouselConfig) *Carousel {
	def := domain.DefaultAnalysisConfig().Carousel
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MinLength < 3 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxDepth < cfg.MinLength {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxPathsPerOrigin <= 0 {
		cfg.MaxPathsPerOrigin = def.MaxPathsPerOrigin
	}
	return &Carousel{cfg: cfg}
}

func (c *Carousel) Name() string            { return string(domain.PatternCarousel) }
func (c *Carousel) Lookback() time.Duration { return c.cfg.Lookback }
func (c *Carousel) Span() time.Duration     { return c.cfg.Lookback }

type cycle struct {
	path  []string // origin repeated at the end
	txs   []*domain.Transaction
	total decimal.Decimal
}

func (a *cycle) betterThan(b *cycle) bool {
	if cmp := a.total.Cmp(b.total); cmp != 0 {
		return cmp > 0
	}
	if len(a.txs) != len(b.txs) {
		return len(a.txs) > len(b.txs)
	}
	return strings.Join(a.path, ",") < strings.Join(b.path, ",")
}

// Detect enumerates bounded-depth paths from every account.
func (c *Carousel) Detect(ctx context.Context, snap *Snapshot) ([]domain.Finding, error) {
	g := snap.Graph(c.cfg.Lookback)
	best := make(map[string]*cycle)

	for _, origin := range g.Nodes() {
		c.walk(g, origin, best)
	}

	findings := make([]domain.Finding, 0, len(best))
	for _, key := range sortedKeys(best) {
		cy := best[key]
		f, err := newFinding(snap.AsOf, findingParts{
			pattern:  domain.PatternCarousel,
			subject:  key,
			accounts: cy.path,
			txs:      cy.txs,
			window:   g.Window(),
			detail:   domain.CarouselDetail{PathLength: len(cy.txs)},
		})
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// walk runs the DFS from one origin, recording closed cycles into best.
// Each edge is taken through its earliest transaction that keeps the
// path time-ordered.
func (c *Carousel) walk(g *graph.Graph, origin string, best map[string]*cycle) {
	explored := 0
	path := []string{origin}
	txs := make([]*domain.Transaction, 0, c.cfg.MaxDepth)
	onPath := map[string]bool{origin: true}

	var dfs func(node string, last time.Time)
	dfs = func(node string, last time.Time) {
		for _, e := range g.Out(node) {
			if explored >= c.cfg.MaxPathsPerOrigin {
				return
			}
			tx := e.EarliestAtOrAfter(last)
			if tx == nil {
				continue
			}

			if e.To == origin {
				if len(path) >= c.cfg.MinLength {
					explored++
					record(best, path, append(txs, tx))
				}
				continue
			}
			if onPath[e.To] || len(path) >= c.cfg.MaxDepth {
				continue
			}

			explored++
			path = append(path, e.To)
			txs = append(txs, tx)
			onPath[e.To] = true

			dfs(e.To, tx.Timestamp)

			onPath[e.To] = false
			txs = txs[:len(txs)-1]
			path = path[:len(path)-1]
		}
	}

	dfs(origin, time.Time{})
}

func record(best map[string]*cycle, path []string, txs []*domain.Transaction) {
	members := append([]string(nil), path...)
	sort.Strings(members)
	key := strings.Join(members, ",")

	cand := &cycle{
		path: append(append([]string(nil), path...), path[0]),
		txs:  append([]*domain.Transaction(nil), txs...),
	}
	for _, tx := range cand.txs {
		cand.total = cand.total.Add(tx.Amount)
	}

	if cur, ok := best[key]; !ok || cand.betterThan(cur) {
		best[key] = cand
	}
}
