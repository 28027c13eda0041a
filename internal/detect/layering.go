package detect

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graph"
)

// Layering finds funds pushed from an originator through pass-through
// accounts to a distinct final beneficiary.
type Layering struct {
	cfg domain.LayeringConfig
}

// NewLayering creates a layered chain finder. Zero fields take the defaults.
func NewLayering(cfg domain.LayeringConfig) *Layering {
	def := domain.DefaultAnalysisConfig().Layering
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MinLayers < 2 {
		cfg.MinLayers = def.MinLayers
	}
	if cfg.MaxChainsPerOrigin <= 0 {
		cfg.MaxChainsPerOrigin = def.MaxChainsPerOrigin
	}
	return &Layering{cfg: cfg}
}

func (l *Layering) Name() string            { return string(domain.PatternLayering) }
func (l *Layering) Lookback() time.Duration { return l.cfg.Lookback }
func (l *Layering) Span() time.Duration     { return l.cfg.Lookback }

// chainGroup collects every chain between one originator and one beneficiary.
type chainGroup struct {
	firstHops map[string]struct{}
	middle    map[string]struct{}
	txs       map[string]*domain.Transaction
	chains    int
}

// Detect follows strictly chronological chains of MinLayers hops and
// reports (originator, beneficiary) pairs reached through at least
// MinLayers-1 distinct first-hop intermediaries.
func (l *Layering) Detect(ctx context.Context, snap *Snapshot) ([]domain.Finding, error) {
	g := snap.Graph(l.cfg.Lookback)
	var findings []domain.Finding

	for _, origin := range g.Nodes() {
		groups := l.chainsFrom(g, origin)

		for _, final := range sortedKeys(groups) {
			grp := groups[final]
			if len(grp.firstHops) < l.cfg.MinLayers-1 {
				continue
			}

			middle := sortedKeys(grp.middle)
			accounts := make([]string, 0, len(middle)+2)
			accounts = append(accounts, origin)
			accounts = append(accounts, middle...)
			accounts = append(accounts, final)

			txs := make([]*domain.Transaction, 0, len(grp.txs))
			for _, id := range sortedKeys(grp.txs) {
				txs = append(txs, grp.txs[id])
			}

			f, err := newFinding(snap.AsOf, findingParts{
				pattern:  domain.PatternLayering,
				subject:  origin + "->" + final,
				accounts: accounts,
				txs:      txs,
				window:   g.Window(),
				detail: domain.LayeringDetail{
					Originator:     origin,
					Beneficiary:    final,
					ChainLength:    l.cfg.MinLayers,
					ChainCount:     grp.chains,
					Intermediaries: middle,
				},
			})
			if err != nil {
				return nil, err
			}
			findings = append(findings, f)
		}
	}
	return findings, nil
}

func (l *Layering) chainsFrom(g *graph.Graph, origin string) map[string]*chainGroup {
	groups := make(map[string]*chainGroup)
	chains := 0
	path := []string{origin}
	txs := make([]*domain.Transaction, 0, l.cfg.MinLayers)
	onPath := map[string]bool{origin: true}

	var dfs func(node string, last time.Time, first bool)
	dfs = func(node string, last time.Time, first bool) {
		for _, e := range g.Out(node) {
			if chains >= l.cfg.MaxChainsPerOrigin {
				return
			}
			if onPath[e.To] {
				continue
			}
			var tx *domain.Transaction
			if first {
				tx = e.EarliestAtOrAfter(last)
			} else {
				tx = e.EarliestAfter(last)
			}
			if tx == nil {
				continue
			}

			if len(txs)+1 == l.cfg.MinLayers {
				chains++
				grp, ok := groups[e.To]
				if !ok {
					grp = &chainGroup{
						firstHops: make(map[string]struct{}),
						middle:    make(map[string]struct{}),
						txs:       make(map[string]*domain.Transaction),
					}
					groups[e.To] = grp
				}
				grp.chains++
				grp.firstHops[path[1]] = struct{}{}
				for _, acc := range path[1:] {
					grp.middle[acc] = struct{}{}
				}
				for _, t := range txs {
					grp.txs[t.ID] = t
				}
				grp.txs[tx.ID] = tx
				continue
			}

			path = append(path, e.To)
			txs = append(txs, tx)
			onPath[e.To] = true

			dfs(e.To, tx.Timestamp, false)

			onPath[e.To] = false
			txs = txs[:len(txs)-1]
			path = path[:len(path)-1]
		}
	}

	dfs(origin, time.Time{}, true)
	return groups
}
