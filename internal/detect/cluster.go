package detect

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Cluster finds densely connected groups of accounts in the undirected
// projection of the transfer graph.
type Cluster struct {
	cfg domain.ClusterConfig
}

// NewCluster creates a cluster analyzer. Zero fields take the defaults.
func NewCluster(cfg domain.ClusterConfig) *Cluster {
	def := domain.DefaultAnalysisConfig().Cluster
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.MinSize < 2 {
		cfg.MinSize = def.MinSize
	}
	return &Cluster{cfg: cfg}
}

func (c *Cluster) Name() string            { return string(domain.PatternCluster) }
func (c *Cluster) Lookback() time.Duration { return c.cfg.Lookback }
func (c *Cluster) Span() time.Duration     { return c.cfg.Lookback }

// Detect reports connected components of at least MinSize accounts.
func (c *Cluster) Detect(ctx context.Context, snap *Snapshot) ([]domain.Finding, error) {
	g := snap.Graph(c.cfg.Lookback)
	adj := g.Undirected()
	visited := make(map[string]bool, len(adj))
	var findings []domain.Finding

	for _, start := range g.Nodes() {
		if visited[start] {
			continue
		}
		members := component(adj, start, visited)
		if len(members) < c.cfg.MinSize {
			continue
		}

		stats := measure(adj, members)

		var txs []*domain.Transaction
		for _, from := range members {
			for _, e := range g.Out(from) {
				txs = append(txs, e.Transactions...)
			}
		}

		f, err := newFinding(snap.AsOf, findingParts{
			pattern:  domain.PatternCluster,
			subject:  strings.Join(members, ","),
			accounts: members,
			txs:      txs,
			window:   g.Window(),
			detail:   stats,
		})
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// component returns the sorted members of the component containing start.
func component(adj map[string]map[string]int, start string, visited map[string]bool) []string {
	queue := []string{start}
	visited[start] = true
	var members []string

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		members = append(members, n)
		for _, nb := range sortedKeys(adj[n]) {
			if !visited[nb] {
				visited[nb] = true
				queue = append(queue, nb)
			}
		}
	}

	sort.Strings(members)
	return members
}

// measure computes density, average local clustering and degree centrality.
func measure(adj map[string]map[string]int, members []string) domain.ClusterDetail {
	n := len(members)
	edges, weight := 0, 0
	for _, u := range members {
		for v, w := range adj[u] {
			if u < v {
				edges++
				weight += w
			}
		}
	}

	density := 0.0
	if n > 1 {
		density = float64(2*edges) / float64(n*(n-1))
	}

	clustering := 0.0
	central := make([]domain.Centrality, 0, n)
	for _, u := range members {
		neighbors := sortedKeys(adj[u])
		k := len(neighbors)
		if k >= 2 {
			links := 0
			for i := 0; i < k; i++ {
				for j := i + 1; j < k; j++ {
					if _, ok := adj[neighbors[i]][neighbors[j]]; ok {
						links++
					}
				}
			}
			clustering += float64(2*links) / float64(k*(k-1))
		}
		if n > 1 {
			central = append(central, domain.Centrality{AccountID: u, Score: float64(k) / float64(n-1)})
		}
	}
	if n > 0 {
		clustering /= float64(n)
	}

	sort.SliceStable(central, func(i, j int) bool {
		if central[i].Score != central[j].Score {
			return central[i].Score > central[j].Score
		}
		return central[i].AccountID < central[j].AccountID
	})
	if len(central) > 3 {
		central = central[:3]
	}

	return domain.ClusterDetail{
		Size:             n,
		EdgeCount:        edges,
		Density:          density,
		AvgClustering:    clustering,
		Central:          central,
		TransactionCount: weight,
	}
}
