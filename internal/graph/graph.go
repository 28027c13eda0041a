// Package graph builds the account-to-account transfer graph for one analysis run.
package graph

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// Edge aggregates every transfer from one account to another.
type Edge struct {
	From   string
	To     string
	Count  int
	Total  decimal.Decimal
	Latest time.Time

	// Transactions are ordered by timestamp, then ID.
	Transactions []*domain.Transaction
}

// EarliestAtOrAfter returns the first transaction on the edge with
// timestamp >= t, or nil.
func (e *Edge) EarliestAtOrAfter(t time.Time) *domain.Transaction {
	i := sort.Search(len(e.Transactions), func(i int) bool {
		return !e.Transactions[i].Timestamp.Before(t)
	})
	if i == len(e.Transactions) {
		return nil
	}
	return e.Transactions[i]
}

// EarliestAfter returns the first transaction on the edge with timestamp > t, or nil.
func (e *Edge) EarliestAfter(t time.Time) *domain.Transaction {
	i := sort.Search(len(e.Transactions), func(i int) bool {
		return e.Transactions[i].Timestamp.After(t)
	})
	if i == len(e.Transactions) {
		return nil
	}
	return e.Transactions[i]
}

// Graph is a directed multigraph of transfers inside a window.
// It is immutable after Build and safe for concurrent reads.
type Graph struct {
	window domain.Window
	nodes  []string
	out    map[string][]*Edge
	edges  map[[2]string]*Edge
}

// Build aggregates the transactions that fall inside w. Self transfers are dropped.
func Build(txs []*domain.Transaction, w domain.Window) *Graph {
	g := &Graph{
		window: w,
		out:    make(map[string][]*Edge),
		edges:  make(map[[2]string]*Edge),
	}
	seen := make(map[string]struct{})

	for _, tx := range txs {
		if tx == nil || !w.Contains(tx.Timestamp) {
			continue
		}
		if tx.SenderAccountID == "" || tx.ReceiverAccountID == "" || tx.SenderAccountID == tx.ReceiverAccountID {
			continue
		}

		key := [2]string{tx.SenderAccountID, tx.ReceiverAccountID}
		e, ok := g.edges[key]
		if !ok {
			e = &Edge{From: key[0], To: key[1]}
			g.edges[key] = e
			g.out[key[0]] = append(g.out[key[0]], e)
		}
		e.Count++
		e.Total = e.Total.Add(tx.Amount)
		if tx.Timestamp.After(e.Latest) {
			e.Latest = tx.Timestamp
		}
		e.Transactions = append(e.Transactions, tx)

		for _, id := range key {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				g.nodes = append(g.nodes, id)
			}
		}
	}

	sort.Strings(g.nodes)
	for _, edges := range g.out {
		sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	}
	for _, e := range g.edges {
		sort.SliceStable(e.Transactions, func(i, j int) bool {
			a, b := e.Transactions[i], e.Transactions[j]
			if a.Timestamp.Equal(b.Timestamp) {
				return a.ID < b.ID
			}
			return a.Timestamp.Before(b.Timestamp)
		})
	}

	return g
}

// Window returns the window the graph was built over.
func (g *Graph) Window() domain.Window {
	return g.window
}

// Nodes returns every account in the graph, sorted.
func (g *Graph) Nodes() []string {
	return g.nodes
}

// Out returns the outbound edges of an account, sorted by target.
func (g *Graph) Out(node string) []*Edge {
	return g.out[node]
}

// Edge returns the aggregated edge from one account to another, or nil.
func (g *Graph) Edge(from, to string) *Edge {
	return g.edges[[2]string{from, to}]
}

// EdgeCount returns the number of distinct ordered account pairs.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Undirected returns the undirected projection: for each account its
// neighbors mapped to the number of transfers in either direction.
func (g *Graph) Undirected() map[string]map[string]int {
	adj := make(map[string]map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		adj[n] = make(map[string]int)
	}
	for key, e := range g.edges {
		adj[key[0]][key[1]] += e.Count
		adj[key[1]][key[0]] += e.Count
	}
	return adj
}
