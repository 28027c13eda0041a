package detect

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/shopspring/decimal"
)

// Velocity finds senders with a burst of outbound transfers inside a short
// rolling window.
type Velocity struct {
	cfg domain.VelocityConfig
}

// NewVelocity creates a velocity burst finder. Zero fields take the defaults.
func NewVelocity(cfg domain.VelocityConfig) *Velocity {
	def := domain.DefaultAnalysisConfig().Velocity
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = cfg.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &Velocity{cfg: cfg}
}

func (v *Velocity) Name() string        { return string(domain.PatternVelocityBurst) }
func (v *Velocity) Span() time.Duration { return v.cfg.Lookback }

type senderKey struct {
	client string
	sender string
}

// Detect groups transfers by (client, sender account) and flags groups whose
// densest window reaches the threshold.
func (v *Velocity) Detect(ctx context.Context, snap *Snapshot) ([]domain.Finding, error) {
	w := snap.Window(v.cfg.Lookback)
	groups := make(map[string][]*domain.Transaction)
	keys := make(map[string]senderKey)

	for _, tx := range snap.TransactionsIn(w) {
		client := ""
		if acc, ok := snap.Accounts[tx.SenderAccountID]; ok {
			client = acc.ClientID
		}
		k := client + ":" + tx.SenderAccountID
		groups[k] = append(groups[k], tx)
		keys[k] = senderKey{client: client, sender: tx.SenderAccountID}
	}

	var findings []domain.Finding
	for _, k := range sortedKeys(groups) {
		txs := groups[k]
		if len(txs) < v.cfg.Threshold {
			continue
		}

		times := make([]time.Time, len(txs))
		for i, tx := range txs {
			times[i] = tx.Timestamp
		}
		burst := velocity.MaxBurst(times, v.cfg.Window)
		if burst.Count() < v.cfg.Threshold {
			continue
		}

		hit := txs[burst.Start:burst.End]
		total := decimal.Zero
		for _, tx := range hit {
			total = total.Add(tx.Amount)
		}

		f, err := newFinding(snap.AsOf, findingParts{
			pattern:  domain.PatternVelocityBurst,
			subject:  k,
			accounts: []string{keys[k].sender},
			txs:      hit,
			window:   w,
			detail: domain.VelocityDetail{
				ClientID:      keys[k].client,
				SenderAccount: keys[k].sender,
				Count:         len(hit),
				AvgAmount:     total.Div(decimal.NewFromInt(int64(len(hit)))),
				First:         hit[0].Timestamp,
				Last:          hit[len(hit)-1].Timestamp,
				WindowMinutes: int(v.cfg.Window / time.Minute),
			},
		})
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}
