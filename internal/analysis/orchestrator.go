// Package analysis runs the batch pattern detectors over the ledger and
// emits alerts for the findings.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const lockKey = "analysis:lock"

// Run results recorded in metrics.
const (
	resultCompleted  = "completed"
	resultFailed     = "failed"
	resultInProgress = "in_progress"
)

// DetectorRun is the outcome of one detector within a run.
type DetectorRun struct {
	Name       string `json:"name"`
	Findings   int    `json:"findings"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Report is the result of one analysis run.
type Report struct {
	RunID         string                     `json:"runId"`
	AsOf          time.Time                  `json:"asOf"`
	Findings      []domain.Finding           `json:"findings"`
	TotalPatterns int                        `json:"totalPatterns"`
	HighRisk      int                        `json:"highRisk"`
	ByPattern     map[domain.PatternType]int `json:"byPattern"`
	Alerts        alert.Summary              `json:"alerts"`
	Detectors     []DetectorRun              `json:"detectors"`
	DurationMs    int64                      `json:"durationMs"`
}

// Orchestrator coordinates one analysis run at a time.
type Orchestrator struct {
	ledger    domain.Ledger
	cache     domain.Cache
	emitter   *alert.Emitter
	detectors []detect.Detector
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	alignment time.Duration
	lockTTL   time.Duration
	highRisk  float64

	running atomic.Bool
}

// NewOrchestrator creates an orchestrator running detectors over ledger.
// cache and m may be nil; without a cache the run lock is process-local.
func NewOrchestrator(ledger domain.Ledger, cache domain.Cache, emitter *alert.Emitter, detectors []detect.Detector, m *metrics.Metrics, cfg domain.AnalysisConfig) *Orchestrator {
	def := domain.DefaultAnalysisConfig()
	if cfg.WindowAlignment <= 0 {
		cfg.WindowAlignment = def.WindowAlignment
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.HighRiskThreshold <= 0 {
		cfg.HighRiskThreshold = def.HighRiskThreshold
	}

	return &Orchestrator{
		ledger:    ledger,
		cache:     cache,
		emitter:   emitter,
		detectors: detectors,
		metrics:   m,
		tracer:    otel.Tracer("kestrel/analysis"),
		alignment: cfg.WindowAlignment,
		lockTTL:   cfg.LockTTL,
		highRisk:  cfg.HighRiskThreshold,
	}
}

// Run executes every detector over the ledger as of asOf and emits alerts
// for the ranked findings. It returns ErrRunInProgress when another run
// holds the lock, and ErrStorageUnavailable when the ledger cannot be read.
func (o *Orchestrator) Run(ctx context.Context, asOf time.Time) (*Report, error) {
	start := time.Now()
	runID := uuid.New().String()
	asOf = asOf.UTC().Truncate(o.alignment)

	ctx, span := o.tracer.Start(ctx, "analysis.run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("as_of", asOf.Format(time.RFC3339)),
		),
	)
	defer span.End()

	release, err := o.acquire(ctx, runID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrRunInProgress) {
			o.metrics.RecordRun(resultInProgress, 0)
		}
		return nil, err
	}
	defer release()

	snap, err := o.load(ctx, asOf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger load failed")
		o.metrics.RecordRun(resultFailed, 0)
		slog.Error("analysis run aborted", "run_id", runID, "error", err)
		return nil, err
	}

	findings, detectors := o.detect(ctx, snap)
	rank(findings)

	report := &Report{
		RunID:         runID,
		AsOf:          asOf,
		Findings:      findings,
		TotalPatterns: len(findings),
		ByPattern:     make(map[domain.PatternType]int),
		Detectors:     detectors,
	}
	for _, f := range findings {
		report.ByPattern[f.Pattern]++
		if f.RiskScore >= o.highRisk {
			report.HighRisk++
		}
	}
	for pattern, n := range report.ByPattern {
		o.metrics.RecordFindings(string(pattern), n)
	}

	if o.emitter != nil {
		report.Alerts = o.emitter.Emit(ctx, findings)
		s := report.Alerts
		o.metrics.RecordAlerts(s.Created, s.Duplicates, s.Failed, s.BelowThreshold)
	}

	elapsed := time.Since(start)
	report.DurationMs = elapsed.Milliseconds()
	o.metrics.RecordRun(resultCompleted, elapsed)

	span.SetAttributes(
		attribute.Int("total_patterns", report.TotalPatterns),
		attribute.Int("alerts_created", report.Alerts.Created),
	)
	slog.Info("analysis run completed",
		"run_id", runID,
		"as_of", asOf,
		"transactions", len(snap.Transactions),
		"total_patterns", report.TotalPatterns,
		"high_risk", report.HighRisk,
		"alerts_created", report.Alerts.Created,
		"alerts_duplicate", report.Alerts.Duplicates,
		"alerts_failed", report.Alerts.Failed,
		"duration_ms", report.DurationMs,
	)

	return report, nil
}

// acquire takes the run lock. The returned release func must be called.
func (o *Orchestrator) acquire(ctx context.Context, runID string) (func(), error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, domain.ErrRunInProgress
	}
	if o.cache == nil {
		return func() { o.running.Store(false) }, nil
	}

	ok, err := o.cache.SetNX(ctx, lockKey, []byte(runID), o.lockTTL)
	if err != nil {
		o.running.Store(false)
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		o.running.Store(false)
		return nil, domain.ErrRunInProgress
	}

	return func() {
		// The run context may already be cancelled
		if err := o.cache.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
			slog.Warn("failed to release run lock", "run_id", runID, "error", err)
		}
		o.running.Store(false)
	}, nil
}

// load reads everything the detectors need in one ledger session.
func (o *Orchestrator) load(ctx context.Context, asOf time.Time) (*detect.Snapshot, error) {
	session, err := o.ledger.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	txs, err := session.FetchTransactions(ctx, domain.Lookback(asOf, detect.FetchSpan(o.detectors)))
	if err != nil {
		return nil, err
	}

	var devices []*domain.Device
	if maxAge := o.deviceMaxAge(); maxAge > 0 {
		devices, err = session.FetchDevices(ctx, domain.Lookback(asOf, maxAge))
		if err != nil {
			return nil, err
		}
	}

	ips, err := session.FetchIPs(ctx, domain.IPFilter{SuspiciousOnly: true})
	if err != nil {
		return nil, err
	}

	accounts, err := session.FetchAccounts(ctx, participants(txs))
	if err != nil {
		return nil, err
	}

	snap := detect.NewSnapshot(asOf, txs, accounts, devices, ips)

	var lookbacks []time.Duration
	for _, d := range o.detectors {
		if g, ok := d.(detect.GraphDetector); ok {
			lookbacks = append(lookbacks, g.Lookback())
		}
	}
	snap.PrepareGraphs(lookbacks...)

	return snap, nil
}

func (o *Orchestrator) deviceMaxAge() time.Duration {
	var maxAge time.Duration
	for _, d := range o.detectors {
		if dev, ok := d.(*detect.Device); ok && dev.MaxAge() > maxAge {
			maxAge = dev.MaxAge()
		}
	}
	return maxAge
}

// detect runs every detector in its own goroutine. A failing or panicking
// detector contributes no findings and does not affect the others.
func (o *Orchestrator) detect(ctx context.Context, snap *detect.Snapshot) ([]domain.Finding, []DetectorRun) {
	results := make([][]domain.Finding, len(o.detectors))
	runs := make([]DetectorRun, len(o.detectors))

	var wg sync.WaitGroup
	for i, d := range o.detectors {
		wg.Add(1)
		go func(i int, d detect.Detector) {
			defer wg.Done()
			results[i], runs[i] = o.runDetector(ctx, d, snap)
		}(i, d)
	}
	wg.Wait()

	var findings []domain.Finding
	for _, r := range results {
		findings = append(findings, r...)
	}
	return findings, runs
}

func (o *Orchestrator) runDetector(ctx context.Context, d detect.Detector, snap *detect.Snapshot) (findings []domain.Finding, run DetectorRun) {
	ctx, span := o.tracer.Start(ctx, "analysis.detect",
		trace.WithAttributes(attribute.String("detector", d.Name())),
	)
	start := time.Now()
	run.Name = d.Name()

	defer func() {
		if r := recover(); r != nil {
			findings = nil
			run.Error = fmt.Sprintf("panic: %v", r)
		}
		elapsed := time.Since(start)
		run.DurationMs = elapsed.Milliseconds()
		run.Findings = len(findings)

		failed := run.Error != ""
		if failed {
			span.SetStatus(codes.Error, run.Error)
			slog.Error("detector failed",
				"detector", run.Name,
				"error", run.Error,
			)
		}
		span.SetAttributes(attribute.Int("findings", run.Findings))
		span.End()
		o.metrics.ObserveDetector(run.Name, elapsed, failed)
	}()

	findings, err := d.Detect(ctx, snap)
	if err != nil {
		span.RecordError(err)
		return nil, DetectorRun{Name: d.Name(), Error: err.Error()}
	}
	return findings, run
}

// rank orders findings by risk score descending, then pattern, then subject.
func rank(findings []domain.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		if a.Pattern != b.Pattern {
			return a.Pattern < b.Pattern
		}
		return a.Subject < b.Subject
	})
}

func participants(txs []*domain.Transaction) []string {
	seen := make(map[string]struct{}, len(txs))
	var ids []string
	for _, tx := range txs {
		for _, id := range []string{tx.SenderAccountID, tx.ReceiverAccountID} {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
