// Analyze runs one batch pattern detection pass over the configured ledger.
//
// Usage:
//
//	go run ./cmd/analyze -as-of 2026-03-01T12:00:00Z -top 20
//
// This tool:
//  1. Loads configuration the same way the server does
//  2. Runs every detector over the ledger as of the given time
//  3. Writes alerts for findings at or above the threshold (unless -dry-run)
//  4. Prints the ranked findings, or the full report with -json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/analysis"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func main() {
	asOfFlag := flag.String("as-of", "", "Analysis time, RFC 3339 (default now)")
	threshold := flag.Float64("threshold", -1, "Alert threshold override (0.0-1.0)")
	top := flag.Int("top", 20, "Number of findings to print (0 = all)")
	asJSON := flag.Bool("json", false, "Print the full report as JSON")
	dryRun := flag.Bool("dry-run", false, "Detect only, write no alerts")
	envFile := flag.String("env", "", "Env file to load instead of .env")
	flag.Parse()

	asOf := time.Now()
	if *asOfFlag != "" {
		t, err := time.Parse(time.RFC3339, *asOfFlag)
		if err != nil {
			fail("invalid -as-of: %v", err)
		}
		asOf = t
	}

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		fail("failed to load configuration: %v", err)
	}
	if *threshold >= 0 {
		if *threshold > 1 {
			fail("-threshold must be within [0,1]")
		}
		cfg.Analysis.AlertThreshold = *threshold
	}

	// Keep stdout for the report
	cfg.Logging.Level = "warn"
	logger := config.NewLogger(cfg.Logging, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		fail("failed to open repository: %v", err)
	}
	defer repo.Close()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		fail("failed to initialize cache: %v", err)
	}
	defer cacheImpl.Close()

	var emitter *alert.Emitter
	if !*dryRun {
		emitter = alert.NewEmitter(repo, cacheImpl, nil, cfg.Analysis.AlertThreshold, cfg.Analysis.EmittedKeyTTL)
	}
	orchestrator := analysis.NewOrchestrator(repo, cacheImpl, emitter, detect.Defaults(cfg.Analysis), nil, cfg.Analysis)

	logger.Debug("starting analysis", "as_of", asOf)
	report, err := orchestrator.Run(ctx, asOf)
	if err != nil {
		fail("analysis failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fail("failed to encode report: %v", err)
		}
		return
	}

	printReport(report, *top, emitter)
}

func printReport(report *analysis.Report, top int, emitter *alert.Emitter) {
	fmt.Printf("Run:       %s\n", report.RunID)
	fmt.Printf("As of:     %s\n", report.AsOf.Format(time.RFC3339))
	fmt.Printf("Findings:  %d (%d high risk)\n", report.TotalPatterns, report.HighRisk)
	for _, p := range domain.AllPatterns() {
		if n := report.ByPattern[p]; n > 0 {
			fmt.Printf("  - %-20s %d\n", p, n)
		}
	}
	if emitter == nil {
		fmt.Println("Alerts:    dry run")
	} else {
		a := report.Alerts
		fmt.Printf("Alerts:    %d created, %d duplicate, %d failed, %d below threshold %.2f\n",
			a.Created, a.Duplicates, a.Failed, a.BelowThreshold, emitter.Threshold())
	}
	for _, d := range report.Detectors {
		if d.Error != "" {
			fmt.Printf("Detector %s failed: %s\n", d.Name, d.Error)
		}
	}
	fmt.Println()

	findings := report.Findings
	if top > 0 && len(findings) > top {
		findings = findings[:top]
	}
	if len(findings) == 0 {
		fmt.Println("No patterns found.")
		return
	}

	fmt.Printf("%-4s %-6s %-9s %-20s %14s  %s\n", "#", "SCORE", "SEVERITY", "PATTERN", "AMOUNT", "SUBJECT")
	for i, f := range findings {
		fmt.Printf("%-4d %-6.2f %-9s %-20s %14s  %s\n",
			i+1,
			f.RiskScore,
			domain.SeverityFor(f.RiskScore),
			f.Pattern,
			f.TotalAmount.StringFixed(2),
			truncate(f.Subject, 60),
		)
	}
	if len(report.Findings) > len(findings) {
		fmt.Printf("\n... %d more (use -top 0 to print all)\n", len(report.Findings)-len(findings))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
