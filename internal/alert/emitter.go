// Package alert turns ranked findings into persisted, deduplicated alerts.
package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const emittedKeyPrefix = "alert:emitted:"

// Summary counts the outcome of one emission batch.
type Summary struct {
	Created        int      `json:"created"`
	Duplicates     int      `json:"duplicates"`
	Failed         int      `json:"failed"`
	BelowThreshold int      `json:"belowThreshold"`
	AlertIDs       []string `json:"alertIds,omitempty"`
}

// Emitter writes alerts for findings at or above the alert threshold.
type Emitter struct {
	store     domain.AlertStore
	cache     domain.Cache
	bus       domain.EventBus
	threshold float64
	keyTTL    time.Duration
	now       func() time.Time
}

// NewEmitter creates an emitter. cache and eventBus may be nil.
func NewEmitter(store domain.AlertStore, cache domain.Cache, eventBus domain.EventBus, threshold float64, keyTTL time.Duration) *Emitter {
	if keyTTL <= 0 {
		keyTTL = time.Hour
	}
	return &Emitter{
		store:     store,
		cache:     cache,
		bus:       eventBus,
		threshold: threshold,
		keyTTL:    keyTTL,
		now:       time.Now,
	}
}

// Threshold returns the minimum score that produces an alert.
func (e *Emitter) Threshold() float64 {
	return e.threshold
}

// Emit inserts one alert per qualifying finding, each in its own write.
// A failed insert is counted and logged; the rest of the batch continues.
func (e *Emitter) Emit(ctx context.Context, findings []domain.Finding) Summary {
	var sum Summary

	for i := range findings {
		f := &findings[i]
		if f.RiskScore < e.threshold {
			sum.BelowThreshold++
			continue
		}

		key := IdempotencyKey(f)
		if e.seen(ctx, key) {
			sum.Duplicates++
			continue
		}

		a := Build(f, e.now())
		created, err := e.store.InsertAlert(ctx, a)
		if err != nil {
			sum.Failed++
			slog.Error("alert insert failed",
				"pattern", f.Pattern,
				"subject", f.Subject,
				"idempotency_key", key,
				"error", err,
			)
			continue
		}
		e.remember(ctx, key)

		if !created {
			sum.Duplicates++
			continue
		}

		sum.Created++
		sum.AlertIDs = append(sum.AlertIDs, a.ID)
		e.publish(ctx, a)
	}

	return sum
}

// seen reports whether key was recently emitted by this or another node.
func (e *Emitter) seen(ctx context.Context, key string) bool {
	if e.cache == nil {
		return false
	}
	val, err := e.cache.Get(ctx, emittedKeyPrefix+key)
	if err != nil {
		slog.Warn("emitted key lookup failed", "idempotency_key", key, "error", err)
		return false
	}
	return val != nil
}

func (e *Emitter) remember(ctx context.Context, key string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, emittedKeyPrefix+key, []byte("1"), e.keyTTL); err != nil {
		slog.Warn("failed to cache emitted key", "idempotency_key", key, "error", err)
	}
}

func (e *Emitter) publish(ctx context.Context, a *domain.Alert) {
	if e.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, e.bus, domain.TopicAlert, a); err != nil {
		slog.Warn("failed to publish alert", "alert_id", a.ID, "error", err)
	}
}

// Build creates the alert for a finding.
func Build(f *domain.Finding, now time.Time) *domain.Alert {
	return &domain.Alert{
		ID:             uuid.New().String(),
		AlertType:      domain.AlertTypeFraud,
		Severity:       domain.SeverityFor(f.RiskScore),
		Title:          PatternTitle(f.Pattern) + " Detected",
		Description:    fmt.Sprintf("%s with risk score %.2f", describe(f.Pattern), f.RiskScore),
		RiskScore:      f.RiskScore,
		AutoGenerated:  true,
		Status:         domain.AlertStatusOpen,
		CreatedAt:      now.UTC(),
		IdempotencyKey: IdempotencyKey(f),
		Pattern:        f.Pattern,
		Accounts:       f.Accounts,
	}
}

// IdempotencyKey identifies a finding across runs: the same pattern
// instance over the same window always maps to the same key.
func IdempotencyKey(f *domain.Finding) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s",
		f.Pattern,
		f.Subject,
		f.Window.Start.UTC().Format(time.RFC3339Nano),
		f.Window.End.UTC().Format(time.RFC3339Nano),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// PatternTitle renders a pattern type as a title, e.g. "Network Cluster".
func PatternTitle(p domain.PatternType) string {
	words := strings.Fields(patternWords(p))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// describe renders a pattern for a sentence, e.g. "Suspicious network cluster".
func describe(p domain.PatternType) string {
	words := patternWords(p)
	if !strings.HasPrefix(words, "suspicious ") {
		words = "suspicious " + words
	}
	return strings.ToUpper(words[:1]) + words[1:]
}

func patternWords(p domain.PatternType) string {
	return strings.ReplaceAll(strings.ReplaceAll(string(p), "_ip", "_IP"), "_", " ")
}
