package scoring

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{7.3, 1},
		{math.Inf(1), 1},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
	}

	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormulas(t *testing.T) {
	t.Run("Carousel", func(t *testing.T) {
		// 0.7 + 0.3 + 0.03 clamps to 1
		if got := Carousel(3, 3000); got != 1 {
			t.Errorf("expected clamp to 1, got %v", got)
		}
		if got := Carousel(0, 0); !almostEqual(got, 0.7) {
			t.Errorf("expected base 0.7, got %v", got)
		}
	})

	t.Run("Velocity", func(t *testing.T) {
		// 0.5 + 0.25 + 0.02
		if got := Velocity(5, 1000); !almostEqual(got, 0.77) {
			t.Errorf("expected 0.77, got %v", got)
		}
		// count and amount terms saturate
		if got := Velocity(100, 1e9); got != 1 {
			t.Errorf("expected 1, got %v", got)
		}
	})

	t.Run("Layering", func(t *testing.T) {
		// 0.6 + 0.3 + 0.05 clamps to 0.95
		if got := Layering(3, 5000); !almostEqual(got, 0.95) {
			t.Errorf("expected 0.95, got %v", got)
		}
	})

	t.Run("Cluster", func(t *testing.T) {
		// 0.4 + 0.12 + min(0.5, 0.3)
		if got := Cluster(6, 1.0); !almostEqual(got, 0.82) {
			t.Errorf("expected 0.82, got %v", got)
		}
		// 0.4 + 0.1 + 0.05
		if got := Cluster(5, 0.1); !almostEqual(got, 0.55) {
			t.Errorf("expected 0.55, got %v", got)
		}
	})

	t.Run("Device", func(t *testing.T) {
		// 0.3 + 0.1 + 0.1 + 0.05
		if got := Device(2, 1, 500); !almostEqual(got, 0.55) {
			t.Errorf("expected 0.55, got %v", got)
		}
	})

	t.Run("IP", func(t *testing.T) {
		if got := IP(false, false, domain.ThreatHigh, 0, 0); !almostEqual(got, 0.6) {
			t.Errorf("expected 0.6, got %v", got)
		}
		if got := IP(false, true, domain.ThreatLow, 5, 2); !almostEqual(got, 0.9) {
			t.Errorf("expected 0.9, got %v", got)
		}
		if got := IP(true, true, domain.ThreatCritical, 50, 50); got != 1 {
			t.Errorf("expected clamp to 1, got %v", got)
		}
	})
}

func TestClampInvariant(t *testing.T) {
	extremes := []float64{-1e12, -1, 0, 1, 1e12, math.MaxFloat64}
	counts := []int{-1000, 0, 1, 1 << 30}

	for _, amt := range extremes {
		for _, n := range counts {
			scores := []float64{
				Carousel(n, amt),
				Velocity(n, amt),
				Layering(n, amt),
				Cluster(n, amt),
				Device(n, n, amt),
				IP(true, true, domain.ThreatCritical, n, n),
			}
			for _, s := range scores {
				if s < 0 || s > 1 {
					t.Fatalf("score %v out of [0,1] for amount=%v count=%d", s, amt, n)
				}
			}
		}
	}
}

func TestScore(t *testing.T) {
	t.Run("EveryPatternHasAStrategy", func(t *testing.T) {
		for _, p := range domain.AllPatterns() {
			if _, ok := For(p); !ok {
				t.Errorf("missing strategy for %s", p)
			}
		}
	})

	t.Run("DispatchesOnPattern", func(t *testing.T) {
		f := &domain.Finding{
			ID:          "f-1",
			Pattern:     domain.PatternVelocityBurst,
			TotalAmount: decimal.NewFromInt(1000),
			Detail:      domain.VelocityDetail{Count: 5},
		}
		got, err := Score(f)
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !almostEqual(got, 0.77) {
			t.Errorf("expected 0.77, got %v", got)
		}
	})

	t.Run("MismatchedDetail", func(t *testing.T) {
		f := &domain.Finding{
			ID:      "f-2",
			Pattern: domain.PatternCarousel,
			Detail:  domain.ClusterDetail{Size: 5},
		}
		if _, err := Score(f); err == nil {
			t.Error("expected error for mismatched detail")
		}
	})

	t.Run("UnknownPattern", func(t *testing.T) {
		f := &domain.Finding{Pattern: "unknown"}
		if _, err := Score(f); err == nil {
			t.Error("expected error for unknown pattern")
		}
	})
}
