// Package scoring maps Finding attributes to bounded risk scores.
// Each pattern type has exactly one strategy.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Strategy scores Findings of one pattern type.
type Strategy struct {
	Pattern     domain.PatternType
	Description string
	score       func(f *domain.Finding) (float64, error)
}

// Score returns the clamped risk score of f.
func (s Strategy) Score(f *domain.Finding) (float64, error) {
	raw, err := s.score(f)
	if err != nil {
		return 0, err
	}
	return Clamp(raw), nil
}

var registry = map[domain.PatternType]Strategy{
	domain.PatternCarousel: {
		Pattern:     domain.PatternCarousel,
		Description: "0.7 + min(0.1*length, 0.3) + min(amount/100000, 0.2)",
		score: func(f *domain.Finding) (float64, error) {
			d, err := detail[domain.CarouselDetail](f)
			if err != nil {
				return 0, err
			}
			return Carousel(d.PathLength, amount(f)), nil
		},
	},
	domain.PatternVelocityBurst: {
		Pattern:     domain.PatternVelocityBurst,
		Description: "0.5 + min(0.05*count, 0.3) + min(amount/50000, 0.2)",
		score: func(f *domain.Finding) (float64, error) {
			d, err := detail[domain.VelocityDetail](f)
			if err != nil {
				return 0, err
			}
			return Velocity(d.Count, amount(f)), nil
		},
	},
	domain.PatternLayering: {
		Pattern:     domain.PatternLayering,
		Description: "0.6 + min(0.1*chain, 0.3) + min(amount/100000, 0.2)",
		score: func(f *domain.Finding) (float64, error) {
			d, err := detail[domain.LayeringDetail](f)
			if err != nil {
				return 0, err
			}
			return Layering(d.ChainLength, amount(f)), nil
		},
	},
	domain.PatternCluster: {
		Pattern:     domain.PatternCluster,
		Description: "0.4 + min(0.02*size, 0.3) + min(0.5*density, 0.3)",
		score: func(f *domain.Finding) (float64, error) {
			d, err := detail[domain.ClusterDetail](f)
			if err != nil {
				return 0, err
			}
			return Cluster(d.Size, d.Density), nil
		},
	},
	domain.PatternNewDevice: {
		Pattern:     domain.PatternNewDevice,
		Description: "0.3 + min(0.05*tx, 0.3) + min(0.1*accounts, 0.2) + min(amount/10000, 0.2)",
		score: func(f *domain.Finding) (float64, error) {
			d, err := detail[domain.DeviceDetail](f)
			if err != nil {
				return 0, err
			}
			return Device(d.TxCount, d.UniqueAccounts, amount(f)), nil
		},
	},
	domain.PatternSuspiciousIP: {
		Pattern:     domain.PatternSuspiciousIP,
		Description: "0.5 + tor 0.3 + proxy 0.2 + threat (critical 0.2, high 0.1) + min(0.02*tx, 0.2) + min(0.05*accounts, 0.1)",
		score: func(f *domain.Finding) (float64, error) {
			d, err := detail[domain.IPDetail](f)
			if err != nil {
				return 0, err
			}
			return IP(d.IsTor, d.IsProxy, d.ThreatLevel, d.TxCount, d.UniqueAccounts), nil
		},
	},
}

// For returns the strategy registered for a pattern type.
func For(p domain.PatternType) (Strategy, bool) {
	s, ok := registry[p]
	return s, ok
}

// Score scores a Finding with the strategy of its pattern type.
func Score(f *domain.Finding) (float64, error) {
	s, ok := For(f.Pattern)
	if !ok {
		return 0, fmt.Errorf("no scoring strategy for pattern %q", f.Pattern)
	}
	return s.Score(f)
}

// Carousel scores a closed cycle of pathLength edges.
func Carousel(pathLength int, total float64) float64 {
	return Clamp(0.7 + math.Min(0.1*float64(pathLength), 0.3) + math.Min(total/100000, 0.2))
}

// Velocity scores a burst of count outbound transfers.
func Velocity(count int, total float64) float64 {
	return Clamp(0.5 + math.Min(0.05*float64(count), 0.3) + math.Min(total/50000, 0.2))
}

// Layering scores a layered chain of chainLength hops.
func Layering(chainLength int, total float64) float64 {
	return Clamp(0.6 + math.Min(0.1*float64(chainLength), 0.3) + math.Min(total/100000, 0.2))
}

// Cluster scores a connected component.
func Cluster(size int, density float64) float64 {
	return Clamp(0.4 + math.Min(0.02*float64(size), 0.3) + math.Min(0.5*density, 0.3))
}

// Device scores activity from a new device.
func Device(txCount, uniqueAccounts int, total float64) float64 {
	return Clamp(0.3 +
		math.Min(0.05*float64(txCount), 0.3) +
		math.Min(0.1*float64(uniqueAccounts), 0.2) +
		math.Min(total/10000, 0.2))
}

// IP scores activity from an address with adverse reputation.
func IP(tor, proxy bool, threatLevel string, txCount, uniqueAccounts int) float64 {
	score := 0.5
	if tor {
		score += 0.3
	}
	if proxy {
		score += 0.2
	}
	switch threatLevel {
	case domain.ThreatCritical:
		score += 0.2
	case domain.ThreatHigh:
		score += 0.1
	}
	score += math.Min(0.02*float64(txCount), 0.2)
	score += math.Min(0.05*float64(uniqueAccounts), 0.1)
	return Clamp(score)
}

// Clamp bounds a score to [0,1]. NaN maps to 0.
func Clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func amount(f *domain.Finding) float64 {
	return f.TotalAmount.InexactFloat64()
}

func detail[T domain.Detail](f *domain.Finding) (T, error) {
	if d, ok := f.Detail.(T); ok {
		return d, nil
	}
	var zero T
	return zero, fmt.Errorf("finding %s: detail %T does not match pattern %q", f.ID, f.Detail, f.Pattern)
}
