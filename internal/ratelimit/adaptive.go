package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"issuesync/internal/events"
)

// AdaptiveConfig controls how the adaptive limiter reacts to outcomes.
type AdaptiveConfig struct {
	// AdaptationFactor is the multiplicative step applied on each
	// adaptation: a struggling remote shrinks the ceiling by this
	// fraction, a healthy one grows it back by the same fraction.
	AdaptationFactor float64

	// MinAdaptation and MaxAdaptation clamp the effective ceiling to
	// [base*MinAdaptation, base*MaxAdaptation].
	MinAdaptation float64
	MaxAdaptation float64

	// AdaptEvery triggers an adaptation automatically after this many
	// recorded outcomes. Zero disables automatic adaptation.
	AdaptEvery int

	// FailureRateThreshold triggers an immediate adaptation when the
	// failure rate since the last adaptation crosses it.
	FailureRateThreshold float64
}

// DefaultAdaptiveConfig returns the documented defaults.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		AdaptationFactor:     0.25,
		MinAdaptation:        0.2,
		MaxAdaptation:        2.0,
		AdaptEvery:           20,
		FailureRateThreshold: 0.5,
	}
}

// Adaptive wraps a Limiter with a multiplicative ceiling adjustment driven
// by observed success/failure outcomes of the calls it gated.
type Adaptive struct {
	*Limiter

	cfg     AdaptiveConfig
	baseMax int
	bus     events.Bus

	mu        sync.Mutex
	effective float64
	successes int
	failures  int
}

// NewAdaptive creates an adaptive limiter with the given base ceiling.
func NewAdaptive(maxRequests int, window time.Duration, cfg AdaptiveConfig, bus events.Bus) (*Adaptive, error) {
	inner, err := New(maxRequests, window)
	if err != nil {
		return nil, err
	}
	if cfg.AdaptationFactor <= 0 || cfg.AdaptationFactor >= 1 {
		return nil, fmt.Errorf("adaptationFactor must be in (0,1), got %v", cfg.AdaptationFactor)
	}
	if cfg.MinAdaptation <= 0 || cfg.MaxAdaptation < cfg.MinAdaptation {
		return nil, fmt.Errorf("invalid adaptation bounds [%v, %v]", cfg.MinAdaptation, cfg.MaxAdaptation)
	}
	if bus == nil {
		bus = events.Nop()
	}
	return &Adaptive{
		Limiter:   inner,
		cfg:       cfg,
		baseMax:   maxRequests,
		bus:       bus,
		effective: float64(maxRequests),
	}, nil
}

// RecordSuccess notes a successful remote call.
func (a *Adaptive) RecordSuccess() {
	a.recordOutcome(true)
}

// RecordFailure notes a failed remote call.
func (a *Adaptive) RecordFailure() {
	a.recordOutcome(false)
}

func (a *Adaptive) recordOutcome(success bool) {
	a.mu.Lock()
	if success {
		a.successes++
	} else {
		a.failures++
	}
	total := a.successes + a.failures
	failureRate := float64(a.failures) / float64(total)

	trigger := (a.cfg.AdaptEvery > 0 && total >= a.cfg.AdaptEvery) ||
		(a.cfg.FailureRateThreshold > 0 && failureRate >= a.cfg.FailureRateThreshold && total >= 4)
	a.mu.Unlock()

	if trigger {
		a.Adapt()
	}
}

// Adapt recomputes the effective ceiling from the outcomes recorded since
// the last adaptation. It can also be invoked manually or from a timer.
func (a *Adaptive) Adapt() {
	a.mu.Lock()

	total := a.successes + a.failures
	if total == 0 {
		a.mu.Unlock()
		return
	}

	successRatio := float64(a.successes) / float64(total)
	if successRatio < 0.5 {
		a.effective *= 1 - a.cfg.AdaptationFactor
	} else {
		a.effective *= 1 + a.cfg.AdaptationFactor*successRatio
	}

	lo := float64(a.baseMax) * a.cfg.MinAdaptation
	hi := float64(a.baseMax) * a.cfg.MaxAdaptation
	if a.effective < lo {
		a.effective = lo
	}
	if a.effective > hi {
		a.effective = hi
	}

	newMax := int(a.effective)
	if newMax < 1 {
		newMax = 1
	}

	a.successes = 0
	a.failures = 0
	a.mu.Unlock()

	a.setMax(newMax)
	a.bus.Publish(events.Event{
		Type: events.TypeRateAdapted,
		Data: map[string]any{
			"max_requests":  newMax,
			"success_ratio": successRatio,
		},
	})
}

// BaseMax returns the configured (unadapted) ceiling.
func (a *Adaptive) BaseMax() int {
	return a.baseMax
}
