package gateway

import (
	"sync"

	"github.com/omnichat-platform/omnichat/internal/model"
)

const (
	// ewmaAlpha weights recent observations; higher reacts faster.
	ewmaAlpha = 0.2
	// estimateHeadroom pads the running average so the reservation is an
	// upper bound rather than a midpoint. Over-reservation is released at
	// settle time; under-reservation can overshoot a hard ceiling.
	estimateHeadroom = 1.5
)

// outputEstimator tracks an exponentially weighted moving average of output
// tokens per operation kind, seeded with a configured default. Estimates feed
// the quota reservation, so a kind that consistently produces long outputs
// reserves more up front.
type outputEstimator struct {
	mu   sync.Mutex
	seed int64
	avg  map[model.Kind]float64
}

func newOutputEstimator(seed int64) *outputEstimator {
	return &outputEstimator{
		seed: seed,
		avg:  make(map[model.Kind]float64),
	}
}

// estimate returns a conservative output-token reservation for kind: the
// padded running average, never below the configured seed.
func (e *outputEstimator) estimate(kind model.Kind) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if avg, ok := e.avg[kind]; ok {
		padded := int64(avg * estimateHeadroom)
		if padded < e.seed {
			return e.seed
		}
		return padded
	}
	return e.seed
}

func (e *outputEstimator) observe(kind model.Kind, actual int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if avg, ok := e.avg[kind]; ok {
		e.avg[kind] = (1-ewmaAlpha)*avg + ewmaAlpha*float64(actual)
		return
	}
	e.avg[kind] = float64(actual)
}
