// Package ratelimit wraps a generator.Generator with an adaptive
// tokens-per-minute limiter, grounded on the teacher's
// features/model/middleware.AdaptiveRateLimiter: estimate the request's
// token cost, block until the bucket has capacity, then widen or halve the
// effective budget in response to whether the call succeeded.
//
// The cluster-coordinated variant (teacher's rmap-backed budget sharing)
// is dropped here: this module has no Pulse replicated-map dependency, so
// the limiter is process-local only.
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/flowforge/intentexec/internal/generator"
)

// ErrRateLimited is returned by the wrapped generator when the provider
// itself signals throttling, triggering an immediate budget halving.
var ErrRateLimited = errors.New("generator: rate limited by provider")

// Limiter applies an AIMD token bucket in front of a generator.Generator.
type Limiter struct {
	mu sync.Mutex

	next generator.Generator
	bkt  *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// New wraps next with an adaptive limiter budgeted at initialTPM tokens per
// minute, growing toward maxTPM as calls succeed and halving toward a floor
// of 10% of initialTPM whenever ErrRateLimited is observed.
func New(next generator.Generator, initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		next:         next,
		bkt:          rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Generate blocks for the estimated token cost of prompt+system, then
// delegates to the wrapped generator and adjusts the budget from the
// outcome.
func (l *Limiter) Generate(ctx context.Context, prompt, system string, schema any, temperature float64, timeoutMs int) (map[string]any, generator.Response, error) {
	cost := estimateTokens(prompt, system)
	if err := l.bkt.WaitN(ctx, cost); err != nil {
		return nil, generator.Response{}, err
	}

	data, resp, err := l.next.Generate(ctx, prompt, system, schema, temperature, timeoutMs)
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	} else if err == nil {
		l.probe()
	}
	return data, resp, err
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM * 0.5
	if next < l.minTPM {
		next = l.minTPM
	}
	l.setLocked(next)
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM + l.recoveryRate
	if next > l.maxTPM {
		next = l.maxTPM
	}
	l.setLocked(next)
}

func (l *Limiter) setLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.bkt.SetLimit(rate.Limit(tpm / 60.0))
	l.bkt.SetBurst(int(tpm))
}

// estimateTokens approximates the request's token cost from character
// count (~1 token per 3 characters) plus a fixed buffer for framing.
func estimateTokens(prompt, system string) int {
	chars := len(prompt) + len(system)
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
