// Package circuitbreaker wraps sony/gobreaker's count-based state machine
// with the fractional half-open admission this system's circuit breaker
// spec requires: gobreaker's own half-open gate admits a fixed number of
// requests before deciding closed/open again, not a probability of the
// traffic it sees. A thin recoveryGate sits in front of Execute and decides,
// per call, whether the call is allowed to reach the underlying breaker at
// all while it is half-open.
package circuitbreaker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	"github.com/dgraft/factengine/pkg/shared/logging"
	sharedmath "github.com/dgraft/factengine/pkg/shared/math"
)

// outcomesWindow bounds how many recent Call outcomes feed Metrics.FailureRate.
const outcomesWindow = 100

// Breaker guards calls to a downstream operation (every resilient cache Get
// and remote Store mirror, in this system) behind gobreaker's Closed/Open/
// HalfOpen state machine plus fractional half-open admission.
type Breaker struct {
	cfg     Config
	gb      *gobreaker.CircuitBreaker
	logger  *logging.Logger
	mu       sync.Mutex
	metrics  Metrics
	rng      *rand.Rand
	outcomes []float64 // ring of recent Call outcomes: 1.0 failure, 0.0 success
}

// New constructs a Breaker from cfg. logger may be nil.
func New(cfg Config, logger *logging.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultConfig().TimeoutSeconds
	}

	rng := cfg.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	b := &Breaker{
		cfg:    cfg,
		logger: logger,
		rng:    rng,
	}

	settings := gobreaker.Settings{
		Name: "fact-response-cache",
		// MaxRequests caps how many calls gobreaker itself lets through
		// while half-open; recoveryGate is the real admission control, so
		// this just needs to be large enough to never become the binding
		// constraint ahead of SuccessThreshold consecutive successes.
		MaxRequests: uint32(cfg.SuccessThreshold),
		Interval:    time.Duration(cfg.RollingWindowSeconds) * time.Second,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.mu.Lock()
			b.metrics.StateChanges++
			b.mu.Unlock()
			if b.logger != nil {
				b.logger.Info("circuit breaker state change",
					logging.Fields{}.Custom("breaker", name).
						Custom("from", from.String()).
						Custom("to", to.String()).ToZapFields()...)
			}
		},
	}
	b.gb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	switch b.gb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// GetMetrics returns a point-in-time snapshot of cumulative counters plus
// the rolling failure rate over the most recent outcomesWindow calls.
func (b *Breaker) GetMetrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.metrics
	m.FailureRate = sharedmath.Mean(b.outcomes)
	return m
}

// Call executes op through the breaker. While Open, it fails fast with
// ErrCacheCircuitOpen without ever invoking op (testable property 6). While
// HalfOpen, op is admitted only with probability RecoveryFactor; rejected
// calls also short-circuit with ErrCacheCircuitOpen and do not consume one
// of gobreaker's limited half-open admission slots.
func (b *Breaker) Call(op func() (interface{}, error)) (interface{}, error) {
	if b.gb.State() == gobreaker.StateHalfOpen && !b.admitHalfOpen() {
		b.mu.Lock()
		b.metrics.ShortCircuited++
		b.metrics.RecoveryRejected++
		b.mu.Unlock()
		return nil, facterrors.ErrCacheCircuitOpen
	}

	result, err := b.gb.Execute(op)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			b.mu.Lock()
			b.metrics.ShortCircuited++
			b.mu.Unlock()
			return nil, facterrors.ErrCacheCircuitOpen
		}
		b.mu.Lock()
		b.metrics.Failures++
		b.recordOutcome(1.0)
		b.mu.Unlock()
		return nil, err
	}

	b.mu.Lock()
	b.metrics.Successes++
	b.recordOutcome(0.0)
	b.mu.Unlock()
	return result, nil
}

// recordOutcome appends to the outcomes ring, evicting the oldest sample
// once outcomesWindow is reached. Callers must hold b.mu.
func (b *Breaker) recordOutcome(v float64) {
	b.outcomes = append(b.outcomes, v)
	if len(b.outcomes) > outcomesWindow {
		b.outcomes = b.outcomes[len(b.outcomes)-outcomesWindow:]
	}
}

// admitHalfOpen flips a weighted coin with probability RecoveryFactor.
func (b *Breaker) admitHalfOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.RecoveryFactor >= 1.0 {
		return true
	}
	if b.cfg.RecoveryFactor <= 0.0 {
		return false
	}
	return b.rng.Float64() < b.cfg.RecoveryFactor
}
