package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

var errRecordedLoss = errors.New("execution outcome recorded as a loss")

// circuitBreaker is the Arbitrage Engine's admission gate. Consecutive
// losses trip it through gobreaker's own state machine; the other three
// conditions (daily loss, drawdown, venue error-rate spike) are evaluated
// by the Risk Monitor and forced onto the gate via Trip, since gobreaker
// has no notion of "circuit state derived from external metrics". Reset is
// always explicit, never automatic, per the orchestrator's lifecycle.
type circuitBreaker struct {
	settings gobreaker.Settings

	mu           sync.Mutex
	breaker      *gobreaker.CircuitBreaker[struct{}]
	forcedOpen   bool
	forcedReason string
}

func newCircuitBreaker(consecutiveLossLimit int) *circuitBreaker {
	if consecutiveLossLimit <= 0 {
		consecutiveLossLimit = 5
	}
	cb := &circuitBreaker{
		settings: gobreaker.Settings{
			Name:        "arbitrage-admission",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(consecutiveLossLimit)
			},
		},
	}
	cb.breaker = gobreaker.NewCircuitBreaker[struct{}](cb.settings)
	return cb
}

// RecordOutcome feeds one execution result into the consecutive-failure
// count gobreaker trips on. Once gobreaker opens, the trip is latched as a
// forced trip so its Timeout cannot move the gate to half-open on its own.
func (cb *circuitBreaker) RecordOutcome(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	_, _ = cb.breaker.Execute(func() (struct{}, error) {
		if !success {
			return struct{}{}, errRecordedLoss
		}
		return struct{}{}, nil
	})
	if !cb.forcedOpen && cb.breaker.State() == gobreaker.StateOpen {
		cb.forcedOpen = true
		cb.forcedReason = "consecutive_loss_limit"
	}
}

// Trip forces the gate open for a reason outside gobreaker's own counters
// (daily loss, drawdown, venue error-rate spike).
func (cb *circuitBreaker) Trip(reason string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.forcedOpen = true
	cb.forcedReason = reason
}

// Allow reports whether new opportunities may be admitted, and if not, why.
func (cb *circuitBreaker) Allow() (bool, string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.forcedOpen {
		return false, cb.forcedReason
	}
	if cb.breaker.State() == gobreaker.StateOpen {
		return false, "consecutive_loss_limit"
	}
	return true, ""
}

// Reset explicitly clears both the forced trip and gobreaker's own state,
// per the orchestrator's "reset is explicit" lifecycle rule.
func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.forcedOpen = false
	cb.forcedReason = ""
	cb.breaker = gobreaker.NewCircuitBreaker[struct{}](cb.settings)
}
