/*

This file contains the aggregate-risk circuit breaker. Tripped means the
vault runs in idle-only mode: new deposits stay uninvested and rebalancing is
suspended, while withdrawals continue and emergency withdrawal is enabled.

The trip and release thresholds form a hysteresis band so the breaker does
not flap when aggregate risk hovers around the ceiling.

*/

package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/basin-labs/vase/internal/logger"
	"github.com/basin-labs/vase/internal/types"
	"github.com/basin-labs/vase/internal/utils"
)

var breakerLogger = logger.GetForComponent("risk_breaker")

// BreakerSnapshot is the read-only view exposed on the ops API.
type BreakerSnapshot struct {
	State            types.BreakerState `json:"state"`
	CeilingBps       int64              `json:"ceiling_bps"`
	ReleaseBps       int64              `json:"release_bps"`
	LastAggregateBps int64              `json:"last_aggregate_bps"`
	ChangedAt        time.Time          `json:"changed_at"`
	Forced           bool               `json:"forced"` // operator override pins the state against Evaluate
}

// Breaker is the mutex-guarded circuit breaker over aggregate risk.
type Breaker struct {
	mu            sync.Mutex
	state         types.BreakerState
	ceilingBps    int64
	releaseBps    int64
	lastAggregate int64
	changedAt     time.Time
	forced        bool
}

// NewBreaker returns a released breaker with the given hysteresis band.
func NewBreaker(ceilingBps, releaseBps int64) (*Breaker, error) {
	if ceilingBps <= 0 || ceilingBps > utils.BpsDenominator {
		return nil, fmt.Errorf("breaker ceiling out of range (0,10000]: %d", ceilingBps)
	}
	if releaseBps < 0 || releaseBps >= ceilingBps {
		return nil, fmt.Errorf("breaker release %d must sit below ceiling %d", releaseBps, ceilingBps)
	}
	return &Breaker{
		state:      types.BreakerReleased,
		ceilingBps: ceilingBps,
		releaseBps: releaseBps,
		changedAt:  time.Now().UTC(),
	}, nil
}

// Evaluate feeds a fresh aggregate risk reading through the hysteresis band
// and reports whether the state changed. A forced state never moves on its
// own; only the operator clears it.
func (b *Breaker) Evaluate(aggregateBps int64) (changed bool, state types.BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastAggregate = aggregateBps
	if b.forced {
		return false, b.state
	}

	switch b.state {
	case types.BreakerReleased:
		if aggregateBps >= b.ceilingBps {
			b.transition(types.BreakerTripped)
			breakerLogger.Warn().
				Int64("aggregate_bps", aggregateBps).
				Int64("ceiling_bps", b.ceilingBps).
				Msg("Aggregate risk reached ceiling, circuit breaker tripped")
			return true, b.state
		}
	case types.BreakerTripped:
		if aggregateBps <= b.releaseBps {
			b.transition(types.BreakerReleased)
			breakerLogger.Info().
				Int64("aggregate_bps", aggregateBps).
				Int64("release_bps", b.releaseBps).
				Msg("Aggregate risk subsided, circuit breaker released")
			return true, b.state
		}
	}
	return false, b.state
}

// ForceTrip pins the breaker tripped until ForceRelease.
func (b *Breaker) ForceTrip(by string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = true
	if b.state != types.BreakerTripped {
		b.transition(types.BreakerTripped)
	}
	breakerLogger.Warn().Str("by", by).Msg("Circuit breaker force-tripped by operator")
}

// ForceRelease clears any operator override and releases the breaker.
func (b *Breaker) ForceRelease(by string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forced = false
	if b.state != types.BreakerReleased {
		b.transition(types.BreakerReleased)
	}
	breakerLogger.Info().Str("by", by).Msg("Circuit breaker force-released by operator")
}

// Tripped reports whether the vault is in idle-only mode.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == types.BreakerTripped
}

// SetThresholds replaces the hysteresis band, used when a governance change
// to the risk ceiling executes.
func (b *Breaker) SetThresholds(ceilingBps, releaseBps int64) error {
	if ceilingBps <= 0 || ceilingBps > utils.BpsDenominator {
		return fmt.Errorf("breaker ceiling out of range (0,10000]: %d", ceilingBps)
	}
	if releaseBps < 0 || releaseBps >= ceilingBps {
		return fmt.Errorf("breaker release %d must sit below ceiling %d", releaseBps, ceilingBps)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ceilingBps = ceilingBps
	b.releaseBps = releaseBps
	return nil
}

// Snapshot returns the current breaker view.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:            b.state,
		CeilingBps:       b.ceilingBps,
		ReleaseBps:       b.releaseBps,
		LastAggregateBps: b.lastAggregate,
		ChangedAt:        b.changedAt,
		Forced:           b.forced,
	}
}

func (b *Breaker) transition(to types.BreakerState) {
	b.state = to
	b.changedAt = time.Now().UTC()
}
