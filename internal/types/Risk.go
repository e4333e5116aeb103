/*

This file contains the ephemeral risk snapshot derived from adapter-reported
scores. Snapshots are computed fresh each time they are needed and are never
persisted.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// SlotRisk is the per-strategy entry of a risk snapshot.
type SlotRisk struct {
	StrategyID        StrategyID  `json:"strategy_id"`
	RiskScore         int64       `json:"risk_score"`
	MaxSafeAllocation sdkmath.Int `json:"max_safe_allocation"`
}

// RiskSnapshot maps each operating strategy to its risk ceiling plus the
// value-weighted aggregate across all of them, in bps.
type RiskSnapshot struct {
	Slots            map[StrategyID]SlotRisk `json:"slots"`
	AggregateRiskBps int64                   `json:"aggregate_risk_bps"`
	TakenAt          time.Time               `json:"taken_at"`
}

// BreakerState is the circuit breaker position over aggregate risk.
// Tripped means idle-only mode: no new investment, withdrawals unaffected.
type BreakerState string

const (
	BreakerReleased BreakerState = "RELEASED"
	BreakerTripped  BreakerState = "TRIPPED"
)
