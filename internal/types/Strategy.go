/*

This file contains the strategy slot type: one configured allocation target
toward an external yield-generating integration, plus its lifecycle states.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// StrategyID identifies one configured strategy slot.
type StrategyID string

// SlotState is the lifecycle state of a strategy slot. A slot is never
// deleted while it still holds capital; it drains to zero first.
type SlotState string

const (
	SlotInactive SlotState = "INACTIVE"
	SlotActive   SlotState = "ACTIVE"
	SlotDraining SlotState = "DRAINING" // divesting toward zero before retirement
)

// StrategySlot is one allocation target. CurrentAllocatedValue is a cache in
// base units, refreshed from the adapter's valuation inside every transition
// that reads it.
type StrategySlot struct {
	StrategyID            StrategyID  `json:"strategy_id"`
	AdapterKind           string      `json:"adapter_kind"`      // registry key binding the slot to its adapter
	Denom                 string      `json:"denom"`             // denom the adapter reports valuations in
	TargetWeightBps       int64       `json:"target_weight_bps"` // sum over active slots <= 10000
	MaxCapBps             int64       `json:"max_cap_bps"`       // hard ceiling independent of target weight
	RiskScore             int64       `json:"risk_score"`        // [0,10000], refreshed from the adapter
	CurrentAllocatedValue sdkmath.Int `json:"current_allocated_value"`
	State                 SlotState   `json:"state"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// IsOperating reports whether the slot currently holds or may hold capital.
func (s *StrategySlot) IsOperating() bool {
	return s.State == SlotActive || s.State == SlotDraining
}

// EffectiveTargetWeightBps is the weight the rebalancer aims for. Draining
// slots target zero so successive plans empty them.
func (s *StrategySlot) EffectiveTargetWeightBps() int64 {
	if s.State != SlotActive {
		return 0
	}
	return s.TargetWeightBps
}
