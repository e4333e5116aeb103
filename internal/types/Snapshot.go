/*

This file contains the cycle snapshot: the persisted record of one rebalance
cycle, capturing vault and slot state before and after plan execution.

*/

package types

import (
	"time"

	"github.com/google/uuid"
)

// CycleSnapshot is written once per rebalance cycle. The float fields are
// denormalized copies of the vault totals for cheap analytics queries; the
// authoritative values live in the JSON columns.
type CycleSnapshot struct {
	SnapshotID  int64     `json:"snapshot_id,omitempty"` // assigned by the store
	CycleNumber int       `json:"cycle_number"`
	CycleID     uuid.UUID `json:"cycle_id"`
	Timestamp   time.Time `json:"timestamp"`
	ParamsID    int64     `json:"params_id"`

	VaultBefore Vault          `json:"vault_before"`
	VaultAfter  Vault          `json:"vault_after"`
	SlotsBefore []StrategySlot `json:"slots_before"`
	SlotsAfter  []StrategySlot `json:"slots_after"`

	TotalValueBefore float64 `json:"total_value_before"`
	TotalValueAfter  float64 `json:"total_value_after"`
	IdleBefore       float64 `json:"idle_before"`
	IdleAfter        float64 `json:"idle_after"`

	AggregateRiskBps int64        `json:"aggregate_risk_bps"`
	BreakerState     BreakerState `json:"breaker_state"`

	Plan   *RebalancePlan `json:"plan,omitempty"`
	Report *ApplyReport   `json:"report,omitempty"`
	Events []Event        `json:"events,omitempty"`

	DurationMs int64 `json:"duration_ms"`
}
