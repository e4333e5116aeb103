/*

This file contains the time-locked configuration change types. Every change to
slot configuration or risk ceilings is proposed first and becomes executable
only after the governance delay has elapsed.

*/

package types

import (
	"time"

	"github.com/google/uuid"
)

// ChangeKind names one class of time-locked configuration change.
type ChangeKind string

const (
	ChangeSetTargetWeight   ChangeKind = "set_target_weight"
	ChangeSetMaxCap         ChangeKind = "set_max_cap"
	ChangeSetRiskCeiling    ChangeKind = "set_risk_ceiling"
	ChangeSetDriftTolerance ChangeKind = "set_drift_tolerance"
	ChangeAddSlot           ChangeKind = "add_slot"
	ChangeRetireSlot        ChangeKind = "retire_slot"
)

// ConfigChange is the payload of a proposal. Only the fields relevant to the
// kind are read; the rest stay zero.
type ConfigChange struct {
	Kind       ChangeKind `json:"kind"`
	StrategyID StrategyID `json:"strategy_id,omitempty"`

	// set_target_weight / set_max_cap / set_drift_tolerance
	ValueBps int64 `json:"value_bps,omitempty"`

	// set_risk_ceiling
	CeilingBps int64 `json:"ceiling_bps,omitempty"`
	ReleaseBps int64 `json:"release_bps,omitempty"`

	// add_slot
	Slot *StrategySlot `json:"slot,omitempty"`
}

// ProposalStatus is the lifecycle position of a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "PENDING"
	ProposalExecuted ProposalStatus = "EXECUTED"
	ProposalCanceled ProposalStatus = "CANCELED"
)

// Proposal is a scheduled configuration change. EffectiveAt is stamped at
// proposal time from the configured time-lock delay and never moves.
type Proposal struct {
	ProposalID  uuid.UUID      `json:"proposal_id"`
	Change      ConfigChange   `json:"change"`
	Status      ProposalStatus `json:"status"`
	ProposedBy  string         `json:"proposed_by"`
	ProposedAt  time.Time      `json:"proposed_at"`
	EffectiveAt time.Time      `json:"effective_at"`
	ExecutedAt  *time.Time     `json:"executed_at,omitempty"`
	CanceledAt  *time.Time     `json:"canceled_at,omitempty"`
}
