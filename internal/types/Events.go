/*

This file contains the engine event type. Every state transition appends
events; they are persisted for audit and broadcast to stream subscribers.

*/

package types

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a state transition outcome.
type EventKind string

const (
	EventDepositSettled    EventKind = "deposit_settled"
	EventWithdrawalSettled EventKind = "withdrawal_settled"
	EventEmergencyPayout   EventKind = "emergency_payout"
	EventSlotActivated     EventKind = "slot_activated"
	EventSlotDraining      EventKind = "slot_draining"
	EventSlotRetired       EventKind = "slot_retired"
	EventPlanComputed      EventKind = "plan_computed"
	EventPlanStepApplied   EventKind = "plan_step_applied"
	EventPlanHalted        EventKind = "plan_halted"
	EventBreakerTripped    EventKind = "breaker_tripped"
	EventBreakerReleased   EventKind = "breaker_released"
	EventVaultPaused       EventKind = "vault_paused"
	EventVaultUnpaused     EventKind = "vault_unpaused"
	EventConfigProposed    EventKind = "config_proposed"
	EventConfigExecuted    EventKind = "config_executed"
	EventConfigCanceled    EventKind = "config_canceled"
)

// Event is an append-only audit record of one transition outcome.
// Attributes hold amounts as decimal strings to survive JSON round-trips.
type Event struct {
	EventID    uuid.UUID         `json:"event_id"`
	Kind       EventKind         `json:"kind"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewEvent stamps a fresh event with an id and timestamp.
func NewEvent(kind EventKind, attrs map[string]string) Event {
	return Event{
		EventID:    uuid.New(),
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Attributes: attrs,
	}
}
