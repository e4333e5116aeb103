/*

This file contains the engine's time-locked configuration surface. Changes
to slot configuration and risk ceilings route through the governance
scheduler; execution lands back here and applies inside the engine's own
transition.

*/

package engine

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/basin-labs/vase/internal/adapter"
	"github.com/basin-labs/vase/internal/types"
)

// ProposeChange schedules a configuration change behind the time lock.
func (e *Engine) ProposeChange(change types.ConfigChange, by string) (types.Proposal, error) {
	proposal, err := e.gov.Propose(change, by)
	if err != nil {
		return types.Proposal{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.vault.PendingUpgradeTimestamp = e.gov.EarliestPending()
	e.vault.UpdatedAt = time.Now().UTC()
	e.emit(types.EventConfigProposed, map[string]string{
		"proposal_id":  proposal.ProposalID.String(),
		"kind":         string(change.Kind),
		"by":           by,
		"effective_at": proposal.EffectiveAt.Format(time.RFC3339),
	})
	e.commit()
	return proposal, nil
}

// ExecuteChange applies a proposal whose time lock has elapsed.
func (e *Engine) ExecuteChange(id uuid.UUID) (types.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The scheduler calls back into ApplyConfigChange under this lock.
	proposal, err := e.gov.Execute(id)
	if err != nil {
		return proposal, err
	}

	e.vault.PendingUpgradeTimestamp = e.gov.EarliestPending()
	e.vault.UpdatedAt = time.Now().UTC()
	e.emit(types.EventConfigExecuted, map[string]string{
		"proposal_id": proposal.ProposalID.String(),
		"kind":        string(proposal.Change.Kind),
	})
	e.commit()
	return proposal, nil
}

// CancelChange withdraws a pending proposal.
func (e *Engine) CancelChange(id uuid.UUID, by string) (types.Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	proposal, err := e.gov.Cancel(id, by)
	if err != nil {
		return proposal, err
	}

	e.vault.PendingUpgradeTimestamp = e.gov.EarliestPending()
	e.vault.UpdatedAt = time.Now().UTC()
	e.emit(types.EventConfigCanceled, map[string]string{
		"proposal_id": proposal.ProposalID.String(),
		"by":          by,
	})
	e.commit()
	return proposal, nil
}

// Proposals returns every tracked proposal, newest first.
func (e *Engine) Proposals() []types.Proposal {
	return e.gov.Proposals()
}

// RestoreProposals loads persisted proposals at boot.
func (e *Engine) RestoreProposals(proposals []types.Proposal) {
	e.gov.Restore(proposals)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vault.PendingUpgradeTimestamp = e.gov.EarliestPending()
}

// Registry exposes the adapter registry for boot-time binding.
func (e *Engine) Registry() *adapter.Registry {
	return e.registry
}

// ApplyConfigChange implements governance.Applier. It is invoked from
// ExecuteChange with the engine lock already held and must not lock again.
func (e *Engine) ApplyConfigChange(change types.ConfigChange) error {
	switch change.Kind {
	case types.ChangeSetTargetWeight:
		return e.manager.SetTargetWeight(change.StrategyID, change.ValueBps)

	case types.ChangeSetMaxCap:
		return e.manager.SetMaxCap(change.StrategyID, change.ValueBps)

	case types.ChangeSetDriftTolerance:
		params := e.params
		params.DriftToleranceBps = change.ValueBps
		return e.updateParams(params)

	case types.ChangeSetRiskCeiling:
		params := e.params
		params.AggregateRiskCeilingBps = change.CeilingBps
		params.RiskReleaseBps = change.ReleaseBps
		if err := e.updateParams(params); err != nil {
			return err
		}
		return e.breaker.SetThresholds(change.CeilingBps, change.ReleaseBps)

	case types.ChangeAddSlot:
		if change.Slot == nil {
			return errors.New("add_slot change carries no slot")
		}
		if err := e.manager.AddSlot(*change.Slot); err != nil {
			return err
		}
		if _, err := e.registry.Get(change.Slot.StrategyID); err != nil {
			if bindErr := e.registry.Bind(*change.Slot); bindErr != nil {
				return bindErr
			}
		}
		if err := e.manager.Activate(change.Slot.StrategyID); err != nil {
			return err
		}
		e.emit(types.EventSlotActivated, map[string]string{
			"strategy":          string(change.Slot.StrategyID),
			"target_weight_bps": strconv.FormatInt(change.Slot.TargetWeightBps, 10),
		})
		return nil

	case types.ChangeRetireSlot:
		state, err := e.manager.Deactivate(change.StrategyID)
		if err != nil {
			return err
		}
		if state == types.SlotInactive {
			e.emit(types.EventSlotRetired, map[string]string{"strategy": string(change.StrategyID)})
		} else {
			e.emit(types.EventSlotDraining, map[string]string{"strategy": string(change.StrategyID)})
		}
		return nil

	default:
		return fmt.Errorf("unknown change kind %q", change.Kind)
	}
}

// updateParams validates and swaps the engine parameters, propagating them
// to the manager and persisting the new active set.
func (e *Engine) updateParams(params types.EngineParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := e.manager.SetParams(params); err != nil {
		return err
	}
	if err := e.gov.SetTimelock(time.Duration(params.TimelockHours) * time.Hour); err != nil {
		return err
	}
	e.params = params
	if e.paramsStore != nil {
		id, err := e.paramsStore.SaveParams(params)
		if err != nil {
			e.log.Error().Err(err).Msg("Failed to persist updated engine parameters")
		} else {
			e.paramsID = id
		}
	}
	return nil
}
