/*

This file contains the strategy manager: the owner of the strategy slot
table, its lifecycle state machine and the valuation refresh that keeps the
per-slot allocation caches honest.

Slot lifecycle: INACTIVE -> ACTIVE -> DRAINING -> INACTIVE. A slot is never
removed while it holds capital; deactivation drains it to zero first.

The manager is not safe for concurrent use on its own; the engine serializes
every transition behind its own mutex.

*/

package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/basin-labs/vase/internal/adapter"
	"github.com/basin-labs/vase/internal/logger"
	"github.com/basin-labs/vase/internal/oracle"
	"github.com/basin-labs/vase/internal/types"
	"github.com/basin-labs/vase/internal/utils"
)

// Manager owns the strategy slot table and all capital movement across the
// bound adapters.
type Manager struct {
	log       zerolog.Logger
	registry  *adapter.Registry
	oracle    oracle.PriceOracle
	baseDenom string
	params    types.EngineParameters
	slots     map[types.StrategyID]*types.StrategySlot
}

// New returns a manager with an empty slot table.
func New(registry *adapter.Registry, priceOracle oracle.PriceOracle, baseDenom string, params types.EngineParameters) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("adapter registry is required")
	}
	if priceOracle == nil {
		return nil, errors.New("price oracle is required")
	}
	if baseDenom == "" {
		return nil, errors.New("base denom is required")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine parameters: %w", err)
	}
	return &Manager{
		log:       logger.GetForComponent("strategy_manager"),
		registry:  registry,
		oracle:    priceOracle,
		baseDenom: baseDenom,
		params:    params,
		slots:     make(map[types.StrategyID]*types.StrategySlot),
	}, nil
}

// Params returns the parameters the manager currently plans with.
func (m *Manager) Params() types.EngineParameters {
	return m.params
}

// SetParams replaces the planning parameters, used when a governance change
// executes.
func (m *Manager) SetParams(params types.EngineParameters) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid engine parameters: %w", err)
	}
	m.params = params
	return nil
}

// AddSlot registers a new slot in INACTIVE state. The slot only starts
// receiving capital after Activate.
func (m *Manager) AddSlot(slot types.StrategySlot) error {
	if slot.StrategyID == "" {
		return errors.Join(types.ErrUnknownStrategy, errors.New("strategy id is empty"))
	}
	if _, exists := m.slots[slot.StrategyID]; exists {
		return fmt.Errorf("strategy %s already registered", slot.StrategyID)
	}
	if slot.TargetWeightBps < 0 || slot.TargetWeightBps > utils.BpsDenominator {
		return errors.Join(types.ErrCapExceeded,
			fmt.Errorf("target weight for %s out of range [0,10000]: %d", slot.StrategyID, slot.TargetWeightBps))
	}
	if slot.MaxCapBps <= 0 || slot.MaxCapBps > utils.BpsDenominator {
		return errors.Join(types.ErrCapExceeded,
			fmt.Errorf("max cap for %s out of range (0,10000]: %d", slot.StrategyID, slot.MaxCapBps))
	}
	if slot.RiskScore < 0 || slot.RiskScore > utils.BpsDenominator {
		return errors.Join(types.ErrInvalidAmount,
			fmt.Errorf("risk score for %s out of range [0,10000]: %d", slot.StrategyID, slot.RiskScore))
	}
	if slot.Denom == "" {
		slot.Denom = m.baseDenom
	}
	if slot.CurrentAllocatedValue.IsNil() {
		slot.CurrentAllocatedValue = sdkmath.ZeroInt()
	}

	slot.State = types.SlotInactive
	slot.UpdatedAt = time.Now().UTC()
	m.slots[slot.StrategyID] = &slot

	m.log.Info().
		Str("strategy", string(slot.StrategyID)).
		Str("adapter_kind", slot.AdapterKind).
		Int64("target_weight_bps", slot.TargetWeightBps).
		Int64("max_cap_bps", slot.MaxCapBps).
		Msg("Strategy slot registered")
	return nil
}

// Activate moves a slot INACTIVE -> ACTIVE. Fails with ErrCapExceeded when
// the active weights would sum past 10000 bps, and requires a bound adapter.
func (m *Manager) Activate(id types.StrategyID) error {
	slot, err := m.slot(id)
	if err != nil {
		return err
	}
	if slot.State != types.SlotInactive {
		return fmt.Errorf("strategy %s is %s, only INACTIVE slots can be activated", id, slot.State)
	}
	if _, err := m.registry.Get(id); err != nil {
		return err
	}

	weightSum := slot.TargetWeightBps
	for _, other := range m.slots {
		if other.State == types.SlotActive {
			weightSum += other.TargetWeightBps
		}
	}
	if weightSum > utils.BpsDenominator {
		return errors.Join(types.ErrCapExceeded,
			fmt.Errorf("activating %s brings active target weights to %d bps", id, weightSum))
	}

	slot.State = types.SlotActive
	slot.UpdatedAt = time.Now().UTC()
	m.log.Info().Str("strategy", string(id)).Msg("Strategy slot activated")
	return nil
}

// Deactivate moves a slot ACTIVE -> DRAINING; successive rebalance plans
// divest it toward zero. A slot that already holds nothing retires
// immediately. Returns the resulting state.
func (m *Manager) Deactivate(id types.StrategyID) (types.SlotState, error) {
	slot, err := m.slot(id)
	if err != nil {
		return "", err
	}
	if slot.State != types.SlotActive {
		return slot.State, fmt.Errorf("strategy %s is %s, only ACTIVE slots can be deactivated", id, slot.State)
	}

	if slot.CurrentAllocatedValue.IsZero() {
		slot.State = types.SlotInactive
		slot.UpdatedAt = time.Now().UTC()
		m.log.Info().Str("strategy", string(id)).Msg("Strategy slot retired with no capital to drain")
		return slot.State, nil
	}

	slot.State = types.SlotDraining
	slot.UpdatedAt = time.Now().UTC()
	m.log.Info().
		Str("strategy", string(id)).
		Str("allocated", slot.CurrentAllocatedValue.String()).
		Msg("Strategy slot draining")
	return slot.State, nil
}

// SetTargetWeight updates an existing slot's target weight, keeping the
// active weight sum within 10000 bps.
func (m *Manager) SetTargetWeight(id types.StrategyID, bps int64) error {
	slot, err := m.slot(id)
	if err != nil {
		return err
	}
	if bps < 0 || bps > utils.BpsDenominator {
		return errors.Join(types.ErrCapExceeded,
			fmt.Errorf("target weight out of range [0,10000]: %d", bps))
	}

	weightSum := int64(0)
	for _, other := range m.slots {
		if other.State != types.SlotActive {
			continue
		}
		if other.StrategyID == id {
			weightSum += bps
		} else {
			weightSum += other.TargetWeightBps
		}
	}
	if weightSum > utils.BpsDenominator {
		return errors.Join(types.ErrCapExceeded,
			fmt.Errorf("setting %s to %d bps brings active target weights to %d bps", id, bps, weightSum))
	}

	slot.TargetWeightBps = bps
	slot.UpdatedAt = time.Now().UTC()
	return nil
}

// SetMaxCap updates an existing slot's hard allocation ceiling.
func (m *Manager) SetMaxCap(id types.StrategyID, bps int64) error {
	slot, err := m.slot(id)
	if err != nil {
		return err
	}
	if bps <= 0 || bps > utils.BpsDenominator {
		return errors.Join(types.ErrCapExceeded,
			fmt.Errorf("max cap out of range (0,10000]: %d", bps))
	}
	slot.MaxCapBps = bps
	slot.UpdatedAt = time.Now().UTC()
	return nil
}

// Slot returns a copy of one slot.
func (m *Manager) Slot(id types.StrategyID) (types.StrategySlot, error) {
	slot, err := m.slot(id)
	if err != nil {
		return types.StrategySlot{}, err
	}
	return *slot, nil
}

// Slots returns copies of every slot sorted by strategy id.
func (m *Manager) Slots() []types.StrategySlot {
	slots := make([]types.StrategySlot, 0, len(m.slots))
	for _, slot := range m.slots {
		slots = append(slots, *slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StrategyID < slots[j].StrategyID
	})
	return slots
}

// Restore replaces the slot table with persisted slots, used at boot.
func (m *Manager) Restore(slots []types.StrategySlot) error {
	restored := make(map[types.StrategyID]*types.StrategySlot, len(slots))
	for _, slot := range slots {
		if slot.StrategyID == "" {
			return errors.Join(types.ErrUnknownStrategy, errors.New("persisted slot has empty strategy id"))
		}
		if _, dup := restored[slot.StrategyID]; dup {
			return fmt.Errorf("duplicate persisted slot %s", slot.StrategyID)
		}
		if slot.CurrentAllocatedValue.IsNil() {
			slot.CurrentAllocatedValue = sdkmath.ZeroInt()
		}
		restoredSlot := slot
		restored[slot.StrategyID] = &restoredSlot
	}
	m.slots = restored
	return nil
}

// TotalAllocated sums the cached allocation values across operating slots.
// Only meaningful right after RefreshValuations within the same transition.
func (m *Manager) TotalAllocated() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, slot := range m.slots {
		if slot.IsOperating() {
			total = total.Add(slot.CurrentAllocatedValue)
		}
	}
	return total
}

// RefreshValuations re-reads every operating slot's valuation and risk score
// from its adapter, converting to the base denom through the oracle. A stale
// or low-confidence oracle reading aborts the whole refresh with no slot
// mutated, so the caller never prices against mixed-age data. Draining slots
// observed at zero retire; their ids are returned.
func (m *Manager) RefreshValuations(ctx context.Context) ([]types.StrategyID, error) {
	freshness := oracle.FreshnessFromParams(m.params)
	now := time.Now().UTC()

	type refreshed struct {
		value sdkmath.Int
		risk  int64
	}
	pending := make(map[types.StrategyID]refreshed, len(m.slots))

	for _, slot := range m.slots {
		if !slot.IsOperating() {
			continue
		}
		strategyAdapter, err := m.registry.Get(slot.StrategyID)
		if err != nil {
			return nil, err
		}

		value, err := strategyAdapter.Valuation(ctx)
		if err != nil {
			return nil, errors.Join(types.ErrAdapterFailure,
				fmt.Errorf("valuation for %s failed: %w", slot.StrategyID, err))
		}
		if value.IsNil() || value.IsNegative() {
			return nil, errors.Join(types.ErrAdapterFailure,
				fmt.Errorf("valuation for %s is invalid: %s", slot.StrategyID, value))
		}

		if slot.Denom != m.baseDenom {
			quote, err := m.oracle.Rate(ctx, slot.Denom, m.baseDenom)
			if err != nil {
				return nil, err
			}
			if err := freshness.Validate(quote, now); err != nil {
				return nil, err
			}
			value = sdkmath.LegacyNewDecFromInt(value).Mul(quote.Rate).TruncateInt()
		}

		score, err := strategyAdapter.RiskScore(ctx)
		if err != nil {
			return nil, errors.Join(types.ErrAdapterFailure,
				fmt.Errorf("risk score for %s failed: %w", slot.StrategyID, err))
		}
		if score < 0 || score > utils.BpsDenominator {
			return nil, errors.Join(types.ErrAdapterFailure,
				fmt.Errorf("risk score for %s out of range [0,10000]: %d", slot.StrategyID, score))
		}

		pending[slot.StrategyID] = refreshed{value: value, risk: score}
	}

	// All reads succeeded; commit in one pass.
	var retired []types.StrategyID
	for id, update := range pending {
		slot := m.slots[id]
		slot.CurrentAllocatedValue = update.value
		slot.RiskScore = update.risk
		slot.UpdatedAt = now
		if slot.State == types.SlotDraining && slot.CurrentAllocatedValue.IsZero() {
			slot.State = types.SlotInactive
			retired = append(retired, id)
			m.log.Info().Str("strategy", string(id)).Msg("Draining slot reached zero, retired")
		}
	}
	sort.Slice(retired, func(i, j int) bool { return retired[i] < retired[j] })
	return retired, nil
}

func (m *Manager) slot(id types.StrategyID) (*types.StrategySlot, error) {
	slot, ok := m.slots[id]
	if !ok {
		return nil, errors.Join(types.ErrUnknownStrategy, fmt.Errorf("strategy %s is not registered", id))
	}
	return slot, nil
}
