/*

This file contains the risk assessment math: the per-slot allocation ceiling
every capital movement into a strategy must pass through, and the
value-weighted aggregate risk used to gate new investment.

Clamping is never silent. MaxSafeAllocation returns the clamped amount to the
caller, who decides whether a partial allocation is acceptable or the plan
must abort.

*/

package risk

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/basin-labs/vase/internal/types"
	"github.com/basin-labs/vase/internal/utils"
)

// MaxSafeAllocation returns the largest amount the slot may hold:
// min(proposedTotal * (10000 - riskScore)/10000, maxCapBps of vault value).
func MaxSafeAllocation(slot types.StrategySlot, proposedTotal, vaultTotalValue sdkmath.Int) (sdkmath.Int, error) {
	if slot.RiskScore < 0 || slot.RiskScore > utils.BpsDenominator {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount,
			fmt.Errorf("risk score for %s out of range [0,10000]: %d", slot.StrategyID, slot.RiskScore))
	}
	if slot.MaxCapBps < 0 || slot.MaxCapBps > utils.BpsDenominator {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount,
			fmt.Errorf("max cap for %s out of range [0,10000]: %d", slot.StrategyID, slot.MaxCapBps))
	}
	if proposedTotal.IsNil() || proposedTotal.IsNegative() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount,
			fmt.Errorf("proposed total is invalid: %s", proposedTotal))
	}
	if vaultTotalValue.IsNil() || vaultTotalValue.IsNegative() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount,
			fmt.Errorf("vault total value is invalid: %s", vaultTotalValue))
	}

	riskLimited, err := utils.BpsOf(proposedTotal, utils.BpsDenominator-slot.RiskScore)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	capLimited, err := utils.BpsOf(vaultTotalValue, slot.MaxCapBps)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.MinInt(riskLimited, capLimited), nil
}

// AssessAggregate returns the value-weighted average risk over the operating
// slots, in bps. A vault with no allocated capital carries zero aggregate
// risk regardless of scores: risk only materializes through exposure.
func AssessAggregate(slots []types.StrategySlot) (int64, error) {
	weighted := sdkmath.ZeroInt()
	totalAllocated := sdkmath.ZeroInt()

	for _, slot := range slots {
		if !slot.IsOperating() {
			continue
		}
		if slot.RiskScore < 0 || slot.RiskScore > utils.BpsDenominator {
			return 0, errors.Join(types.ErrInvalidAmount,
				fmt.Errorf("risk score for %s out of range [0,10000]: %d", slot.StrategyID, slot.RiskScore))
		}
		if slot.CurrentAllocatedValue.IsNil() || slot.CurrentAllocatedValue.IsNegative() {
			return 0, errors.Join(types.ErrInvalidAmount,
				fmt.Errorf("allocated value for %s is invalid: %s", slot.StrategyID, slot.CurrentAllocatedValue))
		}
		weighted = weighted.Add(slot.CurrentAllocatedValue.MulRaw(slot.RiskScore))
		totalAllocated = totalAllocated.Add(slot.CurrentAllocatedValue)
	}

	if totalAllocated.IsZero() {
		return 0, nil
	}
	return weighted.Quo(totalAllocated).Int64(), nil
}

// Snapshot derives the ephemeral risk view over the given slots against the
// vault total value, mapping each operating slot to its allocation ceiling.
func Snapshot(slots []types.StrategySlot, vaultTotalValue sdkmath.Int) (types.RiskSnapshot, error) {
	snapshot := types.RiskSnapshot{
		Slots:   make(map[types.StrategyID]types.SlotRisk, len(slots)),
		TakenAt: time.Now().UTC(),
	}

	for _, slot := range slots {
		if !slot.IsOperating() {
			continue
		}
		maxSafe, err := MaxSafeAllocation(slot, vaultTotalValue, vaultTotalValue)
		if err != nil {
			return types.RiskSnapshot{}, err
		}
		snapshot.Slots[slot.StrategyID] = types.SlotRisk{
			StrategyID:        slot.StrategyID,
			RiskScore:         slot.RiskScore,
			MaxSafeAllocation: maxSafe,
		}
	}

	aggregate, err := AssessAggregate(slots)
	if err != nil {
		return types.RiskSnapshot{}, err
	}
	snapshot.AggregateRiskBps = aggregate
	return snapshot, nil
}
