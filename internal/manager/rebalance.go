/*

This file contains the rebalancing algorithm: drift detection against
risk-clamped targets, greedy surplus-to-deficit matching, and plan execution
against the bound adapters.

Execution discipline: every cache and idle-balance adjustment is committed
before the corresponding adapter call is issued. A failed step halts the
plan; already-applied steps stay applied and the remainder comes back as a
residual plan for retry.

*/

package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/basin-labs/vase/internal/risk"
	"github.com/basin-labs/vase/internal/types"
	"github.com/basin-labs/vase/internal/utils"
)

type driftEntry struct {
	id     types.StrategyID
	amount sdkmath.Int // surplus for sources, deficit for sinks
}

// ComputeRebalancePlan refreshes valuations and emits the moves that bring
// every operating slot within the drift tolerance of its risk-clamped
// target. Divest steps precede invest steps; any residual surplus or deficit
// routes through the idle balance via the plan's IdleDelta.
func (m *Manager) ComputeRebalancePlan(ctx context.Context, idleBalance sdkmath.Int) (*types.RebalancePlan, error) {
	if idleBalance.IsNil() || idleBalance.IsNegative() {
		return nil, errors.Join(types.ErrInvalidAmount, fmt.Errorf("idle balance is invalid: %s", idleBalance))
	}

	if _, err := m.RefreshValuations(ctx); err != nil {
		return nil, err
	}

	totalValue := idleBalance.Add(m.TotalAllocated())
	plan := &types.RebalancePlan{
		PlanID:     uuid.New(),
		IdleDelta:  sdkmath.ZeroInt(),
		TotalValue: totalValue,
		CreatedAt:  time.Now().UTC(),
	}
	if totalValue.IsZero() {
		return plan, nil
	}

	var sources, sinks []driftEntry
	for _, slot := range m.slots {
		if !slot.IsOperating() {
			continue
		}

		weightTarget, err := utils.BpsOf(totalValue, slot.EffectiveTargetWeightBps())
		if err != nil {
			return nil, err
		}
		target, err := risk.MaxSafeAllocation(*slot, weightTarget, totalValue)
		if err != nil {
			return nil, err
		}

		drift := slot.CurrentAllocatedValue.Sub(target)
		threshold := m.moveThreshold(target)
		switch {
		case drift.GT(threshold):
			sources = append(sources, driftEntry{id: slot.StrategyID, amount: drift})
		case drift.Neg().GT(threshold):
			sinks = append(sinks, driftEntry{id: slot.StrategyID, amount: drift.Neg()})
		}
	}

	// Largest imbalance first on both sides keeps the step count down.
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].amount.Equal(sources[j].amount) {
			return sources[i].id < sources[j].id
		}
		return sources[i].amount.GT(sources[j].amount)
	})
	sort.Slice(sinks, func(i, j int) bool {
		if sinks[i].amount.Equal(sinks[j].amount) {
			return sinks[i].id < sinks[j].id
		}
		return sinks[i].amount.GT(sinks[j].amount)
	})

	totalSurplus := sdkmath.ZeroInt()
	for _, source := range sources {
		plan.Steps = append(plan.Steps, types.PlanStep{StrategyID: source.id, Delta: source.amount.Neg()})
		totalSurplus = totalSurplus.Add(source.amount)
	}

	// Sinks draw from freed surplus first, then from whatever idle holds.
	available := totalSurplus.Add(idleBalance)
	invested := sdkmath.ZeroInt()
	minMove := sdkmath.NewInt(m.params.MinMoveAmount)
	for _, sink := range sinks {
		give := utils.MinInt(sink.amount, available.Sub(invested))
		if !give.IsPositive() || give.LT(minMove) {
			continue
		}
		plan.Steps = append(plan.Steps, types.PlanStep{StrategyID: sink.id, Delta: give})
		invested = invested.Add(give)
	}

	plan.IdleDelta = totalSurplus.Sub(invested)

	m.log.Debug().
		Str("plan_id", plan.PlanID.String()).
		Int("sources", len(sources)).
		Int("sinks", len(sinks)).
		Int("steps", len(plan.Steps)).
		Str("idle_delta", plan.IdleDelta.String()).
		Str("total_value", totalValue.String()).
		Msg("Rebalance plan computed")
	return plan, nil
}

// ApplyRebalancePlan executes the plan's steps in order against the bound
// adapters and returns the report plus the idle balance after execution.
// The plan is validated against the risk ceilings before any capital moves;
// an unsafe plan is rejected outright with ErrUnsafeRebalance rather than
// truncated.
func (m *Manager) ApplyRebalancePlan(ctx context.Context, plan *types.RebalancePlan, idleBalance sdkmath.Int) (types.ApplyReport, sdkmath.Int, error) {
	if plan == nil {
		return types.ApplyReport{}, idleBalance, errors.Join(types.ErrInvalidAmount, errors.New("plan is nil"))
	}
	report := types.ApplyReport{PlanID: plan.PlanID, TotalSteps: len(plan.Steps)}
	if plan.IsNoOp() {
		return report, idleBalance, nil
	}
	if idleBalance.IsNil() || idleBalance.IsNegative() {
		return report, idleBalance, errors.Join(types.ErrInvalidAmount, fmt.Errorf("idle balance is invalid: %s", idleBalance))
	}
	if !plan.Conserves() {
		return report, idleBalance, errors.Join(types.ErrUnsafeRebalance,
			fmt.Errorf("plan %s does not conserve capital", plan.PlanID))
	}
	if err := m.validatePlan(plan, idleBalance); err != nil {
		return report, idleBalance, err
	}

	idle := idleBalance
	for i, step := range plan.Steps {
		receipt, newIdle, err := m.applyStep(ctx, step, idle)
		report.Receipts = append(report.Receipts, receipt)
		if err != nil {
			report.Halted = true
			report.Residual = m.residualPlan(plan, i)
			m.log.Warn().
				Err(err).
				Str("plan_id", plan.PlanID.String()).
				Str("strategy", string(step.StrategyID)).
				Int("applied", report.AppliedSteps).
				Int("total", report.TotalSteps).
				Msg("Plan partially applied, execution halted on failed step")
			return report, idle, err
		}
		idle = newIdle
		report.AppliedSteps++
	}

	m.log.Info().
		Str("plan_id", plan.PlanID.String()).
		Int("steps", report.AppliedSteps).
		Msg("Rebalance plan fully applied")
	return report, idle, nil
}

// validatePlan rejects plans that would leave a sink above its risk ceiling
// or draw the idle balance negative at any point of the execution order.
// Computed plans always pass; the gate exists for residual-plan retries and
// for plans applied after valuations have moved.
func (m *Manager) validatePlan(plan *types.RebalancePlan, idleBalance sdkmath.Int) error {
	totalValue := idleBalance.Add(m.TotalAllocated())
	idle := idleBalance

	for _, step := range plan.Steps {
		slot, err := m.slot(step.StrategyID)
		if err != nil {
			return err
		}
		if step.Delta.IsNil() || step.Delta.IsZero() {
			return errors.Join(types.ErrInvalidAmount,
				fmt.Errorf("plan step for %s has empty delta", step.StrategyID))
		}

		if step.Delta.IsNegative() {
			amount := step.Delta.Neg()
			if amount.GT(slot.CurrentAllocatedValue) {
				return errors.Join(types.ErrUnsafeRebalance,
					fmt.Errorf("divest of %s from %s exceeds its allocation %s",
						amount, step.StrategyID, slot.CurrentAllocatedValue))
			}
			idle = idle.Add(amount)
			continue
		}

		if !slot.IsOperating() {
			return errors.Join(types.ErrUnsafeRebalance,
				fmt.Errorf("invest into %s which is %s", step.StrategyID, slot.State))
		}
		ceiling, err := risk.MaxSafeAllocation(*slot, totalValue, totalValue)
		if err != nil {
			return err
		}
		if slot.CurrentAllocatedValue.Add(step.Delta).GT(ceiling) {
			return errors.Join(types.ErrUnsafeRebalance,
				fmt.Errorf("invest of %s into %s would exceed its risk ceiling %s",
					step.Delta, step.StrategyID, ceiling))
		}
		if step.Delta.GT(idle) {
			return errors.Join(types.ErrUnsafeRebalance,
				fmt.Errorf("invest of %s into %s exceeds idle liquidity %s at that point of the plan",
					step.Delta, step.StrategyID, idle))
		}
		idle = idle.Sub(step.Delta)
	}
	return nil
}

// applyStep executes one move. The slot cache and idle balance are adjusted
// before the adapter call; on failure the adjustment is reverted and the
// step reports as not applied.
func (m *Manager) applyStep(ctx context.Context, step types.PlanStep, idle sdkmath.Int) (types.StepReceipt, sdkmath.Int, error) {
	receipt := types.StepReceipt{Step: step, Moved: sdkmath.ZeroInt(), Timestamp: time.Now().UTC()}

	slot, err := m.slot(step.StrategyID)
	if err != nil {
		receipt.Message = err.Error()
		return receipt, idle, err
	}
	strategyAdapter, err := m.registry.Get(step.StrategyID)
	if err != nil {
		receipt.Message = err.Error()
		return receipt, idle, err
	}

	if step.Delta.IsNegative() {
		amount := step.Delta.Neg()
		slot.CurrentAllocatedValue = slot.CurrentAllocatedValue.Sub(amount)
		slot.UpdatedAt = receipt.Timestamp

		returned, err := strategyAdapter.Divest(ctx, amount)
		if err != nil {
			slot.CurrentAllocatedValue = slot.CurrentAllocatedValue.Add(amount)
			receipt.Message = err.Error()
			return receipt, idle, errors.Join(types.ErrAdapterFailure, err)
		}
		if returned.IsNil() || returned.IsNegative() {
			returned = sdkmath.ZeroInt()
		}
		// Slippage accepted: whatever came back is what idle gains.
		receipt.Success = true
		receipt.Moved = returned
		if returned.LT(amount) {
			receipt.Message = fmt.Sprintf("divest returned %s of %s requested", returned, amount)
		}
		return receipt, idle.Add(returned), nil
	}

	amount := step.Delta
	idle = idle.Sub(amount)
	slot.CurrentAllocatedValue = slot.CurrentAllocatedValue.Add(amount)
	slot.UpdatedAt = receipt.Timestamp

	invested, err := strategyAdapter.Invest(ctx, amount)
	if err != nil {
		idle = idle.Add(amount)
		slot.CurrentAllocatedValue = slot.CurrentAllocatedValue.Sub(amount)
		receipt.Message = err.Error()
		return receipt, idle, errors.Join(types.ErrAdapterFailure, err)
	}
	receipt.Success = true
	receipt.Moved = amount
	receipt.Message = invested.AdapterRef
	return receipt, idle, nil
}

// residualPlan packages the unapplied steps, failed step included, as a new
// plan for retry. IdleDelta is recomputed so the residual conserves capital.
func (m *Manager) residualPlan(plan *types.RebalancePlan, failedIndex int) *types.RebalancePlan {
	remaining := make([]types.PlanStep, len(plan.Steps[failedIndex:]))
	copy(remaining, plan.Steps[failedIndex:])

	idleDelta := sdkmath.ZeroInt()
	for _, step := range remaining {
		idleDelta = idleDelta.Sub(step.Delta)
	}
	return &types.RebalancePlan{
		PlanID:     uuid.New(),
		Steps:      remaining,
		IdleDelta:  idleDelta,
		TotalValue: plan.TotalValue,
		CreatedAt:  time.Now().UTC(),
	}
}

func (m *Manager) moveThreshold(target sdkmath.Int) sdkmath.Int {
	tolerance := target.MulRaw(m.params.DriftToleranceBps).QuoRaw(utils.BpsDenominator)
	minMove := sdkmath.NewInt(m.params.MinMoveAmount)
	if tolerance.LT(minMove) {
		return minMove
	}
	return tolerance
}
