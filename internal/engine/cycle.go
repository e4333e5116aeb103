/*

This file contains the scheduled rebalance cycle: refresh valuations, feed
aggregate risk through the circuit breaker, and when the breaker is
released, compute and apply a rebalance plan. Each cycle is captured as a
persisted snapshot.

*/

package engine

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/basin-labs/vase/internal/risk"
	"github.com/basin-labs/vase/internal/types"
	"github.com/basin-labs/vase/internal/utils"
)

// RunCycle executes one rebalance cycle as a single engine transition.
// Errors abort the cycle and are returned for the scheduler to log; user
// operations are unaffected.
func (e *Engine) RunCycle(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()
	cycleID := uuid.New()
	cycleLogger := e.log.With().Str("cycle_id", cycleID.String()).Logger()
	cycleLogger.Info().Msg("Rebalance cycle starting")

	snapshot := types.CycleSnapshot{
		CycleID:     cycleID,
		Timestamp:   started.UTC(),
		ParamsID:    e.paramsID,
		VaultBefore: e.vault,
		SlotsBefore: e.manager.Slots(),
	}
	if e.store != nil {
		number, err := e.store.NextCycleNumber()
		if err != nil {
			cycleLogger.Error().Err(err).Msg("Failed to advance cycle counter")
		} else {
			snapshot.CycleNumber = number
		}
	}

	retired, err := e.manager.RefreshValuations(ctx)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: valuation refresh failed")
		return err
	}
	for _, id := range retired {
		e.emit(types.EventSlotRetired, map[string]string{"strategy": string(id)})
	}
	snapshot.TotalValueBefore = e.approxValue(snapshot.VaultBefore.IdleBalance.Add(e.manager.TotalAllocated()))
	snapshot.IdleBefore = e.approxValue(e.vault.IdleBalance)

	aggregate, err := risk.AssessAggregate(e.manager.Slots())
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: aggregate risk assessment failed")
		return err
	}
	snapshot.AggregateRiskBps = aggregate
	if changed, state := e.breaker.Evaluate(aggregate); changed {
		e.emitBreakerEvent(state, aggregate)
	}
	snapshot.BreakerState = e.breaker.Snapshot().State

	if e.breaker.Tripped() {
		cycleLogger.Warn().
			Int64("aggregate_bps", aggregate).
			Msg("Circuit breaker tripped, cycle runs idle-only")
	} else {
		plan, err := e.manager.ComputeRebalancePlan(ctx, e.vault.IdleBalance)
		if err != nil {
			cycleLogger.Error().Err(err).Msg("Cycle aborted: plan computation failed")
			return err
		}
		snapshot.Plan = plan

		if !plan.IsNoOp() {
			report, idleAfter, applyErr := e.manager.ApplyRebalancePlan(ctx, plan, e.vault.IdleBalance)
			e.vault.IdleBalance = idleAfter
			e.vault.UpdatedAt = time.Now().UTC()
			snapshot.Report = &report
			e.emitPlanEvents(plan, report)
			if applyErr != nil {
				cycleLogger.Warn().Err(applyErr).
					Int("applied", report.AppliedSteps).
					Int("total", report.TotalSteps).
					Msg("Plan partially applied, residual kept for next cycle")
			}
		} else {
			cycleLogger.Debug().Msg("All slots within drift tolerance, nothing to move")
		}
	}

	snapshot.VaultAfter = e.vault
	snapshot.SlotsAfter = e.manager.Slots()
	snapshot.TotalValueAfter = e.approxValue(e.totalValue())
	snapshot.IdleAfter = e.approxValue(e.vault.IdleBalance)
	snapshot.DurationMs = time.Since(started).Milliseconds()
	snapshot.Events = append(snapshot.Events, e.pending...)

	if e.store != nil {
		if _, err := e.store.SaveCycleSnapshot(snapshot); err != nil {
			cycleLogger.Error().Err(err).Msg("Failed to persist cycle snapshot")
		}
	}
	e.commit()

	cycleLogger.Info().
		Int("cycle_number", snapshot.CycleNumber).
		Int64("aggregate_risk_bps", aggregate).
		Str("breaker", string(snapshot.BreakerState)).
		Int64("duration_ms", snapshot.DurationMs).
		Msg("Rebalance cycle completed")
	return nil
}

// approxValue denormalizes an integer amount for the snapshot's analytics
// columns. Base units carry six decimals.
func (e *Engine) approxValue(amount sdkmath.Int) float64 {
	value, err := utils.SDKIntToFloat64(amount, 6)
	if err != nil {
		e.log.Debug().Err(err).Msg("Snapshot value denormalization failed")
		return 0
	}
	return value
}
