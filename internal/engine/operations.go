/*

This file contains the user-facing vault operations: deposit, withdrawal and
emergency withdrawal. Validation happens before any mutation or external
call; share bookkeeping is finalized before adapters are touched.

*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/basin-labs/vase/internal/risk"
	"github.com/basin-labs/vase/internal/shareledger"
	"github.com/basin-labs/vase/internal/types"
)

// DepositResult reports a settled deposit.
type DepositResult struct {
	Owner      string            `json:"owner"`
	Amount     sdkmath.Int       `json:"amount"`
	Shares     sdkmath.Int       `json:"shares"`
	SharePrice sdkmath.LegacyDec `json:"share_price"`
	Invested   bool              `json:"invested"` // an investment pass ran after settlement
}

// WithdrawResult reports a settled withdrawal.
type WithdrawResult struct {
	Owner    string      `json:"owner"`
	Shares   sdkmath.Int `json:"shares"`
	Paid     sdkmath.Int `json:"paid"`
	FromIdle sdkmath.Int `json:"from_idle"`
	Divested sdkmath.Int `json:"divested"`
}

// EmergencyResult reports an emergency payout.
type EmergencyResult struct {
	Owner        string      `json:"owner"`
	SharesBurned sdkmath.Int `json:"shares_burned"`
	Paid         sdkmath.Int `json:"paid"`
	Recovered    sdkmath.Int `json:"recovered"`
	FailedSlots  []string    `json:"failed_slots,omitempty"`
}

// Deposit converts amount into shares at the pre-deposit price and credits
// the owner. When auto-invest is on and the circuit breaker is released, an
// investment pass follows settlement; its failure never unwinds the deposit.
func (e *Engine) Deposit(ctx context.Context, owner string, amount sdkmath.Int) (DepositResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.vault.Status == types.VaultPaused {
		return DepositResult{}, errors.Join(types.ErrVaultPaused, errors.New("deposits are blocked while paused"))
	}
	if owner == "" {
		return DepositResult{}, errors.Join(types.ErrInvalidAmount, errors.New("owner is empty"))
	}
	if amount.IsNil() || amount.IsNegative() {
		return DepositResult{}, errors.Join(types.ErrInvalidAmount, fmt.Errorf("deposit amount is invalid: %s", amount))
	}
	if amount.IsZero() {
		return DepositResult{}, types.ErrZeroAmount
	}

	// Fresh valuations before pricing; a stale oracle aborts with nothing
	// mutated.
	if _, err := e.manager.RefreshValuations(ctx); err != nil {
		return DepositResult{}, err
	}
	totalValueBefore := e.totalValue()
	totalSharesBefore := e.ledger.TotalShares()

	shares, err := shareledger.SharesForDeposit(amount, totalValueBefore, totalSharesBefore)
	if err != nil {
		return DepositResult{}, err
	}
	if err := e.ledger.Credit(owner, shares); err != nil {
		return DepositResult{}, err
	}
	e.vault.IdleBalance = e.vault.IdleBalance.Add(amount)
	e.vault.TotalShares = e.ledger.TotalShares()
	e.vault.UpdatedAt = time.Now().UTC()

	e.emit(types.EventDepositSettled, map[string]string{
		"owner":  owner,
		"amount": amount.String(),
		"shares": shares.String(),
	})

	result := DepositResult{
		Owner:      owner,
		Amount:     amount,
		Shares:     shares,
		SharePrice: e.ledger.SharePrice(e.totalValue()),
	}

	if e.params.AutoInvest {
		result.Invested = e.investIdle(ctx)
	}

	e.commit()
	e.log.Info().
		Str("owner", owner).
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Bool("invested", result.Invested).
		Msg("Deposit settled")
	return result, nil
}

// Withdraw redeems shares for base assets, paying from idle first and
// divesting the shortfall largest-allocation-first. If the adapters'
// currently-divestable liquidity cannot cover the shortfall the withdrawal
// is rejected in full; there are no partial withdrawals.
func (e *Engine) Withdraw(ctx context.Context, owner string, shares sdkmath.Int) (WithdrawResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.vault.Status == types.VaultPaused {
		return WithdrawResult{}, errors.Join(types.ErrVaultPaused, errors.New("withdrawals are blocked while paused"))
	}
	if shares.IsNil() || shares.IsNegative() {
		return WithdrawResult{}, errors.Join(types.ErrInvalidAmount, fmt.Errorf("share amount is invalid: %s", shares))
	}
	if shares.IsZero() {
		return WithdrawResult{}, types.ErrZeroAmount
	}
	if e.ledger.BalanceOf(owner).LT(shares) {
		return WithdrawResult{}, errors.Join(types.ErrInsufficientShares,
			fmt.Errorf("owner %s holds %s shares, requested %s", owner, e.ledger.BalanceOf(owner), shares))
	}

	if _, err := e.manager.RefreshValuations(ctx); err != nil {
		return WithdrawResult{}, err
	}
	totalValue := e.totalValue()
	totalShares := e.ledger.TotalShares()

	owed, err := shareledger.AssetsForShares(shares, totalValue, totalShares)
	if err != nil {
		return WithdrawResult{}, err
	}

	// Burn before any adapter call.
	if err := e.ledger.Debit(owner, shares); err != nil {
		return WithdrawResult{}, err
	}

	fromIdle := owed
	divested := sdkmath.ZeroInt()
	if owed.GT(e.vault.IdleBalance) {
		fromIdle = e.vault.IdleBalance
		shortfall := owed.Sub(e.vault.IdleBalance)

		recovered, err := e.manager.FreeLiquidity(ctx, shortfall)
		if err != nil {
			// Rejected in full: restore the burn. Funds already divested
			// are real and stay in idle.
			if restoreErr := e.ledger.Credit(owner, shares); restoreErr != nil {
				e.log.Error().Err(restoreErr).Str("owner", owner).Msg("Failed to restore share debit")
			}
			e.vault.IdleBalance = e.vault.IdleBalance.Add(recovered)
			e.vault.TotalShares = e.ledger.TotalShares()
			e.vault.UpdatedAt = time.Now().UTC()
			e.commit()
			return WithdrawResult{}, err
		}
		divested = recovered
	}

	e.vault.IdleBalance = e.vault.IdleBalance.Add(divested).Sub(owed)
	e.vault.TotalShares = e.ledger.TotalShares()
	e.vault.UpdatedAt = time.Now().UTC()

	e.emit(types.EventWithdrawalSettled, map[string]string{
		"owner":    owner,
		"shares":   shares.String(),
		"paid":     owed.String(),
		"divested": divested.String(),
	})
	e.commit()

	e.log.Info().
		Str("owner", owner).
		Str("shares", shares.String()).
		Str("paid", owed.String()).
		Str("divested", divested.String()).
		Msg("Withdrawal settled")
	return WithdrawResult{
		Owner:    owner,
		Shares:   shares,
		Paid:     owed,
		FromIdle: fromIdle,
		Divested: divested,
	}, nil
}

// EmergencyWithdraw burns the owner's full balance and pays out pro-rata
// from whatever a best-effort divest-all actually recovers. Only callable
// while the vault is paused or the circuit breaker is tripped; a worse price
// than a normal withdrawal is explicitly accepted.
func (e *Engine) EmergencyWithdraw(ctx context.Context, owner string) (EmergencyResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.vault.Status != types.VaultPaused && !e.breaker.Tripped() {
		return EmergencyResult{}, errors.Join(types.ErrNotInEmergency,
			errors.New("emergency withdrawal requires a paused vault or a tripped circuit breaker"))
	}

	balance := e.ledger.BalanceOf(owner)
	if balance.IsZero() {
		return EmergencyResult{}, errors.Join(types.ErrInsufficientShares,
			fmt.Errorf("owner %s holds no shares", owner))
	}
	totalSharesBefore := e.ledger.TotalShares()

	// Burn first; the payout math uses the pre-burn totals.
	if err := e.ledger.Debit(owner, balance); err != nil {
		return EmergencyResult{}, err
	}

	recovered, failures := e.manager.DivestAll(ctx)
	idleAfter := e.vault.IdleBalance.Add(recovered)

	payout := balance.Mul(idleAfter).Quo(totalSharesBefore)
	if payout.GT(idleAfter) {
		payout = idleAfter
	}

	e.vault.IdleBalance = idleAfter.Sub(payout)
	e.vault.TotalShares = e.ledger.TotalShares()
	e.vault.UpdatedAt = time.Now().UTC()

	failedSlots := make([]string, 0, len(failures))
	for id, failure := range failures {
		failedSlots = append(failedSlots, string(id))
		e.log.Error().Err(failure).Str("strategy", string(id)).Msg("Emergency divest failed for slot")
	}

	e.emit(types.EventEmergencyPayout, map[string]string{
		"owner":        owner,
		"shares":       balance.String(),
		"paid":         payout.String(),
		"recovered":    recovered.String(),
		"failed_slots": strconv.Itoa(len(failedSlots)),
	})
	e.commit()

	e.log.Warn().
		Str("owner", owner).
		Str("shares", balance.String()).
		Str("paid", payout.String()).
		Int("failed_slots", len(failedSlots)).
		Msg("Emergency withdrawal paid out")
	return EmergencyResult{
		Owner:        owner,
		SharesBurned: balance,
		Paid:         payout,
		Recovered:    recovered,
		FailedSlots:  failedSlots,
	}, nil
}

// investIdle runs an investment pass after a deposit: evaluate aggregate
// risk, and unless the breaker is (or just became) tripped, compute and
// apply a plan moving idle toward the targets. Failures are logged; the
// deposit has already settled and partial plan application is a valid
// terminal state.
func (e *Engine) investIdle(ctx context.Context) bool {
	aggregate, err := risk.AssessAggregate(e.manager.Slots())
	if err != nil {
		e.log.Error().Err(err).Msg("Aggregate risk assessment failed, skipping investment pass")
		return false
	}
	if changed, state := e.breaker.Evaluate(aggregate); changed {
		e.emitBreakerEvent(state, aggregate)
	}
	if e.breaker.Tripped() {
		e.log.Warn().Int64("aggregate_bps", aggregate).Msg("Circuit breaker tripped, deposit stays idle")
		return false
	}

	plan, err := e.manager.ComputeRebalancePlan(ctx, e.vault.IdleBalance)
	if err != nil {
		e.log.Error().Err(err).Msg("Investment plan computation failed, deposit stays idle")
		return false
	}
	if plan.IsNoOp() {
		return false
	}

	report, idleAfter, err := e.manager.ApplyRebalancePlan(ctx, plan, e.vault.IdleBalance)
	e.vault.IdleBalance = idleAfter
	e.vault.UpdatedAt = time.Now().UTC()
	e.emitPlanEvents(plan, report)
	if err != nil {
		e.log.Warn().Err(err).
			Int("applied", report.AppliedSteps).
			Int("total", report.TotalSteps).
			Msg("Investment pass halted, applied steps stay applied")
		return report.AppliedSteps > 0
	}
	return true
}

func (e *Engine) emitBreakerEvent(state types.BreakerState, aggregateBps int64) {
	attrs := map[string]string{"aggregate_bps": strconv.FormatInt(aggregateBps, 10)}
	if state == types.BreakerTripped {
		e.emit(types.EventBreakerTripped, attrs)
	} else {
		e.emit(types.EventBreakerReleased, attrs)
	}
}

func (e *Engine) emitPlanEvents(plan *types.RebalancePlan, report types.ApplyReport) {
	e.emit(types.EventPlanComputed, map[string]string{
		"plan_id": plan.PlanID.String(),
		"steps":   strconv.Itoa(len(plan.Steps)),
	})
	for _, receipt := range report.Receipts {
		if !receipt.Success {
			continue
		}
		e.emit(types.EventPlanStepApplied, map[string]string{
			"plan_id":  plan.PlanID.String(),
			"strategy": string(receipt.Step.StrategyID),
			"delta":    receipt.Step.Delta.String(),
			"moved":    receipt.Moved.String(),
		})
	}
	if report.Halted {
		e.emit(types.EventPlanHalted, map[string]string{
			"plan_id": plan.PlanID.String(),
			"applied": strconv.Itoa(report.AppliedSteps),
			"total":   strconv.Itoa(report.TotalSteps),
		})
	}
}
