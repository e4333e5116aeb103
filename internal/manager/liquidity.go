/*

This file contains the liquidity paths that sit outside the drift-tolerant
rebalancer: freeing an exact shortfall for a withdrawal, and the best-effort
divest-all behind emergency withdrawal.

*/

package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/basin-labs/vase/internal/adapter"
	"github.com/basin-labs/vase/internal/types"
)

// FreeLiquidity divests exactly enough across the operating slots to recover
// shortfall base units, largest allocation first. Before anything moves, the
// adapters' currently-divestable liquidity is probed; if it cannot cover the
// shortfall the call fails with ErrLiquidityUnavailable and no capital moves.
// Slippage during divesting can still leave the recovered amount short, in
// which case the recovered funds are returned alongside
// ErrLiquidityUnavailable and the caller decides what to do with them.
func (m *Manager) FreeLiquidity(ctx context.Context, shortfall sdkmath.Int) (sdkmath.Int, error) {
	if shortfall.IsNil() || !shortfall.IsPositive() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount,
			fmt.Errorf("shortfall must be positive: %s", shortfall))
	}

	type candidate struct {
		slot      *types.StrategySlot
		divstable sdkmath.Int
	}
	var candidates []candidate
	totalDivestable := sdkmath.ZeroInt()
	for _, slot := range m.slots {
		if !slot.IsOperating() || !slot.CurrentAllocatedValue.IsPositive() {
			continue
		}
		strategyAdapter, err := m.registry.Get(slot.StrategyID)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		liquid, err := strategyAdapter.DivestableLiquidity(ctx)
		if err != nil {
			return sdkmath.ZeroInt(), errors.Join(types.ErrAdapterFailure,
				fmt.Errorf("liquidity probe for %s failed: %w", slot.StrategyID, err))
		}
		if liquid.IsNil() || liquid.IsNegative() {
			liquid = sdkmath.ZeroInt()
		}
		candidates = append(candidates, candidate{slot: slot, divstable: liquid})
		totalDivestable = totalDivestable.Add(liquid)
	}

	if totalDivestable.LT(shortfall) {
		return sdkmath.ZeroInt(), errors.Join(types.ErrLiquidityUnavailable,
			fmt.Errorf("divestable liquidity %s across %d slots is below shortfall %s",
				totalDivestable, len(candidates), shortfall))
	}

	// Largest current allocation first; ties by id for determinism.
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			if b.slot.CurrentAllocatedValue.GT(a.slot.CurrentAllocatedValue) ||
				(b.slot.CurrentAllocatedValue.Equal(a.slot.CurrentAllocatedValue) &&
					b.slot.StrategyID < a.slot.StrategyID) {
				candidates[i], candidates[j] = b, a
			}
		}
	}

	recovered := sdkmath.ZeroInt()
	for _, c := range candidates {
		remaining := shortfall.Sub(recovered)
		if !remaining.IsPositive() {
			break
		}
		take := remaining
		if take.GT(c.divstable) {
			take = c.divstable
		}
		if !take.IsPositive() {
			continue
		}

		c.slot.CurrentAllocatedValue = c.slot.CurrentAllocatedValue.Sub(take)
		c.slot.UpdatedAt = time.Now().UTC()

		strategyAdapter, err := m.registry.Get(c.slot.StrategyID)
		if err != nil {
			c.slot.CurrentAllocatedValue = c.slot.CurrentAllocatedValue.Add(take)
			return recovered, err
		}
		returned, err := strategyAdapter.Divest(ctx, take)
		if err != nil {
			c.slot.CurrentAllocatedValue = c.slot.CurrentAllocatedValue.Add(take)
			return recovered, errors.Join(types.ErrAdapterFailure,
				fmt.Errorf("divest of %s from %s failed: %w", take, c.slot.StrategyID, err))
		}
		if returned.IsNil() || returned.IsNegative() {
			returned = sdkmath.ZeroInt()
		}
		recovered = recovered.Add(returned)
	}

	if recovered.LT(shortfall) {
		return recovered, errors.Join(types.ErrLiquidityUnavailable,
			fmt.Errorf("recovered %s of %s requested, slippage consumed the difference", recovered, shortfall))
	}

	m.log.Info().
		Str("shortfall", shortfall.String()).
		Str("recovered", recovered.String()).
		Msg("Freed liquidity for withdrawal")
	return recovered, nil
}

// DivestAll issues a best-effort divest of every operating slot's divestable
// liquidity in parallel and returns whatever was actually recovered, plus
// the per-slot failures. Allocation caches are zeroed down to the
// undivestable remainder before the calls go out; a failed slot's cache is
// corrected by the next valuation refresh.
func (m *Manager) DivestAll(ctx context.Context) (sdkmath.Int, map[types.StrategyID]error) {
	failures := make(map[types.StrategyID]error)

	type request struct {
		id      types.StrategyID
		adapter adapter.StrategyAdapter
		amount  sdkmath.Int
	}
	var requests []request

	for _, slot := range m.slots {
		if !slot.IsOperating() || !slot.CurrentAllocatedValue.IsPositive() {
			continue
		}
		strategyAdapter, err := m.registry.Get(slot.StrategyID)
		if err != nil {
			failures[slot.StrategyID] = err
			continue
		}
		amount, err := strategyAdapter.DivestableLiquidity(ctx)
		if err != nil {
			failures[slot.StrategyID] = errors.Join(types.ErrAdapterFailure, err)
			continue
		}
		if amount.IsNil() || !amount.IsPositive() {
			continue
		}
		if amount.GT(slot.CurrentAllocatedValue) {
			amount = slot.CurrentAllocatedValue
		}

		slot.CurrentAllocatedValue = slot.CurrentAllocatedValue.Sub(amount)
		slot.UpdatedAt = time.Now().UTC()
		requests = append(requests, request{id: slot.StrategyID, adapter: strategyAdapter, amount: amount})
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		recovered = sdkmath.ZeroInt()
	)
	for _, req := range requests {
		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			returned, err := req.adapter.Divest(ctx, req.amount)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[req.id] = errors.Join(types.ErrAdapterFailure, err)
				return
			}
			if returned.IsNil() || returned.IsNegative() {
				returned = sdkmath.ZeroInt()
			}
			recovered = recovered.Add(returned)
		}(req)
	}
	wg.Wait()

	m.log.Warn().
		Int("slots", len(requests)).
		Int("failures", len(failures)).
		Str("recovered", recovered.String()).
		Msg("Emergency divest-all completed")
	return recovered, failures
}
