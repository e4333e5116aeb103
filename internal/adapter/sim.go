/*

This file contains the simulated strategy adapter used in sim mode and tests.
It models a yield integration with configurable risk, a liquidity fraction
below the nominal valuation, optional per-call slippage and injectable
failures.

*/

package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/basin-labs/vase/internal/types"
	"github.com/basin-labs/vase/internal/utils"
)

// SimKind is the registry key for the simulated adapter.
const SimKind = "sim"

// SimConfig tunes one simulated strategy.
type SimConfig struct {
	RiskScore         int64 // [0,10000]
	LiquidityBps      int64 // share of the valuation that is divestable right now
	DivestSlippageBps int64 // haircut applied to every divest
}

// SimAdapter is an in-memory strategy. Safe for concurrent use; the
// emergency path divests several adapters in parallel.
type SimAdapter struct {
	mu     sync.Mutex
	kind   string
	value  sdkmath.Int
	config SimConfig

	failInvest error
	failDivest error
}

// NewSimAdapter returns a simulated strategy holding no capital.
func NewSimAdapter(cfg SimConfig) (*SimAdapter, error) {
	if cfg.RiskScore < 0 || cfg.RiskScore > utils.BpsDenominator {
		return nil, fmt.Errorf("sim risk score out of range [0,10000]: %d", cfg.RiskScore)
	}
	if cfg.LiquidityBps < 0 || cfg.LiquidityBps > utils.BpsDenominator {
		return nil, fmt.Errorf("sim liquidity bps out of range [0,10000]: %d", cfg.LiquidityBps)
	}
	if cfg.DivestSlippageBps < 0 || cfg.DivestSlippageBps >= utils.BpsDenominator {
		return nil, fmt.Errorf("sim divest slippage bps out of range [0,10000): %d", cfg.DivestSlippageBps)
	}
	if cfg.LiquidityBps == 0 {
		cfg.LiquidityBps = utils.BpsDenominator
	}
	return &SimAdapter{
		kind:   SimKind,
		value:  sdkmath.ZeroInt(),
		config: cfg,
	}, nil
}

// SimFactory builds a simulated adapter from a slot's risk score, fully
// liquid and slippage-free. Boot code uses it for every manifest slot when
// the engine runs in sim mode.
func SimFactory(slot types.StrategySlot) (StrategyAdapter, error) {
	return NewSimAdapter(SimConfig{
		RiskScore:    slot.RiskScore,
		LiquidityBps: utils.BpsDenominator,
	})
}

// Kind implements StrategyAdapter.
func (s *SimAdapter) Kind() string {
	return s.kind
}

// Invest implements StrategyAdapter.
func (s *SimAdapter) Invest(ctx context.Context, amount sdkmath.Int) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, errors.Join(types.ErrAdapterFailure, err)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return Receipt{}, errors.Join(types.ErrAdapterFailure, fmt.Errorf("invest amount must be positive: %s", amount))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInvest != nil {
		return Receipt{}, errors.Join(types.ErrAdapterFailure, s.failInvest)
	}
	s.value = s.value.Add(amount)
	return Receipt{
		AdapterRef: "sim-" + uuid.New().String(),
		Invested:   amount,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// Divest implements StrategyAdapter. The returned amount carries the
// configured slippage haircut; the position is reduced by the full request.
func (s *SimAdapter) Divest(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := ctx.Err(); err != nil {
		return sdkmath.ZeroInt(), errors.Join(types.ErrAdapterFailure, err)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrAdapterFailure, fmt.Errorf("divest amount must be positive: %s", amount))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDivest != nil {
		return sdkmath.ZeroInt(), errors.Join(types.ErrAdapterFailure, s.failDivest)
	}
	liquid := s.value.MulRaw(s.config.LiquidityBps).QuoRaw(utils.BpsDenominator)
	if amount.GT(liquid) {
		return sdkmath.ZeroInt(), errors.Join(types.ErrAdapterFailure,
			fmt.Errorf("divest of %s exceeds divestable liquidity %s", amount, liquid))
	}
	s.value = s.value.Sub(amount)
	returned := amount.MulRaw(utils.BpsDenominator - s.config.DivestSlippageBps).QuoRaw(utils.BpsDenominator)
	return returned, nil
}

// Valuation implements StrategyAdapter.
func (s *SimAdapter) Valuation(ctx context.Context) (sdkmath.Int, error) {
	if err := ctx.Err(); err != nil {
		return sdkmath.ZeroInt(), errors.Join(types.ErrAdapterFailure, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

// RiskScore implements StrategyAdapter.
func (s *SimAdapter) RiskScore(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Join(types.ErrAdapterFailure, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.RiskScore, nil
}

// DivestableLiquidity implements StrategyAdapter.
func (s *SimAdapter) DivestableLiquidity(ctx context.Context) (sdkmath.Int, error) {
	if err := ctx.Err(); err != nil {
		return sdkmath.ZeroInt(), errors.Join(types.ErrAdapterFailure, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value.MulRaw(s.config.LiquidityBps).QuoRaw(utils.BpsDenominator), nil
}

// SetValuation overrides the position value, simulating yield accrual or a
// drawdown between cycles.
func (s *SimAdapter) SetValuation(value sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
}

// SetRiskScore overrides the reported risk score.
func (s *SimAdapter) SetRiskScore(score int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.RiskScore = score
}

// FailNextInvests makes every subsequent Invest fail with the given cause
// until cleared with a nil cause.
func (s *SimAdapter) FailNextInvests(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInvest = cause
}

// FailNextDivests makes every subsequent Divest fail with the given cause
// until cleared with a nil cause.
func (s *SimAdapter) FailNextDivests(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDivest = cause
}
