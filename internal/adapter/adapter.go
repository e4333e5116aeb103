/*

This file contains the strategy adapter capability interface. One adapter
exists per integrated protocol; the engine and manager only ever call through
this interface and never special-case a protocol.

*/

package adapter

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
)

// Receipt records a settled investment into a strategy.
type Receipt struct {
	AdapterRef string      `json:"adapter_ref"` // protocol-specific reference (tx hash, position id)
	Invested   sdkmath.Int `json:"invested"`
	Timestamp  time.Time   `json:"timestamp"`
}

// StrategyAdapter is the capability surface one integrated protocol exposes.
// Calls are synchronous-or-fail within the caller's transition; failures wrap
// types.ErrAdapterFailure. Amounts and valuations are in the slot's denom.
type StrategyAdapter interface {
	// Kind is the registry key a strategy slot binds to.
	Kind() string

	// Invest moves amount from the vault into the strategy.
	Invest(ctx context.Context, amount sdkmath.Int) (Receipt, error)

	// Divest pulls amount out of the strategy. The returned value is what
	// actually settled; slippage may make it less than requested.
	Divest(ctx context.Context, amount sdkmath.Int) (sdkmath.Int, error)

	// Valuation is the current value of the vault's position in the strategy.
	Valuation(ctx context.Context) (sdkmath.Int, error)

	// RiskScore is the adapter-reported risk in [0,10000].
	RiskScore(ctx context.Context) (int64, error)

	// DivestableLiquidity is the amount the strategy can actually return
	// right now, as opposed to its theoretical valuation.
	DivestableLiquidity(ctx context.Context) (sdkmath.Int, error)
}
