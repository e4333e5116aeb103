package manager

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basin-labs/vase/internal/adapter"
	"github.com/basin-labs/vase/internal/types"
)

func TestFreeLiquidity(t *testing.T) {
	t.Run("divests largest allocation first", func(t *testing.T) {
		f := newFixture(t, testParams())
		alpha := f.addActive(t, "alpha", 6000, 10000, adapter.SimConfig{}, 600)
		beta := f.addActive(t, "beta", 4000, 10000, adapter.SimConfig{}, 300)
		f.refresh(t)

		recovered, err := f.m.FreeLiquidity(context.Background(), sdkmath.NewInt(700))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(700), recovered)

		// Alpha is drained in full before beta is touched.
		alphaValue, err := alpha.Valuation(context.Background())
		require.NoError(t, err)
		betaValue, err := beta.Valuation(context.Background())
		require.NoError(t, err)
		assert.True(t, alphaValue.IsZero())
		assert.Equal(t, sdkmath.NewInt(200), betaValue)
		assert.True(t, f.allocated(t, "alpha").IsZero())
		assert.Equal(t, sdkmath.NewInt(200), f.allocated(t, "beta"))
	})

	t.Run("shortfall below total liquidity moves nothing", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 6000, 10000, adapter.SimConfig{LiquidityBps: 5000}, 600)
		f.addActive(t, "beta", 4000, 10000, adapter.SimConfig{LiquidityBps: 5000}, 300)
		f.refresh(t)

		// Only 450 of the 900 allocated is divestable right now.
		recovered, err := f.m.FreeLiquidity(context.Background(), sdkmath.NewInt(700))
		assert.ErrorIs(t, err, types.ErrLiquidityUnavailable)
		assert.True(t, recovered.IsZero())
		assert.Equal(t, sdkmath.NewInt(600), f.allocated(t, "alpha"))
		assert.Equal(t, sdkmath.NewInt(300), f.allocated(t, "beta"))
	})

	t.Run("slippage shortfall returns the partial recovery", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{DivestSlippageBps: 100}, 1000)
		f.refresh(t)

		recovered, err := f.m.FreeLiquidity(context.Background(), sdkmath.NewInt(500))
		assert.ErrorIs(t, err, types.ErrLiquidityUnavailable)
		assert.Equal(t, sdkmath.NewInt(495), recovered)
		assert.Equal(t, sdkmath.NewInt(500), f.allocated(t, "alpha"))
	})

	t.Run("divest failure reverts the failing slot's cache", func(t *testing.T) {
		f := newFixture(t, testParams())
		sim := f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{}, 1000)
		f.refresh(t)
		sim.FailNextDivests(errors.New("rpc down"))

		recovered, err := f.m.FreeLiquidity(context.Background(), sdkmath.NewInt(500))
		assert.ErrorIs(t, err, types.ErrAdapterFailure)
		assert.True(t, recovered.IsZero())
		assert.Equal(t, sdkmath.NewInt(1000), f.allocated(t, "alpha"))
	})

	t.Run("non-positive shortfall rejected", func(t *testing.T) {
		f := newFixture(t, testParams())
		_, err := f.m.FreeLiquidity(context.Background(), sdkmath.ZeroInt())
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	})
}

func TestDivestAll(t *testing.T) {
	t.Run("recovers the divestable portion of every slot", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 4000, 10000, adapter.SimConfig{}, 600)
		f.addActive(t, "beta", 3000, 10000, adapter.SimConfig{LiquidityBps: 5000}, 400)
		f.refresh(t)

		recovered, failures := f.m.DivestAll(context.Background())
		assert.Empty(t, failures)
		assert.Equal(t, sdkmath.NewInt(800), recovered)
		assert.True(t, f.allocated(t, "alpha").IsZero())
		// The locked half of beta stays allocated.
		assert.Equal(t, sdkmath.NewInt(200), f.allocated(t, "beta"))
	})

	t.Run("failing slot is reported, the rest recovers", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 4000, 10000, adapter.SimConfig{}, 600)
		gamma := f.addActive(t, "gamma", 3000, 10000, adapter.SimConfig{}, 300)
		f.refresh(t)
		gamma.FailNextDivests(errors.New("rpc down"))

		recovered, failures := f.m.DivestAll(context.Background())
		assert.Equal(t, sdkmath.NewInt(600), recovered)
		require.Contains(t, failures, types.StrategyID("gamma"))
		assert.ErrorIs(t, failures["gamma"], types.ErrAdapterFailure)
	})

	t.Run("slippage haircut reflected in the recovery", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{DivestSlippageBps: 200}, 1000)
		f.refresh(t)

		recovered, failures := f.m.DivestAll(context.Background())
		assert.Empty(t, failures)
		assert.Equal(t, sdkmath.NewInt(980), recovered)
	})

	t.Run("nothing to divest is a no-op", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{}, 0)
		f.refresh(t)

		recovered, failures := f.m.DivestAll(context.Background())
		assert.Empty(t, failures)
		assert.True(t, recovered.IsZero())
	})
}
