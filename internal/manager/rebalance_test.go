package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basin-labs/vase/internal/adapter"
	"github.com/basin-labs/vase/internal/types"
)

func stepFor(t *testing.T, plan *types.RebalancePlan, id types.StrategyID) types.PlanStep {
	t.Helper()
	for _, step := range plan.Steps {
		if step.StrategyID == id {
			return step
		}
	}
	t.Fatalf("plan has no step for %s", id)
	return types.PlanStep{}
}

func TestComputeRebalancePlan(t *testing.T) {
	t.Run("drifted slots rebalance toward their weights", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 6000, 10000, adapter.SimConfig{}, 900)
		f.addActive(t, "beta", 4000, 10000, adapter.SimConfig{}, 100)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.ZeroInt())
		require.NoError(t, err)
		require.Len(t, plan.Steps, 2)
		assert.True(t, plan.Conserves())

		// Divests precede invests.
		assert.Equal(t, types.StrategyID("alpha"), plan.Steps[0].StrategyID)
		assert.Equal(t, sdkmath.NewInt(-300), plan.Steps[0].Delta)
		assert.Equal(t, types.StrategyID("beta"), plan.Steps[1].StrategyID)
		assert.Equal(t, sdkmath.NewInt(300), plan.Steps[1].Delta)
		assert.True(t, plan.IdleDelta.IsZero())
		assert.Equal(t, sdkmath.NewInt(1000), plan.TotalValue)
	})

	t.Run("drift within tolerance is left alone", func(t *testing.T) {
		f := newFixture(t, testParams())
		// Targets 600/400, tolerance 1% of target: 6 and 4.
		f.addActive(t, "alpha", 6000, 10000, adapter.SimConfig{}, 605)
		f.addActive(t, "beta", 4000, 10000, adapter.SimConfig{}, 395)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.ZeroInt())
		require.NoError(t, err)
		assert.True(t, plan.IsNoOp())
	})

	t.Run("idle funds new allocations", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{}, 0)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.NewInt(1000))
		require.NoError(t, err)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, sdkmath.NewInt(1000), plan.Steps[0].Delta)
		assert.Equal(t, sdkmath.NewInt(-1000), plan.IdleDelta)
	})

	t.Run("risk score clamps the target", func(t *testing.T) {
		f := newFixture(t, testParams())
		// Risk 2000 bps discounts the 1000 weight target to 800.
		f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{RiskScore: 2000}, 0)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.NewInt(1000))
		require.NoError(t, err)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, sdkmath.NewInt(800), plan.Steps[0].Delta)
		assert.Equal(t, sdkmath.NewInt(-800), plan.IdleDelta)
	})

	t.Run("max cap clamps the target", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 2500, adapter.SimConfig{}, 0)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.NewInt(1000))
		require.NoError(t, err)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, sdkmath.NewInt(250), plan.Steps[0].Delta)
	})

	t.Run("draining slot is divested in full", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{}, 0)
		f.addActive(t, "beta", 0, 10000, adapter.SimConfig{}, 500)
		f.refresh(t)
		_, err := f.m.Deactivate("beta")
		require.NoError(t, err)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.ZeroInt())
		require.NoError(t, err)
		require.Len(t, plan.Steps, 2)
		assert.Equal(t, sdkmath.NewInt(-500), stepFor(t, plan, "beta").Delta)
		assert.Equal(t, sdkmath.NewInt(500), stepFor(t, plan, "alpha").Delta)
	})

	t.Run("surplus with no eligible sink routes to idle", func(t *testing.T) {
		params := testParams()
		params.MinMoveAmount = 200
		f := newFixture(t, params)
		// Deficits of 200 and 100 sit at or below the 200 move floor.
		f.addActive(t, "alpha", 0, 10000, adapter.SimConfig{}, 300)
		f.addActive(t, "beta", 5000, 10000, adapter.SimConfig{}, 100)
		f.addActive(t, "gamma", 5000, 10000, adapter.SimConfig{}, 200)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.ZeroInt())
		require.NoError(t, err)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, sdkmath.NewInt(-300), plan.Steps[0].Delta)
		assert.Equal(t, sdkmath.NewInt(300), plan.IdleDelta)
	})

	t.Run("empty vault yields a no-op plan", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{}, 0)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.ZeroInt())
		require.NoError(t, err)
		assert.True(t, plan.IsNoOp())
	})

	t.Run("negative idle rejected", func(t *testing.T) {
		f := newFixture(t, testParams())
		_, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.NewInt(-1))
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	})
}

func TestApplyRebalancePlan(t *testing.T) {
	t.Run("full application settles every step", func(t *testing.T) {
		f := newFixture(t, testParams())
		alpha := f.addActive(t, "alpha", 6000, 10000, adapter.SimConfig{}, 900)
		beta := f.addActive(t, "beta", 4000, 10000, adapter.SimConfig{}, 100)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.ZeroInt())
		require.NoError(t, err)

		report, idle, err := f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.ZeroInt())
		require.NoError(t, err)
		assert.True(t, report.Complete())
		assert.Equal(t, 2, report.AppliedSteps)
		assert.True(t, idle.IsZero())

		alphaValue, err := alpha.Valuation(context.Background())
		require.NoError(t, err)
		betaValue, err := beta.Valuation(context.Background())
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(600), alphaValue)
		assert.Equal(t, sdkmath.NewInt(400), betaValue)
		assert.Equal(t, sdkmath.NewInt(600), f.allocated(t, "alpha"))
		assert.Equal(t, sdkmath.NewInt(400), f.allocated(t, "beta"))
	})

	t.Run("failed step halts with a residual", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 6000, 10000, adapter.SimConfig{}, 900)
		beta := f.addActive(t, "beta", 4000, 10000, adapter.SimConfig{}, 100)

		plan, err := f.m.ComputeRebalancePlan(context.Background(), sdkmath.ZeroInt())
		require.NoError(t, err)
		beta.FailNextInvests(errors.New("rpc down"))

		report, idle, err := f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.ZeroInt())
		assert.ErrorIs(t, err, types.ErrAdapterFailure)
		assert.True(t, report.Halted)
		assert.Equal(t, 1, report.AppliedSteps)

		// The divest stayed applied; the failed invest reverted.
		assert.Equal(t, sdkmath.NewInt(300), idle)
		assert.Equal(t, sdkmath.NewInt(600), f.allocated(t, "alpha"))
		assert.Equal(t, sdkmath.NewInt(100), f.allocated(t, "beta"))

		require.NotNil(t, report.Residual)
		require.Len(t, report.Residual.Steps, 1)
		assert.Equal(t, types.StrategyID("beta"), report.Residual.Steps[0].StrategyID)
		assert.Equal(t, sdkmath.NewInt(300), report.Residual.Steps[0].Delta)
		assert.True(t, report.Residual.Conserves())

		// The residual retries cleanly once the adapter recovers.
		beta.FailNextInvests(nil)
		retry, retryIdle, err := f.m.ApplyRebalancePlan(context.Background(), report.Residual, idle)
		require.NoError(t, err)
		assert.True(t, retry.Complete())
		assert.True(t, retryIdle.IsZero())
		assert.Equal(t, sdkmath.NewInt(400), f.allocated(t, "beta"))
	})

	t.Run("divest slippage is accepted into idle", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 0, 10000, adapter.SimConfig{DivestSlippageBps: 100}, 1000)
		f.refresh(t)
		_, err := f.m.Deactivate("alpha")
		require.NoError(t, err)

		plan := &types.RebalancePlan{
			PlanID:     uuid.New(),
			Steps:      []types.PlanStep{{StrategyID: "alpha", Delta: sdkmath.NewInt(-1000)}},
			IdleDelta:  sdkmath.NewInt(1000),
			TotalValue: sdkmath.NewInt(1000),
			CreatedAt:  time.Now().UTC(),
		}
		report, idle, err := f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.ZeroInt())
		require.NoError(t, err)
		assert.True(t, report.Complete())
		assert.Equal(t, sdkmath.NewInt(990), idle)
		assert.Equal(t, sdkmath.NewInt(990), report.Receipts[0].Moved)
		assert.NotEmpty(t, report.Receipts[0].Message)
	})

	t.Run("no-op plan leaves idle untouched", func(t *testing.T) {
		f := newFixture(t, testParams())
		plan := &types.RebalancePlan{PlanID: uuid.New(), IdleDelta: sdkmath.ZeroInt(), TotalValue: sdkmath.ZeroInt()}
		report, idle, err := f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.NewInt(777))
		require.NoError(t, err)
		assert.Zero(t, report.TotalSteps)
		assert.Equal(t, sdkmath.NewInt(777), idle)
	})

	t.Run("nil plan rejected", func(t *testing.T) {
		f := newFixture(t, testParams())
		_, _, err := f.m.ApplyRebalancePlan(context.Background(), nil, sdkmath.ZeroInt())
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	})
}

func TestApplyRebalancePlanSafetyGate(t *testing.T) {
	conserving := func(steps []types.PlanStep, total int64) *types.RebalancePlan {
		idleDelta := sdkmath.ZeroInt()
		for _, step := range steps {
			idleDelta = idleDelta.Sub(step.Delta)
		}
		return &types.RebalancePlan{
			PlanID:     uuid.New(),
			Steps:      steps,
			IdleDelta:  idleDelta,
			TotalValue: sdkmath.NewInt(total),
			CreatedAt:  time.Now().UTC(),
		}
	}

	t.Run("non-conserving plan rejected", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{}, 500)
		f.refresh(t)

		plan := conserving([]types.PlanStep{{StrategyID: "alpha", Delta: sdkmath.NewInt(-100)}}, 500)
		plan.IdleDelta = sdkmath.ZeroInt()
		_, _, err := f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.ZeroInt())
		assert.ErrorIs(t, err, types.ErrUnsafeRebalance)
	})

	t.Run("divest past the allocation rejected", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 10000, adapter.SimConfig{}, 500)
		f.refresh(t)

		plan := conserving([]types.PlanStep{{StrategyID: "alpha", Delta: sdkmath.NewInt(-600)}}, 500)
		_, _, err := f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.ZeroInt())
		assert.ErrorIs(t, err, types.ErrUnsafeRebalance)
		assert.Equal(t, sdkmath.NewInt(500), f.allocated(t, "alpha"))
	})

	t.Run("invest into a non-operating slot rejected", func(t *testing.T) {
		f := newFixture(t, testParams())
		sim, err := adapter.NewSimAdapter(adapter.SimConfig{})
		require.NoError(t, err)
		require.NoError(t, f.registry.BindInstance("alpha", sim))
		require.NoError(t, f.m.AddSlot(types.StrategySlot{
			StrategyID: "alpha", AdapterKind: adapter.SimKind, TargetWeightBps: 5000, MaxCapBps: 10000,
		}))

		plan := conserving([]types.PlanStep{{StrategyID: "alpha", Delta: sdkmath.NewInt(100)}}, 100)
		_, _, err = f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.NewInt(100))
		assert.ErrorIs(t, err, types.ErrUnsafeRebalance)
	})

	t.Run("invest past the risk ceiling rejected", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 10000, 1000, adapter.SimConfig{}, 0)
		f.refresh(t)

		// With capital 1000 the 10% cap allows at most 100.
		plan := conserving([]types.PlanStep{{StrategyID: "alpha", Delta: sdkmath.NewInt(200)}}, 1000)
		_, _, err := f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.NewInt(1000))
		assert.ErrorIs(t, err, types.ErrUnsafeRebalance)
	})

	t.Run("invest ahead of its funding divest rejected", func(t *testing.T) {
		f := newFixture(t, testParams())
		f.addActive(t, "alpha", 0, 10000, adapter.SimConfig{}, 900)
		f.addActive(t, "beta", 10000, 10000, adapter.SimConfig{}, 0)
		f.refresh(t)

		// Ordered invest-first, the 150 draw exceeds the 100 idle on hand.
		plan := conserving([]types.PlanStep{
			{StrategyID: "beta", Delta: sdkmath.NewInt(150)},
			{StrategyID: "alpha", Delta: sdkmath.NewInt(-150)},
		}, 1000)
		_, _, err := f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.NewInt(100))
		assert.ErrorIs(t, err, types.ErrUnsafeRebalance)
	})

	t.Run("unknown strategy in a step rejected", func(t *testing.T) {
		f := newFixture(t, testParams())
		plan := conserving([]types.PlanStep{{StrategyID: "ghost", Delta: sdkmath.NewInt(100)}}, 100)
		_, _, err := f.m.ApplyRebalancePlan(context.Background(), plan, sdkmath.NewInt(100))
		assert.ErrorIs(t, err, types.ErrUnknownStrategy)
	})
}
