package risk

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basin-labs/vase/internal/types"
)

func slot(id string, riskScore, maxCapBps int64, allocated int64, state types.SlotState) types.StrategySlot {
	return types.StrategySlot{
		StrategyID:            types.StrategyID(id),
		AdapterKind:           "sim",
		Denom:                 "uusdc",
		TargetWeightBps:       5000,
		MaxCapBps:             maxCapBps,
		RiskScore:             riskScore,
		CurrentAllocatedValue: sdkmath.NewInt(allocated),
		State:                 state,
	}
}

func TestMaxSafeAllocation(t *testing.T) {
	t.Run("risk score discounts the proposed amount", func(t *testing.T) {
		// 2000 bps risk leaves 80% of a 1000 proposal; cap of 100% is not binding
		s := slot("a", 2000, 10000, 0, types.SlotActive)
		maxSafe, err := MaxSafeAllocation(s, sdkmath.NewInt(1000), sdkmath.NewInt(10000))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(800), maxSafe)
	})

	t.Run("cap binds when tighter than the risk discount", func(t *testing.T) {
		// 25% cap of a 1000 vault is 250, under the 800 the risk discount allows
		s := slot("a", 2000, 2500, 0, types.SlotActive)
		maxSafe, err := MaxSafeAllocation(s, sdkmath.NewInt(1000), sdkmath.NewInt(1000))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(250), maxSafe)
	})

	t.Run("zero risk full cap passes everything", func(t *testing.T) {
		s := slot("a", 0, 10000, 0, types.SlotActive)
		maxSafe, err := MaxSafeAllocation(s, sdkmath.NewInt(777), sdkmath.NewInt(777))
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(777), maxSafe)
	})

	t.Run("maximum risk score allows nothing", func(t *testing.T) {
		s := slot("a", 10000, 10000, 0, types.SlotActive)
		maxSafe, err := MaxSafeAllocation(s, sdkmath.NewInt(1000), sdkmath.NewInt(1000))
		require.NoError(t, err)
		assert.True(t, maxSafe.IsZero())
	})

	t.Run("out of range risk score rejected", func(t *testing.T) {
		s := slot("a", 10001, 10000, 0, types.SlotActive)
		_, err := MaxSafeAllocation(s, sdkmath.NewInt(1000), sdkmath.NewInt(1000))
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	})

	t.Run("negative proposed total rejected", func(t *testing.T) {
		s := slot("a", 0, 10000, 0, types.SlotActive)
		_, err := MaxSafeAllocation(s, sdkmath.NewInt(-1), sdkmath.NewInt(1000))
		assert.ErrorIs(t, err, types.ErrInvalidAmount)
	})
}

func TestAssessAggregate(t *testing.T) {
	t.Run("value weighted average", func(t *testing.T) {
		slots := []types.StrategySlot{
			slot("a", 2000, 10000, 900, types.SlotActive),
			slot("b", 7000, 10000, 100, types.SlotActive),
		}
		// (900*2000 + 100*7000) / 1000 = 2500
		aggregate, err := AssessAggregate(slots)
		require.NoError(t, err)
		assert.Equal(t, int64(2500), aggregate)
	})

	t.Run("no capital means no risk", func(t *testing.T) {
		slots := []types.StrategySlot{
			slot("a", 9000, 10000, 0, types.SlotActive),
		}
		aggregate, err := AssessAggregate(slots)
		require.NoError(t, err)
		assert.Zero(t, aggregate)
	})

	t.Run("inactive slots carry no weight", func(t *testing.T) {
		slots := []types.StrategySlot{
			slot("a", 2000, 10000, 500, types.SlotActive),
			slot("b", 9000, 10000, 500, types.SlotInactive),
		}
		aggregate, err := AssessAggregate(slots)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), aggregate)
	})

	t.Run("draining slots still count", func(t *testing.T) {
		slots := []types.StrategySlot{
			slot("a", 4000, 10000, 500, types.SlotDraining),
		}
		aggregate, err := AssessAggregate(slots)
		require.NoError(t, err)
		assert.Equal(t, int64(4000), aggregate)
	})
}

func TestSnapshot(t *testing.T) {
	slots := []types.StrategySlot{
		slot("a", 2000, 2500, 600, types.SlotActive),
		slot("b", 0, 10000, 400, types.SlotActive),
		slot("c", 5000, 10000, 0, types.SlotInactive),
	}

	snapshot, err := Snapshot(slots, sdkmath.NewInt(1000))
	require.NoError(t, err)

	assert.Len(t, snapshot.Slots, 2)
	assert.Equal(t, sdkmath.NewInt(250), snapshot.Slots["a"].MaxSafeAllocation)
	assert.Equal(t, sdkmath.NewInt(1000), snapshot.Slots["b"].MaxSafeAllocation)
	assert.Equal(t, int64(1200), snapshot.AggregateRiskBps)
	assert.False(t, snapshot.TakenAt.IsZero())
}

func TestBreakerHysteresis(t *testing.T) {
	breaker, err := NewBreaker(6000, 5000)
	require.NoError(t, err)

	t.Run("stays released under the ceiling", func(t *testing.T) {
		changed, state := breaker.Evaluate(5999)
		assert.False(t, changed)
		assert.Equal(t, types.BreakerReleased, state)
	})

	t.Run("trips at the ceiling", func(t *testing.T) {
		changed, state := breaker.Evaluate(6000)
		assert.True(t, changed)
		assert.Equal(t, types.BreakerTripped, state)
		assert.True(t, breaker.Tripped())
	})

	t.Run("stays tripped inside the band", func(t *testing.T) {
		changed, state := breaker.Evaluate(5500)
		assert.False(t, changed)
		assert.Equal(t, types.BreakerTripped, state)
	})

	t.Run("releases under the release threshold", func(t *testing.T) {
		changed, state := breaker.Evaluate(5000)
		assert.True(t, changed)
		assert.Equal(t, types.BreakerReleased, state)
		assert.False(t, breaker.Tripped())
	})
}

func TestBreakerForce(t *testing.T) {
	breaker, err := NewBreaker(6000, 5000)
	require.NoError(t, err)

	breaker.ForceTrip("ops")
	assert.True(t, breaker.Tripped())

	// A forced breaker ignores favorable readings.
	changed, state := breaker.Evaluate(0)
	assert.False(t, changed)
	assert.Equal(t, types.BreakerTripped, state)

	snapshot := breaker.Snapshot()
	assert.True(t, snapshot.Forced)
	assert.Equal(t, int64(0), snapshot.LastAggregateBps)

	breaker.ForceRelease("ops")
	assert.False(t, breaker.Tripped())
	assert.False(t, breaker.Snapshot().Forced)

	// Automatic evaluation resumes after the override clears.
	changed, state = breaker.Evaluate(9000)
	assert.True(t, changed)
	assert.Equal(t, types.BreakerTripped, state)
}

func TestBreakerValidation(t *testing.T) {
	_, err := NewBreaker(0, 0)
	assert.Error(t, err)

	_, err = NewBreaker(5000, 5000)
	assert.Error(t, err)

	breaker, err := NewBreaker(6000, 5000)
	require.NoError(t, err)
	assert.Error(t, breaker.SetThresholds(4000, 4000))
	assert.NoError(t, breaker.SetThresholds(7000, 6000))
	snapshot := breaker.Snapshot()
	assert.Equal(t, int64(7000), snapshot.CeilingBps)
	assert.Equal(t, int64(6000), snapshot.ReleaseBps)
}
