package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBpsOf(t *testing.T) {
	t.Run("floors the scaled amount", func(t *testing.T) {
		got, err := BpsOf(sdkmath.NewInt(999), 3333)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(332), got, "999 * 3333 / 10000 floors to 332")
	})

	t.Run("full scale is identity", func(t *testing.T) {
		got, err := BpsOf(sdkmath.NewInt(1234), BpsDenominator)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(1234), got)
	})

	t.Run("zero bps yields zero", func(t *testing.T) {
		got, err := BpsOf(sdkmath.NewInt(1234), 0)
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	})

	t.Run("bps out of range rejected", func(t *testing.T) {
		_, err := BpsOf(sdkmath.NewInt(100), 10001)
		assert.ErrorIs(t, err, ErrInvalidBps)

		_, err = BpsOf(sdkmath.NewInt(100), -1)
		assert.ErrorIs(t, err, ErrInvalidBps)
	})

	t.Run("negative total rejected", func(t *testing.T) {
		_, err := BpsOf(sdkmath.NewInt(-1), 5000)
		assert.ErrorIs(t, err, ErrAmountNegative)
	})

	t.Run("nil total rejected", func(t *testing.T) {
		_, err := BpsOf(sdkmath.Int{}, 5000)
		assert.ErrorIs(t, err, ErrAmountNil)
	})
}

func TestMinInt(t *testing.T) {
	a := sdkmath.NewInt(3)
	b := sdkmath.NewInt(7)
	assert.Equal(t, a, MinInt(a, b))
	assert.Equal(t, a, MinInt(b, a))
	assert.Equal(t, a, MinInt(a, a))
}

func TestSDKIntToFloat64(t *testing.T) {
	t.Run("denormalizes by precision", func(t *testing.T) {
		got, err := SDKIntToFloat64(sdkmath.NewInt(1_500_000), 6)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, got, 1e-9)
	})

	t.Run("precision zero passes through", func(t *testing.T) {
		got, err := SDKIntToFloat64(sdkmath.NewInt(42), 0)
		require.NoError(t, err)
		assert.InDelta(t, 42.0, got, 1e-9)
	})

	t.Run("invalid precision rejected", func(t *testing.T) {
		_, err := SDKIntToFloat64(sdkmath.NewInt(1), 19)
		assert.ErrorIs(t, err, ErrInvalidPrecision)
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		_, err := SDKIntToFloat64(sdkmath.NewInt(-1), 6)
		assert.ErrorIs(t, err, ErrAmountNegative)
	})
}
