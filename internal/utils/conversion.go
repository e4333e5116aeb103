/*
This file contains common utility functions for converting between different types,
particularly for SDK math operations, basis-point arithmetic and precision handling.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// BpsDenominator is the full scale for basis-point arithmetic: 10000 bps = 100%.
const BpsDenominator = 10000

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrInvalidBps       = errors.New("basis points out of range")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// BpsOf returns floor(total * bps / 10000). Floor keeps every bps-derived
// ceiling and target conservative.
func BpsOf(total sdkmath.Int, bps int64) (sdkmath.Int, error) {
	if total.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if total.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if bps < 0 || bps > BpsDenominator {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d", ErrInvalidBps, bps)
	}
	return total.MulRaw(bps).QuoRaw(BpsDenominator), nil
}

// MinInt returns the smaller of two sdkmath.Int values.
func MinInt(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	result := decAmount.Quo(factor)
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}
