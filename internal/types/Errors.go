/*

This file contains the sentinel errors shared across the engine. Packages wrap
these with errors.Join to attach detail; callers discriminate with errors.Is.

*/

package types

import "errors"

var (
	// Validation failures: rejected before any state mutation or external call.
	ErrZeroAmount         = errors.New("amount must be greater than zero")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientShares = errors.New("insufficient share balance")
	ErrVaultPaused        = errors.New("vault is paused")
	ErrTimeLockNotElapsed = errors.New("time lock has not elapsed")
	ErrUnknownStrategy    = errors.New("unknown strategy")

	// Policy violations: the request will never succeed as stated.
	ErrUnsafeRebalance = errors.New("rebalance plan violates risk caps")
	ErrCapExceeded     = errors.New("allocation cap exceeded")
	ErrNotInEmergency  = errors.New("vault not paused and circuit breaker not tripped")

	// Transient failures: retry may succeed once conditions change.
	ErrLiquidityUnavailable = errors.New("divestable liquidity below requested amount")
	ErrOracleStale          = errors.New("oracle reading stale or below confidence threshold")
	ErrAdapterFailure       = errors.New("strategy adapter call failed")
)
