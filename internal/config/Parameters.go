/*

This file contains the default parameters for the allocation engine.

These parameters are designed for managing significant capital in a production
environment. Each value has been chosen to balance risk management with
responsiveness to allocation drift.

*/

package config

import (
	"github.com/basin-labs/vase/internal/types"
)

// DefaultEngineParameters provides a baseline parameter set for the engine.
// These values are used if no active parameters are found in the database
// during initialization.
var DefaultEngineParameters = types.EngineParameters{
	Name:    "default",
	Version: 1,

	// --- Rebalancing ---
	DriftToleranceBps: 100, // Tolerate 1% drift around each slot's target.
	// Rationale: Rebalancing inside a 1% band churns adapter round trips for
	// negligible allocation improvement. Outside it, drift compounds.

	MinMoveAmount: 1_000_000, // Skip moves below 1e6 base units.
	// Rationale: Small moves cost a full adapter round trip (and, for live
	// adapters, real execution fees) without meaningfully changing the
	// allocation picture.

	AutoInvest: true, // Put fresh deposits to work immediately.
	// Rationale: Idle capital earns nothing. Deposits should flow into
	// strategies in the same transition unless the breaker forbids it.

	// --- Risk circuit breaker ---
	AggregateRiskCeilingBps: 6000, // Trip when value-weighted risk exceeds 60%.
	// Rationale: Above this level the portfolio as a whole is riskier than
	// any single slot cap was meant to permit. Halting new investment is
	// cheaper than unwinding losses.

	RiskReleaseBps: 5000, // Auto-release only once risk falls back under 50%.
	// Rationale: The 10-point hysteresis band keeps the breaker from
	// oscillating when aggregate risk hovers near the ceiling.

	// --- Oracle freshness ---
	OracleMaxAgeSeconds: 300, // Reject price readings older than 5 minutes.
	// Rationale: Stale prices make share issuance exploitable. Five minutes
	// bounds the drift a depositor could arbitrage against.

	OracleMinConfidence: 0.8, // Reject low-confidence readings outright.

	// --- Governance ---
	TimelockHours: 48, // Risk-relevant config changes wait two days.
	// Rationale: Long enough for depositors to observe a pending change and
	// exit before it takes effect.
}
