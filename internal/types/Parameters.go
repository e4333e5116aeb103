/*

This file contains the tunable parameters for the allocation and risk logic.
Different sets can exist for different market regimes; the risk-relevant
fields only change through the governance time-lock.

*/

package types

import (
	"errors"
	"fmt"
)

// EngineParameters holds all tunable thresholds used by the rebalancer, the
// risk assessor and the oracle freshness gate.
type EngineParameters struct {
	ParamsID int64  `json:"params_id,omitempty"` // assigned by the store
	Name     string `json:"name"`
	Version  int    `json:"version"`

	// --- Rebalancing ---
	DriftToleranceBps int64 `json:"drift_tolerance_bps"` // per-slot dead band around the target, in bps of the target value
	MinMoveAmount     int64 `json:"min_move_amount"`     // moves below this many base units are not worth the adapter round trip
	AutoInvest        bool  `json:"auto_invest"`         // run an investment pass after each deposit

	// --- Risk circuit breaker ---
	AggregateRiskCeilingBps int64 `json:"aggregate_risk_ceiling_bps"` // trip above this value-weighted aggregate risk
	RiskReleaseBps          int64 `json:"risk_release_bps"`           // auto-release below this; must sit under the ceiling

	// --- Oracle freshness ---
	OracleMaxAgeSeconds int64   `json:"oracle_max_age_seconds"` // readings older than this are stale
	OracleMinConfidence float64 `json:"oracle_min_confidence"`  // readings below this confidence are unusable

	// --- Governance ---
	TimelockHours int64 `json:"timelock_hours"` // delay before a proposed config change may execute
}

// Validate rejects parameter sets that would wedge the engine.
func (p *EngineParameters) Validate() error {
	var errs []error
	if p.DriftToleranceBps < 0 || p.DriftToleranceBps > 10000 {
		errs = append(errs, fmt.Errorf("drift_tolerance_bps out of range [0,10000]: %d", p.DriftToleranceBps))
	}
	if p.MinMoveAmount < 0 {
		errs = append(errs, fmt.Errorf("min_move_amount must be non-negative: %d", p.MinMoveAmount))
	}
	if p.AggregateRiskCeilingBps <= 0 || p.AggregateRiskCeilingBps > 10000 {
		errs = append(errs, fmt.Errorf("aggregate_risk_ceiling_bps out of range (0,10000]: %d", p.AggregateRiskCeilingBps))
	}
	if p.RiskReleaseBps < 0 || p.RiskReleaseBps >= p.AggregateRiskCeilingBps {
		errs = append(errs, fmt.Errorf("risk_release_bps must sit below the ceiling: %d", p.RiskReleaseBps))
	}
	if p.OracleMaxAgeSeconds <= 0 {
		errs = append(errs, fmt.Errorf("oracle_max_age_seconds must be positive: %d", p.OracleMaxAgeSeconds))
	}
	if p.OracleMinConfidence < 0 || p.OracleMinConfidence > 1 {
		errs = append(errs, fmt.Errorf("oracle_min_confidence out of range [0,1]: %f", p.OracleMinConfidence))
	}
	if p.TimelockHours < 0 {
		errs = append(errs, fmt.Errorf("timelock_hours must be non-negative: %d", p.TimelockHours))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
