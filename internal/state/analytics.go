package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// VaultSummary represents high-level vault statistics
type VaultSummary struct {
	TotalValue  float64 `json:"total_value"`
	IdleBalance float64 `json:"idle_balance"`
	SlotCount   int     `json:"slot_count"`
	HolderCount int     `json:"holder_count"`
	TotalCycles int     `json:"total_cycles"`
	LastUpdated string  `json:"last_updated"`
}

// PerformanceMetrics represents aggregated cycle performance data
type PerformanceMetrics struct {
	NetValueChange   float64 `json:"net_value_change"`
	AvgCycleMs       float64 `json:"avg_cycle_ms"`
	TotalCycles      int     `json:"total_cycles"`
	GainingCycles    int     `json:"gaining_cycles"`
	AvgAggregateRisk float64 `json:"avg_aggregate_risk_bps"`
}

// GetVaultSummary retrieves high-level vault statistics
func GetVaultSummary() (*VaultSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &VaultSummary{}

	// Latest totals come from the most recent cycle snapshot.
	query := `
		SELECT
			final_vault_value,
			final_idle_balance,
			snapshot_timestamp
		FROM cycle_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT 1
	`

	var lastUpdated sql.NullString
	err := DB.QueryRow(query).Scan(&summary.TotalValue, &summary.IdleBalance, &lastUpdated)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get latest vault values: %w", err)
	}

	if lastUpdated.Valid {
		summary.LastUpdated = lastUpdated.String
	}

	err = DB.QueryRow("SELECT COUNT(*) FROM cycle_snapshots").Scan(&summary.TotalCycles)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get total cycle count")
	}

	err = DB.QueryRow("SELECT COUNT(*) FROM strategy_slots WHERE state != 'INACTIVE'").Scan(&summary.SlotCount)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get slot count")
	}

	err = DB.QueryRow("SELECT COUNT(*) FROM share_balances").Scan(&summary.HolderCount)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get holder count")
	}

	log.Info().Float64("totalValue", summary.TotalValue).Int("totalCycles", summary.TotalCycles).Msg("Retrieved vault summary")
	return summary, nil
}

// GetPerformanceMetrics retrieves aggregated performance metrics
func GetPerformanceMetrics() (*PerformanceMetrics, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	metrics := &PerformanceMetrics{}

	query := `
		SELECT
			COALESCE(SUM(final_vault_value - initial_vault_value), 0) as net_value_change,
			COALESCE(AVG(duration_ms), 0) as avg_cycle_ms,
			COUNT(*) as total_cycles,
			COUNT(CASE WHEN final_vault_value >= initial_vault_value THEN 1 END) as gaining_cycles,
			COALESCE(AVG(aggregate_risk_bps), 0) as avg_aggregate_risk_bps
		FROM cycle_snapshots
	`

	err := DB.QueryRow(query).Scan(
		&metrics.NetValueChange,
		&metrics.AvgCycleMs,
		&metrics.TotalCycles,
		&metrics.GainingCycles,
		&metrics.AvgAggregateRisk,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get performance metrics: %w", err)
	}

	log.Info().
		Float64("netValueChange", metrics.NetValueChange).
		Int("totalCycles", metrics.TotalCycles).
		Msg("Retrieved performance metrics")

	return metrics, nil
}
