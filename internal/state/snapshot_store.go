// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/basin-labs/vase/internal/types"
	"github.com/rs/zerolog/log"
)

// SaveCycleSnapshot saves a complete cycle snapshot to the database.
func SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	// Marshal all JSONB fields
	vaultBeforeJSON, err := json.Marshal(snapshot.VaultBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal vault_before: %w", err)
	}

	vaultAfterJSON, err := json.Marshal(snapshot.VaultAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal vault_after: %w", err)
	}

	slotsBeforeJSON, err := json.Marshal(snapshot.SlotsBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal slots_before: %w", err)
	}

	slotsAfterJSON, err := json.Marshal(snapshot.SlotsAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal slots_after: %w", err)
	}

	planJSON, err := json.Marshal(snapshot.Plan)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal rebalance_plan: %w", err)
	}

	reportJSON, err := json.Marshal(snapshot.Report)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal apply_report: %w", err)
	}

	eventsJSON, err := json.Marshal(snapshot.Events)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal events: %w", err)
	}

	var paramsID interface{}
	if snapshot.ParamsID > 0 {
		paramsID = snapshot.ParamsID
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_id, cycle_number, snapshot_timestamp, engine_params_id,
			initial_vault_value, initial_idle_balance, vault_before, slots_before,
			aggregate_risk_bps, breaker_state, rebalance_plan, apply_report,
			final_vault_value, final_idle_balance, vault_after, slots_after, events,
			duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleID, snapshot.CycleNumber, snapshot.Timestamp, paramsID,
		snapshot.TotalValueBefore, snapshot.IdleBefore, vaultBeforeJSON, slotsBeforeJSON,
		snapshot.AggregateRiskBps, string(snapshot.BreakerState), planJSON, reportJSON,
		snapshot.TotalValueAfter, snapshot.IdleAfter, vaultAfterJSON, slotsAfterJSON, eventsJSON,
		snapshot.DurationMs,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Float64("final_vault_value", snapshot.TotalValueAfter).
		Msg("Cycle snapshot saved to database")

	return snapshotID, nil
}

// GetRecentCycles returns the most recent cycle snapshots, newest first.
func GetRecentCycles(limit int) ([]types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT snapshot_id, cycle_id, cycle_number, snapshot_timestamp,
		       COALESCE(engine_params_id, 0),
		       vault_before, slots_before,
		       aggregate_risk_bps, breaker_state, rebalance_plan, apply_report,
		       initial_vault_value, final_vault_value, initial_idle_balance, final_idle_balance,
		       vault_after, slots_after, events,
		       duration_ms
		FROM cycle_snapshots
		ORDER BY cycle_number DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent cycles: %w", err)
	}
	defer rows.Close()

	var snapshots []types.CycleSnapshot
	for rows.Next() {
		snap, err := scanCycleSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating recent cycles: %w", err)
	}
	return snapshots, nil
}

// GetCycleByID loads a single cycle snapshot by its cycle UUID.
func GetCycleByID(cycleID string) (*types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_id, cycle_id, cycle_number, snapshot_timestamp,
		       COALESCE(engine_params_id, 0),
		       vault_before, slots_before,
		       aggregate_risk_bps, breaker_state, rebalance_plan, apply_report,
		       initial_vault_value, final_vault_value, initial_idle_balance, final_idle_balance,
		       vault_after, slots_after, events,
		       duration_ms
		FROM cycle_snapshots
		WHERE cycle_id = $1;`

	rows, err := DB.Query(query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle %s: %w", cycleID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query cycle %s: %w", cycleID, err)
		}
		return nil, sql.ErrNoRows
	}
	snap, err := scanCycleSnapshot(rows)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func scanCycleSnapshot(rows *sql.Rows) (types.CycleSnapshot, error) {
	var snap types.CycleSnapshot
	var breakerState string
	var vaultBeforeJSON, slotsBeforeJSON, planJSON, reportJSON []byte
	var vaultAfterJSON, slotsAfterJSON, eventsJSON []byte

	err := rows.Scan(
		&snap.SnapshotID, &snap.CycleID, &snap.CycleNumber, &snap.Timestamp,
		&snap.ParamsID,
		&vaultBeforeJSON, &slotsBeforeJSON,
		&snap.AggregateRiskBps, &breakerState, &planJSON, &reportJSON,
		&snap.TotalValueBefore, &snap.TotalValueAfter, &snap.IdleBefore, &snap.IdleAfter,
		&vaultAfterJSON, &slotsAfterJSON, &eventsJSON,
		&snap.DurationMs,
	)
	if err != nil {
		return snap, fmt.Errorf("failed to scan cycle snapshot: %w", err)
	}
	snap.BreakerState = types.BreakerState(breakerState)

	if err := json.Unmarshal(vaultBeforeJSON, &snap.VaultBefore); err != nil {
		return snap, fmt.Errorf("failed to unmarshal vault_before: %w", err)
	}
	if err := json.Unmarshal(vaultAfterJSON, &snap.VaultAfter); err != nil {
		return snap, fmt.Errorf("failed to unmarshal vault_after: %w", err)
	}
	if err := json.Unmarshal(slotsBeforeJSON, &snap.SlotsBefore); err != nil {
		return snap, fmt.Errorf("failed to unmarshal slots_before: %w", err)
	}
	if err := json.Unmarshal(slotsAfterJSON, &snap.SlotsAfter); err != nil {
		return snap, fmt.Errorf("failed to unmarshal slots_after: %w", err)
	}
	if len(planJSON) > 0 && string(planJSON) != "null" {
		if err := json.Unmarshal(planJSON, &snap.Plan); err != nil {
			return snap, fmt.Errorf("failed to unmarshal rebalance_plan: %w", err)
		}
	}
	if len(reportJSON) > 0 && string(reportJSON) != "null" {
		if err := json.Unmarshal(reportJSON, &snap.Report); err != nil {
			return snap, fmt.Errorf("failed to unmarshal apply_report: %w", err)
		}
	}
	if len(eventsJSON) > 0 && string(eventsJSON) != "null" {
		if err := json.Unmarshal(eventsJSON, &snap.Events); err != nil {
			return snap, fmt.Errorf("failed to unmarshal events: %w", err)
		}
	}
	return snap, nil
}
