// ./internal/state/vault_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/basin-labs/vase/internal/types"
)

// SaveVault upserts the single vault state row.
func SaveVault(vault types.Vault) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
		INSERT INTO vault_state (id, base_denom, idle_balance, total_shares, paused, pending_upgrade_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			base_denom = EXCLUDED.base_denom,
			idle_balance = EXCLUDED.idle_balance,
			total_shares = EXCLUDED.total_shares,
			paused = EXCLUDED.paused,
			pending_upgrade_at = EXCLUDED.pending_upgrade_at,
			updated_at = EXCLUDED.updated_at;`

	_, err := DB.Exec(stmt,
		vault.BaseDenom,
		vault.IdleBalance.String(),
		vault.TotalShares.String(),
		vault.Status == types.VaultPaused,
		vault.PendingUpgradeTimestamp,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save vault state: %w", err)
	}
	return nil
}

// LoadVault reads the vault state row. Returns sql.ErrNoRows when the vault
// has never been persisted.
func LoadVault() (*types.Vault, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT base_denom, idle_balance, total_shares, paused, pending_upgrade_at, updated_at
		FROM vault_state WHERE id = 1;`

	var (
		vault     types.Vault
		idleStr   string
		sharesStr string
		paused    bool
		pending   sql.NullTime
	)
	row := DB.QueryRow(query)
	err := row.Scan(&vault.BaseDenom, &idleStr, &sharesStr, &paused, &pending, &vault.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan vault state: %w", err)
	}

	idle, ok := sdkmath.NewIntFromString(idleStr)
	if !ok {
		return nil, fmt.Errorf("invalid idle_balance stored for vault: %s", idleStr)
	}
	shares, ok := sdkmath.NewIntFromString(sharesStr)
	if !ok {
		return nil, fmt.Errorf("invalid total_shares stored for vault: %s", sharesStr)
	}
	vault.IdleBalance = idle
	vault.TotalShares = shares
	vault.Status = types.VaultActive
	if paused {
		vault.Status = types.VaultPaused
	}
	if pending.Valid {
		t := pending.Time
		vault.PendingUpgradeTimestamp = &t
	}
	return &vault, nil
}

// SaveShareBalances replaces the full share balance table with the given set.
// Balances are written transactionally so readers never see a partial ledger.
func SaveShareBalances(balances []types.ShareBalance) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM share_balances;`); err != nil {
		return fmt.Errorf("failed to clear share balances: %w", err)
	}

	stmt := `INSERT INTO share_balances (owner, shares, updated_at) VALUES ($1, $2, $3);`
	now := time.Now()
	for _, balance := range balances {
		if balance.Shares.IsZero() {
			continue
		}
		if _, err = tx.Exec(stmt, balance.Owner, balance.Shares.String(), now); err != nil {
			return fmt.Errorf("failed to insert share balance for %s: %w", balance.Owner, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit share balances: %w", err)
	}
	return nil
}

// LoadShareBalances reads all persisted share balances.
func LoadShareBalances() ([]types.ShareBalance, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT owner, shares FROM share_balances;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query share balances: %w", err)
	}
	defer rows.Close()

	var balances []types.ShareBalance
	for rows.Next() {
		var owner, sharesStr string
		if err := rows.Scan(&owner, &sharesStr); err != nil {
			return nil, fmt.Errorf("failed to scan share balance: %w", err)
		}
		shares, ok := sdkmath.NewIntFromString(sharesStr)
		if !ok {
			return nil, fmt.Errorf("invalid shares stored for %s: %s", owner, sharesStr)
		}
		balances = append(balances, types.ShareBalance{Owner: owner, Shares: shares})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating share balances: %w", err)
	}
	return balances, nil
}

// SaveSlots upserts every strategy slot row.
func SaveSlots(slots []types.StrategySlot) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	stmt := `
		INSERT INTO strategy_slots (strategy_id, adapter_kind, denom, target_weight_bps, max_cap_bps, risk_score, current_allocated_value, state, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (strategy_id) DO UPDATE SET
			adapter_kind = EXCLUDED.adapter_kind,
			denom = EXCLUDED.denom,
			target_weight_bps = EXCLUDED.target_weight_bps,
			max_cap_bps = EXCLUDED.max_cap_bps,
			risk_score = EXCLUDED.risk_score,
			current_allocated_value = EXCLUDED.current_allocated_value,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at;`

	now := time.Now()
	for _, slot := range slots {
		_, err = tx.Exec(stmt,
			string(slot.StrategyID), slot.AdapterKind, slot.Denom,
			slot.TargetWeightBps, slot.MaxCapBps, slot.RiskScore,
			slot.CurrentAllocatedValue.String(), string(slot.State), now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert slot %s: %w", slot.StrategyID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit strategy slots: %w", err)
	}
	return nil
}

// LoadSlots reads all persisted strategy slots.
func LoadSlots() ([]types.StrategySlot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT strategy_id, adapter_kind, denom, target_weight_bps, max_cap_bps, risk_score, current_allocated_value, state, updated_at
		FROM strategy_slots ORDER BY strategy_id;`

	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy slots: %w", err)
	}
	defer rows.Close()

	var slots []types.StrategySlot
	for rows.Next() {
		var (
			slot         types.StrategySlot
			id, stateStr string
			allocatedStr string
		)
		err := rows.Scan(&id, &slot.AdapterKind, &slot.Denom,
			&slot.TargetWeightBps, &slot.MaxCapBps, &slot.RiskScore,
			&allocatedStr, &stateStr, &slot.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy slot: %w", err)
		}
		allocated, ok := sdkmath.NewIntFromString(allocatedStr)
		if !ok {
			return nil, fmt.Errorf("invalid current_allocated_value stored for %s: %s", id, allocatedStr)
		}
		slot.StrategyID = types.StrategyID(id)
		slot.State = types.SlotState(stateStr)
		slot.CurrentAllocatedValue = allocated
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating strategy slots: %w", err)
	}

	log.Debug().Int("count", len(slots)).Msg("Loaded strategy slots from database")
	return slots, nil
}
