/*

This file contains the vault aggregate root and the per-holder share entries
backing it. All balances are integer base units.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// VaultStatus is the top-level operating mode of the vault.
type VaultStatus string

const (
	VaultActive VaultStatus = "ACTIVE"
	VaultPaused VaultStatus = "PAUSED"
)

// Vault is the aggregate root. TotalShares may only be zero when the backing
// value is zero, and vice versa, outside the instant of the first deposit.
type Vault struct {
	BaseDenom               string      `json:"base_denom"`
	IdleBalance             sdkmath.Int `json:"idle_balance"`
	TotalShares             sdkmath.Int `json:"total_shares"`
	Status                  VaultStatus `json:"status"`
	PendingUpgradeTimestamp *time.Time  `json:"pending_upgrade_timestamp,omitempty"`
	UpdatedAt               time.Time   `json:"updated_at"`
}

// NewVault returns an empty active vault denominated in baseDenom.
func NewVault(baseDenom string) Vault {
	return Vault{
		BaseDenom:   baseDenom,
		IdleBalance: sdkmath.ZeroInt(),
		TotalShares: sdkmath.ZeroInt(),
		Status:      VaultActive,
		UpdatedAt:   time.Now().UTC(),
	}
}

// ShareBalance is one holder's claim entry. A missing entry and a zero
// balance mean the same thing; stores drop rows that reach zero.
type ShareBalance struct {
	Owner  string      `json:"owner"`
	Shares sdkmath.Int `json:"shares"`
}
