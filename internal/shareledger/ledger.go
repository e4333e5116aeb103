/*

This file contains the share accounting core: the conversion between base
asset amounts and vault shares, and the per-holder balance ledger.

Both conversions use floor division. Deposits floor in favor of existing
holders; withdrawals floor in favor of the remaining pool. Neither direction
may ever round value out of the vault.

*/

package shareledger

import (
	"errors"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"

	"github.com/basin-labs/vase/internal/types"
)

// SharesForDeposit converts a deposit amount into shares against the
// pre-deposit totals. The very first deposit bootstraps the price at 1:1.
func SharesForDeposit(amount, totalValueBefore, totalSharesBefore sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || totalValueBefore.IsNil() || totalSharesBefore.IsNil() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount, errors.New("nil amount in share conversion"))
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount, fmt.Errorf("deposit amount is negative: %s", amount))
	}
	if amount.IsZero() {
		return sdkmath.ZeroInt(), types.ErrZeroAmount
	}

	if totalSharesBefore.IsZero() {
		return amount, nil
	}

	if !totalValueBefore.IsPositive() {
		// Shares exist but the backing value is gone; minting against zero
		// value would hand the depositor the whole vault.
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount,
			fmt.Errorf("total value %s is not positive while %s shares outstanding", totalValueBefore, totalSharesBefore))
	}

	// floor(amount * totalShares / totalValue); Int.Quo truncates, which is
	// floor for the non-negative operands validated above.
	shares := amount.Mul(totalSharesBefore).Quo(totalValueBefore)
	if shares.IsZero() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrZeroAmount,
			fmt.Errorf("deposit of %s is too small to mint a share at the current price", amount))
	}
	return shares, nil
}

// AssetsForShares converts a share count into the base asset amount it
// redeems for, flooring in favor of the remaining pool.
func AssetsForShares(shares, totalValue, totalShares sdkmath.Int) (sdkmath.Int, error) {
	if shares.IsNil() || totalValue.IsNil() || totalShares.IsNil() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount, errors.New("nil amount in share conversion"))
	}
	if shares.IsNegative() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount, fmt.Errorf("share amount is negative: %s", shares))
	}
	if shares.IsZero() {
		return sdkmath.ZeroInt(), types.ErrZeroAmount
	}
	if !totalShares.IsPositive() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInsufficientShares,
			errors.New("no shares outstanding"))
	}
	if shares.GT(totalShares) {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInsufficientShares,
			fmt.Errorf("requested %s shares of %s outstanding", shares, totalShares))
	}
	if totalValue.IsNegative() {
		return sdkmath.ZeroInt(), errors.Join(types.ErrInvalidAmount,
			fmt.Errorf("total value is negative: %s", totalValue))
	}

	return shares.Mul(totalValue).Quo(totalShares), nil
}

// Ledger tracks shares outstanding and per-holder balances. Absent entries
// and zero balances are the same thing; entries are dropped at zero. The
// ledger is not safe for concurrent use; the engine serializes access.
type Ledger struct {
	balances    map[string]sdkmath.Int
	totalShares sdkmath.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:    make(map[string]sdkmath.Int),
		totalShares: sdkmath.ZeroInt(),
	}
}

// Credit mints shares to owner.
func (l *Ledger) Credit(owner string, shares sdkmath.Int) error {
	if owner == "" {
		return errors.Join(types.ErrInvalidAmount, errors.New("owner is empty"))
	}
	if shares.IsNil() || shares.IsNegative() {
		return errors.Join(types.ErrInvalidAmount, fmt.Errorf("credit of %s shares", shares))
	}
	if shares.IsZero() {
		return types.ErrZeroAmount
	}
	l.balances[owner] = l.BalanceOf(owner).Add(shares)
	l.totalShares = l.totalShares.Add(shares)
	return nil
}

// Debit burns shares from owner. Fails with ErrInsufficientShares when the
// balance cannot cover the debit; nothing is mutated on failure.
func (l *Ledger) Debit(owner string, shares sdkmath.Int) error {
	if shares.IsNil() || shares.IsNegative() {
		return errors.Join(types.ErrInvalidAmount, fmt.Errorf("debit of %s shares", shares))
	}
	if shares.IsZero() {
		return types.ErrZeroAmount
	}
	balance := l.BalanceOf(owner)
	if balance.LT(shares) {
		return errors.Join(types.ErrInsufficientShares,
			fmt.Errorf("owner %s holds %s shares, debit requested %s", owner, balance, shares))
	}
	remaining := balance.Sub(shares)
	if remaining.IsZero() {
		delete(l.balances, owner)
	} else {
		l.balances[owner] = remaining
	}
	l.totalShares = l.totalShares.Sub(shares)
	return nil
}

// BalanceOf returns the holder's share balance, zero when absent.
func (l *Ledger) BalanceOf(owner string) sdkmath.Int {
	if balance, ok := l.balances[owner]; ok {
		return balance
	}
	return sdkmath.ZeroInt()
}

// TotalShares returns the shares outstanding.
func (l *Ledger) TotalShares() sdkmath.Int {
	return l.totalShares
}

// Holders returns every non-zero balance sorted by owner.
func (l *Ledger) Holders() []types.ShareBalance {
	holders := make([]types.ShareBalance, 0, len(l.balances))
	for owner, shares := range l.balances {
		holders = append(holders, types.ShareBalance{Owner: owner, Shares: shares})
	}
	sort.Slice(holders, func(i, j int) bool {
		return holders[i].Owner < holders[j].Owner
	})
	return holders
}

// SharePrice returns totalValue/totalShares as a decimal, 1:1 when no shares
// are outstanding.
func (l *Ledger) SharePrice(totalValue sdkmath.Int) sdkmath.LegacyDec {
	if l.totalShares.IsZero() {
		return sdkmath.LegacyOneDec()
	}
	return sdkmath.LegacyNewDecFromInt(totalValue).Quo(sdkmath.LegacyNewDecFromInt(l.totalShares))
}

// Restore replaces the ledger contents, used when loading persisted balances
// at boot. Entries with non-positive shares are rejected.
func (l *Ledger) Restore(balances []types.ShareBalance) error {
	restored := make(map[string]sdkmath.Int, len(balances))
	total := sdkmath.ZeroInt()
	for _, entry := range balances {
		if entry.Owner == "" || entry.Shares.IsNil() || !entry.Shares.IsPositive() {
			return errors.Join(types.ErrInvalidAmount,
				fmt.Errorf("invalid persisted balance for %q: %s", entry.Owner, entry.Shares))
		}
		if _, dup := restored[entry.Owner]; dup {
			return errors.Join(types.ErrInvalidAmount,
				fmt.Errorf("duplicate persisted balance for %q", entry.Owner))
		}
		restored[entry.Owner] = entry.Shares
		total = total.Add(entry.Shares)
	}
	l.balances = restored
	l.totalShares = total
	return nil
}

// Clone returns a deep copy, used by tests and simulation paths.
func (l *Ledger) Clone() *Ledger {
	clone := NewLedger()
	for owner, shares := range l.balances {
		clone.balances[owner] = shares
	}
	clone.totalShares = l.totalShares
	return clone
}
