/*

This file contains the vault engine: the orchestrating state machine behind
deposit, withdrawal, emergency withdrawal and the rebalance cycle. Every
public operation runs under one mutex, so each transition observes and
leaves a fully consistent state; valuations are refreshed inside the
transition that uses them and never carried across.

*/

package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/basin-labs/vase/internal/adapter"
	"github.com/basin-labs/vase/internal/governance"
	"github.com/basin-labs/vase/internal/logger"
	"github.com/basin-labs/vase/internal/manager"
	"github.com/basin-labs/vase/internal/risk"
	"github.com/basin-labs/vase/internal/shareledger"
	"github.com/basin-labs/vase/internal/types"
)

// Store persists engine state between transitions. All methods are called
// with the engine lock held; implementations must not call back into the
// engine.
type Store interface {
	SaveVault(types.Vault) error
	SaveShareBalances([]types.ShareBalance) error
	SaveSlots([]types.StrategySlot) error
	AppendEvents([]types.Event) error
	SaveCycleSnapshot(types.CycleSnapshot) (int64, error)
	NextCycleNumber() (int, error)
}

// EventSink receives every committed event, typically the websocket hub.
type EventSink interface {
	Publish(types.Event)
}

// ParamsStore persists new active parameter sets when a governance change
// rewrites them.
type ParamsStore interface {
	SaveParams(types.EngineParameters) (int64, error)
}

// Config wires an engine together.
type Config struct {
	BaseDenom   string
	Params      types.EngineParameters
	ParamsID    int64
	Manager     *manager.Manager
	Breaker     *risk.Breaker
	Registry    *adapter.Registry
	Store       Store       // optional
	ParamsStore ParamsStore // optional
	Sink        EventSink   // optional
}

// Engine is the vault core. All exported methods are safe for concurrent
// use; they serialize behind the engine mutex.
type Engine struct {
	mu  sync.Mutex
	log zerolog.Logger

	vault    types.Vault
	ledger   *shareledger.Ledger
	manager  *manager.Manager
	breaker  *risk.Breaker
	registry *adapter.Registry
	params   types.EngineParameters
	paramsID int64
	gov      *governance.Scheduler

	store       Store
	paramsStore ParamsStore
	sink        EventSink

	// Events staged by the in-progress transition, flushed on commit.
	pending []types.Event
}

// New returns an engine over an empty active vault.
func New(cfg Config) (*Engine, error) {
	if cfg.BaseDenom == "" {
		return nil, errors.New("base denom is required")
	}
	if cfg.Manager == nil {
		return nil, errors.New("strategy manager is required")
	}
	if cfg.Breaker == nil {
		return nil, errors.New("risk breaker is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("adapter registry is required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine parameters: %w", err)
	}

	e := &Engine{
		log:         logger.GetForComponent("vault_engine"),
		vault:       types.NewVault(cfg.BaseDenom),
		ledger:      shareledger.NewLedger(),
		manager:     cfg.Manager,
		breaker:     cfg.Breaker,
		registry:    cfg.Registry,
		params:      cfg.Params,
		paramsID:    cfg.ParamsID,
		store:       cfg.Store,
		paramsStore: cfg.ParamsStore,
		sink:        cfg.Sink,
	}

	gov, err := governance.NewScheduler(time.Duration(cfg.Params.TimelockHours)*time.Hour, e)
	if err != nil {
		return nil, err
	}
	e.gov = gov
	return e, nil
}

// Restore loads persisted vault state at boot, replacing the empty vault.
func (e *Engine) Restore(vault types.Vault, balances []types.ShareBalance, slots []types.StrategySlot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vault.IdleBalance.IsNil() || vault.IdleBalance.IsNegative() {
		return errors.Join(types.ErrInvalidAmount, fmt.Errorf("persisted idle balance is invalid: %s", vault.IdleBalance))
	}
	if err := e.ledger.Restore(balances); err != nil {
		return err
	}
	if !e.ledger.TotalShares().Equal(vault.TotalShares) {
		return errors.Join(types.ErrInvalidAmount,
			fmt.Errorf("persisted balances sum to %s shares, vault row says %s",
				e.ledger.TotalShares(), vault.TotalShares))
	}
	if err := e.manager.Restore(slots); err != nil {
		return err
	}
	e.vault = vault
	e.log.Info().
		Str("idle", vault.IdleBalance.String()).
		Str("total_shares", vault.TotalShares.String()).
		Int("slots", len(slots)).
		Msg("Engine state restored")
	return nil
}

// Pause blocks deposits and normal withdrawals. Emergency withdrawal stays
// available.
func (e *Engine) Pause(by string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.vault.Status == types.VaultPaused {
		return errors.Join(types.ErrVaultPaused, errors.New("vault is already paused"))
	}
	e.vault.Status = types.VaultPaused
	e.vault.UpdatedAt = time.Now().UTC()
	e.emit(types.EventVaultPaused, map[string]string{"by": by})
	e.commit()
	return nil
}

// Unpause resumes normal operation. Refused while the circuit breaker is
// tripped; risk must subside or be force-released first.
func (e *Engine) Unpause(by string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.vault.Status != types.VaultPaused {
		return errors.New("vault is not paused")
	}
	if e.breaker.Tripped() {
		return errors.New("circuit breaker is tripped, release it before unpausing")
	}
	e.vault.Status = types.VaultActive
	e.vault.UpdatedAt = time.Now().UTC()
	e.emit(types.EventVaultUnpaused, map[string]string{"by": by})
	e.commit()
	return nil
}

// TripBreaker force-trips the risk circuit breaker.
func (e *Engine) TripBreaker(by string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breaker.ForceTrip(by)
	e.emit(types.EventBreakerTripped, map[string]string{"by": by, "forced": "true"})
	e.commit()
}

// ReleaseBreaker clears an operator trip.
func (e *Engine) ReleaseBreaker(by string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breaker.ForceRelease(by)
	e.emit(types.EventBreakerReleased, map[string]string{"by": by, "forced": "true"})
	e.commit()
}

// Vault returns a copy of the vault aggregate.
func (e *Engine) Vault() types.Vault {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vault
}

// Slots returns copies of the strategy slot table.
func (e *Engine) Slots() []types.StrategySlot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manager.Slots()
}

// BalanceOf returns one holder's share balance.
func (e *Engine) BalanceOf(owner string) sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.BalanceOf(owner)
}

// Holders returns every non-zero share balance.
func (e *Engine) Holders() []types.ShareBalance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Holders()
}

// Params returns the active engine parameters.
func (e *Engine) Params() types.EngineParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// BreakerSnapshot returns the circuit breaker view.
func (e *Engine) BreakerSnapshot() risk.BreakerSnapshot {
	return e.breaker.Snapshot()
}

// RiskSnapshot derives the ephemeral risk view from the cached slot state.
func (e *Engine) RiskSnapshot() (types.RiskSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return risk.Snapshot(e.manager.Slots(), e.totalValue())
}

// SharePrice returns the current share price from the cached valuations.
func (e *Engine) SharePrice() sdkmath.LegacyDec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.SharePrice(e.totalValue())
}

// totalValue is idle plus the slot allocation caches. Callers that price
// shares must refresh valuations first within the same transition.
func (e *Engine) totalValue() sdkmath.Int {
	return e.vault.IdleBalance.Add(e.manager.TotalAllocated())
}

// emit stages an event for the in-progress transition.
func (e *Engine) emit(kind types.EventKind, attrs map[string]string) {
	e.pending = append(e.pending, types.NewEvent(kind, attrs))
}

// commit flushes the staged events and persists the post-transition state.
// Persistence failures are logged, not returned: the in-memory state is
// authoritative and the next commit retries the full write.
func (e *Engine) commit() {
	events := e.pending
	e.pending = nil

	if e.store != nil {
		if err := e.store.SaveVault(e.vault); err != nil {
			e.log.Error().Err(err).Msg("Failed to persist vault state")
		}
		if err := e.store.SaveShareBalances(e.ledger.Holders()); err != nil {
			e.log.Error().Err(err).Msg("Failed to persist share balances")
		}
		if err := e.store.SaveSlots(e.manager.Slots()); err != nil {
			e.log.Error().Err(err).Msg("Failed to persist strategy slots")
		}
		if len(events) > 0 {
			if err := e.store.AppendEvents(events); err != nil {
				e.log.Error().Err(err).Msg("Failed to persist events")
			}
		}
	}
	if e.sink != nil {
		for _, event := range events {
			e.sink.Publish(event)
		}
	}
}
