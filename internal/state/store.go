// ./internal/state/store.go
package state

import (
	"github.com/basin-labs/vase/internal/types"
)

// PostgresStore adapts the package-level persistence functions to the
// engine's store interfaces. The engine calls these with its lock held, so
// none of them may call back into the engine.
type PostgresStore struct {
	ConfigName string
}

// NewPostgresStore returns a store writing through the global DB pool.
func NewPostgresStore(configName string) *PostgresStore {
	if configName == "" {
		configName = "default"
	}
	return &PostgresStore{ConfigName: configName}
}

func (s *PostgresStore) SaveVault(vault types.Vault) error {
	return SaveVault(vault)
}

func (s *PostgresStore) SaveShareBalances(balances []types.ShareBalance) error {
	return SaveShareBalances(balances)
}

func (s *PostgresStore) SaveSlots(slots []types.StrategySlot) error {
	return SaveSlots(slots)
}

func (s *PostgresStore) AppendEvents(events []types.Event) error {
	return AppendEvents(events)
}

func (s *PostgresStore) SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error) {
	return SaveCycleSnapshot(snapshot)
}

func (s *PostgresStore) NextCycleNumber() (int, error) {
	return IncrementCycleNumber()
}

func (s *PostgresStore) SaveParams(params types.EngineParameters) (int64, error) {
	return SaveEngineParameters(params, s.ConfigName, params.Version, true)
}

func (s *PostgresStore) SaveProposal(proposal types.Proposal) error {
	return SaveProposal(proposal)
}

func (s *PostgresStore) UpdateProposal(proposal types.Proposal) error {
	return UpdateProposal(proposal)
}
