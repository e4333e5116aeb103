package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basin-labs/vase/internal/adapter"
	"github.com/basin-labs/vase/internal/types"
)

// A zero timelock makes proposals executable immediately.
func zeroTimelockParams() types.EngineParameters {
	params := testEngineParams()
	params.TimelockHours = 0
	return params
}

func TestProposeAndExecuteChange(t *testing.T) {
	t.Run("target weight change lands on the slot", func(t *testing.T) {
		f := newTestEngine(t, zeroTimelockParams())
		f.addActive(t, "alpha", 5000, 10000, adapter.SimConfig{})

		proposal, err := f.eng.ProposeChange(types.ConfigChange{
			Kind:       types.ChangeSetTargetWeight,
			StrategyID: "alpha",
			ValueBps:   7000,
		}, "gov")
		require.NoError(t, err)
		assert.Equal(t, types.ProposalPending, proposal.Status)
		require.NotNil(t, f.eng.Vault().PendingUpgradeTimestamp)

		executed, err := f.eng.ExecuteChange(proposal.ProposalID)
		require.NoError(t, err)
		assert.Equal(t, types.ProposalExecuted, executed.Status)
		assert.NotNil(t, executed.ExecutedAt)
		assert.Nil(t, f.eng.Vault().PendingUpgradeTimestamp)

		slots := f.eng.Slots()
		require.Len(t, slots, 1)
		assert.Equal(t, int64(7000), slots[0].TargetWeightBps)
	})

	t.Run("unexpired time lock blocks execution", func(t *testing.T) {
		f := newTestEngine(t, testEngineParams()) // 48h timelock
		f.addActive(t, "alpha", 5000, 10000, adapter.SimConfig{})

		proposal, err := f.eng.ProposeChange(types.ConfigChange{
			Kind:       types.ChangeSetTargetWeight,
			StrategyID: "alpha",
			ValueBps:   7000,
		}, "gov")
		require.NoError(t, err)

		_, err = f.eng.ExecuteChange(proposal.ProposalID)
		assert.ErrorIs(t, err, types.ErrTimeLockNotElapsed)

		// Still pending and retryable.
		proposals := f.eng.Proposals()
		require.Len(t, proposals, 1)
		assert.Equal(t, types.ProposalPending, proposals[0].Status)
	})

	t.Run("drift tolerance change rewrites the active parameters", func(t *testing.T) {
		f := newTestEngine(t, zeroTimelockParams())

		proposal, err := f.eng.ProposeChange(types.ConfigChange{
			Kind:     types.ChangeSetDriftTolerance,
			ValueBps: 250,
		}, "gov")
		require.NoError(t, err)
		_, err = f.eng.ExecuteChange(proposal.ProposalID)
		require.NoError(t, err)

		assert.Equal(t, int64(250), f.eng.Params().DriftToleranceBps)
		require.Len(t, f.store.params, 1)
		assert.Equal(t, int64(250), f.store.params[0].DriftToleranceBps)
	})

	t.Run("risk ceiling change retunes the breaker", func(t *testing.T) {
		f := newTestEngine(t, zeroTimelockParams())

		proposal, err := f.eng.ProposeChange(types.ConfigChange{
			Kind:       types.ChangeSetRiskCeiling,
			CeilingBps: 7000,
			ReleaseBps: 6000,
		}, "gov")
		require.NoError(t, err)
		_, err = f.eng.ExecuteChange(proposal.ProposalID)
		require.NoError(t, err)

		snapshot := f.eng.BreakerSnapshot()
		assert.Equal(t, int64(7000), snapshot.CeilingBps)
		assert.Equal(t, int64(6000), snapshot.ReleaseBps)
		assert.Equal(t, int64(7000), f.eng.Params().AggregateRiskCeilingBps)
	})

	t.Run("add_slot binds and activates a new strategy", func(t *testing.T) {
		f := newTestEngine(t, zeroTimelockParams())
		require.NoError(t, f.registry.RegisterKind(adapter.SimKind, adapter.SimFactory))

		proposal, err := f.eng.ProposeChange(types.ConfigChange{
			Kind: types.ChangeAddSlot,
			Slot: &types.StrategySlot{
				StrategyID:      "alpha",
				AdapterKind:     adapter.SimKind,
				TargetWeightBps: 5000,
				MaxCapBps:       10000,
			},
		}, "gov")
		require.NoError(t, err)
		_, err = f.eng.ExecuteChange(proposal.ProposalID)
		require.NoError(t, err)

		slots := f.eng.Slots()
		require.Len(t, slots, 1)
		assert.Equal(t, types.SlotActive, slots[0].State)
		assert.Equal(t, 1, f.eng.Registry().BoundCount())
	})

	t.Run("retire_slot deactivates an empty strategy immediately", func(t *testing.T) {
		f := newTestEngine(t, zeroTimelockParams())
		f.addActive(t, "alpha", 5000, 10000, adapter.SimConfig{})

		proposal, err := f.eng.ProposeChange(types.ConfigChange{
			Kind:       types.ChangeRetireSlot,
			StrategyID: "alpha",
		}, "gov")
		require.NoError(t, err)
		_, err = f.eng.ExecuteChange(proposal.ProposalID)
		require.NoError(t, err)

		slots := f.eng.Slots()
		require.Len(t, slots, 1)
		assert.Equal(t, types.SlotInactive, slots[0].State)
	})

	t.Run("invalid change rejected at proposal time", func(t *testing.T) {
		f := newTestEngine(t, zeroTimelockParams())
		_, err := f.eng.ProposeChange(types.ConfigChange{
			Kind:       types.ChangeSetTargetWeight,
			StrategyID: "alpha",
			ValueBps:   10001,
		}, "gov")
		assert.ErrorIs(t, err, types.ErrCapExceeded)
	})

	t.Run("unknown proposal id", func(t *testing.T) {
		f := newTestEngine(t, zeroTimelockParams())
		_, err := f.eng.ExecuteChange(uuid.New())
		assert.Error(t, err)
	})
}

func TestCancelChange(t *testing.T) {
	f := newTestEngine(t, testEngineParams())
	f.addActive(t, "alpha", 5000, 10000, adapter.SimConfig{})

	proposal, err := f.eng.ProposeChange(types.ConfigChange{
		Kind:       types.ChangeSetTargetWeight,
		StrategyID: "alpha",
		ValueBps:   7000,
	}, "gov")
	require.NoError(t, err)
	require.NotNil(t, f.eng.Vault().PendingUpgradeTimestamp)

	canceled, err := f.eng.CancelChange(proposal.ProposalID, "gov")
	require.NoError(t, err)
	assert.Equal(t, types.ProposalCanceled, canceled.Status)
	assert.NotNil(t, canceled.CanceledAt)
	assert.Nil(t, f.eng.Vault().PendingUpgradeTimestamp)

	// A canceled proposal can be neither executed nor canceled again.
	_, err = f.eng.ExecuteChange(proposal.ProposalID)
	assert.Error(t, err)
	_, err = f.eng.CancelChange(proposal.ProposalID, "gov")
	assert.Error(t, err)

	// The slot keeps its original weight.
	slots := f.eng.Slots()
	require.Len(t, slots, 1)
	assert.Equal(t, int64(5000), slots[0].TargetWeightBps)
}

func TestRestoreProposals(t *testing.T) {
	f := newTestEngine(t, testEngineParams())
	original := newTestEngine(t, testEngineParams())
	original.addActive(t, "alpha", 5000, 10000, adapter.SimConfig{})

	proposal, err := original.eng.ProposeChange(types.ConfigChange{
		Kind:       types.ChangeSetTargetWeight,
		StrategyID: "alpha",
		ValueBps:   7000,
	}, "gov")
	require.NoError(t, err)

	f.eng.RestoreProposals(original.eng.Proposals())
	restored := f.eng.Proposals()
	require.Len(t, restored, 1)
	assert.Equal(t, proposal.ProposalID, restored[0].ProposalID)
	require.NotNil(t, f.eng.Vault().PendingUpgradeTimestamp)
	assert.Equal(t, proposal.EffectiveAt.Unix(), f.eng.Vault().PendingUpgradeTimestamp.Unix())
}
