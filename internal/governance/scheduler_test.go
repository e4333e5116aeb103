package governance

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basin-labs/vase/internal/types"
)

type recordingApplier struct {
	applied []types.ConfigChange
	fail    error
}

func (a *recordingApplier) ApplyConfigChange(change types.ConfigChange) error {
	if a.fail != nil {
		return a.fail
	}
	a.applied = append(a.applied, change)
	return nil
}

type recordingStore struct {
	saved   []types.Proposal
	updated []types.Proposal
}

func (s *recordingStore) SaveProposal(p types.Proposal) error {
	s.saved = append(s.saved, p)
	return nil
}

func (s *recordingStore) UpdateProposal(p types.Proposal) error {
	s.updated = append(s.updated, p)
	return nil
}

func weightChange(id types.StrategyID, bps int64) types.ConfigChange {
	return types.ConfigChange{Kind: types.ChangeSetTargetWeight, StrategyID: id, ValueBps: bps}
}

// testClock is a settable clock for elapsing the time lock.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestScheduler(t *testing.T, timelock time.Duration, applier Applier, opts ...Option) (*Scheduler, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts = append(opts, WithClock(clock.Now))
	s, err := NewScheduler(timelock, applier, opts...)
	require.NoError(t, err)
	return s, clock
}

func TestPropose(t *testing.T) {
	t.Run("stamps effectiveAt from the timelock", func(t *testing.T) {
		applier := &recordingApplier{}
		s, clock := newTestScheduler(t, 48*time.Hour, applier)

		proposal, err := s.Propose(weightChange("alpha", 7000), "gov")
		require.NoError(t, err)
		assert.Equal(t, types.ProposalPending, proposal.Status)
		assert.Equal(t, "gov", proposal.ProposedBy)
		assert.Equal(t, clock.Now().Add(48*time.Hour), proposal.EffectiveAt)
		assert.Empty(t, applier.applied)
	})

	t.Run("invalid changes rejected", func(t *testing.T) {
		s, _ := newTestScheduler(t, time.Hour, &recordingApplier{})

		_, err := s.Propose(weightChange("", 7000), "gov")
		assert.ErrorIs(t, err, types.ErrUnknownStrategy)

		_, err = s.Propose(weightChange("alpha", 10001), "gov")
		assert.ErrorIs(t, err, types.ErrCapExceeded)

		_, err = s.Propose(types.ConfigChange{Kind: "reboot"}, "gov")
		assert.Error(t, err)

		_, err = s.Propose(types.ConfigChange{
			Kind: types.ChangeSetRiskCeiling, CeilingBps: 5000, ReleaseBps: 5000,
		}, "gov")
		assert.Error(t, err)
	})

	t.Run("persists through the store", func(t *testing.T) {
		store := &recordingStore{}
		s, _ := newTestScheduler(t, time.Hour, &recordingApplier{}, WithStore(store))

		proposal, err := s.Propose(weightChange("alpha", 7000), "gov")
		require.NoError(t, err)
		require.Len(t, store.saved, 1)
		assert.Equal(t, proposal.ProposalID, store.saved[0].ProposalID)
	})
}

func TestExecute(t *testing.T) {
	t.Run("blocked before effectiveAt, applies after", func(t *testing.T) {
		applier := &recordingApplier{}
		s, clock := newTestScheduler(t, 48*time.Hour, applier)
		proposal, err := s.Propose(weightChange("alpha", 7000), "gov")
		require.NoError(t, err)

		_, err = s.Execute(proposal.ProposalID)
		assert.ErrorIs(t, err, types.ErrTimeLockNotElapsed)

		clock.Advance(48*time.Hour - time.Second)
		_, err = s.Execute(proposal.ProposalID)
		assert.ErrorIs(t, err, types.ErrTimeLockNotElapsed)
		assert.Empty(t, applier.applied)

		clock.Advance(time.Second)
		executed, err := s.Execute(proposal.ProposalID)
		require.NoError(t, err)
		assert.Equal(t, types.ProposalExecuted, executed.Status)
		require.NotNil(t, executed.ExecutedAt)
		require.Len(t, applier.applied, 1)
		assert.Equal(t, int64(7000), applier.applied[0].ValueBps)
	})

	t.Run("executed proposals cannot run twice", func(t *testing.T) {
		applier := &recordingApplier{}
		s, clock := newTestScheduler(t, time.Hour, applier)
		proposal, err := s.Propose(weightChange("alpha", 7000), "gov")
		require.NoError(t, err)

		clock.Advance(2 * time.Hour)
		_, err = s.Execute(proposal.ProposalID)
		require.NoError(t, err)
		_, err = s.Execute(proposal.ProposalID)
		assert.Error(t, err)
		assert.Len(t, applier.applied, 1)
	})

	t.Run("apply failure keeps the proposal pending", func(t *testing.T) {
		applier := &recordingApplier{fail: errors.New("slot table rejected it")}
		s, clock := newTestScheduler(t, time.Hour, applier)
		proposal, err := s.Propose(weightChange("alpha", 7000), "gov")
		require.NoError(t, err)

		clock.Advance(2 * time.Hour)
		_, err = s.Execute(proposal.ProposalID)
		assert.Error(t, err)

		// Retried successfully once the applier recovers.
		applier.fail = nil
		executed, err := s.Execute(proposal.ProposalID)
		require.NoError(t, err)
		assert.Equal(t, types.ProposalExecuted, executed.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		s, _ := newTestScheduler(t, time.Hour, &recordingApplier{})
		_, err := s.Execute(uuid.New())
		assert.Error(t, err)
	})
}

func TestCancel(t *testing.T) {
	applier := &recordingApplier{}
	store := &recordingStore{}
	s, clock := newTestScheduler(t, time.Hour, applier, WithStore(store))
	proposal, err := s.Propose(weightChange("alpha", 7000), "gov")
	require.NoError(t, err)

	canceled, err := s.Cancel(proposal.ProposalID, "gov")
	require.NoError(t, err)
	assert.Equal(t, types.ProposalCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	require.Len(t, store.updated, 1)

	// The time lock elapsing changes nothing for a canceled proposal.
	clock.Advance(2 * time.Hour)
	_, err = s.Execute(proposal.ProposalID)
	assert.Error(t, err)
	assert.Empty(t, applier.applied)
}

func TestEarliestPending(t *testing.T) {
	s, clock := newTestScheduler(t, time.Hour, &recordingApplier{})
	assert.Nil(t, s.EarliestPending())

	first, err := s.Propose(weightChange("alpha", 7000), "gov")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	_, err = s.Propose(weightChange("beta", 3000), "gov")
	require.NoError(t, err)

	earliest := s.EarliestPending()
	require.NotNil(t, earliest)
	assert.Equal(t, first.EffectiveAt, *earliest)

	// Canceling the earliest moves the marker to the next pending one.
	_, err = s.Cancel(first.ProposalID, "gov")
	require.NoError(t, err)
	earliest = s.EarliestPending()
	require.NotNil(t, earliest)
	assert.True(t, earliest.After(first.EffectiveAt))
}

func TestProposalsNewestFirst(t *testing.T) {
	s, clock := newTestScheduler(t, time.Hour, &recordingApplier{})
	older, err := s.Propose(weightChange("alpha", 7000), "gov")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	newer, err := s.Propose(weightChange("beta", 3000), "gov")
	require.NoError(t, err)

	proposals := s.Proposals()
	require.Len(t, proposals, 2)
	assert.Equal(t, newer.ProposalID, proposals[0].ProposalID)
	assert.Equal(t, older.ProposalID, proposals[1].ProposalID)
}

func TestRestore(t *testing.T) {
	s, clock := newTestScheduler(t, time.Hour, &recordingApplier{})
	effective := clock.Now().Add(30 * time.Minute)
	s.Restore([]types.Proposal{{
		ProposalID:  uuid.New(),
		Change:      weightChange("alpha", 7000),
		Status:      types.ProposalPending,
		ProposedBy:  "gov",
		ProposedAt:  clock.Now().Add(-30 * time.Minute),
		EffectiveAt: effective,
	}})

	require.Len(t, s.Proposals(), 1)
	earliest := s.EarliestPending()
	require.NotNil(t, earliest)
	assert.Equal(t, effective, *earliest)

	// Restored proposals honor their persisted effectiveAt, not a fresh stamp.
	clock.Advance(time.Hour)
	_, err := s.Execute(s.Proposals()[0].ProposalID)
	assert.NoError(t, err)
}
