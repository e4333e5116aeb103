/*

This file contains the time-locked governance scheduler. Every change to
slot configuration or risk ceilings is proposed first; the proposal carries
an effectiveAt timestamp stamped from the configured delay and can only be
executed once that instant has passed. Execution hands the change to the
engine, which applies it inside its own transition.

*/

package governance

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/basin-labs/vase/internal/logger"
	"github.com/basin-labs/vase/internal/types"
	"github.com/basin-labs/vase/internal/utils"
)

// Applier receives executed changes. The engine implements this.
type Applier interface {
	ApplyConfigChange(change types.ConfigChange) error
}

// ProposalStore persists proposal lifecycle transitions. Optional; a nil
// store keeps proposals in memory only.
type ProposalStore interface {
	SaveProposal(types.Proposal) error
	UpdateProposal(types.Proposal) error
}

// Scheduler tracks pending proposals and enforces the time lock.
type Scheduler struct {
	mu        sync.Mutex
	log       zerolog.Logger
	timelock  time.Duration
	applier   Applier
	store     ProposalStore
	proposals map[uuid.UUID]*types.Proposal
	now       func() time.Time
}

// Option adjusts scheduler construction.
type Option func(*Scheduler)

// WithStore attaches a proposal store.
func WithStore(store ProposalStore) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithClock overrides the clock, used by tests to elapse the time lock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler returns a scheduler with the given delay.
func NewScheduler(timelock time.Duration, applier Applier, opts ...Option) (*Scheduler, error) {
	if timelock < 0 {
		return nil, fmt.Errorf("timelock cannot be negative: %s", timelock)
	}
	if applier == nil {
		return nil, errors.New("applier is required")
	}
	s := &Scheduler{
		log:       logger.GetForComponent("governance"),
		timelock:  timelock,
		applier:   applier,
		proposals: make(map[uuid.UUID]*types.Proposal),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetTimelock replaces the delay for future proposals. Already-stamped
// effectiveAt timestamps never move.
func (s *Scheduler) SetTimelock(timelock time.Duration) error {
	if timelock < 0 {
		return fmt.Errorf("timelock cannot be negative: %s", timelock)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timelock = timelock
	return nil
}

// Propose validates and schedules a change, stamping effectiveAt = now +
// timelock.
func (s *Scheduler) Propose(change types.ConfigChange, by string) (types.Proposal, error) {
	if err := validateChange(change); err != nil {
		return types.Proposal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	proposal := types.Proposal{
		ProposalID:  uuid.New(),
		Change:      change,
		Status:      types.ProposalPending,
		ProposedBy:  by,
		ProposedAt:  now,
		EffectiveAt: now.Add(s.timelock),
	}
	if s.store != nil {
		if err := s.store.SaveProposal(proposal); err != nil {
			return types.Proposal{}, fmt.Errorf("failed to persist proposal: %w", err)
		}
	}
	s.proposals[proposal.ProposalID] = &proposal

	s.log.Info().
		Str("proposal_id", proposal.ProposalID.String()).
		Str("kind", string(change.Kind)).
		Str("by", by).
		Time("effective_at", proposal.EffectiveAt).
		Msg("Configuration change proposed")
	return proposal, nil
}

// Execute applies a pending proposal. Fails with ErrTimeLockNotElapsed
// before effectiveAt; the proposal stays pending and can be retried.
func (s *Scheduler) Execute(id uuid.UUID) (types.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[id]
	if !ok {
		return types.Proposal{}, fmt.Errorf("proposal %s not found", id)
	}
	if proposal.Status != types.ProposalPending {
		return *proposal, fmt.Errorf("proposal %s is %s, only PENDING proposals can execute", id, proposal.Status)
	}

	now := s.now()
	if now.Before(proposal.EffectiveAt) {
		return *proposal, errors.Join(types.ErrTimeLockNotElapsed,
			fmt.Errorf("proposal %s executable at %s, %s remaining",
				id, proposal.EffectiveAt.Format(time.RFC3339), proposal.EffectiveAt.Sub(now)))
	}

	if err := s.applier.ApplyConfigChange(proposal.Change); err != nil {
		return *proposal, fmt.Errorf("proposal %s failed to apply: %w", id, err)
	}

	proposal.Status = types.ProposalExecuted
	proposal.ExecutedAt = &now
	if s.store != nil {
		if err := s.store.UpdateProposal(*proposal); err != nil {
			s.log.Error().Err(err).Str("proposal_id", id.String()).Msg("Failed to persist executed proposal")
		}
	}

	s.log.Info().
		Str("proposal_id", id.String()).
		Str("kind", string(proposal.Change.Kind)).
		Msg("Configuration change executed")
	return *proposal, nil
}

// Cancel withdraws a pending proposal.
func (s *Scheduler) Cancel(id uuid.UUID, by string) (types.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[id]
	if !ok {
		return types.Proposal{}, fmt.Errorf("proposal %s not found", id)
	}
	if proposal.Status != types.ProposalPending {
		return *proposal, fmt.Errorf("proposal %s is %s, only PENDING proposals can be canceled", id, proposal.Status)
	}

	now := s.now()
	proposal.Status = types.ProposalCanceled
	proposal.CanceledAt = &now
	if s.store != nil {
		if err := s.store.UpdateProposal(*proposal); err != nil {
			s.log.Error().Err(err).Str("proposal_id", id.String()).Msg("Failed to persist canceled proposal")
		}
	}

	s.log.Info().
		Str("proposal_id", id.String()).
		Str("by", by).
		Msg("Configuration change canceled")
	return *proposal, nil
}

// Proposals returns every tracked proposal, newest first.
func (s *Scheduler) Proposals() []types.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProposedAt.After(out[j].ProposedAt)
	})
	return out
}

// EarliestPending returns the effectiveAt of the earliest pending proposal,
// mirrored into the vault's pendingUpgradeTimestamp, or nil when nothing is
// pending.
func (s *Scheduler) EarliestPending() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *time.Time
	for _, p := range s.proposals {
		if p.Status != types.ProposalPending {
			continue
		}
		if earliest == nil || p.EffectiveAt.Before(*earliest) {
			t := p.EffectiveAt
			earliest = &t
		}
	}
	return earliest
}

// Restore loads persisted proposals at boot.
func (s *Scheduler) Restore(proposals []types.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range proposals {
		restored := p
		s.proposals[p.ProposalID] = &restored
	}
}

func validateChange(change types.ConfigChange) error {
	switch change.Kind {
	case types.ChangeSetTargetWeight, types.ChangeSetMaxCap:
		if change.StrategyID == "" {
			return errors.Join(types.ErrUnknownStrategy, fmt.Errorf("%s requires a strategy id", change.Kind))
		}
		if change.ValueBps < 0 || change.ValueBps > utils.BpsDenominator {
			return errors.Join(types.ErrCapExceeded,
				fmt.Errorf("%s value out of range [0,10000]: %d", change.Kind, change.ValueBps))
		}
	case types.ChangeSetDriftTolerance:
		if change.ValueBps < 0 || change.ValueBps > utils.BpsDenominator {
			return errors.Join(types.ErrCapExceeded,
				fmt.Errorf("drift tolerance out of range [0,10000]: %d", change.ValueBps))
		}
	case types.ChangeSetRiskCeiling:
		if change.CeilingBps <= 0 || change.CeilingBps > utils.BpsDenominator {
			return fmt.Errorf("risk ceiling out of range (0,10000]: %d", change.CeilingBps)
		}
		if change.ReleaseBps < 0 || change.ReleaseBps >= change.CeilingBps {
			return fmt.Errorf("risk release %d must sit below ceiling %d", change.ReleaseBps, change.CeilingBps)
		}
	case types.ChangeAddSlot:
		if change.Slot == nil {
			return errors.New("add_slot requires a slot definition")
		}
		if change.Slot.StrategyID == "" {
			return errors.Join(types.ErrUnknownStrategy, errors.New("add_slot slot has no strategy id"))
		}
	case types.ChangeRetireSlot:
		if change.StrategyID == "" {
			return errors.Join(types.ErrUnknownStrategy, errors.New("retire_slot requires a strategy id"))
		}
	default:
		return fmt.Errorf("unknown change kind %q", change.Kind)
	}
	return nil
}
