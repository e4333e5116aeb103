/*

This file contains the rebalance plan value object and the receipts produced
when a plan is applied against live adapters.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// PlanStep is a single capital move. A negative delta divests from the
// strategy into the idle balance; a positive delta invests idle into it.
type PlanStep struct {
	StrategyID StrategyID  `json:"strategy_id"`
	Delta      sdkmath.Int `json:"delta"`
}

// RebalancePlan is an ephemeral value object. Divest steps precede invest
// steps so liquidity is in the idle balance before it is needed.
// Conservation: sum of step deltas plus IdleDelta equals zero.
type RebalancePlan struct {
	PlanID     uuid.UUID   `json:"plan_id"`
	Steps      []PlanStep  `json:"steps"`
	IdleDelta  sdkmath.Int `json:"idle_delta"`  // residual routed to (+) or from (-) the idle balance
	TotalValue sdkmath.Int `json:"total_value"` // vault value the plan was computed against
	CreatedAt  time.Time   `json:"created_at"`
}

// IsNoOp reports whether the plan moves no capital.
func (p *RebalancePlan) IsNoOp() bool {
	return p == nil || len(p.Steps) == 0
}

// Conserves verifies that the plan neither creates nor destroys capital.
func (p *RebalancePlan) Conserves() bool {
	sum := sdkmath.ZeroInt()
	for _, step := range p.Steps {
		sum = sum.Add(step.Delta)
	}
	return sum.Add(p.IdleDelta).IsZero()
}

// StepReceipt records the outcome of one applied plan step. Moved is the
// amount that actually settled; divests may return less than requested.
type StepReceipt struct {
	Step      PlanStep    `json:"step"`
	Success   bool        `json:"success"`
	Moved     sdkmath.Int `json:"moved"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ApplyReport summarizes a plan execution. AppliedSteps < TotalSteps means
// execution halted on a failed step; applied moves stay applied and Residual
// carries the unapplied remainder for retry.
type ApplyReport struct {
	PlanID       uuid.UUID      `json:"plan_id"`
	AppliedSteps int            `json:"applied_steps"`
	TotalSteps   int            `json:"total_steps"`
	Receipts     []StepReceipt  `json:"receipts"`
	Residual     *RebalancePlan `json:"residual,omitempty"`
	Halted       bool           `json:"halted"`
}

// Complete reports whether every step settled.
func (r *ApplyReport) Complete() bool {
	return r != nil && !r.Halted && r.AppliedSteps == r.TotalSteps
}
