// ./internal/state/proposal_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/basin-labs/vase/internal/types"
)

// SaveProposal inserts a freshly proposed configuration change.
func SaveProposal(proposal types.Proposal) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	changeJSON, err := json.Marshal(proposal.Change)
	if err != nil {
		return fmt.Errorf("failed to marshal proposal change: %w", err)
	}

	stmt := `
		INSERT INTO governance_proposals (proposal_id, change, status, proposed_by, proposed_at, effective_at, executed_at, canceled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err = DB.Exec(stmt,
		proposal.ProposalID, changeJSON, string(proposal.Status),
		proposal.ProposedBy, proposal.ProposedAt, proposal.EffectiveAt,
		proposal.ExecutedAt, proposal.CanceledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert proposal %s: %w", proposal.ProposalID, err)
	}

	log.Info().
		Str("proposal_id", proposal.ProposalID.String()).
		Str("kind", string(proposal.Change.Kind)).
		Time("effective_at", proposal.EffectiveAt).
		Msg("Saved governance proposal")
	return nil
}

// UpdateProposal rewrites a proposal's lifecycle fields after execution or
// cancellation.
func UpdateProposal(proposal types.Proposal) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
		UPDATE governance_proposals
		SET status = $2, executed_at = $3, canceled_at = $4
		WHERE proposal_id = $1;`

	result, err := DB.Exec(stmt, proposal.ProposalID, string(proposal.Status), proposal.ExecutedAt, proposal.CanceledAt)
	if err != nil {
		return fmt.Errorf("failed to update proposal %s: %w", proposal.ProposalID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("proposal %s not found", proposal.ProposalID)
	}
	return nil
}

// LoadProposals reads all persisted proposals, newest first.
func LoadProposals() ([]types.Proposal, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT proposal_id, change, status, proposed_by, proposed_at, effective_at, executed_at, canceled_at
		FROM governance_proposals ORDER BY proposed_at DESC;`

	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []types.Proposal
	for rows.Next() {
		var (
			proposal   types.Proposal
			statusStr  string
			changeJSON []byte
		)
		err := rows.Scan(&proposal.ProposalID, &changeJSON, &statusStr,
			&proposal.ProposedBy, &proposal.ProposedAt, &proposal.EffectiveAt,
			&proposal.ExecutedAt, &proposal.CanceledAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		if err := json.Unmarshal(changeJSON, &proposal.Change); err != nil {
			return nil, fmt.Errorf("failed to unmarshal proposal change: %w", err)
		}
		proposal.Status = types.ProposalStatus(statusStr)
		proposals = append(proposals, proposal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating proposals: %w", err)
	}
	return proposals, nil
}
