// ./internal/state/event_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/basin-labs/vase/internal/types"
)

// AppendEvents writes a batch of committed events in one transaction.
func AppendEvents(events []types.Event) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if len(events) == 0 {
		return nil
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

	stmt := `INSERT INTO engine_events (event_id, kind, occurred_at, attributes) VALUES ($1, $2, $3, $4);`
	for _, event := range events {
		var attrsJSON []byte
		attrsJSON, err = json.Marshal(event.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal event attributes: %w", err)
		}
		if _, err = tx.Exec(stmt, event.EventID, string(event.Kind), event.OccurredAt, attrsJSON); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", event.EventID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// GetRecentEvents returns the most recent events, newest first.
func GetRecentEvents(limit int) ([]types.Event, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT event_id, kind, occurred_at, attributes
		FROM engine_events
		ORDER BY occurred_at DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var (
			event     types.Event
			kindStr   string
			attrsJSON []byte
		)
		if err := rows.Scan(&event.EventID, &kindStr, &event.OccurredAt, &attrsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Kind = types.EventKind(kindStr)
		if len(attrsJSON) > 0 && string(attrsJSON) != "null" {
			if err := json.Unmarshal(attrsJSON, &event.Attributes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event attributes: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating events: %w", err)
	}
	return events, nil
}
