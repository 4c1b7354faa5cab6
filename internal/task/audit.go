package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tasktalk/tasktalk/internal/postgres"
)

// Invocation is one immutable audit row: which tool ran, with what
// parameters, for whom, and how it ended.
type Invocation struct {
	ID         uuid.UUID       `json:"id"`
	OwnerID    string          `json:"-"`
	ItemID     *uuid.UUID      `json:"item_id,omitempty"`
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters"`
	Outcome    json.RawMessage `json:"outcome"`
	CreatedAt  time.Time       `json:"created_at"`
}

// invocationOutcome is the structured outcome persisted with each audit
// row. Prose for the user is composed upstream; the audit trail stays
// machine-readable.
type invocationOutcome struct {
	Success bool       `json:"success"`
	ItemID  *uuid.UUID `json:"item_id,omitempty"`
	Count   *int       `json:"count,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// insertInvocation writes one audit row through db, which is either a
// transaction (mutations: audit commits or rolls back with the
// mutation) or the pool (calls that never mutated anything).
func insertInvocation(ctx context.Context, db postgres.DBTX, owner string,
	itemID *uuid.UUID, rec Audit, oc invocationOutcome) error {

	outcomeJSON, err := json.Marshal(oc)
	if err != nil {
		return fmt.Errorf("marshaling invocation outcome: %w", err)
	}

	params := rec.Params
	if len(params) == 0 {
		params = []byte(`{}`)
	}

	_, err = db.Exec(ctx,
		`INSERT INTO tool_invocations (owner_id, item_id, tool_name, parameters, outcome)
		 VALUES ($1, $2, $3, $4, $5)`,
		owner, itemID, rec.Tool, params, outcomeJSON)
	if err != nil {
		return fmt.Errorf("recording tool invocation: %w", err)
	}
	return nil
}

// Invocations returns the owner's most recent audit rows, newest first.
func (s *Store) Invocations(ctx context.Context, owner string, limit int32) ([]Invocation, error) {
	rows, err := s.guard.db().Query(ctx,
		`SELECT id, owner_id, item_id, tool_name, parameters, outcome, created_at
		 FROM tool_invocations
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		owner, limit)
	if err != nil {
		return nil, fmt.Errorf("listing invocations: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		if err := rows.Scan(&inv.ID, &inv.OwnerID, &inv.ItemID, &inv.ToolName,
			&inv.Parameters, &inv.Outcome, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocations: %w", err)
	}
	return out, nil
}
