package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasktalk/tasktalk/internal/log"
)

// Store exposes the tool-facing item operations. Every operation goes
// through the Guard, and every mutating operation commits its item
// write and its audit row in one transaction: after a crash either both
// are present or neither is.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	guard  *Guard
	logger log.Logger
}

// NewStore creates a store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{guard: NewGuard(pool), logger: logger}
}

// Guard returns the underlying ownership guard. Used by callers that
// need Fetch/Mutate directly, and by tests that inject failures inside
// a mutation transaction.
func (s *Store) Guard() *Guard { return s.guard }

// Create inserts a new item for owner and records the invocation, both
// in one transaction.
func (s *Store) Create(ctx context.Context, owner, title, description string, rec Audit) (*Item, error) {
	tx, err := s.guard.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	it, err := s.guard.insert(ctx, tx, owner, title, description)
	if err != nil {
		return nil, err
	}

	if err := insertInvocation(ctx, tx, owner, &it.ID, rec,
		invocationOutcome{Success: true, ItemID: &it.ID}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("created item", "owner", owner, "item_id", it.ID)
	return it, nil
}

// List returns the owner's items and records the read in the audit
// trail (item_id stays null for read-only calls).
func (s *Store) List(ctx context.Context, owner string, f ListFilter, rec Audit) ([]Item, error) {
	items, err := s.guard.List(ctx, owner, f)
	if err != nil {
		return nil, err
	}

	n := len(items)
	if err := insertInvocation(ctx, s.guard.db(), owner, nil, rec,
		invocationOutcome{Success: true, Count: &n}); err != nil {
		return nil, err
	}
	return items, nil
}

// Complete marks the item done. Completing an already-completed item is
// not an error; alreadyDone reports it so callers can phrase the reply.
func (s *Store) Complete(ctx context.Context, owner string, id uuid.UUID, rec Audit) (it *Item, alreadyDone bool, err error) {
	it, err = s.guard.Mutate(ctx, owner, id, func(ctx context.Context, tx pgx.Tx, it *Item) error {
		if it.Completed {
			alreadyDone = true
		} else {
			it.Completed = true
			if err := s.guard.update(ctx, tx, it); err != nil {
				return err
			}
		}
		return insertInvocation(ctx, tx, owner, &it.ID, rec,
			invocationOutcome{Success: true, ItemID: &it.ID})
	})
	if err != nil {
		return nil, false, s.recordMiss(ctx, owner, rec, err)
	}

	s.logger.Debug("completed item", "owner", owner, "item_id", id, "already_done", alreadyDone)
	return it, alreadyDone, nil
}

// Update changes the item's title and/or description. Nil fields are
// left untouched.
func (s *Store) Update(ctx context.Context, owner string, id uuid.UUID, title, description *string, rec Audit) (*Item, error) {
	it, err := s.guard.Mutate(ctx, owner, id, func(ctx context.Context, tx pgx.Tx, it *Item) error {
		if title != nil {
			it.Title = *title
		}
		if description != nil {
			it.Description = *description
		}
		if err := s.guard.update(ctx, tx, it); err != nil {
			return err
		}
		return insertInvocation(ctx, tx, owner, &it.ID, rec,
			invocationOutcome{Success: true, ItemID: &it.ID})
	})
	if err != nil {
		return nil, s.recordMiss(ctx, owner, rec, err)
	}

	s.logger.Debug("updated item", "owner", owner, "item_id", id)
	return it, nil
}

// Delete removes the item. The audit row survives with item_id nulled
// by the foreign key, so the trail outlives the item.
func (s *Store) Delete(ctx context.Context, owner string, id uuid.UUID, rec Audit) (*Item, error) {
	it, err := s.guard.Mutate(ctx, owner, id, func(ctx context.Context, tx pgx.Tx, it *Item) error {
		if err := insertInvocation(ctx, tx, owner, &it.ID, rec,
			invocationOutcome{Success: true, ItemID: &it.ID}); err != nil {
			return err
		}
		return s.guard.delete(ctx, tx, it)
	})
	if err != nil {
		return nil, s.recordMiss(ctx, owner, rec, err)
	}

	s.logger.Debug("deleted item", "owner", owner, "item_id", id)
	return it, nil
}

// recordMiss writes an audit row for a call that found no item to
// mutate. There is no item transaction to join, so the row commits on
// its own; infrastructure errors pass through unchanged.
func (s *Store) recordMiss(ctx context.Context, owner string, rec Audit, cause error) error {
	if !errors.Is(cause, ErrNotFound) {
		return cause
	}
	if err := insertInvocation(ctx, s.guard.db(), owner, nil, rec,
		invocationOutcome{Success: false, Error: "not_found"}); err != nil {
		s.logger.Warn("recording not-found invocation", "owner", owner, "error", err)
	}
	return cause
}
