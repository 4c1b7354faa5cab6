package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasktalk/tasktalk/internal/postgres"
)

// Guard is the ownership guard for items. It is the only code that
// issues item SQL, and every statement it issues carries the owner
// predicate. Both "does not exist" and "owned by someone else" surface
// as ErrNotFound.
type Guard struct {
	pool *pgxpool.Pool
}

// NewGuard creates a guard backed by the given pool.
func NewGuard(pool *pgxpool.Pool) *Guard {
	return &Guard{pool: pool}
}

const itemColumns = `id, owner_id, title, description, completed, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.OwnerID, &it.Title, &it.Description,
		&it.Completed, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning item: %w", err)
	}
	return &it, nil
}

// Fetch returns the owner's item or ErrNotFound.
func (g *Guard) Fetch(ctx context.Context, owner string, id uuid.UUID) (*Item, error) {
	row := g.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 AND owner_id = $2`,
		id, owner)
	return scanItem(row)
}

// List returns all of the owner's items, oldest first. Ties on
// created_at are broken by id so the order is deterministic.
func (g *Guard) List(ctx context.Context, owner string, f ListFilter) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE owner_id = $1`
	args := []any{owner}
	if f.Completed != nil {
		query += ` AND completed = $2`
		args = append(args, *f.Completed)
	}
	query += ` ORDER BY created_at, id`

	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OwnerID, &it.Title, &it.Description,
			&it.Completed, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}

// Mutate runs fn against the owner's item inside a single transaction.
// The item row is locked FOR UPDATE with the owner predicate before fn
// runs, so the ownership check and the write cannot be separated by a
// concurrent modification. An fn error rolls back everything, including
// any rows fn inserted through tx.
func (g *Guard) Mutate(ctx context.Context, owner string, id uuid.UUID,
	fn func(ctx context.Context, tx pgx.Tx, it *Item) error) (*Item, error) {

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
		id, owner)
	it, err := scanItem(row)
	if err != nil {
		return nil, err
	}

	if err := fn(ctx, tx, it); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return it, nil
}

// insert creates a new item for owner inside tx. Creation is the one
// operation without a prior ownership check; the new row is owned by
// its creator by construction.
func (g *Guard) insert(ctx context.Context, tx pgx.Tx, owner, title, description string) (*Item, error) {
	row := tx.QueryRow(ctx,
		`INSERT INTO items (owner_id, title, description)
		 VALUES ($1, $2, $3)
		 RETURNING `+itemColumns,
		owner, title, description)
	return scanItem(row)
}

// update persists the item's mutable fields inside tx. The owner
// predicate is repeated even though the row is already locked.
func (g *Guard) update(ctx context.Context, tx pgx.Tx, it *Item) error {
	row := tx.QueryRow(ctx,
		`UPDATE items SET title = $1, description = $2, completed = $3, updated_at = now()
		 WHERE id = $4 AND owner_id = $5
		 RETURNING updated_at`,
		it.Title, it.Description, it.Completed, it.ID, it.OwnerID)
	if err := row.Scan(&it.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

// delete removes the item inside tx.
func (g *Guard) delete(ctx context.Context, tx pgx.Tx, it *Item) error {
	tag, err := tx.Exec(ctx,
		`DELETE FROM items WHERE id = $1 AND owner_id = $2`, it.ID, it.OwnerID)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// db exposes the pool as a DBTX for read-only audit queries.
func (g *Guard) db() postgres.DBTX { return g.pool }
