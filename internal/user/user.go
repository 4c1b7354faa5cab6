// Package user anchors externally authenticated identities. The service
// never authenticates anyone itself; it only records the opaque user id
// so that conversations and items have an owner row to reference.
package user

import (
	"context"
	"fmt"

	"github.com/tasktalk/tasktalk/internal/postgres"
)

// MaxIDLength bounds the opaque user identifier.
const MaxIDLength = 128

// Store persists user rows.
type Store struct {
	db postgres.DBTX
}

// NewStore creates a user store backed by db.
func NewStore(db postgres.DBTX) *Store {
	return &Store{db: db}
}

// Ensure records the user id if it is not known yet. Safe to call
// concurrently; the insert is idempotent.
func (s *Store) Ensure(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("ensuring user %q: %w", id, err)
	}
	return nil
}
