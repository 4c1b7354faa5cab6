// Package task implements the todo item storage layer. Every read and
// mutation is scoped to the owning user through the Guard; an item that
// exists but belongs to someone else is indistinguishable from one that
// does not exist.
package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for items that are absent or not owned by the
// requesting user. The two cases are deliberately indistinguishable to
// prevent existence probing across users.
var ErrNotFound = errors.New("task not found")

// Item is the todo entity.
type Item struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     string    `json:"-"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilter narrows List results. Zero value means no filtering.
type ListFilter struct {
	// Completed filters by completion state when non-nil.
	Completed *bool
}

// Audit describes the tool call that caused a store operation. The
// store writes one tool_invocations row per operation, in the same
// transaction as the mutation it records.
type Audit struct {
	Tool   string
	Params []byte // JSON-encoded tool parameters
}
