// Package conversation persists the per-user message log.
//
// Each user has exactly one conversation, created lazily on first
// message; concurrent first messages converge on a single row through
// the unique owner constraint. Messages are append-only and totally
// ordered by a sequence number assigned under a row lock on the
// conversation, so history reads back in exactly the order it was
// written across any number of process restarts.
package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is the single per-user message container.
type Conversation struct {
	ID        uuid.UUID
	OwnerID   string
	CreatedAt time.Time
}

// Message is one append-only conversation entry. ToolCalls is set only
// on assistant messages that executed tools; its JSON shape is owned by
// the orchestrator.
type Message struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"-"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty"`
	SequenceNumber int32           `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}
