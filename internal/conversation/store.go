package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasktalk/tasktalk/internal/log"
)

// Store manages conversation and message persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a conversation store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Ensure returns the owner's conversation, creating it if this is the
// owner's first message. The insert is upsert-on-conflict, not
// insert-then-check: any number of concurrent first messages resolve to
// the same row.
func (s *Store) Ensure(ctx context.Context, owner string) (*Conversation, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (owner_id) VALUES ($1) ON CONFLICT (owner_id) DO NOTHING`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("ensuring conversation: %w", err)
	}

	var c Conversation
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, created_at FROM conversations WHERE owner_id = $1`, owner)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}
	return &c, nil
}

// Append commits one message in its own transaction. The conversation
// row is locked FOR UPDATE while the next sequence number is assigned,
// so concurrent appends from other workers serialize and the sequence
// stays gapless per conversation.
func (s *Store) Append(ctx context.Context, conversationID uuid.UUID, role, content string, toolCalls json.RawMessage) (*Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	row := tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID)
	if err := row.Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s does not exist", conversationID)
		}
		return nil, fmt.Errorf("locking conversation: %w", err)
	}

	var maxSeq int32
	row = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = $1`,
		conversationID)
	if err := row.Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("reading max sequence number: %w", err)
	}

	msg := Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
		SequenceNumber: maxSeq + 1,
	}
	row = tx.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, role, content, tool_calls, sequence_number)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		conversationID, role, content, nullableJSON(toolCalls), msg.SequenceNumber)
	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended message",
		"conversation_id", conversationID,
		"role", role,
		"sequence", msg.SequenceNumber)
	return &msg, nil
}

// History returns the owner's full message sequence, oldest first.
// Always a fresh query; there is no cache to go stale after a restart
// or a concurrent write from another process. Sequence number is the
// ordering key, with id as tie-break (unreachable given the unique
// constraint, but it keeps the ORDER BY total).
func (s *Store) History(ctx context.Context, owner string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.role, m.content, m.tool_calls, m.sequence_number, m.created_at
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.owner_id = $1
		 ORDER BY m.sequence_number, m.id`,
		owner)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.ToolCalls, &m.SequenceNumber, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	s.logger.Debug("loaded history", "owner", owner, "count", len(msgs))
	return msgs, nil
}

// nullableJSON maps an empty payload to SQL NULL instead of the empty
// string, which jsonb would reject.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
