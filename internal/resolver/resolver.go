// Package resolver turns free-form user text into structured tool calls.
//
// The resolver never touches the database. It receives the conversation
// history and the new message, asks an LLM to interpret the intent, and
// returns a reply plus zero or more tool calls for the dispatcher to run.
package resolver

import (
	"context"
	"errors"

	"github.com/tasktalk/tasktalk/internal/conversation"
	"github.com/tasktalk/tasktalk/internal/tools"
)

// ErrUnavailable indicates the language model could not be reached or
// returned output that could not be interpreted. Callers should degrade
// gracefully rather than surface provider details to the user.
var ErrUnavailable = errors.New("intent resolver unavailable")

// Result is the resolver's interpretation of one user message.
type Result struct {
	// Reply is the conversational text to show the user.
	Reply string

	// Calls are the tool invocations the model requested, in the order
	// they should be executed. Empty for pure chit-chat.
	Calls []tools.Call
}

// Resolver interprets a user message in the context of prior conversation.
type Resolver interface {
	Resolve(ctx context.Context, history []conversation.Message, text string) (*Result, error)
}
