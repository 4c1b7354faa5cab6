// Package turn orchestrates one conversational request end to end:
// persist the user's message, resolve intent, dispatch tools, persist
// the assistant's reply. The orchestrator holds no state between
// requests, so any replica can serve any turn.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tasktalk/tasktalk/internal/conversation"
	"github.com/tasktalk/tasktalk/internal/log"
	"github.com/tasktalk/tasktalk/internal/resolver"
	"github.com/tasktalk/tasktalk/internal/tools"
)

// Machine-readable error codes surfaced alongside the friendly reply.
const (
	CodeResolver       = "resolver_error"
	CodeInfrastructure = "infrastructure_error"
	CodePartialTurn    = "partial_turn"
)

// User-facing fallback messages. None of them carry internal detail.
const (
	msgResolverDown = "I'm having trouble understanding right now. Please try again."
	msgInfra        = "Something went wrong on our side. Please try again."
	msgPartial      = "I couldn't finish everything you asked for."
)

// UserStore registers users on first contact.
type UserStore interface {
	Ensure(ctx context.Context, id string) error
}

// ConversationStore persists and reconstructs the per-user conversation.
type ConversationStore interface {
	Ensure(ctx context.Context, owner string) (*conversation.Conversation, error)
	Append(ctx context.Context, conversationID uuid.UUID, role, content string, toolCalls json.RawMessage) (*conversation.Message, error)
	History(ctx context.Context, owner string) ([]conversation.Message, error)
}

// Dispatcher executes resolved tool calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, owner string, calls []tools.Call) ([]tools.Result, error)
}

// Reply is the caller-visible outcome of a turn. It is always populated,
// even on failure, so the transport layer can serialize it verbatim.
type Reply struct {
	Reply     string         `json:"reply"`
	ToolCalls []tools.Result `json:"tool_calls"`
	ErrorCode string         `json:"error_code,omitempty"`
}

// Orchestrator drives the per-request state machine.
type Orchestrator struct {
	users           UserStore
	conversations   ConversationStore
	dispatcher      Dispatcher
	resolver        resolver.Resolver
	resolverTimeout time.Duration
	logger          log.Logger
}

// New wires an orchestrator. resolverTimeout bounds the single external
// call per turn.
func New(users UserStore, conversations ConversationStore, dispatcher Dispatcher, r resolver.Resolver, resolverTimeout time.Duration, logger log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		users:           users,
		conversations:   conversations,
		dispatcher:      dispatcher,
		resolver:        r,
		resolverTimeout: resolverTimeout,
		logger:          logger,
	}
}

// Handle runs one turn for owner. It never returns an error: every
// failure is folded into a Reply with a friendly message and an error
// code, with full detail going to the log only.
func (o *Orchestrator) Handle(ctx context.Context, owner, text string) *Reply {
	logger := o.logger.With("user_id", owner)

	// Nothing has been written yet; a failure here leaves the store
	// exactly as it was.
	if err := o.users.Ensure(ctx, owner); err != nil {
		logger.Error("ensuring user", "error", err)
		return infraReply()
	}
	conv, err := o.conversations.Ensure(ctx, owner)
	if err != nil {
		logger.Error("ensuring conversation", "error", err)
		return infraReply()
	}
	history, err := o.conversations.History(ctx, owner)
	if err != nil {
		logger.Error("loading history", "error", err)
		return infraReply()
	}

	// The user's message is a fact regardless of how the turn ends, so
	// it commits before the resolver or any tool runs.
	if _, err := o.conversations.Append(ctx, conv.ID, conversation.RoleUser, text, nil); err != nil {
		logger.Error("persisting user message", "error", err)
		return infraReply()
	}

	plan, err := o.resolve(ctx, history, text)
	if err != nil {
		// The turn produced no assistant content, so history keeps only
		// the user's message. The retry message goes to the caller alone.
		logger.Warn("resolving intent", "error", err)
		return &Reply{
			Reply:     msgResolverDown,
			ToolCalls: []tools.Result{},
			ErrorCode: CodeResolver,
		}
	}

	results, dispatchErr := o.dispatcher.Dispatch(ctx, owner, plan.Calls)
	reply := &Reply{Reply: plan.Reply, ToolCalls: results}
	if reply.ToolCalls == nil {
		reply.ToolCalls = []tools.Result{}
	}
	var partial *tools.PartialTurnError
	switch {
	case dispatchErr == nil:
	case errors.As(dispatchErr, &partial):
		logger.Error("turn partially applied", "executed", partial.Executed, "total", partial.Total, "failed_tool", partial.Failed, "error", dispatchErr)
		reply.Reply = fmt.Sprintf("%s %d of %d steps completed.", msgPartial, partial.Executed, partial.Total)
		reply.ErrorCode = CodePartialTurn
	default:
		logger.Error("dispatching tools", "error", dispatchErr)
		reply.Reply = msgInfra
		reply.ErrorCode = CodeInfrastructure
	}

	return o.finish(ctx, conv.ID, logger, reply)
}

// resolve calls the intent resolver under its own deadline. No database
// transaction is open here, so a slow model never holds locks.
func (o *Orchestrator) resolve(ctx context.Context, history []conversation.Message, text string) (*resolver.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.resolverTimeout)
	defer cancel()
	return o.resolver.Resolve(ctx, history, text)
}

// finish records the assistant message and returns the reply. The reply
// only reaches the caller after the message commits; if that final write
// fails, the caller gets an infrastructure reply instead so history and
// response never disagree.
func (o *Orchestrator) finish(ctx context.Context, conversationID uuid.UUID, logger log.Logger, reply *Reply) *Reply {
	var toolCalls json.RawMessage
	if len(reply.ToolCalls) > 0 {
		encoded, err := json.Marshal(reply.ToolCalls)
		if err != nil {
			logger.Error("encoding tool calls", "error", err)
			return infraReply()
		}
		toolCalls = encoded
	}
	if _, err := o.conversations.Append(ctx, conversationID, conversation.RoleAssistant, reply.Reply, toolCalls); err != nil {
		logger.Error("persisting assistant message", "error", err)
		return infraReply()
	}
	return reply
}

func infraReply() *Reply {
	return &Reply{Reply: msgInfra, ToolCalls: []tools.Result{}, ErrorCode: CodeInfrastructure}
}
