package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tasktalk/tasktalk/internal/log"
	"github.com/tasktalk/tasktalk/internal/task"
)

// notFoundMessage is the uniform reply for absent and not-owned items.
// The two cases must stay indistinguishable.
const notFoundMessage = "I couldn't find that task."

// Outcome is the result contract of one tool invocation.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Result pairs an executed (or rejected) call with its outcome. It is
// what gets serialized into the assistant message's tool_calls payload
// and into the HTTP response.
type Result struct {
	Name       Name    `json:"name"`
	Parameters any     `json:"parameters"`
	Outcome    Outcome `json:"outcome"`
}

// TaskStore is the storage dependency of the Dispatcher, implemented by
// *task.Store. Defined here, by the consumer.
type TaskStore interface {
	Create(ctx context.Context, owner, title, description string, rec task.Audit) (*task.Item, error)
	List(ctx context.Context, owner string, f task.ListFilter, rec task.Audit) ([]task.Item, error)
	Complete(ctx context.Context, owner string, id uuid.UUID, rec task.Audit) (*task.Item, bool, error)
	Update(ctx context.Context, owner string, id uuid.UUID, title, description *string, rec task.Audit) (*task.Item, error)
	Delete(ctx context.Context, owner string, id uuid.UUID, rec task.Audit) (*task.Item, error)
}

// PartialTurnError reports a turn where some proposed calls executed
// before an infrastructure failure aborted the rest. Calls already
// committed stay committed; Results holds their outcomes.
type PartialTurnError struct {
	Executed int
	Total    int
	Failed   Name
	cause    error
}

func (e *PartialTurnError) Error() string {
	return fmt.Sprintf("turn aborted at %s: %d of %d tool calls executed: %v",
		e.Failed, e.Executed, e.Total, e.cause)
}

func (e *PartialTurnError) Unwrap() error { return e.cause }

// Dispatcher executes proposed tool calls strictly in the order
// proposed, sequentially, so a later call observes the effects of an
// earlier one in the same turn.
type Dispatcher struct {
	tasks  TaskStore
	logger log.Logger
}

// NewDispatcher creates a dispatcher over the given task store.
func NewDispatcher(tasks TaskStore, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Dispatcher{tasks: tasks, logger: logger}
}

// Dispatch runs the calls for owner. Validation failures and not-found
// lookups resolve locally into failed outcomes and execution continues
// with the next call. An infrastructure error aborts the remaining
// calls and returns the results so far alongside a *PartialTurnError.
func (d *Dispatcher) Dispatch(ctx context.Context, owner string, calls []Call) ([]Result, error) {
	results := make([]Result, 0, len(calls))

	for i, call := range calls {
		outcome, err := d.dispatch(ctx, owner, call)
		results = append(results, Result{
			Name:       call.Name(),
			Parameters: call.Params(),
			Outcome:    outcome,
		})
		if err != nil {
			d.logger.Error("tool dispatch aborted",
				"owner", owner,
				"tool", call.Name(),
				"position", i,
				"error", err)
			return results, &PartialTurnError{
				Executed: i,
				Total:    len(calls),
				Failed:   call.Name(),
				cause:    err,
			}
		}
	}

	return results, nil
}

// dispatch runs one call. The returned error is non-nil only for
// infrastructure failures; validation and not-found resolve into the
// outcome.
func (d *Dispatcher) dispatch(ctx context.Context, owner string, call Call) (Outcome, error) {
	// Validation happens before any storage access.
	if err := call.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return Outcome{Success: false, Message: verr.Error()}, nil
		}
		return Outcome{Success: false, Message: "invalid tool call"}, nil
	}

	rec := d.audit(call)

	switch {
	case call.Create != nil:
		it, err := d.tasks.Create(ctx, owner, call.Create.Title, call.Create.Description, rec)
		if err != nil {
			return d.failure(err)
		}
		return Outcome{
			Success: true,
			Message: fmt.Sprintf("Added %q to your list.", it.Title),
			Data:    it,
		}, nil

	case call.List != nil:
		items, err := d.tasks.List(ctx, owner, task.ListFilter{Completed: call.List.Completed}, rec)
		if err != nil {
			return d.failure(err)
		}
		return Outcome{
			Success: true,
			Message: listMessage(len(items)),
			Data:    items,
		}, nil

	case call.Complete != nil:
		it, alreadyDone, err := d.tasks.Complete(ctx, owner, call.Complete.ID, rec)
		if err != nil {
			return d.failure(err)
		}
		msg := fmt.Sprintf("Marked %q as done.", it.Title)
		if alreadyDone {
			msg = fmt.Sprintf("%q was already done.", it.Title)
		}
		return Outcome{Success: true, Message: msg, Data: it}, nil

	case call.Update != nil:
		it, err := d.tasks.Update(ctx, owner, call.Update.ID, call.Update.Title, call.Update.Description, rec)
		if err != nil {
			return d.failure(err)
		}
		return Outcome{
			Success: true,
			Message: fmt.Sprintf("Updated %q.", it.Title),
			Data:    it,
		}, nil

	case call.Delete != nil:
		it, err := d.tasks.Delete(ctx, owner, call.Delete.ID, rec)
		if err != nil {
			return d.failure(err)
		}
		return Outcome{
			Success: true,
			Message: fmt.Sprintf("Deleted %q.", it.Title),
		}, nil
	}

	return Outcome{Success: false, Message: "invalid tool call"}, nil
}

// failure maps a store error to an outcome. Not-found resolves locally
// with the uniform message; anything else propagates as infrastructure.
func (d *Dispatcher) failure(err error) (Outcome, error) {
	if errors.Is(err, task.ErrNotFound) {
		return Outcome{Success: false, Message: notFoundMessage}, nil
	}
	return Outcome{Success: false, Message: "Something went wrong."}, err
}

// audit builds the audit record for a call. Marshaling params of a
// validated call cannot fail; the fallback keeps the trail non-empty if
// it ever does.
func (d *Dispatcher) audit(call Call) task.Audit {
	params, err := json.Marshal(call.Params())
	if err != nil {
		params = []byte(`{}`)
	}
	return task.Audit{Tool: string(call.Name()), Params: params}
}

func listMessage(n int) string {
	switch n {
	case 0:
		return "Your list is empty."
	case 1:
		return "You have 1 task."
	default:
		return fmt.Sprintf("You have %d tasks.", n)
	}
}
