// Package tools defines the fixed catalogue of todo operations the
// intent resolver may propose, validates their inputs, and dispatches
// them against the task store.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Name identifies a tool in the catalogue.
type Name string

// The catalogue is closed: adding a tool means adding a Name, a params
// struct, a Call variant, and a Dispatch arm. The compiler flags any
// arm forgotten in the switch.
const (
	NameCreateItem   Name = "create_item"
	NameListItems    Name = "list_items"
	NameCompleteItem Name = "complete_item"
	NameUpdateItem   Name = "update_item"
	NameDeleteItem   Name = "delete_item"
)

// ErrUnknownTool indicates a proposed call names a tool outside the
// catalogue.
var ErrUnknownTool = errors.New("unknown tool")

// CreateParams are the inputs for create_item.
type CreateParams struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListParams are the inputs for list_items.
type ListParams struct {
	// Completed filters by completion state when non-nil.
	Completed *bool `json:"completed,omitempty"`
}

// CompleteParams are the inputs for complete_item.
type CompleteParams struct {
	ID uuid.UUID `json:"id"`
}

// UpdateParams are the inputs for update_item. Nil fields are left
// unchanged; at least one must be set.
type UpdateParams struct {
	ID          uuid.UUID `json:"id"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// DeleteParams are the inputs for delete_item.
type DeleteParams struct {
	ID uuid.UUID `json:"id"`
}

// Call is a tagged union with exactly one variant set per tool. It is
// the wire shape {"name": ..., "parameters": {...}} used between the
// resolver and the dispatcher.
type Call struct {
	Create   *CreateParams
	List     *ListParams
	Complete *CompleteParams
	Update   *UpdateParams
	Delete   *DeleteParams
}

// Name returns the tool name of the set variant, or "" for a zero Call.
func (c Call) Name() Name {
	switch {
	case c.Create != nil:
		return NameCreateItem
	case c.List != nil:
		return NameListItems
	case c.Complete != nil:
		return NameCompleteItem
	case c.Update != nil:
		return NameUpdateItem
	case c.Delete != nil:
		return NameDeleteItem
	}
	return ""
}

// Params returns the set variant's parameter struct, or nil.
func (c Call) Params() any {
	switch {
	case c.Create != nil:
		return c.Create
	case c.List != nil:
		return c.List
	case c.Complete != nil:
		return c.Complete
	case c.Update != nil:
		return c.Update
	case c.Delete != nil:
		return c.Delete
	}
	return nil
}

// callEnvelope is the serialized form of a Call.
type callEnvelope struct {
	Name       Name            `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// MarshalJSON serializes the call as {"name": ..., "parameters": {...}}.
func (c Call) MarshalJSON() ([]byte, error) {
	name := c.Name()
	if name == "" {
		return nil, errors.New("marshaling empty tool call")
	}
	params, err := json.Marshal(c.Params())
	if err != nil {
		return nil, fmt.Errorf("marshaling %s parameters: %w", name, err)
	}
	return json.Marshal(callEnvelope{Name: name, Parameters: params})
}

// UnmarshalJSON parses the envelope and dispatches on the tool name.
// Unknown names wrap ErrUnknownTool; malformed parameter payloads
// surface as a ValidationError so callers can report the field.
func (c *Call) UnmarshalJSON(data []byte) error {
	var env callEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("parsing tool call envelope: %w", err)
	}

	params := env.Parameters
	if len(params) == 0 {
		params = []byte(`{}`)
	}

	*c = Call{}
	var err error
	switch env.Name {
	case NameCreateItem:
		c.Create = &CreateParams{}
		err = json.Unmarshal(params, c.Create)
	case NameListItems:
		c.List = &ListParams{}
		err = json.Unmarshal(params, c.List)
	case NameCompleteItem:
		c.Complete = &CompleteParams{}
		err = json.Unmarshal(params, c.Complete)
	case NameUpdateItem:
		c.Update = &UpdateParams{}
		err = json.Unmarshal(params, c.Update)
	case NameDeleteItem:
		c.Delete = &DeleteParams{}
		err = json.Unmarshal(params, c.Delete)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTool, env.Name)
	}
	if err != nil {
		*c = Call{}
		return &ValidationError{Field: "parameters", Reason: fmt.Sprintf("invalid parameters for %s: %v", env.Name, err)}
	}
	return nil
}

// Definition describes one catalogue entry for the resolver prompt.
type Definition struct {
	Name        Name
	Description string
	Parameters  string
}

// Catalogue returns the fixed tool catalogue. The parameter strings are
// the contract the resolver prompt teaches the model.
func Catalogue() []Definition {
	return []Definition{
		{
			Name:        NameCreateItem,
			Description: "Add a new task to the user's todo list.",
			Parameters:  `{"title": "short task title (required)", "description": "optional details"}`,
		},
		{
			Name:        NameListItems,
			Description: "List the user's tasks, optionally filtered by completion state.",
			Parameters:  `{"completed": "optional boolean filter"}`,
		},
		{
			Name:        NameCompleteItem,
			Description: "Mark a task as done. Requires the task id from an earlier list_items result.",
			Parameters:  `{"id": "task id (UUID, required)"}`,
		},
		{
			Name:        NameUpdateItem,
			Description: "Change a task's title or description.",
			Parameters:  `{"id": "task id (UUID, required)", "title": "new title", "description": "new details"}`,
		},
		{
			Name:        NameDeleteItem,
			Description: "Delete a task permanently.",
			Parameters:  `{"id": "task id (UUID, required)"}`,
		},
	}
}
