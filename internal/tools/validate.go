package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Input bounds, in runes.
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
)

// ValidationError reports a bad input with a field-level reason. It is
// safe to show to the user verbatim and never reaches the database.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the call's inputs against the per-tool bounds.
// Returns *ValidationError on the first violation, nil otherwise.
func (c Call) Validate() error {
	switch {
	case c.Create != nil:
		return c.Create.validate()
	case c.List != nil:
		return nil
	case c.Complete != nil:
		return requireID(c.Complete.ID)
	case c.Update != nil:
		return c.Update.validate()
	case c.Delete != nil:
		return requireID(c.Delete.ID)
	}
	return &ValidationError{Field: "name", Reason: "no tool selected"}
}

func (p *CreateParams) validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(p.Title) > MaxTitleLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", MaxTitleLength)}
	}
	if utf8.RuneCountInString(p.Description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", MaxDescriptionLength)}
	}
	return nil
}

func (p *UpdateParams) validate() error {
	if err := requireID(p.ID); err != nil {
		return err
	}
	if p.Title == nil && p.Description == nil {
		return &ValidationError{Field: "title", Reason: "nothing to update"}
	}
	if p.Title != nil {
		if strings.TrimSpace(*p.Title) == "" {
			return &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		if utf8.RuneCountInString(*p.Title) > MaxTitleLength {
			return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", MaxTitleLength)}
		}
	}
	if p.Description != nil && utf8.RuneCountInString(*p.Description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", MaxDescriptionLength)}
	}
	return nil
}

func requireID(id uuid.UUID) error {
	if id == uuid.Nil {
		return &ValidationError{Field: "id", Reason: "must be a valid task id"}
	}
	return nil
}
