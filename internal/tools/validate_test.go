package tools

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestCallValidate(t *testing.T) {
	id := uuid.New()
	longTitle := strings.Repeat("x", MaxTitleLength+1)
	longDescription := strings.Repeat("x", MaxDescriptionLength+1)

	tests := []struct {
		name      string
		call      Call
		wantField string
	}{
		{
			name: "valid create",
			call: Call{Create: &CreateParams{Title: "buy milk"}},
		},
		{
			name:      "create empty title",
			call:      Call{Create: &CreateParams{Title: "   "}},
			wantField: "title",
		},
		{
			name:      "create title too long",
			call:      Call{Create: &CreateParams{Title: longTitle}},
			wantField: "title",
		},
		{
			name:      "create description too long",
			call:      Call{Create: &CreateParams{Title: "ok", Description: longDescription}},
			wantField: "description",
		},
		{
			name: "list needs nothing",
			call: Call{List: &ListParams{}},
		},
		{
			name: "valid complete",
			call: Call{Complete: &CompleteParams{ID: id}},
		},
		{
			name:      "complete nil id",
			call:      Call{Complete: &CompleteParams{}},
			wantField: "id",
		},
		{
			name: "valid update",
			call: Call{Update: &UpdateParams{ID: id, Title: strptr("new title")}},
		},
		{
			name:      "update nil id",
			call:      Call{Update: &UpdateParams{Title: strptr("new")}},
			wantField: "id",
		},
		{
			name:      "update with no fields",
			call:      Call{Update: &UpdateParams{ID: id}},
			wantField: "title",
		},
		{
			name:      "update empty title",
			call:      Call{Update: &UpdateParams{ID: id, Title: strptr("  ")}},
			wantField: "title",
		},
		{
			name:      "update description too long",
			call:      Call{Update: &UpdateParams{ID: id, Description: strptr(longDescription)}},
			wantField: "description",
		},
		{
			name:      "delete nil id",
			call:      Call{Delete: &DeleteParams{}},
			wantField: "id",
		},
		{
			name:      "zero call",
			call:      Call{},
			wantField: "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestValidateTitleAtRuneBoundary(t *testing.T) {
	// Multibyte runes must count as one character, not several bytes.
	exact := strings.Repeat("週", MaxTitleLength)
	require.NoError(t, Call{Create: &CreateParams{Title: exact}}.Validate())
	require.Error(t, Call{Create: &CreateParams{Title: exact + "末"}}.Validate())
}
