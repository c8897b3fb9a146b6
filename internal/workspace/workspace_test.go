package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectSchema() Schema {
	return Schema{Columns: []Column{
		{ID: "name", Name: "Name", Type: TypeText},
		{ID: "budget", Name: "Budget", Type: TypeNumber},
		{ID: "due", Name: "Due", Type: TypeDate},
		{ID: "active", Name: "Active", Type: TypeBoolean},
		{ID: "status", Name: "Status", Type: TypeSelect, Options: []string{"Todo", "In Progress", "Done"}},
	}}
}

func TestSchemaValidate(t *testing.T) {
	require.NoError(t, projectSchema().Validate())

	dup := Schema{Columns: []Column{
		{ID: "a", Name: "A", Type: TypeText},
		{ID: "a", Name: "A again", Type: TypeText},
	}}
	assert.ErrorIs(t, dup.Validate(), ErrDuplicateColumn)

	assert.ErrorIs(t, Schema{}.Validate(), ErrEmptySchema)

	badSelect := Schema{Columns: []Column{{ID: "s", Name: "S", Type: TypeSelect}}}
	assert.Error(t, badSelect.Validate())

	badType := Schema{Columns: []Column{{ID: "x", Name: "X", Type: ColumnType("json")}}}
	assert.Error(t, badType.Validate())
}

func TestValidateFields(t *testing.T) {
	s := projectSchema()

	require.NoError(t, ValidateFields(s, map[string]any{
		"name":   "Acme",
		"budget": 12.5,
		"active": true,
		"status": "Done",
	}))

	assert.ErrorIs(t, ValidateFields(s, map[string]any{"missing": "x"}), ErrUnknownColumn)
	assert.Error(t, ValidateFields(s, map[string]any{"budget": "a lot"}))
	assert.Error(t, ValidateFields(s, map[string]any{"status": "Cancelled"}))
	assert.NoError(t, ValidateFields(s, map[string]any{"name": nil}))
}

func TestViewConfigValidate(t *testing.T) {
	s := projectSchema()

	assert.NoError(t, ViewConfig{Kind: ViewTable}.Validate(s))
	assert.NoError(t, ViewConfig{Kind: ViewKanban, KanbanColumnID: "status"}.Validate(s))
	assert.Error(t, ViewConfig{Kind: ViewKanban}.Validate(s))
	assert.Error(t, ViewConfig{Kind: ViewKanban, KanbanColumnID: "name"}.Validate(s))
	assert.Error(t, ViewConfig{Kind: ViewKind("calendar")}.Validate(s))
}

func TestApplyFilters(t *testing.T) {
	records := []Record{
		{ID: "r1", Fields: map[string]any{"name": "Acme website", "budget": float64(100), "status": "Done"}},
		{ID: "r2", Fields: map[string]any{"name": "Globex app", "budget": float64(250), "status": "Todo"}},
		{ID: "r3", Fields: map[string]any{"name": "Acme app", "budget": float64(50), "status": "Todo"}},
	}

	got := ApplyFilters(records, []Filter{{ColumnID: "status", Operator: OpEquals, Value: "Todo"}})
	require.Len(t, got, 2)

	got = ApplyFilters(records, []Filter{
		{ColumnID: "name", Operator: OpContains, Value: "acme"},
		{ColumnID: "budget", Operator: OpLessThan, Value: float64(75)},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "r3", got[0].ID)

	got = ApplyFilters(records, []Filter{{ColumnID: "budget", Operator: OpGreaterThan, Value: float64(75)}})
	require.Len(t, got, 2)

	got = ApplyFilters(records, []Filter{{ColumnID: "status", Operator: OpNotEquals, Value: "Todo"}})
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)

	// No filters returns the input untouched.
	assert.Len(t, ApplyFilters(records, nil), 3)
}

func TestRecordMerge(t *testing.T) {
	r := Record{ID: "r1", Fields: map[string]any{"name": "Acme", "status": "Todo"}}
	merged := r.Merge(map[string]any{"status": "Done"})

	assert.Equal(t, "Done", merged.Fields["status"])
	assert.Equal(t, "Acme", merged.Fields["name"])
	// Original untouched.
	assert.Equal(t, "Todo", r.Fields["status"])
}
