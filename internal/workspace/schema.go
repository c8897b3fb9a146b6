package workspace

import (
	"errors"
	"fmt"
	"strings"
)

type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeNumber  ColumnType = "number"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
	TypeSelect  ColumnType = "select"
)

var (
	ErrEmptySchema     = errors.New("schema has no columns")
	ErrDuplicateColumn = errors.New("duplicate column id")
	ErrUnknownColumn   = errors.New("unknown column id")
)

type Column struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	Options []string   `json:"options,omitempty"`
}

// Schema is the ordered column list of one workspace table. Column order is
// presentation order; the column ID is the stable machine key.
type Schema struct {
	Columns []Column `json:"columns"`
}

func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return ErrEmptySchema
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("column %q has empty id", c.Name)
		}
		if _, ok := seen[c.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateColumn, c.ID)
		}
		seen[c.ID] = struct{}{}
		if !validColumnType(c.Type) {
			return fmt.Errorf("column %s has unsupported type %q", c.ID, c.Type)
		}
		if c.Type == TypeSelect && len(c.Options) == 0 {
			return fmt.Errorf("select column %s has no options", c.ID)
		}
	}
	return nil
}

func (s Schema) Column(id string) (Column, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

func validColumnType(t ColumnType) bool {
	switch t {
	case TypeText, TypeNumber, TypeDate, TypeBoolean, TypeSelect:
		return true
	default:
		return false
	}
}

type ViewKind string

const (
	ViewTable     ViewKind = "table"
	ViewKanban    ViewKind = "kanban"
	ViewAnalytics ViewKind = "analytics"
)

type ViewConfig struct {
	Kind           ViewKind `json:"kind"`
	KanbanColumnID string   `json:"kanban_column_id,omitempty"`
}

func (v ViewConfig) Validate(s Schema) error {
	switch v.Kind {
	case ViewTable, ViewAnalytics:
		return nil
	case ViewKanban:
		if v.KanbanColumnID == "" {
			return fmt.Errorf("kanban view requires a column id")
		}
		col, ok := s.Column(v.KanbanColumnID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, v.KanbanColumnID)
		}
		if col.Type != TypeSelect {
			return fmt.Errorf("kanban column %s must be a select column", v.KanbanColumnID)
		}
		return nil
	default:
		return fmt.Errorf("unsupported view kind %q", v.Kind)
	}
}
