package workspace

import (
	"fmt"
	"time"
)

// Record is one row of a workspace table. Fields maps column id to value;
// ID and CreatedAt are assigned by the record store, never by the client.
type Record struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// ValidateFields checks a field map against the schema: every key must be a
// declared column and every value must match the column's declared type.
// Missing columns are allowed (partial updates).
func ValidateFields(s Schema, fields map[string]any) error {
	for id, v := range fields {
		col, ok := s.Column(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, id)
		}
		if v == nil {
			continue
		}
		if err := checkValue(col, v); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(col Column, v any) error {
	switch col.Type {
	case TypeText, TypeDate:
		if _, ok := v.(string); !ok {
			return typeError(col, v)
		}
	case TypeNumber:
		switch v.(type) {
		case float64, int, int64:
		default:
			return typeError(col, v)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return typeError(col, v)
		}
	case TypeSelect:
		s, ok := v.(string)
		if !ok {
			return typeError(col, v)
		}
		for _, opt := range col.Options {
			if opt == s {
				return nil
			}
		}
		return fmt.Errorf("column %s: %q is not one of %v", col.ID, s, col.Options)
	}
	return nil
}

func typeError(col Column, v any) error {
	return fmt.Errorf("column %s expects %s, got %T", col.ID, col.Type, v)
}

// Merge returns a copy of r with the given fields overlaid.
func (r Record) Merge(fields map[string]any) Record {
	out := Record{ID: r.ID, CreatedAt: r.CreatedAt, Fields: make(map[string]any, len(r.Fields)+len(fields))}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	for k, v := range fields {
		out.Fields[k] = v
	}
	return out
}
