package workspace

import (
	"fmt"
	"strconv"
	"strings"
)

type FilterOperator string

const (
	OpEquals      FilterOperator = "EQUALS"
	OpNotEquals   FilterOperator = "NOT_EQUALS"
	OpContains    FilterOperator = "CONTAINS"
	OpGreaterThan FilterOperator = "GREATER_THAN"
	OpLessThan    FilterOperator = "LESS_THAN"
)

type Filter struct {
	ColumnID string         `json:"column_id"`
	Operator FilterOperator `json:"operator"`
	Value    any            `json:"value"`
}

func (f Filter) Validate(s Schema) error {
	if _, ok := s.Column(f.ColumnID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, f.ColumnID)
	}
	switch f.Operator {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan:
		return nil
	default:
		return fmt.Errorf("unsupported filter operator %q", f.Operator)
	}
}

// ApplyFilters narrows records to those matching every filter (AND semantics),
// evaluated over the full fetched set.
func ApplyFilters(records []Record, filters []Filter) []Record {
	if len(filters) == 0 {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if matchesAll(r, filters) {
			out = append(out, r)
		}
	}
	return out
}

func matchesAll(r Record, filters []Filter) bool {
	for _, f := range filters {
		if !matches(r.Fields[f.ColumnID], f) {
			return false
		}
	}
	return true
}

func matches(v any, f Filter) bool {
	switch f.Operator {
	case OpEquals:
		return asString(v) == asString(f.Value)
	case OpNotEquals:
		return asString(v) != asString(f.Value)
	case OpContains:
		return strings.Contains(strings.ToLower(asString(v)), strings.ToLower(asString(f.Value)))
	case OpGreaterThan:
		a, aok := asNumber(v)
		b, bok := asNumber(f.Value)
		if aok && bok {
			return a > b
		}
		return asString(v) > asString(f.Value)
	case OpLessThan:
		a, aok := asNumber(v)
		b, bok := asNumber(f.Value)
		if aok && bok {
			return a < b
		}
		return asString(v) < asString(f.Value)
	default:
		return false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(t, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
