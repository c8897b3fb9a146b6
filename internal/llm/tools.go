package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"dataloom/internal/workspace"
)

type ToolName string

const (
	ToolCreateRecord  ToolName = "createRecord"
	ToolUpdateRecord  ToolName = "updateRecord"
	ToolDeleteRecord  ToolName = "deleteRecord"
	ToolSearchRecords ToolName = "searchRecords"
	ToolConfigureView ToolName = "configureView"
)

// ToolCall is a proposed, not-yet-applied mutation returned by the model.
// Args is a tagged union keyed by Name; every variant is decoded and
// validated at the gateway boundary before the call leaves this package.
type ToolCall struct {
	Name                ToolName
	ConfirmationMessage string
	Args                ToolArgs
}

type ToolArgs interface {
	toolName() ToolName
}

type CreateRecordArgs struct {
	Record map[string]any `json:"record"`
}

type UpdateRecordArgs struct {
	RecordID string         `json:"recordId"`
	Updates  map[string]any `json:"updates"`
}

type DeleteRecordArgs struct {
	RecordID string `json:"recordId"`
}

type SearchRecordsArgs struct {
	Filters []workspace.Filter `json:"filters"`
}

type ConfigureViewArgs struct {
	View           workspace.ViewKind `json:"view"`
	KanbanColumnID string             `json:"kanbanColumnId,omitempty"`
}

func (CreateRecordArgs) toolName() ToolName  { return ToolCreateRecord }
func (UpdateRecordArgs) toolName() ToolName  { return ToolUpdateRecord }
func (DeleteRecordArgs) toolName() ToolName  { return ToolDeleteRecord }
func (SearchRecordsArgs) toolName() ToolName { return ToolSearchRecords }
func (ConfigureViewArgs) toolName() ToolName { return ToolConfigureView }

const confirmationKey = "confirmationMessage"

// decodeToolCall validates a raw functionCall into a typed ToolCall.
// Legacy aliases (addRecord, updateSystem) map onto the canonical names.
func decodeToolCall(name string, raw map[string]any) (*ToolCall, error) {
	confirmation, _ := raw[confirmationKey].(string)
	if strings.TrimSpace(confirmation) == "" {
		return nil, fmt.Errorf("%w: tool call %q has no confirmation message", ErrMalformedReply, name)
	}

	switch canonicalToolName(name) {
	case ToolCreateRecord:
		record, ok := raw["record"].(map[string]any)
		if !ok || len(record) == 0 {
			return nil, fmt.Errorf("%w: createRecord requires a record mapping", ErrMalformedReply)
		}
		return &ToolCall{Name: ToolCreateRecord, ConfirmationMessage: confirmation, Args: CreateRecordArgs{Record: record}}, nil

	case ToolUpdateRecord:
		recordID, _ := raw["recordId"].(string)
		updates, ok := raw["updates"].(map[string]any)
		if strings.TrimSpace(recordID) == "" {
			return nil, fmt.Errorf("%w: updateRecord requires recordId", ErrMalformedReply)
		}
		if !ok || len(updates) == 0 {
			return nil, fmt.Errorf("%w: updateRecord requires an updates mapping", ErrMalformedReply)
		}
		return &ToolCall{Name: ToolUpdateRecord, ConfirmationMessage: confirmation, Args: UpdateRecordArgs{RecordID: recordID, Updates: updates}}, nil

	case ToolDeleteRecord:
		recordID, _ := raw["recordId"].(string)
		if strings.TrimSpace(recordID) == "" {
			return nil, fmt.Errorf("%w: deleteRecord requires recordId", ErrMalformedReply)
		}
		return &ToolCall{Name: ToolDeleteRecord, ConfirmationMessage: confirmation, Args: DeleteRecordArgs{RecordID: recordID}}, nil

	case ToolSearchRecords:
		filters, err := decodeFilters(raw["filters"])
		if err != nil {
			return nil, err
		}
		return &ToolCall{Name: ToolSearchRecords, ConfirmationMessage: confirmation, Args: SearchRecordsArgs{Filters: filters}}, nil

	case ToolConfigureView:
		view, _ := raw["view"].(string)
		if view == "" {
			return nil, fmt.Errorf("%w: configureView requires a view", ErrMalformedReply)
		}
		kanbanColumn, _ := raw["kanbanColumnId"].(string)
		return &ToolCall{Name: ToolConfigureView, ConfirmationMessage: confirmation, Args: ConfigureViewArgs{
			View:           workspace.ViewKind(view),
			KanbanColumnID: kanbanColumn,
		}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown tool %q", ErrMalformedReply, name)
	}
}

func canonicalToolName(name string) ToolName {
	switch name {
	case "createRecord", "addRecord":
		return ToolCreateRecord
	case "updateRecord":
		return ToolUpdateRecord
	case "deleteRecord":
		return ToolDeleteRecord
	case "searchRecords":
		return ToolSearchRecords
	case "configureView", "updateSystem":
		return ToolConfigureView
	default:
		return ToolName(name)
	}
}

func decodeFilters(raw any) ([]workspace.Filter, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: searchRecords requires filters", ErrMalformedReply)
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: filters not serializable", ErrMalformedReply)
	}
	var filters []workspace.Filter
	if err := json.Unmarshal(payload, &filters); err != nil {
		return nil, fmt.Errorf("%w: filters malformed", ErrMalformedReply)
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: searchRecords requires at least one filter", ErrMalformedReply)
	}
	return filters, nil
}

// toolDeclarations builds functionDeclarations scoped to the workspace
// schema. The record/updates parameter schemas enumerate the live columns so
// one assistant serves arbitrary user-defined schemas.
func toolDeclarations(schema workspace.Schema) []geminiFunctionDeclaration {
	fieldProps := map[string]any{}
	for _, col := range schema.Columns {
		fieldProps[col.ID] = columnJSONSchema(col)
	}
	recordSchema := map[string]any{"type": "object", "properties": fieldProps}
	confirmation := map[string]any{
		"type":        "string",
		"description": "Short question asking the user to confirm the proposed change.",
	}

	columnIDs := make([]string, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		columnIDs = append(columnIDs, col.ID)
	}

	return []geminiFunctionDeclaration{
		{
			Name:        string(ToolCreateRecord),
			Description: "Propose adding one new record.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"record":        recordSchema,
					confirmationKey: confirmation,
				},
				"required": []string{"record", confirmationKey},
			},
		},
		{
			Name:        string(ToolUpdateRecord),
			Description: "Propose updating fields of one existing record, identified by its id.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"recordId":      map[string]any{"type": "string"},
					"updates":       recordSchema,
					confirmationKey: confirmation,
				},
				"required": []string{"recordId", "updates", confirmationKey},
			},
		},
		{
			Name:        string(ToolDeleteRecord),
			Description: "Propose deleting one existing record, identified by its id.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"recordId":      map[string]any{"type": "string"},
					confirmationKey: confirmation,
				},
				"required": []string{"recordId", confirmationKey},
			},
		},
		{
			Name:        string(ToolSearchRecords),
			Description: "Propose narrowing the visible records with filters (AND of all filters).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"filters": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"column_id": map[string]any{"type": "string", "enum": columnIDs},
								"operator": map[string]any{
									"type": "string",
									"enum": []string{"EQUALS", "NOT_EQUALS", "CONTAINS", "GREATER_THAN", "LESS_THAN"},
								},
								"value": map[string]any{"type": "string"},
							},
							"required": []string{"column_id", "operator", "value"},
						},
					},
					confirmationKey: confirmation,
				},
				"required": []string{"filters", confirmationKey},
			},
		},
		{
			Name:        string(ToolConfigureView),
			Description: "Propose switching the workspace view (table, kanban or analytics).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"view":           map[string]any{"type": "string", "enum": []string{"table", "kanban", "analytics"}},
					"kanbanColumnId": map[string]any{"type": "string", "enum": columnIDs},
					confirmationKey:  confirmation,
				},
				"required": []string{"view", confirmationKey},
			},
		},
	}
}

func columnJSONSchema(col workspace.Column) map[string]any {
	switch col.Type {
	case workspace.TypeNumber:
		return map[string]any{"type": "number"}
	case workspace.TypeBoolean:
		return map[string]any{"type": "boolean"}
	case workspace.TypeSelect:
		return map[string]any{"type": "string", "enum": col.Options}
	default:
		return map[string]any{"type": "string"}
	}
}
