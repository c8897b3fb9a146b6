package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"dataloom/internal/workspace"
)

// recordSampleLimit caps how many records are inlined into the prompt.
const recordSampleLimit = 50

func buildSystemInstruction(schema workspace.Schema, records []workspace.Record, view workspace.ViewKind) string {
	var b strings.Builder
	b.WriteString("You are the assistant of a data workspace. The user works with one table.\n")
	b.WriteString("Columns (id, name, type):\n")
	for _, col := range schema.Columns {
		b.WriteString(fmt.Sprintf("- %s (%q, %s", col.ID, col.Name, col.Type))
		if col.Type == workspace.TypeSelect {
			b.WriteString(", options: " + strings.Join(col.Options, ", "))
		}
		b.WriteString(")\n")
	}
	if view != "" {
		b.WriteString(fmt.Sprintf("Current view: %s.\n", view))
	}

	b.WriteString("\nCurrent records")
	if len(records) > recordSampleLimit {
		b.WriteString(fmt.Sprintf(" (first %d of %d)", recordSampleLimit, len(records)))
		records = records[:recordSampleLimit]
	}
	b.WriteString(":\n")
	for _, r := range records {
		fields, _ := json.Marshal(r.Fields)
		b.WriteString(fmt.Sprintf("- id=%s %s\n", r.ID, fields))
	}

	b.WriteString(`
Rules:
- Answer questions about the data in plain text.
- To change data, call exactly one tool and always include a confirmationMessage; never apply changes yourself.
- Field values must match the declared column types; select values must be one of the listed options.
- Identify records by their id from the list above. If the user's request is ambiguous or no record matches, ask for clarification in plain text instead of calling a tool.
`)
	return b.String()
}

func schemaGenerationPrompt(description string) string {
	return fmt.Sprintf(`Design a table schema for the following dataset description:

%s

Return a JSON object {"columns": [{"id", "name", "type", "options"}]}.
Types: text, number, date, boolean, select. Column ids are short snake_case
machine keys and must be unique. Only select columns carry options.`, description)
}
