package llm

import (
	"encoding/json"
	"fmt"
)

// ToolCall round-trips through JSON so pending proposals can be parked in
// external session state between turns.

type toolCallEnvelope struct {
	Name                ToolName        `json:"name"`
	ConfirmationMessage string          `json:"confirmationMessage"`
	Args                json.RawMessage `json:"args"`
}

func (c ToolCall) MarshalJSON() ([]byte, error) {
	args, err := json.Marshal(c.Args)
	if err != nil {
		return nil, fmt.Errorf("marshal tool args: %w", err)
	}
	return json.Marshal(toolCallEnvelope{
		Name:                c.Name,
		ConfirmationMessage: c.ConfirmationMessage,
		Args:                args,
	})
}

func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var env toolCallEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	var args ToolArgs
	switch env.Name {
	case ToolCreateRecord:
		var a CreateRecordArgs
		if err := json.Unmarshal(env.Args, &a); err != nil {
			return err
		}
		args = a
	case ToolUpdateRecord:
		var a UpdateRecordArgs
		if err := json.Unmarshal(env.Args, &a); err != nil {
			return err
		}
		args = a
	case ToolDeleteRecord:
		var a DeleteRecordArgs
		if err := json.Unmarshal(env.Args, &a); err != nil {
			return err
		}
		args = a
	case ToolSearchRecords:
		var a SearchRecordsArgs
		if err := json.Unmarshal(env.Args, &a); err != nil {
			return err
		}
		args = a
	case ToolConfigureView:
		var a ConfigureViewArgs
		if err := json.Unmarshal(env.Args, &a); err != nil {
			return err
		}
		args = a
	default:
		return fmt.Errorf("unknown tool %q", env.Name)
	}

	c.Name = env.Name
	c.ConfirmationMessage = env.ConfirmationMessage
	c.Args = args
	return nil
}
