package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dataloom/internal/workspace"
)

// ErrMalformedReply marks a model response that is neither usable text nor a
// valid tool call. Distinct from transport failures: callers surface a fixed
// fallback message and stay idle instead of reporting a service error.
var ErrMalformedReply = errors.New("malformed model reply")

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// Client is the gateway to the Gemini completion endpoint. It is read-only
// with respect to the record store: it only ever proposes changes.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg}
}

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ProposeRequest struct {
	Schema  workspace.Schema
	Records []workspace.Record
	History []Turn
	View    workspace.ViewKind
}

// Reply carries exactly one of Text or ToolCall.
type Reply struct {
	Text     string
	ToolCall *ToolCall
}

// Propose replays the full transcript plus the live schema and a record
// sample and returns the model's next turn. One attempt per call; failures
// are terminal for the triggering user action.
func (c *Client) Propose(ctx context.Context, req ProposeRequest) (Reply, error) {
	contents := make([]geminiContent, 0, len(req.History))
	for _, turn := range req.History {
		role := "user"
		if turn.Role == "model" {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: turn.Content}}})
	}

	body := geminiRequest{
		Contents: contents,
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: buildSystemInstruction(req.Schema, req.Records, req.View)}},
		},
		Tools:            []geminiTool{{FunctionDeclarations: toolDeclarations(req.Schema)}},
		GenerationConfig: &geminiGenerationConfig{MaxOutputTokens: c.cfg.MaxTokens},
	}

	resp, err := c.generate(ctx, body)
	if err != nil {
		return Reply{}, err
	}
	return parseReply(resp)
}

// GenerateSchema asks the model for a column list matching a free-text
// dataset description, enforced through JSON output mode and validated
// before it is returned.
func (c *Client) GenerateSchema(ctx context.Context, description string) (workspace.Schema, error) {
	body := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: schemaGenerationPrompt(description)}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			MaxOutputTokens:  c.cfg.MaxTokens,
			ResponseMimeType: "application/json",
			ResponseSchema:   schemaResponseSchema(),
		},
	}

	resp, err := c.generate(ctx, body)
	if err != nil {
		return workspace.Schema{}, err
	}
	text := firstText(resp)
	if strings.TrimSpace(text) == "" {
		return workspace.Schema{}, fmt.Errorf("%w: empty schema response", ErrMalformedReply)
	}

	var schema workspace.Schema
	if err := json.Unmarshal([]byte(text), &schema); err != nil {
		return workspace.Schema{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if err := schema.Validate(); err != nil {
		return workspace.Schema{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return schema, nil
}

func (c *Client) generate(ctx context.Context, body geminiRequest) (*geminiResponse, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is empty")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var out geminiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("gateway error %d: %s", out.Error.Code, out.Error.Message)
	}
	return &out, nil
}

// schemaResponseSchema constrains JSON-mode schema generation to the column
// shape GenerateSchema expects to decode.
func schemaResponseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"columns": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":      map[string]any{"type": "string"},
						"name":    map[string]any{"type": "string"},
						"type":    map[string]any{"type": "string", "enum": []string{"text", "number", "date", "boolean", "select"}},
						"options": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"id", "name", "type"},
				},
			},
		},
		"required": []string{"columns"},
	}
}

func parseReply(resp *geminiResponse) (Reply, error) {
	if len(resp.Candidates) == 0 {
		return Reply{}, fmt.Errorf("%w: no candidates", ErrMalformedReply)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			call, err := decodeToolCall(part.FunctionCall.Name, part.FunctionCall.Args)
			if err != nil {
				return Reply{}, err
			}
			return Reply{ToolCall: call}, nil
		}
		text.WriteString(part.Text)
	}

	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return Reply{}, fmt.Errorf("%w: neither text nor tool call", ErrMalformedReply)
	}
	return Reply{Text: reply}, nil
}

func firstText(resp *geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
