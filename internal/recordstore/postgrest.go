package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dataloom/internal/workspace"
)

// PostgrestStore talks to a hosted Postgres service over its REST surface.
// Each operation is a single request against one user-designated table; the
// service generates id and created_at and returns the persisted row.
type PostgrestStore struct {
	cfg PostgrestConfig
}

type PostgrestConfig struct {
	BaseURL    string
	Table      string
	APIKey     string
	HTTPClient *http.Client
}

func NewPostgrest(cfg PostgrestConfig) (*PostgrestStore, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is empty")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, fmt.Errorf("table is empty")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &PostgrestStore{cfg: cfg}, nil
}

var _ Store = (*PostgrestStore)(nil)

func (s *PostgrestStore) Create(ctx context.Context, fields map[string]any) (workspace.Record, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return workspace.Record{}, fmt.Errorf("marshal record: %w", err)
	}
	rows, err := s.call(ctx, http.MethodPost, s.tableURL(nil), body)
	if err != nil {
		return workspace.Record{}, err
	}
	if len(rows) == 0 {
		return workspace.Record{}, fmt.Errorf("store returned no row for create")
	}
	return rowToRecord(rows[0]), nil
}

func (s *PostgrestStore) Update(ctx context.Context, id string, fields map[string]any) (workspace.Record, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return workspace.Record{}, fmt.Errorf("marshal update: %w", err)
	}
	rows, err := s.call(ctx, http.MethodPatch, s.tableURL(map[string]string{"id": "eq." + id}), body)
	if err != nil {
		return workspace.Record{}, err
	}
	if len(rows) == 0 {
		return workspace.Record{}, ErrNotFound
	}
	return rowToRecord(rows[0]), nil
}

func (s *PostgrestStore) Delete(ctx context.Context, id string) error {
	rows, err := s.call(ctx, http.MethodDelete, s.tableURL(map[string]string{"id": "eq." + id}), nil)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgrestStore) List(ctx context.Context) ([]workspace.Record, error) {
	rows, err := s.call(ctx, http.MethodGet, s.tableURL(map[string]string{
		"select": "*",
		"order":  "created_at.desc",
	}), nil)
	if err != nil {
		return nil, err
	}
	out := make([]workspace.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToRecord(row))
	}
	return out, nil
}

func (s *PostgrestStore) call(ctx context.Context, method, endpoint string, body []byte) ([]map[string]any, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		req.Header.Set("apikey", s.cfg.APIKey)
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read store response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("store status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}

	var rows []map[string]any
	if err := json.Unmarshal(respBody, &rows); err != nil {
		// Single-object representation.
		var row map[string]any
		if err2 := json.Unmarshal(respBody, &row); err2 != nil {
			return nil, fmt.Errorf("decode store response: %w", err)
		}
		rows = []map[string]any{row}
	}
	return rows, nil
}

func (s *PostgrestStore) tableURL(query map[string]string) string {
	base := strings.TrimSuffix(s.cfg.BaseURL, "/")
	if !strings.Contains(base, "/rest/v1") {
		base += "/rest/v1"
	}
	u := base + "/" + url.PathEscape(s.cfg.Table)
	if len(query) == 0 {
		return u
	}
	q := url.Values{}
	for k, v := range query {
		q.Set(k, v)
	}
	return u + "?" + q.Encode()
}

func rowToRecord(row map[string]any) workspace.Record {
	rec := workspace.Record{Fields: make(map[string]any, len(row))}
	for k, v := range row {
		switch k {
		case "id":
			if s, ok := v.(string); ok {
				rec.ID = s
			}
		case "created_at":
			if s, ok := v.(string); ok {
				if ts, err := time.Parse(time.RFC3339, s); err == nil {
					rec.CreatedAt = ts
				}
			}
		default:
			rec.Fields[k] = v
		}
	}
	return rec
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
