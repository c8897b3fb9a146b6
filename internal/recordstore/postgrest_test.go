package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostgrestCreate(t *testing.T) {
	var gotMethod, gotPath, gotPrefer string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotPrefer = r.Header.Get("Prefer")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"abc-123","created_at":"2026-03-01T10:00:00Z","name":"Acme","status":"Todo"}]`))
	}))
	defer srv.Close()

	store, err := NewPostgrest(PostgrestConfig{BaseURL: srv.URL, Table: "projects", APIKey: "anon"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	rec, err := store.Create(context.Background(), map[string]any{"name": "Acme", "status": "Todo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/rest/v1/projects" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotPrefer != "return=representation" {
		t.Fatalf("unexpected prefer header %q", gotPrefer)
	}
	if _, ok := gotBody["id"]; ok {
		t.Fatalf("client must not send id on create")
	}
	if rec.ID != "abc-123" {
		t.Fatalf("expected store-assigned id, got %q", rec.ID)
	}
	if rec.Fields["name"] != "Acme" {
		t.Fatalf("unexpected fields %#v", rec.Fields)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatalf("created_at not parsed")
	}
}

func TestPostgrestUpdateNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "eq.missing" {
			t.Errorf("unexpected id filter %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	store, err := NewPostgrest(PostgrestConfig{BaseURL: srv.URL, Table: "projects"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.Update(context.Background(), "missing", map[string]any{"status": "Done"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgrestDelete(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"abc-123"}]`))
	}))
	defer srv.Close()

	store, err := NewPostgrest(PostgrestConfig{BaseURL: srv.URL, Table: "projects"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Delete(context.Background(), "abc-123"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one request, got %d", calls)
	}
}

func TestPostgrestListServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store, err := NewPostgrest(PostgrestConfig{BaseURL: srv.URL, Table: "projects"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.List(context.Background()); err == nil {
		t.Fatalf("expected error on 500")
	}
	// Failures are terminal: no automatic retry.
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
}
