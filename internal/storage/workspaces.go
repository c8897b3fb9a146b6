package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

func (s *Store) CreateWorkspace(ctx context.Context, w Workspace) (Workspace, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.SchemaJSON == "" {
		w.SchemaJSON = "{}"
	}
	if w.ViewJSON == "" {
		w.ViewJSON = "{}"
	}
	if w.StoreKind == "" {
		w.StoreKind = "local"
	}
	q := s.sql.Insert("workspaces").
		Columns("id", "name", "schema_json", "view_json", "store_kind", "store_base_url", "store_table", "enc_store_key").
		Values(w.ID, w.Name, w.SchemaJSON, w.ViewJSON, w.StoreKind, w.StoreBaseURL, w.StoreTable, w.EncStoreKey)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Workspace{}, fmt.Errorf("build workspace insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	return s.GetWorkspace(ctx, w.ID)
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	q := s.sql.Select("id", "name", "schema_json", "view_json", "store_kind", "store_base_url", "store_table", "enc_store_key", "created_at").
		From("workspaces").
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Workspace{}, fmt.Errorf("build workspace query: %w", err)
	}

	var w Workspace
	var encKey sql.NullString
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&w.ID,
		&w.Name,
		&w.SchemaJSON,
		&w.ViewJSON,
		&w.StoreKind,
		&w.StoreBaseURL,
		&w.StoreTable,
		&encKey,
		&w.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workspace{}, ErrNotFound
		}
		return Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	if encKey.Valid {
		w.EncStoreKey = &encKey.String
	}
	return w, nil
}

func (s *Store) SetWorkspaceSchema(ctx context.Context, id, schemaJSON string) error {
	q := s.sql.Update("workspaces").
		Set("schema_json", schemaJSON).
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set schema query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("set workspace schema: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetWorkspaceView(ctx context.Context, id, viewJSON string) error {
	q := s.sql.Update("workspaces").
		Set("view_json", viewJSON).
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set view query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("set workspace view: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
