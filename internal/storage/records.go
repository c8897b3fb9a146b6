package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) InsertRecord(ctx context.Context, workspaceID, fieldsJSON string) (RecordRow, error) {
	id := newID()
	q := s.sql.Insert("records").
		Columns("id", "workspace_id", "fields_json").
		Values(id, workspaceID, fieldsJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return RecordRow{}, fmt.Errorf("build record insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return RecordRow{}, fmt.Errorf("insert record: %w", err)
	}
	return s.GetRecord(ctx, workspaceID, id)
}

func (s *Store) GetRecord(ctx context.Context, workspaceID, id string) (RecordRow, error) {
	q := s.sql.Select("id", "workspace_id", "fields_json", "created_at").
		From("records").
		Where(sq.Eq{"workspace_id": workspaceID, "id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return RecordRow{}, fmt.Errorf("build record query: %w", err)
	}
	var r RecordRow
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&r.ID, &r.WorkspaceID, &r.FieldsJSON, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RecordRow{}, ErrNotFound
		}
		return RecordRow{}, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

func (s *Store) UpdateRecord(ctx context.Context, workspaceID, id, fieldsJSON string) (RecordRow, error) {
	q := s.sql.Update("records").
		Set("fields_json", fieldsJSON).
		Where(sq.Eq{"workspace_id": workspaceID, "id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return RecordRow{}, fmt.Errorf("build record update query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return RecordRow{}, fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return RecordRow{}, ErrNotFound
	}
	return s.GetRecord(ctx, workspaceID, id)
}

func (s *Store) DeleteRecord(ctx context.Context, workspaceID, id string) error {
	q := s.sql.Delete("records").Where(sq.Eq{"workspace_id": workspaceID, "id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build record delete query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, workspaceID string) ([]RecordRow, error) {
	q := s.sql.Select("id", "workspace_id", "fields_json", "created_at").
		From("records").
		Where(sq.Eq{"workspace_id": workspaceID}).
		OrderBy("created_at DESC", "id DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list records query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := make([]RecordRow, 0)
	for rows.Next() {
		var r RecordRow
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.FieldsJSON, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return out, nil
}
