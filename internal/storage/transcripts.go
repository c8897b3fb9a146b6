package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

func (s *Store) CreateSession(ctx context.Context, workspaceID string) (Session, error) {
	id := uuid.NewString()
	q := s.sql.Insert("sessions").
		Columns("id", "workspace_id").
		Values(id, workspaceID)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Session{}, fmt.Errorf("build session insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	q := s.sql.Select("id", "workspace_id", "created_at").
		From("sessions").
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Session{}, fmt.Errorf("build session query: %w", err)
	}
	var out Session
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&out.ID, &out.WorkspaceID, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return out, nil
}

// AppendMessage appends one turn to a session transcript. Seq is assigned
// monotonically per session; readers see messages in append order only.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin append message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selStr, selArgs, err := s.sql.Select("COALESCE(MAX(seq), 0) + 1").
		From("messages").
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build next seq query: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, selStr, selArgs...).Scan(&seq); err != nil {
		return Message{}, fmt.Errorf("next seq: %w", err)
	}

	insStr, insArgs, err := s.sql.Insert("messages").
		Columns("session_id", "seq", "role", "content").
		Values(sessionID, seq, role, content).
		ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build message insert query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insStr, insArgs...); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit append message: %w", err)
	}
	return Message{SessionID: sessionID, Seq: seq, Role: role, Content: content}, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	q := s.sql.Select("id", "session_id", "seq", "role", "content", "created_at").
		From("messages").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("seq ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func newID() string {
	return uuid.NewString()
}
