package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dataloom/internal/storage"
	"dataloom/internal/workspace"
)

// LocalStore keeps records in this service's own database. Used by
// workspaces that are not connected to a hosted Postgres service.
type LocalStore struct {
	store       *storage.Store
	workspaceID string
}

func NewLocal(store *storage.Store, workspaceID string) *LocalStore {
	return &LocalStore{store: store, workspaceID: workspaceID}
}

var _ Store = (*LocalStore)(nil)

func (l *LocalStore) Create(ctx context.Context, fields map[string]any) (workspace.Record, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return workspace.Record{}, fmt.Errorf("marshal record: %w", err)
	}
	row, err := l.store.InsertRecord(ctx, l.workspaceID, string(payload))
	if err != nil {
		return workspace.Record{}, err
	}
	return rowRecord(row)
}

func (l *LocalStore) Update(ctx context.Context, id string, fields map[string]any) (workspace.Record, error) {
	row, err := l.store.GetRecord(ctx, l.workspaceID, id)
	if err != nil {
		return workspace.Record{}, mapNotFound(err)
	}
	current, err := rowRecord(row)
	if err != nil {
		return workspace.Record{}, err
	}
	merged := current.Merge(fields)
	payload, err := json.Marshal(merged.Fields)
	if err != nil {
		return workspace.Record{}, fmt.Errorf("marshal update: %w", err)
	}
	updated, err := l.store.UpdateRecord(ctx, l.workspaceID, id, string(payload))
	if err != nil {
		return workspace.Record{}, mapNotFound(err)
	}
	return rowRecord(updated)
}

func (l *LocalStore) Delete(ctx context.Context, id string) error {
	return mapNotFound(l.store.DeleteRecord(ctx, l.workspaceID, id))
}

func (l *LocalStore) List(ctx context.Context) ([]workspace.Record, error) {
	rows, err := l.store.ListRecords(ctx, l.workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]workspace.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := rowRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func rowRecord(row storage.RecordRow) (workspace.Record, error) {
	fields := map[string]any{}
	if row.FieldsJSON != "" {
		if err := json.Unmarshal([]byte(row.FieldsJSON), &fields); err != nil {
			return workspace.Record{}, fmt.Errorf("decode record fields: %w", err)
		}
	}
	return workspace.Record{ID: row.ID, Fields: fields, CreatedAt: row.CreatedAt}, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
