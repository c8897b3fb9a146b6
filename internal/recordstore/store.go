package recordstore

import (
	"context"
	"errors"

	"dataloom/internal/workspace"
)

var ErrNotFound = errors.New("record not found")

// Store is the record store adapter: one external call per operation, no
// batching and no retry. The backing store owns record ids and timestamps.
type Store interface {
	Create(ctx context.Context, fields map[string]any) (workspace.Record, error)
	Update(ctx context.Context, id string, fields map[string]any) (workspace.Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]workspace.Record, error)
}
