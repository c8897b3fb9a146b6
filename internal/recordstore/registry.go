package recordstore

import (
	"fmt"
	"net/http"

	"dataloom/internal/storage"
)

const (
	KindPostgrest = "postgrest"
	KindLocal     = "local"
)

type BuildOptions struct {
	Kind        string
	BaseURL     string
	Table       string
	APIKey      string
	HTTPClient  *http.Client
	DB          *storage.Store
	WorkspaceID string
}

// Build picks the record store backend for a workspace.
func Build(opts BuildOptions) (Store, error) {
	switch opts.Kind {
	case KindPostgrest:
		return NewPostgrest(PostgrestConfig{
			BaseURL:    opts.BaseURL,
			Table:      opts.Table,
			APIKey:     opts.APIKey,
			HTTPClient: opts.HTTPClient,
		})
	case KindLocal, "":
		if opts.DB == nil {
			return nil, fmt.Errorf("local record store requires a database")
		}
		return NewLocal(opts.DB, opts.WorkspaceID), nil
	default:
		return nil, fmt.Errorf("unsupported record store kind %q", opts.Kind)
	}
}
