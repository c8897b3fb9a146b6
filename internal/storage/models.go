package storage

import "time"

type Workspace struct {
	ID           string
	Name         string
	SchemaJSON   string
	ViewJSON     string
	StoreKind    string
	StoreBaseURL string
	StoreTable   string
	EncStoreKey  *string
	CreatedAt    time.Time
}

type Session struct {
	ID          string
	WorkspaceID string
	CreatedAt   time.Time
}

type Message struct {
	ID        int64
	SessionID string
	Seq       int64
	Role      string
	Content   string
	CreatedAt time.Time
}

type RecordRow struct {
	ID          string
	WorkspaceID string
	FieldsJSON  string
	CreatedAt   time.Time
}

type AuditEntry struct {
	WorkspaceID string
	SessionID   string
	Action      string
	MetaJSON    string
}
