package registry

import (
	"context"
	"database/sql"
	"time"
)

// Entry is one catalog record for a known extension.
type Entry struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Author      string    `json:"author,omitempty"`
	Homepage    string    `json:"homepage,omitempty"`
	Source      string    `json:"source"`
	Manifest    string    `json:"manifest"` // JSON blob of the parsed manifest
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Pin fixes an extension to a version, exempting it from upgrades.
type Pin struct {
	ExtensionName string    `json:"extension_name"`
	Version       string    `json:"version"`
	Reason        *string   `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Catalog defines the interface for the extension catalog.
type Catalog interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Entry operations
	UpsertEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, name string) (*Entry, error)
	ListEntries(ctx context.Context, category *string, limit, offset int) ([]*Entry, error)
	DeleteEntry(ctx context.Context, name string) error

	// Pin operations
	PinVersion(ctx context.Context, pin *Pin) error
	GetPin(ctx context.Context, name string) (*Pin, error)
	ListPins(ctx context.Context) ([]*Pin, error)
	Unpin(ctx context.Context, name string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
