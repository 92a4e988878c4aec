package registry

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/crucible-dev/crucible/pkg/manifest"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteCatalog implements the Catalog interface using SQLite.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// Config holds SQLite catalog configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteCatalog creates a new SQLite catalog instance.
func NewSQLiteCatalog(cfg Config) (*SQLiteCatalog, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteCatalog{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (c *SQLiteCatalog) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", c.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	c.db = db
	return nil
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (c *SQLiteCatalog) Migrate(_ context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(c.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction.
func (c *SQLiteCatalog) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction.
func (c *SQLiteCatalog) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction.
func (c *SQLiteCatalog) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// UpsertEntry creates or replaces a catalog entry.
func (c *SQLiteCatalog) UpsertEntry(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO extensions (name, version, description, category, author, homepage, source, manifest, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			description = excluded.description,
			category = excluded.category,
			author = excluded.author,
			homepage = excluded.homepage,
			source = excluded.source,
			manifest = excluded.manifest,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	_, err := c.db.ExecContext(ctx, query,
		entry.Name,
		entry.Version,
		entry.Description,
		entry.Category,
		entry.Author,
		entry.Homepage,
		entry.Source,
		entry.Manifest,
		entry.CreatedAt,
		entry.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert extension: %w", err)
	}

	return nil
}

// GetEntry retrieves a catalog entry by extension name.
func (c *SQLiteCatalog) GetEntry(ctx context.Context, name string) (*Entry, error) {
	query := `
		SELECT name, version, description, category, author, homepage, source, manifest, created_at, updated_at
		FROM extensions
		WHERE name = ?
	`

	entry := &Entry{}
	err := c.db.QueryRowContext(ctx, query, name).Scan(
		&entry.Name,
		&entry.Version,
		&entry.Description,
		&entry.Category,
		&entry.Author,
		&entry.Homepage,
		&entry.Source,
		&entry.Manifest,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("extension not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extension: %w", err)
	}

	return entry, nil
}

// ListEntries lists catalog entries, optionally filtered by category.
func (c *SQLiteCatalog) ListEntries(ctx context.Context, category *string, limit, offset int) ([]*Entry, error) {
	query := `
		SELECT name, version, description, category, author, homepage, source, manifest, created_at, updated_at
		FROM extensions
		WHERE (? IS NULL OR category = ?)
		ORDER BY name
		LIMIT ? OFFSET ?
	`

	// SQLite treats a negative LIMIT as unbounded.
	if limit <= 0 {
		limit = -1
	}

	rows, err := c.db.QueryContext(ctx, query, category, category, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list extensions: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		entry := &Entry{}
		err := rows.Scan(
			&entry.Name,
			&entry.Version,
			&entry.Description,
			&entry.Category,
			&entry.Author,
			&entry.Homepage,
			&entry.Source,
			&entry.Manifest,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extension: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate extensions: %w", err)
	}

	return entries, nil
}

// DeleteEntry removes a catalog entry and its pin.
func (c *SQLiteCatalog) DeleteEntry(ctx context.Context, name string) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM extensions WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete extension: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("extension not found: %s", name)
	}

	return nil
}

// PinVersion pins an extension to a version.
func (c *SQLiteCatalog) PinVersion(ctx context.Context, pin *Pin) error {
	query := `
		INSERT INTO version_pins (extension_name, version, reason, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(extension_name) DO UPDATE SET
			version = excluded.version,
			reason = excluded.reason,
			created_at = excluded.created_at
	`

	if pin.CreatedAt.IsZero() {
		pin.CreatedAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, query, pin.ExtensionName, pin.Version, pin.Reason, pin.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to pin version: %w", err)
	}

	return nil
}

// GetPin retrieves the pin for an extension, if any.
func (c *SQLiteCatalog) GetPin(ctx context.Context, name string) (*Pin, error) {
	query := `
		SELECT extension_name, version, reason, created_at
		FROM version_pins
		WHERE extension_name = ?
	`

	pin := &Pin{}
	err := c.db.QueryRowContext(ctx, query, name).Scan(
		&pin.ExtensionName,
		&pin.Version,
		&pin.Reason,
		&pin.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pin: %w", err)
	}

	return pin, nil
}

// ListPins lists all version pins.
func (c *SQLiteCatalog) ListPins(ctx context.Context) ([]*Pin, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT extension_name, version, reason, created_at FROM version_pins ORDER BY extension_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list pins: %w", err)
	}
	defer rows.Close()

	pins := []*Pin{}
	for rows.Next() {
		pin := &Pin{}
		if err := rows.Scan(&pin.ExtensionName, &pin.Version, &pin.Reason, &pin.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pin: %w", err)
		}
		pins = append(pins, pin)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pins: %w", err)
	}

	return pins, nil
}

// Unpin removes the pin for an extension.
func (c *SQLiteCatalog) Unpin(ctx context.Context, name string) error {
	result, err := c.db.ExecContext(ctx, "DELETE FROM version_pins WHERE extension_name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to unpin: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no pin for extension: %s", name)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (c *SQLiteCatalog) HealthCheck(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// SyncManifests refreshes the catalog from a loaded manifest set. The
// source string is recorded on every entry. Catalog entries whose
// manifest disappeared are left in place; the catalog is a cache, not
// an authority.
func (c *SQLiteCatalog) SyncManifests(ctx context.Context, source string, exts map[string]*manifest.Extension) error {
	for _, name := range manifest.Names(exts) {
		ext := exts[name]
		blob, err := json.Marshal(ext)
		if err != nil {
			return fmt.Errorf("failed to encode manifest for %s: %w", name, err)
		}

		entry := &Entry{
			Name:        ext.Metadata.Name,
			Version:     ext.Metadata.Version,
			Description: ext.Metadata.Description,
			Category:    string(ext.Metadata.Category),
			Author:      ext.Metadata.Author,
			Homepage:    ext.Metadata.Homepage,
			Source:      source,
			Manifest:    string(blob),
		}
		if err := c.UpsertEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// ManifestSpec decodes the cached manifest blob of an entry.
func (e *Entry) ManifestSpec() (*manifest.Extension, error) {
	var ext manifest.Extension
	if err := json.Unmarshal([]byte(e.Manifest), &ext); err != nil {
		return nil, fmt.Errorf("failed to decode cached manifest for %s: %w", e.Name, err)
	}
	return &ext, nil
}
