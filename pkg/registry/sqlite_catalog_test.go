package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/crucible-dev/crucible/pkg/manifest"
)

// setupTestCatalog creates an in-memory SQLite catalog for testing
func setupTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()

	catalog, err := NewSQLiteCatalog(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}

	ctx := context.Background()
	if err := catalog.Init(ctx); err != nil {
		t.Fatalf("failed to initialize catalog: %v", err)
	}

	if err := catalog.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate catalog: %v", err)
	}

	return catalog
}

func sampleEntry(name, category string) *Entry {
	return &Entry{
		Name:        name,
		Version:     "1.0.0",
		Description: "sample extension",
		Category:    category,
		Source:      "github:crucible-dev/extensions",
		Manifest:    "{}",
	}
}

// TestCatalogLifecycle tests database initialization and closure
func TestCatalogLifecycle(t *testing.T) {
	catalog, err := NewSQLiteCatalog(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}

	ctx := context.Background()
	if err := catalog.Init(ctx); err != nil {
		t.Fatalf("failed to initialize catalog: %v", err)
	}

	if err := catalog.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := catalog.Close(); err != nil {
		t.Fatalf("failed to close catalog: %v", err)
	}
}

func TestCatalogRequiresPath(t *testing.T) {
	if _, err := NewSQLiteCatalog(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestCatalogMigrations tests database migrations
func TestCatalogMigrations(t *testing.T) {
	catalog := setupTestCatalog(t)
	defer catalog.Close()

	ctx := context.Background()

	tables := []string{"extensions", "version_pins"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := catalog.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestEntryCRUD tests catalog entry operations
func TestEntryCRUD(t *testing.T) {
	catalog := setupTestCatalog(t)
	defer catalog.Close()

	ctx := context.Background()
	entry := sampleEntry("python", "languages")

	if err := catalog.UpsertEntry(ctx, entry); err != nil {
		t.Fatalf("failed to upsert entry: %v", err)
	}

	got, err := catalog.GetEntry(ctx, "python")
	if err != nil {
		t.Fatalf("failed to get entry: %v", err)
	}
	if got.Version != "1.0.0" || got.Category != "languages" {
		t.Errorf("unexpected entry: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	// Upsert replaces fields but keeps identity
	entry.Version = "2.0.0"
	entry.Description = "updated"
	if err := catalog.UpsertEntry(ctx, entry); err != nil {
		t.Fatalf("failed to re-upsert entry: %v", err)
	}
	got, err = catalog.GetEntry(ctx, "python")
	if err != nil {
		t.Fatalf("failed to get entry after upsert: %v", err)
	}
	if got.Version != "2.0.0" || got.Description != "updated" {
		t.Errorf("upsert did not replace fields: %+v", got)
	}

	if err := catalog.DeleteEntry(ctx, "python"); err != nil {
		t.Fatalf("failed to delete entry: %v", err)
	}
	if _, err := catalog.GetEntry(ctx, "python"); err == nil {
		t.Fatal("expected error for deleted entry")
	}
	if err := catalog.DeleteEntry(ctx, "python"); err == nil {
		t.Fatal("expected error deleting absent entry")
	}
}

func TestListEntriesWithCategoryFilter(t *testing.T) {
	catalog := setupTestCatalog(t)
	defer catalog.Close()

	ctx := context.Background()
	for _, e := range []*Entry{
		sampleEntry("python", "languages"),
		sampleEntry("rust", "languages"),
		sampleEntry("terraform", "devops"),
	} {
		if err := catalog.UpsertEntry(ctx, e); err != nil {
			t.Fatalf("failed to upsert %s: %v", e.Name, err)
		}
	}

	all, err := catalog.ListEntries(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	// Sorted by name
	if all[0].Name != "python" || all[2].Name != "terraform" {
		t.Errorf("unexpected order: %s, %s, %s", all[0].Name, all[1].Name, all[2].Name)
	}

	languages := "languages"
	filtered, err := catalog.ListEntries(ctx, &languages, 10, 0)
	if err != nil {
		t.Fatalf("failed to list by category: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("expected 2 language entries, got %d", len(filtered))
	}

	page, err := catalog.ListEntries(ctx, nil, 1, 1)
	if err != nil {
		t.Fatalf("failed to paginate: %v", err)
	}
	if len(page) != 1 || page[0].Name != "rust" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestPinLifecycle(t *testing.T) {
	catalog := setupTestCatalog(t)
	defer catalog.Close()

	ctx := context.Background()
	if err := catalog.UpsertEntry(ctx, sampleEntry("kubectl", "devops")); err != nil {
		t.Fatalf("failed to upsert entry: %v", err)
	}

	reason := "cluster compatibility"
	pin := &Pin{ExtensionName: "kubectl", Version: "1.29.0", Reason: &reason}
	if err := catalog.PinVersion(ctx, pin); err != nil {
		t.Fatalf("failed to pin: %v", err)
	}

	got, err := catalog.GetPin(ctx, "kubectl")
	if err != nil {
		t.Fatalf("failed to get pin: %v", err)
	}
	if got == nil || got.Version != "1.29.0" {
		t.Fatalf("unexpected pin: %+v", got)
	}
	if got.Reason == nil || *got.Reason != reason {
		t.Errorf("expected reason preserved, got %v", got.Reason)
	}

	// Re-pinning replaces the version
	pin.Version = "1.30.0"
	if err := catalog.PinVersion(ctx, pin); err != nil {
		t.Fatalf("failed to re-pin: %v", err)
	}
	got, _ = catalog.GetPin(ctx, "kubectl")
	if got.Version != "1.30.0" {
		t.Errorf("expected re-pin to replace version, got %s", got.Version)
	}

	pins, err := catalog.ListPins(ctx)
	if err != nil {
		t.Fatalf("failed to list pins: %v", err)
	}
	if len(pins) != 1 {
		t.Errorf("expected 1 pin, got %d", len(pins))
	}

	if err := catalog.Unpin(ctx, "kubectl"); err != nil {
		t.Fatalf("failed to unpin: %v", err)
	}
	got, err = catalog.GetPin(ctx, "kubectl")
	if err != nil {
		t.Fatalf("failed to get pin after unpin: %v", err)
	}
	if got != nil {
		t.Errorf("expected no pin, got %+v", got)
	}
	if err := catalog.Unpin(ctx, "kubectl"); err == nil {
		t.Fatal("expected error unpinning absent pin")
	}
}

func TestPinDeletedWithEntry(t *testing.T) {
	catalog := setupTestCatalog(t)
	defer catalog.Close()

	ctx := context.Background()
	if err := catalog.UpsertEntry(ctx, sampleEntry("node", "languages")); err != nil {
		t.Fatalf("failed to upsert entry: %v", err)
	}
	if err := catalog.PinVersion(ctx, &Pin{ExtensionName: "node", Version: "20.0.0"}); err != nil {
		t.Fatalf("failed to pin: %v", err)
	}

	if err := catalog.DeleteEntry(ctx, "node"); err != nil {
		t.Fatalf("failed to delete entry: %v", err)
	}

	pin, err := catalog.GetPin(ctx, "node")
	if err != nil {
		t.Fatalf("failed to get pin: %v", err)
	}
	if pin != nil {
		t.Errorf("expected pin removed with entry, got %+v", pin)
	}
}

func TestSyncManifests(t *testing.T) {
	catalog := setupTestCatalog(t)
	defer catalog.Close()

	ctx := context.Background()
	exts := map[string]*manifest.Extension{
		"python": {
			Metadata: manifest.Metadata{
				Name:        "python",
				Version:     "1.0.0",
				Description: "Python toolchain",
				Category:    manifest.CategoryLanguages,
				Homepage:    "https://www.python.org",
			},
			Install: manifest.InstallConfig{
				Method: manifest.MethodMise,
				Mise:   &manifest.MiseInstall{ConfigFile: "mise.toml"},
			},
		},
	}

	if err := catalog.SyncManifests(ctx, "github:crucible-dev/extensions", exts); err != nil {
		t.Fatalf("failed to sync manifests: %v", err)
	}

	entry, err := catalog.GetEntry(ctx, "python")
	if err != nil {
		t.Fatalf("failed to get synced entry: %v", err)
	}
	if entry.Source != "github:crucible-dev/extensions" {
		t.Errorf("unexpected source: %s", entry.Source)
	}
	if !strings.Contains(entry.Manifest, "mise.toml") {
		t.Errorf("expected manifest blob to carry install config: %s", entry.Manifest)
	}

	spec, err := entry.ManifestSpec()
	if err != nil {
		t.Fatalf("failed to decode cached manifest: %v", err)
	}
	if spec.Install.Method != manifest.MethodMise || spec.Install.Mise.ConfigFile != "mise.toml" {
		t.Errorf("cached manifest round-trip lost data: %+v", spec.Install)
	}
}
