package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader parses and validates extension manifests.
type Loader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
	log       zerolog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger used for load diagnostics.
func WithLoaderLogger(log zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.log = log.With().Str("component", "manifest").Logger()
	}
}

// NewLoader creates a manifest loader with built-in schemas.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load parses a manifest file and validates it. Validation runs in two
// passes: the raw document is checked against the CUE extension schema,
// then the decoded struct is checked with field validation tags and
// cross-field rules.
func (l *Loader) Load(ctx context.Context, path string) (*Extension, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	ext, err := l.Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return ext, nil
}

// Parse parses and validates manifest content.
func (l *Loader) Parse(ctx context.Context, data []byte) (*Extension, error) {
	// Structural pass against the CUE schema on the raw document, so
	// schema errors refer to the fields as they appear in the file.
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := l.schemas.ValidateAgainstSchema(ctx, "extension", raw); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var ext Extension
	if err := yaml.Unmarshal(data, &ext); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	if err := l.validator.Struct(&ext); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := ext.ValidateConstraints(); err != nil {
		return nil, err
	}

	return &ext, nil
}

// LoadDir loads every manifest in a directory, keyed by extension name.
// Files that fail to load are logged and skipped so one bad manifest
// does not hide the rest.
func (l *Loader) LoadDir(ctx context.Context, dir string) (map[string]*Extension, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory %s: %w", dir, err)
	}

	exts := make(map[string]*Extension)
	for _, entry := range entries {
		if entry.IsDir() || !isManifestFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ext, err := l.Load(ctx, path)
		if err != nil {
			l.log.Warn().Err(err).Str("path", path).Msg("skipping invalid manifest")
			continue
		}
		if prev, ok := exts[ext.Metadata.Name]; ok {
			return nil, fmt.Errorf("duplicate extension %s (versions %s and %s)",
				ext.Metadata.Name, prev.Metadata.Version, ext.Metadata.Version)
		}
		exts[ext.Metadata.Name] = ext
	}
	return exts, nil
}

// Names returns the sorted extension names of a manifest set.
func Names(exts map[string]*Extension) []string {
	names := make([]string, 0, len(exts))
	for name := range exts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isManifestFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
