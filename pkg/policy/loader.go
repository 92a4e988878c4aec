package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Loader reads policy definitions from the filesystem. Two formats
// are accepted: bare .rego modules, which default to warning severity
// with metadata derived from the file itself, and .json documents
// carrying a full Policy. Parsed files are cached per path for the
// lifetime of the loader.
type Loader struct {
	log   zerolog.Logger
	mu    sync.RWMutex
	cache map[string]*Policy
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		log:   logger.With().Str("component", "policy-loader").Logger(),
		cache: make(map[string]*Policy),
	}
}

// LoadFromPaths loads policies from files and directories. Directories
// are walked recursively; unreadable policy files inside a directory
// are warned about and skipped, while a missing top-level path is an
// error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var loaded []Policy

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat policy path %s: %w", path, err)
		}

		if info.IsDir() {
			policies, err := l.loadDir(path)
			if err != nil {
				return nil, err
			}
			loaded = append(loaded, policies...)
			continue
		}

		policy, err := l.loadFile(path)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, *policy)
	}

	l.log.Info().
		Int("total", len(loaded)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return loaded, nil
}

// loadDir walks a directory tree collecting every .rego and .json
// policy it can parse.
func (l *Loader) loadDir(dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		policy, err := l.loadFile(path)
		if err != nil {
			l.log.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}
		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory %s: %w", dir, err)
	}
	return policies, nil
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".rego" || ext == ".json"
}

// loadFile parses one policy file, serving a cached copy when the
// path was read before.
func (l *Loader) loadFile(path string) (*Policy, error) {
	l.mu.RLock()
	cached, hit := l.cache[path]
	l.mu.RUnlock()
	if hit {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy *Policy
	switch filepath.Ext(path) {
	case ".rego":
		policy = regoPolicy(path, data)
	case ".json":
		policy, err = jsonPolicy(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}

	l.mu.Lock()
	l.cache[path] = policy
	l.mu.Unlock()

	l.log.Debug().
		Str("path", path).
		Str("policy", policy.Name).
		Msg("Policy loaded from file")

	return policy, nil
}

// regoPolicy wraps a raw Rego module. The policy name comes from the
// filename and the description from the leading comment block; the
// module's own deny entries may still declare a stronger severity per
// violation.
func regoPolicy(path string, data []byte) *Policy {
	now := time.Now()
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: leadingComment(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{},
		Metadata: map[string]interface{}{
			"source": path,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// jsonPolicy decodes a full Policy document, filling defaults.
func jsonPolicy(data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	now := time.Now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = now
	}
	return &policy, nil
}

// leadingComment collects the comment block at the top of a Rego
// module, stopping at the first line of code.
func leadingComment(content string) string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment == "" || strings.HasPrefix(comment, "package") {
				continue
			}
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(comment)
		case trimmed != "" && b.Len() > 0:
			return b.String()
		}
	}
	return b.String()
}

// ClearCache drops every cached policy so the next load rereads the
// files.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]*Policy)
	l.log.Debug().Msg("Policy cache cleared")
}
