package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const sampleRego = `# Blocks script installs entirely
package crucible.policies.noscript

import rego.v1

deny contains violation if {
	input.method == "script"
	violation := {
		"message": sprintf("script installs are not allowed for %s", [input.extension]),
		"severity": "error",
		"extension": input.extension,
	}
}
`

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadFromRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "noscript.rego", sampleRego)

	loader := newTestLoader()
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "noscript" {
		t.Errorf("expected name from filename, got %s", p.Name)
	}
	if !p.Enabled {
		t.Error("expected loaded policy enabled")
	}
	if p.Description == "" {
		t.Error("expected description from leading comment")
	}
	if p.Severity != SeverityWarning {
		t.Errorf("expected default severity warning, got %s", p.Severity)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "custom.json", `{
		"name": "custom",
		"description": "custom policy",
		"severity": "error",
		"enabled": true,
		"rego": "package crucible.policies.custom\n\nimport rego.v1\n"
	}`)

	loader := newTestLoader()
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 || policies[0].Severity != SeverityError {
		t.Fatalf("unexpected policies: %+v", policies)
	}
}

func TestLoadFromDirectorySkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "noscript.rego", sampleRego)
	writePolicy(t, dir, "README.md", "# not a policy")

	loader := newTestLoader()
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
}

func TestLoadFromMissingPath(t *testing.T) {
	loader := newTestLoader()
	_, err := loader.LoadFromPaths(context.Background(), []string{"/no/such/path"})
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestLoaderCaches(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "noscript.rego", sampleRego)

	loader := newTestLoader()
	first, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}

	// A rewrite without cache invalidation still serves the cached copy
	writePolicy(t, dir, "noscript.rego", "# changed\npackage crucible.policies.noscript\n\nimport rego.v1\n")
	second, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if second[0].Rego != first[0].Rego {
		t.Error("expected cached policy on unchanged path")
	}

	loader.ClearCache()
	third, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("third load failed: %v", err)
	}
	if third[0].Rego == first[0].Rego {
		t.Error("expected fresh policy after cache clear")
	}
}

func TestLoadedPolicyEnforcedByEngine(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "noscript.rego", sampleRego)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	result, err := eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation: "install",
		Extension: "custom-tool",
		Method:    "script",
	})
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}

	// The violation declares error severity, which blocks even though
	// file-loaded policies default to warning.
	if result.Allowed {
		t.Fatalf("expected loaded policy to block, got %+v", result)
	}
	found := false
	for _, v := range result.Violations {
		if v.Message == "script installs are not allowed for custom-tool" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected policy violation, got %+v", result.Violations)
	}
}
