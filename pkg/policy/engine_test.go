package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngineLoadsBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"allowed-sources",
		"protected-extensions",
		"pinned-versions",
		"production-safety",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestAllowedSourcesPolicy(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		input         *OperationInput
		expectAllowed bool
	}{
		{
			name: "trusted github source",
			input: &OperationInput{
				Operation: "install",
				Extension: "python",
				Version:   "3.12.1",
				Source:    "github:crucible-dev/extensions",
			},
			expectAllowed: true,
		},
		{
			name: "local file source",
			input: &OperationInput{
				Operation: "install",
				Extension: "python",
				Source:    "file:./extensions/python",
			},
			expectAllowed: true,
		},
		{
			name: "untrusted source",
			input: &OperationInput{
				Operation: "install",
				Extension: "python",
				Source:    "github:somebody-else/extensions",
			},
			expectAllowed: false,
		},
		{
			name: "empty source is not checked",
			input: &OperationInput{
				Operation: "install",
				Extension: "python",
			},
			expectAllowed: true,
		},
		{
			name: "source only checked on install",
			input: &OperationInput{
				Operation: "remove",
				Extension: "python",
				Source:    "github:somebody-else/extensions",
			},
			expectAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateOperation(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("EvaluateOperation failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("expected allowed=%v, got %v (violations: %+v)",
					tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestProtectedExtensionsPolicy(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation: "remove",
		Extension: "mise",
	})
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected removal of protected extension to be blocked")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "protected-extensions" {
			found = true
			if v.Severity != SeverityCritical {
				t.Errorf("expected critical severity, got %s", v.Severity)
			}
			if !strings.Contains(v.Message, "mise") {
				t.Errorf("unexpected message: %s", v.Message)
			}
		}
	}
	if !found {
		t.Errorf("expected protected-extensions violation, got %+v", result.Violations)
	}

	// Installing the same extension is fine
	result, err = eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation: "install",
		Extension: "mise",
	})
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("install of protected extension should be allowed: %+v", result.Violations)
	}
}

func TestPinnedVersionsPolicy(t *testing.T) {
	eng := newTestEngine(t)

	// Upgrade past a pin is blocked
	result, err := eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation:     "upgrade",
		Extension:     "kubectl",
		FromVersion:   "1.29.0",
		ToVersion:     "1.31.0",
		PinnedVersion: "1.29.0",
	})
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected pinned upgrade to be blocked")
	}

	// Upgrade to the pinned version itself is allowed
	result, err = eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation:     "upgrade",
		Extension:     "kubectl",
		FromVersion:   "1.28.0",
		ToVersion:     "1.29.0",
		PinnedVersion: "1.29.0",
	})
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("upgrade to pinned version should be allowed: %+v", result.Violations)
	}

	// No pin, no restriction
	result, err = eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation:   "upgrade",
		Extension:   "kubectl",
		FromVersion: "1.29.0",
		ToVersion:   "1.31.0",
	})
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("unpinned upgrade should be allowed: %+v", result.Violations)
	}
}

func TestProductionSafetyWarnsWithoutBlocking(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation: "install",
		Extension: "node",
		Version:   "21.0.0-beta.1",
		Context:   &Context{Environment: "production"},
	})
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("warning-severity findings must not block: %+v", result.Violations)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "pre-release") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected pre-release warning, got %v", result.Warnings)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.DisablePolicy("protected-extensions"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	result, err := eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation: "remove",
		Extension: "mise",
	})
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still evaluated: %+v", result.Violations)
	}

	if err := eng.EnablePolicy("protected-extensions"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	result, _ = eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation: "remove",
		Extension: "mise",
	})
	if result.Allowed {
		t.Error("re-enabled policy not evaluated")
	}

	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestGetPolicy(t *testing.T) {
	eng := newTestEngine(t)

	p, err := eng.GetPolicy("allowed-sources")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Severity != SeverityError {
		t.Errorf("unexpected severity: %s", p.Severity)
	}

	if _, err := eng.GetPolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestFileLoadedPoliciesKeepBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	rego := `package crucible.policies.nonpm

import rego.v1

deny contains violation if {
	input.method == "npm"
	violation := {
		"message": sprintf("npm installs are not allowed for %s", [input.extension]),
		"severity": "error",
		"extension": input.extension,
	}
}`
	if err := os.WriteFile(filepath.Join(dir, "no-npm.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	if _, err := eng.GetPolicy("allowed-sources"); err != nil {
		t.Errorf("built-in lost after load: %v", err)
	}

	result, err := eng.EvaluateOperation(context.Background(), &OperationInput{
		Operation: "install",
		Extension: "prettier",
		Method:    "npm",
	})
	if err != nil {
		t.Fatalf("EvaluateOperation failed: %v", err)
	}
	if result.Allowed {
		t.Errorf("custom policy not enforced: %+v", result.Violations)
	}
}

func TestBrokenPolicyFailsAtLoad(t *testing.T) {
	eng := newTestEngine(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("this is not rego"), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Fatal("expected compile error for malformed policy")
	}
}
