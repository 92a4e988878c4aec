package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/crucible-dev/crucible/pkg/manifest"
)

func pythonManifest() *manifest.Extension {
	return &manifest.Extension{
		Metadata: manifest.Metadata{
			Name:        "python",
			Version:     "1.0.0",
			Description: "Python toolchain",
			Category:    manifest.CategoryLanguages,
		},
		Install: manifest.InstallConfig{
			Method: manifest.MethodMise,
			Mise:   &manifest.MiseInstall{},
		},
		Validate: manifest.ValidateConfig{
			Commands: []manifest.CommandCheck{
				{Name: "python", VersionFlag: "--version", ExpectedPattern: `Python \d+\.\d+\.\d+`},
			},
			Mise: &manifest.MiseCheck{Tools: []string{"python"}},
		},
	}
}

// scriptedRunner returns canned output per command name.
type scriptedRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (s *scriptedRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, strings.Join(append([]string{name}, args...), " "))
	if err, ok := s.errs[name]; ok {
		return nil, err
	}
	return []byte(s.outputs[name]), nil
}

func newTestVerifier(runner *scriptedRunner) *CommandVerifier {
	manifests := map[string]*manifest.Extension{"python": pythonManifest()}
	return NewCommandVerifier(manifests, WithCommandRunner(runner.run))
}

func TestVerifyPassesWhenChecksSucceed(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{
		"python": "Python 3.12.1\n",
		"mise":   "python  3.12.1  ~/.config/mise\nnode    20.0.0  ~/.config/mise\n",
	}}
	v := newTestVerifier(runner)

	result, err := v.Verify(context.Background(), "python")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Passed {
		t.Fatalf("expected pass, got failure: %s", result.Detail)
	}
	if result.Version != "3.12.1" {
		t.Errorf("expected version 3.12.1, got %q", result.Version)
	}
	if result.ValidationType != "command" {
		t.Errorf("expected validation type command, got %q", result.ValidationType)
	}
	if len(runner.calls) != 2 {
		t.Errorf("expected 2 commands run, got %v", runner.calls)
	}
	if runner.calls[0] != "python --version" {
		t.Errorf("unexpected first call: %s", runner.calls[0])
	}
}

func TestVerifyFailsOnCommandError(t *testing.T) {
	runner := &scriptedRunner{errs: map[string]error{
		"python": errors.New("exec: \"python\": executable file not found in $PATH"),
	}}
	v := newTestVerifier(runner)

	result, err := v.Verify(context.Background(), "python")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Passed {
		t.Fatal("expected failure when the command cannot run")
	}
	if !strings.Contains(result.Detail, "command python failed") {
		t.Errorf("unexpected detail: %s", result.Detail)
	}
}

func TestVerifyFailsOnPatternMismatch(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{
		"python": "zsh: command not found\n",
	}}
	v := newTestVerifier(runner)

	result, err := v.Verify(context.Background(), "python")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Passed {
		t.Fatal("expected failure on pattern mismatch")
	}
	if !strings.Contains(result.Detail, "did not match") {
		t.Errorf("unexpected detail: %s", result.Detail)
	}
}

func TestVerifyFailsOnMissingMiseTool(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string]string{
		"python": "Python 3.12.1\n",
		"mise":   "node  20.0.0  ~/.config/mise\n",
	}}
	v := newTestVerifier(runner)

	result, err := v.Verify(context.Background(), "python")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Passed {
		t.Fatal("expected failure when a mise tool is absent")
	}
	if !strings.Contains(result.Detail, "mise tools not installed: python") {
		t.Errorf("unexpected detail: %s", result.Detail)
	}
}

func TestVerifyUnknownExtension(t *testing.T) {
	v := NewCommandVerifier(map[string]*manifest.Extension{})
	_, err := v.Verify(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error for unknown extension")
	}
	if !strings.Contains(err.Error(), "no manifest") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestVerifyNoDeclaredChecksIsManual(t *testing.T) {
	ext := pythonManifest()
	ext.Validate = manifest.ValidateConfig{}
	v := NewCommandVerifier(map[string]*manifest.Extension{"python": ext})

	result, err := v.Verify(context.Background(), "python")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Passed {
		t.Error("expected pass when nothing is declared")
	}
	if result.ValidationType != "manual" {
		t.Errorf("expected validation type manual, got %q", result.ValidationType)
	}
}
