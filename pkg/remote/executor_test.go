package remote

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crucible-dev/crucible/pkg/lifecycle"
	"github.com/crucible-dev/crucible/pkg/manifest"
)

// fakeRunner records every command and push without touching a real
// host. Commands containing failOn fail with failErr.
type fakeRunner struct {
	cmds    []string
	pushes  map[string]string
	failOn  string
	failErr error
}

func (r *fakeRunner) Run(ctx context.Context, cmd string) (string, error) {
	r.cmds = append(r.cmds, cmd)
	if r.failOn != "" && strings.Contains(cmd, r.failOn) {
		return "boom", r.failErr
	}
	return "ok", nil
}

func (r *fakeRunner) Push(ctx context.Context, src io.Reader, path string, mode os.FileMode) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	if r.pushes == nil {
		r.pushes = make(map[string]string)
	}
	r.pushes[path] = string(data)
	return nil
}

func (r *fakeRunner) Close() error { return nil }

func miseExtension(name, version string) *manifest.Extension {
	return &manifest.Extension{
		Metadata: manifest.Metadata{
			Name:        name,
			Version:     version,
			Description: name + " toolchain",
			Category:    manifest.CategoryLanguages,
		},
		Install: manifest.InstallConfig{
			Method: manifest.MethodMise,
			Mise:   &manifest.MiseInstall{ReshimAfterInstall: true},
		},
	}
}

func TestInstallRunsMiseCommands(t *testing.T) {
	runner := &fakeRunner{}
	exec := NewExecutor(runner, map[string]*manifest.Extension{
		"python": miseExtension("python", "3.12.1"),
	}, WithLogDir(t.TempDir()))

	result, err := exec.Install(context.Background(), lifecycle.InstallRequest{
		Name:    "python",
		Version: "latest",
	})
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if result.Version != "3.12.1" {
		t.Errorf("version = %q, want manifest version 3.12.1", result.Version)
	}
	if len(runner.cmds) != 2 {
		t.Fatalf("got %d commands, want 2: %v", len(runner.cmds), runner.cmds)
	}
	if runner.cmds[0] != "mise use --global python@3.12.1" {
		t.Errorf("unexpected install command: %q", runner.cmds[0])
	}
	if runner.cmds[1] != "mise reshim" {
		t.Errorf("unexpected reshim command: %q", runner.cmds[1])
	}
	if len(result.Components) != 1 || result.Components[0] != "python" {
		t.Errorf("components = %v, want [python]", result.Components)
	}
	if result.LogFile == "" {
		t.Error("expected a log file path")
	}
}

func TestInstallAptRunsUpdateFirst(t *testing.T) {
	runner := &fakeRunner{}
	exec := NewExecutor(runner, map[string]*manifest.Extension{
		"build-tools": {
			Metadata: manifest.Metadata{
				Name:        "build-tools",
				Version:     "1.0.0",
				Description: "compiler toolchain",
				Category:    manifest.CategoryDevops,
			},
			Install: manifest.InstallConfig{
				Method: manifest.MethodApt,
				Apt: &manifest.AptInstall{
					Packages:    []string{"build-essential", "pkg-config"},
					UpdateFirst: true,
				},
			},
		},
	}, WithLogDir(t.TempDir()))

	result, err := exec.Install(context.Background(), lifecycle.InstallRequest{Name: "build-tools"})
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	want := []string{
		"apt-get update",
		"apt-get install -y build-essential pkg-config",
	}
	if len(runner.cmds) != len(want) {
		t.Fatalf("got commands %v, want %v", runner.cmds, want)
	}
	for i := range want {
		if runner.cmds[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, runner.cmds[i], want[i])
		}
	}
	if len(result.Components) != 2 {
		t.Errorf("components = %v, want the two apt packages", result.Components)
	}
}

func TestInstallScriptIsPushedAndCleanedUp(t *testing.T) {
	scriptPath := filepath.Join(t.TempDir(), "install.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\necho installing\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	runner := &fakeRunner{}
	exec := NewExecutor(runner, map[string]*manifest.Extension{
		"custom-tool": {
			Metadata: manifest.Metadata{
				Name:        "custom-tool",
				Version:     "2.0.0",
				Description: "scripted tool",
				Category:    manifest.CategoryProductivity,
			},
			Install: manifest.InstallConfig{
				Method: manifest.MethodScript,
				Script: &manifest.ScriptInstall{
					Path: scriptPath,
					Args: []string{"--quiet"},
				},
			},
		},
	}, WithLogDir(t.TempDir()))

	if _, err := exec.Install(context.Background(), lifecycle.InstallRequest{Name: "custom-tool"}); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	if len(runner.pushes) != 1 {
		t.Fatalf("got %d pushed files, want 1", len(runner.pushes))
	}
	var pushed string
	for p, content := range runner.pushes {
		pushed = p
		if !strings.Contains(content, "echo installing") {
			t.Errorf("pushed content = %q, want the script body", content)
		}
	}
	if !strings.HasPrefix(pushed, "/tmp/crucible-custom-tool-") {
		t.Errorf("pushed path = %q, want a /tmp/crucible-custom-tool-* path", pushed)
	}

	if len(runner.cmds) != 2 {
		t.Fatalf("got commands %v, want run + cleanup", runner.cmds)
	}
	if runner.cmds[0] != pushed+" --quiet" {
		t.Errorf("run command = %q, want %q", runner.cmds[0], pushed+" --quiet")
	}
	if runner.cmds[1] != "rm -f "+pushed {
		t.Errorf("cleanup command = %q, want rm of the pushed script", runner.cmds[1])
	}
}

func TestInstallFailureReportsRetriesAndLog(t *testing.T) {
	runner := &fakeRunner{failOn: "mise use", failErr: errors.New("exit status 1")}
	logDir := t.TempDir()
	exec := NewExecutor(runner, map[string]*manifest.Extension{
		"python": miseExtension("python", "3.12.1"),
	}, WithLogDir(logDir), WithRetries(2))

	_, err := exec.Install(context.Background(), lifecycle.InstallRequest{Name: "python"})
	if err == nil {
		t.Fatal("expected install to fail")
	}

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("error type = %T, want *OperationError", err)
	}
	if got := opErr.RetryCount(); got != 2 {
		t.Errorf("RetryCount() = %d, want 2", got)
	}
	if opErr.LogFile() == "" {
		t.Fatal("expected a log file on failure")
	}
	data, readErr := os.ReadFile(opErr.LogFile())
	if readErr != nil {
		t.Fatalf("failed to read operation log: %v", readErr)
	}
	if !strings.Contains(string(data), "mise use --global python@3.12.1") {
		t.Errorf("log %q does not record the failing command", string(data))
	}

	var retrier lifecycle.RetryReporter
	if !errors.As(err, &retrier) {
		t.Error("error does not implement lifecycle.RetryReporter")
	}
	var logger lifecycle.LogReporter
	if !errors.As(err, &logger) {
		t.Error("error does not implement lifecycle.LogReporter")
	}
}

func TestUpgradeReinstallRemovesThenInstalls(t *testing.T) {
	ext := miseExtension("node", "20.0.0")
	ext.Upgrade = &manifest.UpgradeConfig{Strategy: manifest.UpgradeReinstall}

	runner := &fakeRunner{}
	exec := NewExecutor(runner, map[string]*manifest.Extension{"node": ext}, WithLogDir(t.TempDir()))

	result, err := exec.Upgrade(context.Background(), lifecycle.UpgradeRequest{
		Name:        "node",
		FromVersion: "18.0.0",
		ToVersion:   "20.0.0",
	})
	if err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if result.Version != "20.0.0" {
		t.Errorf("version = %q, want 20.0.0", result.Version)
	}
	if len(runner.cmds) < 2 {
		t.Fatalf("got commands %v, want uninstall then install", runner.cmds)
	}
	if runner.cmds[0] != "mise uninstall node" {
		t.Errorf("command[0] = %q, want the uninstall step first", runner.cmds[0])
	}
	if runner.cmds[1] != "mise use --global node@20.0.0" {
		t.Errorf("command[1] = %q, want the reinstall step", runner.cmds[1])
	}
}

func TestUpgradeInPlaceUsesMethodUpgrade(t *testing.T) {
	ext := miseExtension("node", "20.0.0")
	ext.Install.Mise.ReshimAfterInstall = false

	runner := &fakeRunner{}
	exec := NewExecutor(runner, map[string]*manifest.Extension{"node": ext}, WithLogDir(t.TempDir()))

	if _, err := exec.Upgrade(context.Background(), lifecycle.UpgradeRequest{
		Name:        "node",
		FromVersion: "18.0.0",
		ToVersion:   "latest",
	}); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}
	if len(runner.cmds) != 1 || runner.cmds[0] != "mise use --global node@20.0.0" {
		t.Errorf("commands = %v, want a single in-place upgrade", runner.cmds)
	}
}

func TestRemoveDeletesConfiguredPaths(t *testing.T) {
	ext := miseExtension("python", "3.12.1")
	ext.Remove = &manifest.RemoveConfig{Paths: []string{"~/.cache/python"}}

	runner := &fakeRunner{}
	exec := NewExecutor(runner, map[string]*manifest.Extension{"python": ext}, WithLogDir(t.TempDir()))

	if _, err := exec.Remove(context.Background(), lifecycle.RemoveRequest{Name: "python", Version: "3.12.1"}); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	want := []string{
		"mise uninstall python",
		"rm -rf ~/.cache/python",
	}
	if len(runner.cmds) != len(want) {
		t.Fatalf("got commands %v, want %v", runner.cmds, want)
	}
	for i := range want {
		if runner.cmds[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, runner.cmds[i], want[i])
		}
	}
}

func TestInstallUnknownExtension(t *testing.T) {
	exec := NewExecutor(&fakeRunner{}, nil, WithLogDir(t.TempDir()))
	_, err := exec.Install(context.Background(), lifecycle.InstallRequest{Name: "ghost"})
	if err == nil {
		t.Fatal("expected an error for an unknown extension")
	}
	if !strings.Contains(err.Error(), "no manifest") {
		t.Errorf("error = %v, want a no-manifest error", err)
	}
}

func TestHybridInstallRunsAllSections(t *testing.T) {
	runner := &fakeRunner{}
	exec := NewExecutor(runner, map[string]*manifest.Extension{
		"data-stack": {
			Metadata: manifest.Metadata{
				Name:        "data-stack",
				Version:     "1.4.0",
				Description: "apt plus npm stack",
				Category:    manifest.CategoryDevops,
			},
			Install: manifest.InstallConfig{
				Method: manifest.MethodHybrid,
				Apt:    &manifest.AptInstall{Packages: []string{"jq"}},
				Npm:    &manifest.NpmInstall{Package: "json-server"},
			},
		},
	}, WithLogDir(t.TempDir()))

	result, err := exec.Install(context.Background(), lifecycle.InstallRequest{Name: "data-stack"})
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	want := []string{
		"apt-get install -y jq",
		"npm install -g json-server@1.4.0",
	}
	if len(runner.cmds) != len(want) {
		t.Fatalf("got commands %v, want %v", runner.cmds, want)
	}
	for i := range want {
		if runner.cmds[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, runner.cmds[i], want[i])
		}
	}
	if len(result.Components) != 2 {
		t.Errorf("components = %v, want jq and json-server", result.Components)
	}
}

func TestLocalRunnerRunsShellCommands(t *testing.T) {
	runner := NewLocalRunner()
	defer runner.Close()

	out, err := runner.Run(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out != "hello" {
		t.Errorf("output = %q, want hello", out)
	}

	if _, err := runner.Run(context.Background(), "exit 3"); err == nil {
		t.Error("expected an error for a non-zero exit")
	}
}

func TestLocalRunnerPushWritesFile(t *testing.T) {
	runner := NewLocalRunner()
	target := filepath.Join(t.TempDir(), "nested", "script.sh")

	if err := runner.Push(context.Background(), strings.NewReader("#!/bin/sh\n"), target, 0o755); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("pushed file missing: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}
}
