package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crucible-dev/crucible/pkg/events"
	ledgerpkg "github.com/crucible-dev/crucible/pkg/ledger"
)

// runRoot executes the CLI with the given arguments against a fresh
// root command, capturing stdout. Global flag state is reset afterwards
// so tests stay independent.
func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		ledgerPath = ""
		manifestDir = ""
		policyPaths = nil
		lockTimeout = 0
		verbose = false
		jsonOutput = false
	})

	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "none")
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const scriptManifestTemplate = `
metadata:
  name: demo-tool
  version: "1.2.3"
  description: Tool installed by a local script
  category: devops
install:
  method: script
  script:
    path: %s
`

func writeScriptManifest(t *testing.T) (manifestsDir string) {
	t.Helper()
	dir := t.TempDir()

	script := filepath.Join(dir, "install.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	manifestsDir = filepath.Join(dir, "manifests")
	if err := os.MkdirAll(manifestsDir, 0o755); err != nil {
		t.Fatalf("mkdir manifests: %v", err)
	}
	body := fmt.Sprintf(scriptManifestTemplate, script)
	if err := os.WriteFile(filepath.Join(manifestsDir, "demo-tool.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return manifestsDir
}

func TestInstallStartEventCarriesManifestVersion(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	manifests := writeScriptManifest(t)
	ledgerFile := filepath.Join(t.TempDir(), "ledger.jsonl")

	// No --version: the manifest's version must be resolved before the
	// start event is written, so an interrupted install still shows
	// which version was in flight.
	if _, err := runRoot(t, "install", "demo-tool",
		"--ledger", ledgerFile,
		"--manifest-dir", manifests,
	); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	led := ledgerpkg.Open(ledgerFile, ledgerpkg.WithoutAutoCompact())
	history, err := led.ExtensionHistory("demo-tool", 0)
	if err != nil {
		t.Fatalf("ExtensionHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d events, want started + completed", len(history))
	}

	// History is newest first.
	started, ok := history[1].Event.(*events.InstallStarted)
	if !ok {
		t.Fatalf("oldest event is %T, want *events.InstallStarted", history[1].Event)
	}
	if started.Version != "1.2.3" {
		t.Errorf("start event version = %q, want manifest version 1.2.3", started.Version)
	}

	completed, ok := history[0].Event.(*events.InstallCompleted)
	if !ok {
		t.Fatalf("newest event is %T, want *events.InstallCompleted", history[0].Event)
	}
	if completed.Version != "1.2.3" {
		t.Errorf("completion version = %q, want 1.2.3", completed.Version)
	}
}

func TestLedgerTailHonorsLinesFlag(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	ledgerFile := filepath.Join(t.TempDir(), "ledger.jsonl")
	led := ledgerpkg.Open(ledgerFile, ledgerpkg.WithoutAutoCompact())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("ext-%d", i)
		env := events.NewEnvelope(name, nil, events.StateInstalling, &events.InstallStarted{
			ExtensionName: name,
			Version:       "1.0.0",
		})
		env.Timestamp = time.Now().Add(time.Duration(i) * time.Second)
		if err := led.Append(ctx, env); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	out, err := runRoot(t, "ledger", "tail", "--lines", "2", "--ledger", ledgerFile)
	if err != nil {
		t.Fatalf("tail failed: %v", err)
	}

	printed := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(printed) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(printed), out)
	}
	if !strings.Contains(printed[0], "ext-3") || !strings.Contains(printed[1], "ext-4") {
		t.Errorf("tail did not print the two most recent events:\n%s", out)
	}
}

func TestLedgerTailRejectsNonPositiveLines(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := runRoot(t, "ledger", "tail", "--lines", "0",
		"--ledger", filepath.Join(t.TempDir(), "ledger.jsonl"))
	if err == nil {
		t.Fatal("expected an error for --lines 0")
	}
	if !IsBadInput(err) {
		t.Errorf("error not classified as bad input: %v", err)
	}
}

func TestParseTimestampClassifiesBadInput(t *testing.T) {
	if _, err := parseTimestamp("2025-01-02T15:04:05Z"); err != nil {
		t.Fatalf("RFC3339 timestamp rejected: %v", err)
	}
	if _, err := parseTimestamp("2025-01-02"); err != nil {
		t.Fatalf("date-only timestamp rejected: %v", err)
	}

	_, err := parseTimestamp("yesterdayish")
	if err == nil {
		t.Fatal("expected an error for a malformed timestamp")
	}
	if !IsBadInput(err) {
		t.Errorf("malformed timestamp not classified as bad input: %v", err)
	}
}
