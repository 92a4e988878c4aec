package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crucible-dev/crucible/pkg/ledger"
	"github.com/crucible-dev/crucible/pkg/lifecycle"
	"github.com/crucible-dev/crucible/pkg/manifest"
	"github.com/crucible-dev/crucible/pkg/policy"
	"github.com/crucible-dev/crucible/pkg/registry"
	"github.com/crucible-dev/crucible/pkg/remote"
	"github.com/crucible-dev/crucible/pkg/telemetry"
)

var (
	telOnce sync.Once
	tel     *telemetry.Telemetry
	telErr  error
)

// setupTelemetry builds the process-wide telemetry stack from the
// global flags: Prometheus metrics behind --metrics-listen, a tracer
// behind --trace, and the in-process progress bus. Built once; every
// command that touches the ledger or the orchestrator shares it.
func setupTelemetry() (*telemetry.Telemetry, error) {
	telOnce.Do(func() {
		cfg := telemetry.DefaultConfig()
		if buildVersion != "" {
			cfg.ServiceVersion = buildVersion
		}
		if metricsListen != "" {
			cfg.Metrics.Enabled = true
			cfg.Metrics.ListenAddress = metricsListen
		}
		if traceExporter != "" && traceExporter != "none" {
			cfg.Tracing.Enabled = true
			cfg.Tracing.Exporter = traceExporter
			cfg.Tracing.Endpoint = traceEndpoint
		}

		tel, telErr = telemetry.NewTelemetry(cfg)
		if telErr != nil {
			return
		}
		if cfg.Metrics.Enabled {
			telErr = tel.StartMetricsServer()
		}
	})
	return tel, telErr
}

// currentTelemetry returns the telemetry stack if a command built one.
func currentTelemetry() *telemetry.Telemetry {
	return tel
}

// crucibleDir resolves the per-user data directory.
func crucibleDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".crucible"), nil
}

// openLedger opens the status ledger honoring the global flags.
func openLedger() (*ledger.Ledger, error) {
	path := ledgerPath
	if path == "" {
		var err error
		path, err = ledger.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	t, err := setupTelemetry()
	if err != nil {
		return nil, err
	}

	opts := []ledger.Option{
		ledger.WithLogger(log.Logger),
		ledger.WithMetrics(t.Metrics),
	}
	if lockTimeout > 0 {
		opts = append(opts, ledger.WithLockTimeout(lockTimeout))
	}
	return ledger.Open(path, opts...), nil
}

// loadManifests parses every manifest in the manifest directory. A
// missing directory yields an empty map, not an error; commands that
// need a specific manifest report that themselves.
func loadManifests(ctx context.Context) (map[string]*manifest.Extension, error) {
	dir := manifestDir
	if dir == "" {
		base, err := crucibleDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "manifests")
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return map[string]*manifest.Extension{}, nil
	}

	loader := manifest.NewLoader(manifest.WithLoaderLogger(log.Logger))
	return loader.LoadDir(ctx, dir)
}

// openCatalog opens the extension catalog database, running pending
// migrations.
func openCatalog(ctx context.Context) (*registry.SQLiteCatalog, error) {
	base, err := crucibleDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	catalog, err := registry.NewSQLiteCatalog(registry.Config{
		Path: filepath.Join(base, "catalog.db"),
	})
	if err != nil {
		return nil, err
	}
	if err := catalog.Init(ctx); err != nil {
		return nil, err
	}
	if err := catalog.Migrate(ctx); err != nil {
		_ = catalog.Close()
		return nil, err
	}
	return catalog, nil
}

// newPolicyEngine builds the policy engine with built-in policies plus
// any user-supplied policy paths.
func newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, err
	}
	if len(policyPaths) > 0 {
		if err := engine.LoadPolicies(ctx, policyPaths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// gateOperation evaluates policies for one lifecycle operation. Warnings
// are printed and allowed through; blocking violations abort.
func gateOperation(ctx context.Context, engine *policy.Engine, input *policy.OperationInput) error {
	result, err := engine.EvaluateOperation(ctx, input)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, warning := range result.Warnings {
		fmt.Printf("Warning: %s\n", warning)
	}

	if !result.Allowed {
		for _, v := range result.Violations {
			fmt.Printf("Blocked by policy %s: %s\n", v.Policy, v.Message)
			if v.Remediation != "" {
				fmt.Printf("  remediation: %s\n", v.Remediation)
			}
		}
		return fmt.Errorf("operation %s %s denied by policy", input.Operation, input.Extension)
	}
	return nil
}

// operationInput assembles the policy input for one extension,
// enriching it with the ledger state and any catalog pin.
func operationInput(ctx context.Context, led *ledger.Ledger, catalog *registry.SQLiteCatalog, ext *manifest.Extension, operation, version, source string) *policy.OperationInput {
	input := &policy.OperationInput{
		Operation: operation,
		Extension: ext.Metadata.Name,
		Version:   version,
		Source:    source,
		Method:    string(ext.Install.Method),
	}

	if statuses, err := led.AllLatestStatus(); err == nil {
		if status, ok := statuses[ext.Metadata.Name]; ok {
			input.CurrentState = string(status.CurrentState)
		}
	}

	if catalog != nil {
		if pin, err := catalog.GetPin(ctx, ext.Metadata.Name); err == nil && pin != nil {
			input.PinnedVersion = pin.Version
		}
	}
	return input
}

// hostFlags selects the target host for lifecycle operations. With no
// host the local machine is the target.
type hostFlags struct {
	host     string
	user     string
	keyPath  string
	password string
}

func (f *hostFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "run against a remote host over SSH instead of locally")
	cmd.Flags().StringVar(&f.user, "ssh-user", "", "SSH username for --host")
	cmd.Flags().StringVar(&f.keyPath, "ssh-key", "", "SSH private key for --host")
	cmd.Flags().StringVar(&f.password, "ssh-password", "", "SSH password for --host")
}

// runner dials the configured host, or returns a local runner when no
// host was requested.
func (f *hostFlags) runner(ctx context.Context) (remote.Runner, error) {
	if f.host == "" {
		return remote.NewLocalRunner(), nil
	}

	cfg := remote.DefaultConfig(f.host, f.user)
	if f.keyPath != "" {
		cfg.PrivateKeyPath = f.keyPath
	}
	if f.password != "" {
		cfg.AuthMethod = remote.AuthMethodPassword
		cfg.Password = f.password
	}
	return remote.Dial(ctx, cfg, log.Logger)
}

// newOrchestrator wires a ledger-observed orchestrator around a
// manifest-driven executor on the given runner.
func newOrchestrator(led *ledger.Ledger, runner remote.Runner, manifests map[string]*manifest.Extension, retries int) *lifecycle.Orchestrator {
	exec := remote.NewExecutor(runner, manifests,
		remote.WithExecutorLogger(log.Logger),
		remote.WithRetries(retries))

	opts := []lifecycle.Option{lifecycle.WithLogger(log.Logger)}
	// openLedger runs first in every command path, so the stack is
	// already built; a construction failure was reported there.
	if t, err := setupTelemetry(); err == nil {
		opts = append(opts,
			lifecycle.WithMetrics(t.Metrics),
			lifecycle.WithTracer(t.Tracer),
			lifecycle.WithProgress(t.Progress))
	}
	return lifecycle.NewOrchestrator(led, exec, opts...)
}
