package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/crucible-dev/crucible/pkg/lifecycle"
	"github.com/crucible-dev/crucible/pkg/manifest"
)

// OperationError reports a failed lifecycle operation along with the
// retry count and operation log path the ledger records on failure
// events.
type OperationError struct {
	Op      string
	Name    string
	Err     error
	Retries uint32
	Log     string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// RetryCount returns how many retries were attempted before failing.
func (e *OperationError) RetryCount() uint32 { return e.Retries }

// LogFile returns the path of the operation log, if one was written.
func (e *OperationError) LogFile() string { return e.Log }

// Executor performs install, upgrade, and remove operations on one
// target host by running the shell commands an extension manifest
// declares. It implements lifecycle.Executor against any Runner, so
// the same code drives the local machine and SSH-reachable hosts.
type Executor struct {
	runner    Runner
	manifests map[string]*manifest.Extension
	log       zerolog.Logger
	logDir    string
	retries   int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger.
func WithExecutorLogger(log zerolog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.log = log.With().Str("component", "executor").Logger()
	}
}

// WithLogDir sets the directory operation logs are written to.
func WithLogDir(dir string) ExecutorOption {
	return func(e *Executor) {
		e.logDir = dir
	}
}

// WithRetries sets how many times a failed command is retried before
// the operation is reported as failed. Zero means a single attempt.
func WithRetries(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// NewExecutor returns an Executor that runs manifest-declared commands
// through runner.
func NewExecutor(runner Runner, manifests map[string]*manifest.Extension, opts ...ExecutorOption) *Executor {
	e := &Executor{
		runner:    runner,
		manifests: manifests,
		log:       zerolog.Nop(),
		logDir:    filepath.Join(os.TempDir(), "crucible", "logs"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Install runs the install plan from the extension's manifest.
func (e *Executor) Install(ctx context.Context, req lifecycle.InstallRequest) (*lifecycle.InstallResult, error) {
	ext, err := e.lookup(req.Name)
	if err != nil {
		return nil, err
	}

	version := e.resolveVersion(ext, req.Version)
	p, err := installPlan(ext, version)
	if err != nil {
		return nil, err
	}

	if ext.Requirements != nil && ext.Requirements.InstallTimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ext.Requirements.InstallTimeoutSecs)*time.Second)
		defer cancel()
	}

	logPath, retries, err := e.runPlan(ctx, "install", req.Name, p)
	if err != nil {
		return nil, &OperationError{Op: "install", Name: req.Name, Err: err, Retries: retries, Log: logPath}
	}

	e.log.Info().
		Str("extension", req.Name).
		Str("version", version).
		Strs("components", p.components).
		Msg("extension installed")

	return &lifecycle.InstallResult{
		Version:    version,
		Components: p.components,
		LogFile:    logPath,
	}, nil
}

// Upgrade runs the upgrade plan from the extension's manifest.
func (e *Executor) Upgrade(ctx context.Context, req lifecycle.UpgradeRequest) (*lifecycle.UpgradeResult, error) {
	ext, err := e.lookup(req.Name)
	if err != nil {
		return nil, err
	}

	toVersion := e.resolveVersion(ext, req.ToVersion)
	p, err := upgradePlan(ext, toVersion)
	if err != nil {
		return nil, err
	}

	if ext.Requirements != nil && ext.Requirements.InstallTimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ext.Requirements.InstallTimeoutSecs)*time.Second)
		defer cancel()
	}

	logPath, retries, err := e.runPlan(ctx, "upgrade", req.Name, p)
	if err != nil {
		return nil, &OperationError{Op: "upgrade", Name: req.Name, Err: err, Retries: retries, Log: logPath}
	}

	e.log.Info().
		Str("extension", req.Name).
		Str("from", req.FromVersion).
		Str("to", toVersion).
		Msg("extension upgraded")

	return &lifecycle.UpgradeResult{Version: toVersion, LogFile: logPath}, nil
}

// Remove runs the removal plan from the extension's manifest.
func (e *Executor) Remove(ctx context.Context, req lifecycle.RemoveRequest) (*lifecycle.RemoveResult, error) {
	ext, err := e.lookup(req.Name)
	if err != nil {
		return nil, err
	}

	p, err := removePlan(ext)
	if err != nil {
		return nil, err
	}

	logPath, retries, err := e.runPlan(ctx, "remove", req.Name, p)
	if err != nil {
		return nil, &OperationError{Op: "remove", Name: req.Name, Err: err, Retries: retries, Log: logPath}
	}

	e.log.Info().Str("extension", req.Name).Msg("extension removed")
	return &lifecycle.RemoveResult{LogFile: logPath}, nil
}

func (e *Executor) lookup(name string) (*manifest.Extension, error) {
	ext, ok := e.manifests[name]
	if !ok {
		return nil, fmt.Errorf("no manifest for extension %q", name)
	}
	return ext, nil
}

// resolveVersion maps the "latest" placeholder (and an empty request)
// to the version the manifest currently declares.
func (e *Executor) resolveVersion(ext *manifest.Extension, requested string) string {
	if requested == "" || requested == "latest" {
		return ext.Metadata.Version
	}
	return requested
}

// runPlan executes every step of p, appending output to a per-
// operation log file. It returns the log path, the number of retries
// consumed, and the first unrecoverable error.
func (e *Executor) runPlan(ctx context.Context, op, name string, p *plan) (string, uint32, error) {
	logFile, logPath := e.openLog(op, name)
	if logFile != nil {
		defer logFile.Close()
	}

	var retries uint32
	for _, cmd := range p.commands {
		output, used, err := e.runWithRetry(ctx, cmd)
		retries += used
		e.appendLog(logFile, cmd, output)
		if err != nil {
			return logPath, retries, err
		}
	}

	if p.script != nil {
		output, used, err := e.runScript(ctx, name, p.script)
		retries += used
		e.appendLog(logFile, "script "+p.script.localPath, output)
		if err != nil {
			return logPath, retries, err
		}
	}

	return logPath, retries, nil
}

// runWithRetry attempts cmd up to retries+1 times, returning the last
// output and how many retries were consumed.
func (e *Executor) runWithRetry(ctx context.Context, cmd string) (string, uint32, error) {
	var (
		output string
		err    error
		used   uint32
	)
	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			used++
			e.log.Warn().Str("command", cmd).Int("attempt", attempt+1).Msg("retrying failed command")
		}
		output, err = e.runner.Run(ctx, cmd)
		if err == nil {
			return output, used, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return output, used, err
}

// runScript delivers the script to the target host, executes it with
// its declared arguments, and cleans it up afterwards.
func (e *Executor) runScript(ctx context.Context, name string, step *scriptStep) (string, uint32, error) {
	f, err := os.Open(step.localPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open install script: %w", err)
	}
	defer f.Close()

	remotePath := path.Join("/tmp", fmt.Sprintf("crucible-%s-%d.sh", name, time.Now().UnixNano()))
	if err := e.runner.Push(ctx, f, remotePath, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to deliver install script: %w", err)
	}

	scriptCtx := ctx
	if step.timeout > 0 {
		var cancel context.CancelFunc
		scriptCtx, cancel = context.WithTimeout(ctx, step.timeout)
		defer cancel()
	}

	cmd := remotePath
	for _, arg := range step.args {
		cmd += " " + arg
	}

	output, used, err := e.runWithRetry(scriptCtx, cmd)

	if _, cleanupErr := e.runner.Run(ctx, "rm -f "+remotePath); cleanupErr != nil {
		e.log.Warn().Err(cleanupErr).Str("path", remotePath).Msg("failed to clean up install script")
	}

	return output, used, err
}

// openLog creates the per-operation log file. Logging is best effort;
// a nil file just means output is not captured.
func (e *Executor) openLog(op, name string) (*os.File, string) {
	if err := os.MkdirAll(e.logDir, 0o755); err != nil {
		e.log.Warn().Err(err).Str("dir", e.logDir).Msg("failed to create log directory")
		return nil, ""
	}
	logPath := filepath.Join(e.logDir, fmt.Sprintf("%s-%s-%d.log", name, op, time.Now().Unix()))
	f, err := os.Create(logPath)
	if err != nil {
		e.log.Warn().Err(err).Str("path", logPath).Msg("failed to create operation log")
		return nil, ""
	}
	return f, logPath
}

func (e *Executor) appendLog(f *os.File, cmd, output string) {
	if f == nil {
		return
	}
	fmt.Fprintf(f, "$ %s\n", cmd)
	if output != "" {
		fmt.Fprintln(f, output)
	}
}
