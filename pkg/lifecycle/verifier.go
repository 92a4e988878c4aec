package lifecycle

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/crucible-dev/crucible/pkg/manifest"
)

const defaultCheckTimeout = 30 * time.Second

// versionPattern extracts a semantic-looking version from command output.
var versionPattern = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?`)

// CommandRunner executes a command and returns its combined output. The
// default runner shells out; tests substitute their own.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandVerifier checks installed extensions against the validation
// section of their manifests. Each command check runs the declared
// command with its version flag and, when a pattern is declared,
// matches the output against it. A mise check confirms the declared
// tools appear in the mise tool listing.
type CommandVerifier struct {
	manifests map[string]*manifest.Extension
	runner    CommandRunner
	log       zerolog.Logger
}

// VerifierOption configures a CommandVerifier.
type VerifierOption func(*CommandVerifier)

// WithVerifierLogger sets the logger used for check diagnostics.
func WithVerifierLogger(log zerolog.Logger) VerifierOption {
	return func(v *CommandVerifier) {
		v.log = log.With().Str("component", "verifier").Logger()
	}
}

// WithCommandRunner substitutes the command runner.
func WithCommandRunner(runner CommandRunner) VerifierOption {
	return func(v *CommandVerifier) {
		v.runner = runner
	}
}

// NewCommandVerifier creates a verifier over a set of loaded manifests.
func NewCommandVerifier(manifests map[string]*manifest.Extension, opts ...VerifierOption) *CommandVerifier {
	v := &CommandVerifier{
		manifests: manifests,
		runner:    execRunner,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the validation checks declared for an extension. A failed
// check is reported in the result; an error means the verifier could
// not run at all (no manifest for the extension).
func (v *CommandVerifier) Verify(ctx context.Context, name string) (*VerifyResult, error) {
	ext, ok := v.manifests[name]
	if !ok {
		return nil, fmt.Errorf("no manifest for extension %s", name)
	}

	timeout := defaultCheckTimeout
	if ext.Requirements != nil && ext.Requirements.ValidationTimeoutSecs > 0 {
		timeout = time.Duration(ext.Requirements.ValidationTimeoutSecs) * time.Second
	}

	result := &VerifyResult{Passed: true}

	for _, check := range ext.Validate.Commands {
		result.ValidationType = "command"
		version, err := v.runCheck(ctx, timeout, check)
		if err != nil {
			result.Passed = false
			result.Detail = err.Error()
			v.log.Debug().Str("extension", name).Str("command", check.Name).
				Err(err).Msg("validation command failed")
			return result, nil
		}
		if result.Version == "" {
			result.Version = version
		}
	}

	if ext.Validate.Mise != nil && len(ext.Validate.Mise.Tools) > 0 {
		if result.ValidationType == "" {
			result.ValidationType = "mise"
		}
		if missing, err := v.missingMiseTools(ctx, timeout, ext.Validate.Mise.Tools); err != nil {
			result.Passed = false
			result.Detail = err.Error()
			return result, nil
		} else if len(missing) > 0 {
			result.Passed = false
			result.Detail = fmt.Sprintf("mise tools not installed: %s", strings.Join(missing, ", "))
			return result, nil
		}
	}

	// Nothing declared to check. The installation is taken at its word.
	if result.ValidationType == "" {
		result.ValidationType = "manual"
	}

	v.log.Debug().Str("extension", name).Str("type", result.ValidationType).
		Msg("verification passed")
	return result, nil
}

// runCheck executes one command check and returns the version string
// found in its output.
func (v *CommandVerifier) runCheck(ctx context.Context, timeout time.Duration, check manifest.CommandCheck) (string, error) {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var args []string
	if check.VersionFlag != "" {
		args = append(args, check.VersionFlag)
	}

	output, err := v.runner(checkCtx, check.Name, args...)
	if err != nil {
		return "", fmt.Errorf("command %s failed: %v", check.Name, err)
	}

	out := string(output)
	if check.ExpectedPattern != "" {
		pattern, err := regexp.Compile(check.ExpectedPattern)
		if err != nil {
			return "", fmt.Errorf("invalid expected pattern for %s: %v", check.Name, err)
		}
		if !pattern.MatchString(out) {
			return "", fmt.Errorf("command %s output did not match %q", check.Name, check.ExpectedPattern)
		}
	}

	return versionPattern.FindString(out), nil
}

// missingMiseTools lists declared tools absent from the mise listing.
func (v *CommandVerifier) missingMiseTools(ctx context.Context, timeout time.Duration, tools []string) ([]string, error) {
	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := v.runner(listCtx, "mise", "ls", "--installed")
	if err != nil {
		return nil, fmt.Errorf("mise ls failed: %v", err)
	}

	installed := make(map[string]bool)
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			installed[fields[0]] = true
		}
	}

	var missing []string
	for _, tool := range tools {
		if !installed[tool] {
			missing = append(missing, tool)
		}
	}
	return missing, nil
}
