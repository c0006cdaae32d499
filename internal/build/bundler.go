// Package build orchestrates bundler invocations: it serializes concurrent
// triggers, derives the bundler configuration from the project settings,
// runs post-build copy rules, and keeps the system alive across failed
// builds.
package build

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/devloop-dev/devloop/internal/validation"
)

// BundleConfig is the configuration contract handed to the bundler
// collaborator. The core specifies what to bundle, never how.
type BundleConfig struct {
	Entries   []string
	OutDir    string
	Platform  string
	Format    string
	Minify    bool
	Sourcemap string // "inline" or empty
	Defines   map[string]string
	Loaders   map[string]string // extension -> loader
	External  []string
	Banner    string // injected verbatim at the top of each entry bundle
}

// Message is a single diagnostic reported by the bundler.
type Message struct {
	File   string
	Line   int
	Column int
	Text   string
}

// BundleResult reports the outcome of one bundler invocation. Errors is
// empty on success.
type BundleResult struct {
	Errors []Message
}

// Bundler is the external bundling collaborator.
type Bundler interface {
	Bundle(ctx context.Context, cfg BundleConfig) (BundleResult, error)
}

// allowlist of bundler binaries devloop will exec
var allowedBundlers = map[string]bool{
	"esbuild": true,
	"bun":     true,
}

// ExecBundler invokes an esbuild-compatible CLI.
type ExecBundler struct {
	command string
	dir     string
}

// NewExecBundler creates a bundler that shells out to the named CLI, running
// it in dir.
func NewExecBundler(command, dir string) *ExecBundler {
	return &ExecBundler{command: command, dir: dir}
}

// Bundle runs the bundler CLI with flags derived from cfg. A non-zero exit
// with diagnostics on stderr becomes a BundleResult with Errors; anything
// else is returned as an error.
func (b *ExecBundler) Bundle(ctx context.Context, cfg BundleConfig) (BundleResult, error) {
	args, err := b.arguments(cfg)
	if err != nil {
		return BundleResult{}, err
	}

	cmd := exec.CommandContext(ctx, b.command, args...)
	cmd.Dir = b.dir

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		if ctx.Err() != nil {
			return BundleResult{}, fmt.Errorf("bundler cancelled: %w", ctx.Err())
		}
		if _, ok := runErr.(*exec.ExitError); ok {
			return BundleResult{Errors: parseDiagnostics(output)}, nil
		}
		return BundleResult{}, fmt.Errorf("running %s: %w", b.command, runErr)
	}

	return BundleResult{}, nil
}

// arguments derives the CLI flag list from the configuration contract.
func (b *ExecBundler) arguments(cfg BundleConfig) ([]string, error) {
	if err := validation.ValidateCommand(b.command, allowedBundlers); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}

	args := make([]string, 0, len(cfg.Entries)+16)
	args = append(args, cfg.Entries...)
	args = append(args, "--bundle", "--outdir="+cfg.OutDir)
	if cfg.Platform != "" {
		args = append(args, "--platform="+cfg.Platform)
	}
	if cfg.Format != "" {
		args = append(args, "--format="+cfg.Format)
	}
	if cfg.Minify {
		args = append(args, "--minify")
	}
	if cfg.Sourcemap != "" {
		args = append(args, "--sourcemap="+cfg.Sourcemap)
	}
	args = append(args, "--entry-names=[name]", "--asset-names=assets/[name]-[hash]")
	for _, key := range sortedKeys(cfg.Defines) {
		args = append(args, fmt.Sprintf("--define:%s=%s", key, cfg.Defines[key]))
	}
	for _, ext := range sortedKeys(cfg.Loaders) {
		args = append(args, fmt.Sprintf("--loader:%s=%s", ext, cfg.Loaders[ext]))
	}
	for _, name := range cfg.External {
		args = append(args, "--external:"+name)
	}
	if cfg.Banner != "" {
		args = append(args, "--banner:js="+cfg.Banner)
	}

	for _, arg := range args {
		// Banner text is generated internally, not user input.
		if strings.HasPrefix(arg, "--banner:js=") {
			continue
		}
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", arg, err)
		}
	}

	return args, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// parseDiagnostics converts bundler output lines into messages, best effort.
func parseDiagnostics(output []byte) []Message {
	var messages []Message
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		messages = append(messages, Message{Text: line})
	}
	if len(messages) == 0 {
		messages = append(messages, Message{Text: "bundler exited with an error and no output"})
	}
	return messages
}
