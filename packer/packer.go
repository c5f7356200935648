// Package packer adapts the external template-build tool. The orchestrator
// hands it a rendered variables file; it invokes packer and reports pass or
// fail plus the path to the build manifest.
package packer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"kairosdeploy/toolexec"
)

// Binary is the executable the dependency checker probes for.
const Binary = "packer"

const manifestFile = "packer-manifest.json"

// Builder invokes packer against a template with a generated variables file.
type Builder struct {
	binary   string
	template string
	varsFile string
	workDir  string
	runner   toolexec.Runner
	logger   *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithVarsFile sets the path to the externally-owned template variables file.
func WithVarsFile(path string) Option {
	return func(b *Builder) { b.varsFile = path }
}

// WithWorkDir sets the directory packer runs in.
func WithWorkDir(dir string) Option {
	return func(b *Builder) { b.workDir = dir }
}

// WithRunner substitutes the command runner, used in tests.
func WithRunner(r toolexec.Runner) Option {
	return func(b *Builder) { b.runner = r }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger.With("component", "packer") }
}

// New creates a builder for the given template.
func New(template string, opts ...Option) *Builder {
	b := &Builder{
		binary:   Binary,
		template: template,
		runner:   &toolexec.ExecRunner{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Args returns the resolved packer invocation.
func (b *Builder) Args() []string {
	args := []string{"build", "-force"}
	if b.varsFile != "" {
		args = append(args, "-var-file="+b.varsFile)
	}
	args = append(args, b.template)
	return args
}

// CommandLine renders the invocation for dry-run display.
func (b *Builder) CommandLine() string {
	return toolexec.CommandLine(b.binary, b.Args()...)
}

// Build runs the template build and returns the manifest path on success.
func (b *Builder) Build(ctx context.Context) (string, error) {
	b.logger.Info("building template", "template", b.template)

	stdout, stderr, exitCode, err := b.runner.Run(ctx, b.workDir, b.binary, b.Args()...)
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		b.logger.Error("template build failed", "exit_code", exitCode, "stderr", stderr)
		return "", fmt.Errorf("packer build exited %d: %s", exitCode, lastLine(stderr, stdout))
	}

	manifest := filepath.Join(b.workDir, manifestFile)
	b.logger.Info("template build finished", "manifest", manifest)
	return manifest, nil
}

// WriteVars renders a packer JSON variables file at path.
func WriteVars(path string, vars map[string]string) error {
	data, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode packer variables: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write packer variables: %w", err)
	}
	return nil
}

// lastLine returns the final non-empty line of the preferred string, falling
// back to the alternative.
func lastLine(preferred, fallback string) string {
	for _, s := range []string{preferred, fallback} {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		lines := strings.Split(s, "\n")
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return "no output"
}
