// Package terraform adapts the external provisioning tool. A provisioning
// run is the fixed init -> plan -> apply sequence; the plan output is kept
// and surfaced even when the apply afterwards fails.
package terraform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"kairosdeploy/toolexec"
)

// Binary is the executable the dependency checker probes for.
const Binary = "terraform"

const planFile = "tfplan"

// Provisioner drives terraform in a working directory with a variables file.
type Provisioner struct {
	binary   string
	workDir  string
	varsFile string
	runner   toolexec.Runner
	logger   *slog.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithVarsFile sets the path to the externally-owned provisioning variables.
func WithVarsFile(path string) Option {
	return func(p *Provisioner) { p.varsFile = path }
}

// WithRunner substitutes the command runner, used in tests.
func WithRunner(r toolexec.Runner) Option {
	return func(p *Provisioner) { p.runner = r }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) { p.logger = logger.With("component", "terraform") }
}

// New creates a provisioner rooted at workDir.
func New(workDir string, opts ...Option) *Provisioner {
	p := &Provisioner{
		binary:  Binary,
		workDir: workDir,
		runner:  &toolexec.ExecRunner{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CommandLine renders the apply sequence for dry-run display.
func (p *Provisioner) CommandLine() string {
	return fmt.Sprintf("%s && %s && %s",
		toolexec.CommandLine(p.binary, "init", "-input=false"),
		toolexec.CommandLine(p.binary, p.planArgs()...),
		toolexec.CommandLine(p.binary, "apply", "-input=false", "-auto-approve", planFile))
}

func (p *Provisioner) planArgs() []string {
	args := []string{"plan", "-input=false", "-out=" + planFile}
	if p.varsFile != "" {
		args = append(args, "-var-file="+p.varsFile)
	}
	return args
}

// Apply runs init, plan and apply in order. The plan output is always
// returned, including when the apply step fails.
func (p *Provisioner) Apply(ctx context.Context) (string, error) {
	if err := p.run(ctx, "init", "-input=false"); err != nil {
		return "", err
	}

	planOut, stderr, exitCode, err := p.runner.Run(ctx, p.workDir, p.binary, p.planArgs()...)
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return planOut, fmt.Errorf("terraform plan exited %d: %s", exitCode, stderr)
	}
	p.logger.Info("plan finished", "output_bytes", len(planOut))

	if err := p.run(ctx, "apply", "-input=false", "-auto-approve", planFile); err != nil {
		return planOut, err
	}
	return planOut, nil
}

// Outputs reads the provisioning outputs as a flat key/value record.
func (p *Provisioner) Outputs(ctx context.Context) (map[string]string, error) {
	stdout, stderr, exitCode, err := p.runner.Run(ctx, p.workDir, p.binary, "output", "-json")
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("terraform output exited %d: %s", exitCode, stderr)
	}

	var raw map[string]struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse terraform output: %w", err)
	}

	outputs := make(map[string]string, len(raw))
	for key, entry := range raw {
		outputs[key] = fmt.Sprintf("%v", entry.Value)
	}
	return outputs, nil
}

// ExportOutputs writes the output record to path for the status reporter.
func (p *Provisioner) ExportOutputs(ctx context.Context, path string) (map[string]string, error) {
	outputs, err := p.Outputs(ctx)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write output record: %w", err)
	}
	return outputs, nil
}

// Destroy tears down the provisioned infrastructure, best effort.
func (p *Provisioner) Destroy(ctx context.Context) error {
	args := []string{"destroy", "-input=false", "-auto-approve"}
	if p.varsFile != "" {
		args = append(args, "-var-file="+p.varsFile)
	}
	return p.run(ctx, args...)
}

func (p *Provisioner) run(ctx context.Context, args ...string) error {
	p.logger.Info("running terraform", "args", args[0])
	_, stderr, exitCode, err := p.runner.Run(ctx, p.workDir, p.binary, args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("terraform %s exited %d: %s", args[0], exitCode, stderr)
	}
	return nil
}
