// Package kairos adapts the external zero-touch OS installer. Given a
// resolved image and an installer cloud-config it drives the installer
// against the provisioned machine's address.
package kairos

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kairosdeploy/artifacts"
	"kairosdeploy/toolexec"
)

// Binary is the executable the dependency checker probes for.
const Binary = "auroraboot"

// Method is the closed set of deployment methods.
type Method int

const (
	MethodISO Method = iota
	MethodNetwork
	MethodHybrid
)

func (m Method) String() string {
	switch m {
	case MethodISO:
		return "iso"
	case MethodNetwork:
		return "network"
	case MethodHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseMethod converts a string to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iso":
		return MethodISO, nil
	case "network":
		return MethodNetwork, nil
	case "hybrid":
		return MethodHybrid, nil
	default:
		return MethodISO, fmt.Errorf("unknown deployment method: %q", s)
	}
}

// SelectImage picks the asset the installer boots from. The precedence is a
// fixed policy: ISO over RAW over QCOW2.
//
//   - iso: an ISO is mandatory.
//   - hybrid: best available by precedence, at least one required.
//   - network: best available by precedence, none required (pure netboot).
func SelectImage(assets []artifacts.Asset, method Method) (artifacts.Asset, bool, error) {
	best, found := bestByPrecedence(assets)

	switch method {
	case MethodISO:
		for _, a := range assets {
			if a.Type == artifacts.AssetISO {
				return a, true, nil
			}
		}
		return artifacts.Asset{}, false, fmt.Errorf("method iso requires an ISO asset, none available")
	case MethodHybrid:
		if !found {
			return artifacts.Asset{}, false, fmt.Errorf("method hybrid requires an image asset, none available")
		}
		return best, true, nil
	case MethodNetwork:
		return best, found, nil
	default:
		return artifacts.Asset{}, false, fmt.Errorf("unknown deployment method %d", method)
	}
}

func bestByPrecedence(assets []artifacts.Asset) (artifacts.Asset, bool) {
	for _, typ := range []artifacts.AssetType{artifacts.AssetISO, artifacts.AssetRAW, artifacts.AssetQCOW2} {
		for _, a := range assets {
			if a.Type == typ {
				return a, true
			}
		}
	}
	return artifacts.Asset{}, false
}

// Installer invokes the zero-touch installer.
type Installer struct {
	binary      string
	cloudConfig string
	method      Method
	runner      toolexec.Runner
	logger      *slog.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithMethod sets the deployment method. Defaults to iso.
func WithMethod(m Method) Option {
	return func(i *Installer) { i.method = m }
}

// WithRunner substitutes the command runner, used in tests.
func WithRunner(r toolexec.Runner) Option {
	return func(i *Installer) { i.runner = r }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Installer) { i.logger = logger.With("component", "kairos") }
}

// New creates an installer bound to the given cloud-config file.
func New(cloudConfig string, opts ...Option) *Installer {
	i := &Installer{
		binary:      Binary,
		cloudConfig: cloudConfig,
		method:      MethodISO,
		runner:      &toolexec.ExecRunner{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Args returns the resolved installer invocation for the given image and
// target address. imagePath may be empty under the network method.
func (i *Installer) Args(imagePath, address string) []string {
	args := []string{
		"--cloud-config", i.cloudConfig,
		"--set", "deploy.method=" + i.method.String(),
	}
	if imagePath != "" {
		args = append(args, "--set", "deploy.image="+imagePath)
	}
	if address != "" {
		args = append(args, "--set", "deploy.target="+address)
	}
	return args
}

// CommandLine renders the invocation for dry-run display.
func (i *Installer) CommandLine(imagePath, address string) string {
	return toolexec.CommandLine(i.binary, i.Args(imagePath, address)...)
}

// Install runs the zero-touch installation against the target.
func (i *Installer) Install(ctx context.Context, imagePath, address string) error {
	i.logger.Info("starting installation",
		"method", i.method.String(), "image", imagePath, "target", address)

	_, stderr, exitCode, err := i.runner.Run(ctx, "", i.binary, i.Args(imagePath, address)...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("installer exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	i.logger.Info("installation finished")
	return nil
}
