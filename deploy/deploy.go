// Package deploy composes the external tool adapters into the per-command
// stage pipelines. A Deployment owns the adapters plus the state that flows
// between stages: the resolved release and the provisioned machine's address.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"kairosdeploy/artifacts"
	"kairosdeploy/clients/registryclient"
	"kairosdeploy/config"
	"kairosdeploy/kairos"
	"kairosdeploy/logging"
	"kairosdeploy/packer"
	"kairosdeploy/pipeline"
	"kairosdeploy/statusreporter"
	"kairosdeploy/terraform"
	"kairosdeploy/toolexec"
)

const (
	outputsFileName   = "deploy-outputs.yaml"
	generatedVarsFile = "kairosdeploy.auto.pkrvars.json"
)

// OutputsPath is where the provisioning output record lands; the status
// reporter reads the same path.
func OutputsPath(cfg config.Config) string {
	return filepath.Join(cfg.TerraformDir, outputsFileName)
}

// Deployment wires the adapters for one run.
type Deployment struct {
	cfg    config.Config
	logger *slog.Logger
	runLog *logging.RunLog
	runner toolexec.Runner

	registry    *registryclient.Client
	fetcher     *artifacts.Fetcher
	provisioner *terraform.Provisioner
	method      kairos.Method

	// State produced by earlier stages and consumed by later ones.
	version          artifacts.Version
	address          string
	provisionStarted bool
}

// Option configures a Deployment.
type Option func(*Deployment)

// WithToolRunner substitutes the command runner behind every external tool
// adapter, used in tests.
func WithToolRunner(r toolexec.Runner) Option {
	return func(d *Deployment) { d.runner = r }
}

// New builds a Deployment from resolved configuration.
func New(cfg config.Config, logger *slog.Logger, runLog *logging.RunLog, opts ...Option) (*Deployment, error) {
	method, err := kairos.ParseMethod(cfg.DeployMethod)
	if err != nil {
		return nil, &config.ConfigError{Field: "deploy_method", Reason: err.Error()}
	}

	d := &Deployment{
		cfg:    cfg,
		logger: logger,
		runLog: runLog,
		runner: &toolexec.ExecRunner{},
		method: method,
	}
	for _, opt := range opts {
		opt(d)
	}

	registry, err := registryclient.New(cfg.RegistryURL,
		registryclient.WithToken(cfg.RegistryToken.Value()),
		registryclient.WithLogger(logger))
	if err != nil {
		return nil, &config.ConfigError{Field: "registry_url", Reason: err.Error()}
	}
	d.registry = registry
	d.fetcher = artifacts.NewFetcher(registry, cfg.Repository, cfg.ArtifactDir, logger)
	d.provisioner = terraform.New(cfg.TerraformDir,
		terraform.WithVarsFile(cfg.ProvisionVars),
		terraform.WithRunner(d.runner),
		terraform.WithLogger(logger))

	return d, nil
}

// Registry exposes the registry client for the up-front authentication probe.
func (d *Deployment) Registry() *registryclient.Client { return d.registry }

// Stages returns the command's stage pipeline in execution order. Cleanup and
// status have no stages; they are handled directly by the CLI.
func (d *Deployment) Stages(cmd Command) ([]pipeline.Stage, error) {
	template := pipeline.Stage{ID: pipeline.TemplateBuild, Action: &templateAction{d}}
	fetch := pipeline.Stage{ID: pipeline.ArtifactFetch, Action: &fetchAction{d}}
	provision := pipeline.Stage{ID: pipeline.InfraProvision, Action: &provisionAction{d}}
	install := pipeline.Stage{ID: pipeline.OSInstall, Action: &installAction{d}}

	switch cmd {
	case FullDeploy:
		template.Skip = func() bool { return d.cfg.SkipTemplate }
		fetch.Skip = func() bool { return d.cfg.SkipFetch }
		return []pipeline.Stage{template, fetch, provision, install}, nil
	case TemplateOnly:
		return []pipeline.Stage{template}, nil
	case VMOnly:
		return []pipeline.Stage{provision}, nil
	case KairosOnly:
		fetch.Skip = func() bool { return d.cfg.SkipFetch }
		return []pipeline.Stage{fetch, install}, nil
	case Cleanup, Status:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown command %d", cmd)
	}
}

// CleanupOnFailure is the pipeline teardown callback. It destroys
// infrastructure only when the provisioning stage actually started.
func (d *Deployment) CleanupOnFailure(ctx context.Context) error {
	if !d.provisionStarted {
		d.logger.Info("no infrastructure created, nothing to tear down")
		return nil
	}
	return d.provisioner.Destroy(ctx)
}

// RunCleanup implements the cleanup command: tear down the provisioned
// infrastructure, then apply the artifact retention policy. It returns the
// removed version tags.
func (d *Deployment) RunCleanup(ctx context.Context) ([]string, error) {
	if err := d.provisioner.Destroy(ctx); err != nil {
		return nil, err
	}
	return d.fetcher.Cleanup(d.cfg.KeepVersions)
}

// CleanupCommandLine renders what the cleanup command would do, for dry-run.
func (d *Deployment) CleanupCommandLine() string {
	return fmt.Sprintf("%s; prune %s keeping %d newest versions",
		toolexec.CommandLine(terraform.Binary, "destroy", "-input=false", "-auto-approve"),
		d.cfg.ArtifactDir, d.cfg.KeepVersions)
}

func (d *Deployment) newBuilder() *packer.Builder {
	opts := []packer.Option{
		packer.WithWorkDir(filepath.Dir(d.cfg.Template)),
		packer.WithRunner(d.runner),
		packer.WithLogger(d.logger),
	}
	if path := d.templateVarsPath(); path != "" {
		opts = append(opts, packer.WithVarsFile(path))
	}
	return packer.New(filepath.Base(d.cfg.Template), opts...)
}

// templateVarsPath is the variables file handed to packer: the
// externally-owned file when configured, otherwise the generated one next to
// the template.
func (d *Deployment) templateVarsPath() string {
	if d.cfg.TemplateVars != "" {
		if abs, err := filepath.Abs(d.cfg.TemplateVars); err == nil {
			return abs
		}
		return d.cfg.TemplateVars
	}
	return generatedVarsFile
}

func (d *Deployment) newInstaller() *kairos.Installer {
	return kairos.New(d.cfg.CloudConfig,
		kairos.WithMethod(d.method),
		kairos.WithRunner(d.runner),
		kairos.WithLogger(d.logger))
}

// assetTypes lists the asset types a fetch requests for the active method.
// The iso method needs only the ISO; the others take everything available and
// let image selection pick by precedence.
func (d *Deployment) assetTypes() []artifacts.AssetType {
	switch d.method {
	case kairos.MethodISO:
		return []artifacts.AssetType{artifacts.AssetISO}
	case kairos.MethodNetwork, kairos.MethodHybrid:
		return []artifacts.AssetType{artifacts.AssetISO, artifacts.AssetRAW, artifacts.AssetQCOW2}
	default:
		return []artifacts.AssetType{artifacts.AssetISO}
	}
}

// bestKnownAddress is the install target candidate. When the provision stage
// did not run in this process it falls back to the output record an earlier
// run exported, mirroring how localAssets recovers skipped-fetch assets.
func (d *Deployment) bestKnownAddress() string {
	if d.address != "" {
		return d.address
	}
	outputs, err := statusreporter.ReadOutputs(OutputsPath(d.cfg))
	if err != nil {
		return ""
	}
	return statusreporter.FirstAddress(outputs)
}

// localAssets recovers the asset list from disk when the fetch stage did not
// run in this process (skip-fetch, or an install-only pipeline).
func (d *Deployment) localAssets() ([]artifacts.Asset, error) {
	tag := d.cfg.Version
	if tag == "latest" {
		marker, ok, err := artifacts.ReadMarker(d.cfg.ArtifactDir)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("no release marker in %s; run a fetch before skipping it", d.cfg.ArtifactDir)
		}
		tag = marker.Tag
	}
	return d.fetcher.LocalAssets(tag)
}
