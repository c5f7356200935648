// Package cli wires the cobra command tree. Every deployment command follows
// the same shape: resolve configuration, validate it, check prerequisites,
// build the stage pipeline and hand it to the orchestrator.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"kairosdeploy/buildinfo"
	"kairosdeploy/config"
	"kairosdeploy/deploy"
	"kairosdeploy/logging"
	"kairosdeploy/metrics"
	"kairosdeploy/pipeline"
	"kairosdeploy/prereq"
	"kairosdeploy/statusreporter"
)

type options struct {
	configPath string
	ov         config.Overrides
}

// New builds the root command.
func New() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "kairosdeploy",
		Short:         "Staged deployment of Kairos OS virtual machines",
		Long:          "kairosdeploy drives the template build, release fetch, infrastructure\nprovisioning and zero-touch OS installation stages for Kairos deployments.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML settings file")
	pf.StringVar(&opts.ov.Name, "name", "", "deployment name")
	pf.StringVar(&opts.ov.Repository, "repository", "", "artifact repository coordinates (owner/repo)")
	pf.StringVar(&opts.ov.Version, "version", "", "release selector: latest or a concrete tag")
	pf.StringVar(&opts.ov.TargetNode, "target-node", "", "node the machine is deployed to")
	pf.StringVar(&opts.ov.RegistryURL, "registry-url", "", "release registry endpoint")
	pf.StringVar(&opts.ov.ArtifactDir, "artifact-dir", "", "directory for downloaded release assets")
	pf.StringVar(&opts.ov.Template, "template", "", "packer template for the template-build stage")
	pf.StringVar(&opts.ov.TemplateVars, "template-vars", "", "externally-owned template variables file")
	pf.StringVar(&opts.ov.ProvisionVars, "provision-vars", "", "externally-owned provisioning variables file")
	pf.StringVar(&opts.ov.CloudConfig, "cloud-config", "", "installer cloud-config file")
	pf.StringVar(&opts.ov.TerraformDir, "terraform-dir", "", "provisioning working directory")
	pf.StringVar(&opts.ov.DeployMethod, "deploy-method", "", "installation method: iso, network or hybrid")
	pf.StringVar(&opts.ov.LogFile, "log-file", "", "append-only run log path")
	pf.StringVar(&opts.ov.MetricsURL, "metrics-url", "", "remote-write endpoint for run metrics")
	pf.IntVar(&opts.ov.KeepVersions, "keep-versions", 0, "artifact versions kept by cleanup")
	pf.BoolVar(&opts.ov.DryRun, "dry-run", false, "print resolved invocations without executing anything")
	pf.BoolVar(&opts.ov.Force, "force", false, "re-download assets that already exist locally")
	pf.BoolVar(&opts.ov.SkipTemplate, "skip-template", false, "skip the template-build stage")
	pf.BoolVar(&opts.ov.SkipFetch, "skip-fetch", false, "skip the artifact-fetch stage and use local assets")

	root.AddCommand(
		stageCommand(opts, deploy.FullDeploy, "Run all stages: template, fetch, provision, install"),
		stageCommand(opts, deploy.TemplateOnly, "Build the machine template only"),
		stageCommand(opts, deploy.VMOnly, "Provision the virtual machine only"),
		stageCommand(opts, deploy.KairosOnly, "Fetch the release and install the OS on existing infrastructure"),
		cleanupCommand(opts),
		statusCommand(opts),
		versionCommand(),
	)
	return root
}

func stageCommand(opts *options, cmd deploy.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   cmd.String(),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return runStages(c, opts, cmd)
		},
	}
}

// app holds everything a command run needs after setup.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	runLog *logging.RunLog
	dep    *deploy.Deployment
}

// setup resolves and validates configuration, opens the run log and checks
// the command's tool prerequisites. Under dry-run the prerequisite checks are
// skipped: nothing will be executed, so nothing needs to be installed.
func setup(opts *options, cmd deploy.Command) (*app, error) {
	cfg, err := config.Load(opts.configPath, config.Environ(), opts.ov)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(cmd.RequiresCredentials()); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, err
	}

	runLog, err := logging.OpenRunLog(cfg.LogFile)
	if err != nil {
		return nil, err
	}

	dep, err := deploy.New(cfg, logger, runLog)
	if err != nil {
		runLog.Close()
		return nil, err
	}

	if !cfg.DryRun {
		if err := prereq.Check(cmd.Tools(cfg)); err != nil {
			runLog.Close()
			return nil, err
		}
	}

	return &app{cfg: cfg, logger: logger, runLog: runLog, dep: dep}, nil
}

func (a *app) close() {
	if err := a.runLog.Close(); err != nil {
		a.logger.Warn("failed to close run log", "error", err)
	}
}

func runStages(c *cobra.Command, opts *options, cmd deploy.Command) error {
	a, err := setup(opts, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := c.Context()
	if !a.cfg.DryRun && cmd.UsesRegistry(a.cfg) {
		if err := prereq.CheckRegistryAuth(ctx, a.dep.Registry()); err != nil {
			return err
		}
	}

	stages, err := a.dep.Stages(cmd)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(a.logger, a.runLog,
		pipeline.WithRunnerDryRun(a.cfg.DryRun),
		pipeline.WithRunnerOutput(c.OutOrStdout()))
	orch := pipeline.New(a.logger, runner, a.runLog,
		pipeline.WithCleanup(a.dep.CleanupOnFailure),
		pipeline.WithDryRun(a.cfg.DryRun))

	run, err := orch.Execute(ctx, stages)
	if err != nil {
		return err
	}

	a.pushMetrics(ctx, run)

	if run.Status == pipeline.RunFailed {
		if failed, ok := run.Failed(); ok {
			fmt.Fprintf(c.OutOrStdout(), "deployment failed at stage %s\n  %s\n  run log: %s\n",
				failed.Stage, failed.Message, a.runLog.Path())
		}
		return fmt.Errorf("%s failed", cmd)
	}

	fmt.Fprintf(c.OutOrStdout(), "%s finished: %s (run log: %s)\n", cmd, run.Status, a.runLog.Path())
	return nil
}

// pushMetrics sends run metrics best effort; a push failure never changes the
// command's outcome.
func (a *app) pushMetrics(ctx context.Context, run *pipeline.Run) {
	if a.cfg.MetricsURL == "" || a.cfg.DryRun {
		return
	}
	client := metrics.NewClient(a.cfg.MetricsURL,
		metrics.WithJob("kairosdeploy"),
		metrics.WithInstance(a.cfg.Name))
	client.RecordRun(run.Status.String())

	samples := metrics.FromRun(run)
	gathered, err := client.Gathered()
	if err != nil {
		a.logger.Warn("gathering registry metrics failed", "error", err)
	}
	samples = append(samples, gathered...)

	if err := client.PushMetrics(ctx, samples...); err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}
}

func cleanupCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   deploy.Cleanup.String(),
		Short: "Tear down the provisioned machine and prune old artifact versions",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := setup(opts, deploy.Cleanup)
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.DryRun {
				fmt.Fprintf(c.OutOrStdout(), "[dry-run] cleanup: %s\n", a.dep.CleanupCommandLine())
				return nil
			}

			removed, err := a.dep.RunCleanup(c.Context())
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Fprintln(c.OutOrStdout(), "cleanup finished, no versions removed")
				return nil
			}
			fmt.Fprintf(c.OutOrStdout(), "cleanup finished, removed %d versions:\n", len(removed))
			for _, tag := range removed {
				fmt.Fprintf(c.OutOrStdout(), "  %s\n", tag)
			}
			return nil
		},
	}
}

func statusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   deploy.Status.String(),
		Short: "Report the deployed machine and image state from local records",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath, config.Environ(), opts.ov)
			if err != nil {
				return err
			}
			if err := cfg.Validate(deploy.Status.RequiresCredentials()); err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cfg.Logging.Output,
			})
			if err != nil {
				return err
			}

			reporter := statusreporter.New(deploy.OutputsPath(cfg), cfg.ArtifactDir, logger)
			reporter.Summarize().Write(c.OutOrStdout())
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			fmt.Fprintln(c.OutOrStdout(), buildinfo.Get().String())
		},
	}
}
