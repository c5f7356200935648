package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"kairosdeploy/artifacts"
	"kairosdeploy/kairos"
	"kairosdeploy/netutil"
	"kairosdeploy/packer"
	"kairosdeploy/statusreporter"
)

// templateAction builds the machine template with packer. When no
// externally-owned variables file is configured it generates one from the
// deployment settings first.
type templateAction struct {
	d *Deployment
}

func (a *templateAction) Describe() string {
	return a.d.newBuilder().CommandLine()
}

func (a *templateAction) Execute(ctx context.Context) (string, error) {
	d := a.d
	if d.cfg.TemplateVars == "" {
		vars := map[string]string{
			"vm_name":     d.cfg.Name,
			"target_node": d.cfg.TargetNode,
		}
		path := filepath.Join(filepath.Dir(d.cfg.Template), generatedVarsFile)
		if err := packer.WriteVars(path, vars); err != nil {
			return "", err
		}
	}

	manifest, err := d.newBuilder().Build(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("template built, manifest at %s", manifest), nil
}

// fetchAction resolves the version selector and downloads the release assets.
type fetchAction struct {
	d *Deployment
}

func (a *fetchAction) Describe() string {
	d := a.d
	return fmt.Sprintf("GET %s/repos/%s/releases (%s) -> %s [%s]",
		d.cfg.RegistryURL, d.cfg.Repository, d.cfg.Version,
		d.cfg.ArtifactDir, typeNames(d.assetTypes()))
}

func (a *fetchAction) Execute(ctx context.Context) (string, error) {
	d := a.d
	version, err := d.fetcher.Fetch(ctx, d.cfg.Version, d.assetTypes(), d.cfg.Force)
	if err != nil {
		return "", err
	}
	d.version = version
	return fmt.Sprintf("fetched release %s (%d assets)", version.Tag, len(version.Assets)), nil
}

// provisionAction creates the infrastructure and records the machine address
// for the install stage and the status reporter.
type provisionAction struct {
	d *Deployment
}

func (a *provisionAction) Describe() string {
	return a.d.provisioner.CommandLine()
}

func (a *provisionAction) Execute(ctx context.Context) (string, error) {
	d := a.d
	d.provisionStarted = true

	planOut, err := d.provisioner.Apply(ctx)
	if plan := strings.TrimSpace(planOut); plan != "" {
		d.runLog.Event("provisioning plan:\n%s", plan)
	}
	if err != nil {
		return "", err
	}

	outputs, err := d.provisioner.ExportOutputs(ctx, OutputsPath(d.cfg))
	if err != nil {
		return "", err
	}

	d.address = statusreporter.FirstAddress(outputs)
	if d.address == "" {
		d.logger.Warn("provisioning outputs carry no machine address")
		return "infrastructure provisioned, no address discovered", nil
	}
	return fmt.Sprintf("infrastructure provisioned at %s", d.address), nil
}

// installAction waits for the provisioned machine to settle, selects the boot
// image by precedence and runs the zero-touch installer.
type installAction struct {
	d *Deployment
}

func (a *installAction) Describe() string {
	d := a.d
	addr := d.bestKnownAddress()
	if addr == "" {
		addr = "<target address>"
	}
	return d.newInstaller().CommandLine("<resolved image>", addr)
}

func (a *installAction) Execute(ctx context.Context) (string, error) {
	d := a.d

	assets := d.version.Assets
	if len(assets) == 0 {
		local, err := d.localAssets()
		if err != nil {
			return "", err
		}
		assets = local
	}

	image, found, err := kairos.SelectImage(assets, d.method)
	if err != nil {
		return "", err
	}

	address := d.bestKnownAddress()
	if address == "" {
		d.logger.Warn("no target address known, installer runs without a target")
	} else if address != d.address {
		d.logger.Info("using address from a previous provisioning record", "address", address)
	}

	if reachable := netutil.WaitForSSH(ctx, address, d.cfg.SettleWait, d.logger); !reachable {
		d.logger.Warn("target not confirmed reachable, proceeding with install", "address", address)
		d.runLog.Event("target %q not confirmed reachable before install", address)
	}

	imagePath := ""
	if found {
		imagePath = image.LocalPath
	}
	if err := d.newInstaller().Install(ctx, imagePath, address); err != nil {
		return "", err
	}

	if found {
		return fmt.Sprintf("installed %s via %s", image.Name, d.method), nil
	}
	return fmt.Sprintf("installed via %s", d.method), nil
}

func typeNames(types []artifacts.AssetType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}
