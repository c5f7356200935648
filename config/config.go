// Package config resolves the immutable run configuration from the process
// environment, an optional YAML settings file and CLI flag overrides.
//
// Precedence, highest first: CLI flags > environment > file > built-in default.
// The resulting Config is created once at startup and never mutated; no other
// package reads ambient environment variables after Load returns.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names understood by Load.
const (
	EnvRegistryURL   = "KAIROS_REGISTRY_URL"
	EnvRegistryToken = "KAIROS_REGISTRY_TOKEN"
	EnvTargetNode    = "KAIROS_TARGET_NODE"
	EnvRepository    = "KAIROS_REPOSITORY"
	EnvVersion       = "KAIROS_VERSION"
	EnvLogFile       = "KAIROS_LOG_FILE"
)

const (
	defaultRegistryURL  = "https://api.github.com"
	defaultRepository   = "kairos-io/kairos"
	defaultVersion      = "latest"
	defaultArtifactDir  = "artifacts"
	defaultLogFile      = "kairosdeploy.log"
	defaultKeepVersions = 3
	defaultDeployMethod = "iso"
	defaultSettleWait   = 3 * time.Minute
)

// Credential holds a secret configuration value. Its String method returns
// only the non-secret prefix (everything before the first ':'), so a
// Credential can never leak through logging or formatted output. Use Value()
// to obtain the secret for actual authentication.
type Credential string

// Value returns the full secret value.
func (c Credential) Value() string { return string(c) }

// IsSet reports whether a value was configured.
func (c Credential) IsSet() bool { return c != "" }

// Prefix returns the displayable portion of the credential: the part before
// its internal separator, or a fixed mask when there is none.
func (c Credential) Prefix() string {
	if i := strings.IndexByte(string(c), ':'); i >= 0 {
		return string(c[:i])
	}
	if c == "" {
		return ""
	}
	return "****"
}

// String implements fmt.Stringer and hides the secret.
func (c Credential) String() string { return c.Prefix() }

// LogValue implements slog.LogValuer and hides the secret.
func (c Credential) LogValue() slog.Value { return slog.StringValue(c.Prefix()) }

// Config is the immutable snapshot of every setting a run needs.
type Config struct {
	// Name is the deployment name, used for the provisioned machine and
	// the status summary.
	Name string `yaml:"name"`

	// Repository is the artifact repository coordinates ("owner/repo").
	Repository string `yaml:"repository"`

	// Version is the release selector: "latest" or a concrete tag.
	Version string `yaml:"version"`

	// TargetNode identifies the environment/node being deployed to.
	TargetNode string `yaml:"target_node"`

	RegistryURL   string     `yaml:"registry_url"`
	RegistryToken Credential `yaml:"registry_token"`

	// ArtifactDir is the root directory for downloaded release assets
	// and the "latest" marker.
	ArtifactDir string `yaml:"artifact_dir"`

	// Template is the packer template the template-build stage runs.
	Template string `yaml:"template"`

	// Paths to externally-owned parameter files.
	TemplateVars  string `yaml:"template_vars"`
	ProvisionVars string `yaml:"provision_vars"`
	CloudConfig   string `yaml:"cloud_config"`

	// TerraformDir is the working directory holding the provisioning
	// definitions and the exported output record.
	TerraformDir string `yaml:"terraform_dir"`

	// DeployMethod selects how the installer boots the image: iso,
	// network or hybrid.
	DeployMethod string `yaml:"deploy_method"`

	LogFile    string `yaml:"log_file"`
	MetricsURL string `yaml:"metrics_url"`

	// KeepVersions is the retention count applied by cleanup.
	KeepVersions int `yaml:"keep_versions"`

	// SettleWait caps the poll-until-reachable window between
	// provisioning and installation.
	SettleWait time.Duration `yaml:"settle_wait"`

	DryRun       bool `yaml:"-"`
	Force        bool `yaml:"-"`
	SkipTemplate bool `yaml:"-"`
	SkipFetch    bool `yaml:"-"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig mirrors logging.Config so the settings file can carry it.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Overrides carries CLI flag values. Zero values mean "not set" and leave
// the lower-precedence sources in effect.
type Overrides struct {
	Name          string
	Repository    string
	Version       string
	TargetNode    string
	RegistryURL   string
	RegistryToken string
	Template      string
	ArtifactDir   string
	TemplateVars  string
	ProvisionVars string
	CloudConfig   string
	TerraformDir  string
	DeployMethod  string
	LogFile       string
	MetricsURL    string
	KeepVersions  int
	DryRun        bool
	Force         bool
	SkipTemplate  bool
	SkipFetch     bool
}

// ConfigError reports missing or invalid configuration. It is always raised
// before any stage runs.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Environ converts os.Environ-style "KEY=VALUE" pairs into a lookup map.
// Call it exactly once at startup and pass the result to Load.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// Load merges the optional settings file at path, the environment map and
// the flag overrides into one Config. An empty path skips the file source;
// a named file that does not exist is an error.
func Load(path string, env map[string]string, ov Overrides) (Config, error) {
	cfg := Config{}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, &ConfigError{Field: "config file", Reason: err.Error()}
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, &ConfigError{Field: "config file", Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	}

	applyEnv(&cfg, env)
	applyOverrides(&cfg, ov)
	cfg.setDefaults()

	return cfg, nil
}

func applyEnv(cfg *Config, env map[string]string) {
	if v := env[EnvRegistryURL]; v != "" {
		cfg.RegistryURL = v
	}
	if v := env[EnvRegistryToken]; v != "" {
		cfg.RegistryToken = Credential(v)
	}
	if v := env[EnvTargetNode]; v != "" {
		cfg.TargetNode = v
	}
	if v := env[EnvRepository]; v != "" {
		cfg.Repository = v
	}
	if v := env[EnvVersion]; v != "" {
		cfg.Version = v
	}
	if v := env[EnvLogFile]; v != "" {
		cfg.LogFile = v
	}
}

func applyOverrides(cfg *Config, ov Overrides) {
	if ov.Name != "" {
		cfg.Name = ov.Name
	}
	if ov.Repository != "" {
		cfg.Repository = ov.Repository
	}
	if ov.Version != "" {
		cfg.Version = ov.Version
	}
	if ov.TargetNode != "" {
		cfg.TargetNode = ov.TargetNode
	}
	if ov.Template != "" {
		cfg.Template = ov.Template
	}
	if ov.RegistryURL != "" {
		cfg.RegistryURL = ov.RegistryURL
	}
	if ov.RegistryToken != "" {
		cfg.RegistryToken = Credential(ov.RegistryToken)
	}
	if ov.ArtifactDir != "" {
		cfg.ArtifactDir = ov.ArtifactDir
	}
	if ov.TemplateVars != "" {
		cfg.TemplateVars = ov.TemplateVars
	}
	if ov.ProvisionVars != "" {
		cfg.ProvisionVars = ov.ProvisionVars
	}
	if ov.CloudConfig != "" {
		cfg.CloudConfig = ov.CloudConfig
	}
	if ov.TerraformDir != "" {
		cfg.TerraformDir = ov.TerraformDir
	}
	if ov.DeployMethod != "" {
		cfg.DeployMethod = ov.DeployMethod
	}
	if ov.LogFile != "" {
		cfg.LogFile = ov.LogFile
	}
	if ov.MetricsURL != "" {
		cfg.MetricsURL = ov.MetricsURL
	}
	if ov.KeepVersions != 0 {
		cfg.KeepVersions = ov.KeepVersions
	}
	if ov.DryRun {
		cfg.DryRun = true
	}
	if ov.Force {
		cfg.Force = true
	}
	if ov.SkipTemplate {
		cfg.SkipTemplate = true
	}
	if ov.SkipFetch {
		cfg.SkipFetch = true
	}
}

func (c *Config) setDefaults() {
	if c.RegistryURL == "" {
		c.RegistryURL = defaultRegistryURL
	}
	if c.Repository == "" {
		c.Repository = defaultRepository
	}
	if c.Version == "" {
		c.Version = defaultVersion
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = defaultArtifactDir
	}
	if c.LogFile == "" {
		c.LogFile = defaultLogFile
	}
	if c.KeepVersions == 0 {
		c.KeepVersions = defaultKeepVersions
	}
	if c.DeployMethod == "" {
		c.DeployMethod = defaultDeployMethod
	}
	if c.SettleWait == 0 {
		c.SettleWait = defaultSettleWait
	}
	if c.TerraformDir == "" {
		c.TerraformDir = "terraform"
	}
	if c.Template == "" {
		c.Template = filepath.Join("packer", "kairos.pkr.hcl")
	}
	if c.Name == "" {
		c.Name = "kairos"
	}
}

// Validate checks the configuration. When requireCredentials is false (the
// status command) missing registry and node settings are tolerated.
func (c *Config) Validate(requireCredentials bool) error {
	if !requireCredentials {
		return nil
	}
	if c.RegistryURL == "" {
		return &ConfigError{Field: "registry_url", Reason: "registry endpoint is required"}
	}
	if !c.RegistryToken.IsSet() {
		return &ConfigError{Field: "registry_token", Reason: fmt.Sprintf("registry token is required (set %s)", EnvRegistryToken)}
	}
	if c.TargetNode == "" {
		return &ConfigError{Field: "target_node", Reason: fmt.Sprintf("target node identifier is required (set %s)", EnvTargetNode)}
	}
	if !strings.Contains(c.Repository, "/") {
		return &ConfigError{Field: "repository", Reason: fmt.Sprintf("expected owner/repo coordinates, got %q", c.Repository)}
	}
	return nil
}
