package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairosdeploy/artifacts"
	"kairosdeploy/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := New()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := New()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"full-deploy", "template-only", "vm-only", "kairos-only", "cleanup", "status", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kairosdeploy")
}

func TestDryRunFullDeployPrintsInvocations(t *testing.T) {
	t.Setenv(config.EnvRegistryToken, "deploy:not-a-real-secret")
	dir := t.TempDir()

	out, err := execute(t,
		"full-deploy", "--dry-run",
		"--target-node", "pve1",
		"--artifact-dir", filepath.Join(dir, "artifacts"),
		"--terraform-dir", filepath.Join(dir, "terraform"),
		"--log-file", filepath.Join(dir, "run.log"),
	)
	require.NoError(t, err)

	assert.Contains(t, out, "[dry-run] template-build: packer build")
	assert.Contains(t, out, "[dry-run] artifact-fetch: GET")
	assert.Contains(t, out, "[dry-run] infra-provision: terraform init")
	assert.Contains(t, out, "[dry-run] os-install: auroraboot")
	assert.Contains(t, out, "DryRunOnly")
}

func TestDryRunNeverPrintsTheSecret(t *testing.T) {
	t.Setenv(config.EnvRegistryToken, "deploy:super-secret-value")
	dir := t.TempDir()

	out, err := execute(t,
		"full-deploy", "--dry-run",
		"--target-node", "pve1",
		"--artifact-dir", filepath.Join(dir, "artifacts"),
		"--terraform-dir", filepath.Join(dir, "terraform"),
		"--log-file", filepath.Join(dir, "run.log"),
	)
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret-value")
}

func TestMissingCredentialFailsBeforeAnyStage(t *testing.T) {
	t.Setenv(config.EnvRegistryToken, "")
	dir := t.TempDir()

	_, err := execute(t,
		"full-deploy", "--dry-run",
		"--target-node", "pve1",
		"--log-file", filepath.Join(dir, "run.log"),
	)
	require.Error(t, err)
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "registry_token", cerr.Field)
}

func TestUnknownDeployMethodIsConfigError(t *testing.T) {
	t.Setenv(config.EnvRegistryToken, "deploy:token")
	dir := t.TempDir()

	_, err := execute(t,
		"full-deploy", "--dry-run",
		"--target-node", "pve1",
		"--deploy-method", "teleport",
		"--log-file", filepath.Join(dir, "run.log"),
	)
	require.Error(t, err)
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "deploy_method", cerr.Field)
}

func TestStatusCommandWorksWithoutCredentials(t *testing.T) {
	t.Setenv(config.EnvRegistryToken, "")
	dir := t.TempDir()
	artifactDir := filepath.Join(dir, "artifacts")
	terraformDir := filepath.Join(dir, "terraform")
	require.NoError(t, os.MkdirAll(terraformDir, 0755))
	require.NoError(t, os.MkdirAll(artifactDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(terraformDir, "deploy-outputs.yaml"),
		[]byte("name: kairos-prod\nip_address: 10.0.0.42\n"), 0644))
	require.NoError(t, artifacts.WriteMarker(artifactDir, artifacts.Marker{Tag: "v1.2.0"}))

	out, err := execute(t,
		"status",
		"--artifact-dir", artifactDir,
		"--terraform-dir", terraformDir,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "kairos-prod")
	assert.Contains(t, out, "10.0.0.42")
	assert.Contains(t, out, "v1.2.0")
}

func TestStatusCommandMissingStateShowsPlaceholders(t *testing.T) {
	t.Setenv(config.EnvRegistryToken, "")
	dir := t.TempDir()

	out, err := execute(t,
		"status",
		"--artifact-dir", filepath.Join(dir, "artifacts"),
		"--terraform-dir", filepath.Join(dir, "terraform"),
	)
	require.NoError(t, err)
	assert.Contains(t, out, "not available")
}
