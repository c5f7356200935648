package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
repository: file/repo
version: v1.0.0
target_node: file-node
registry_token: file:token
`)

	env := map[string]string{
		EnvRepository: "env/repo",
		EnvVersion:    "v2.0.0",
	}

	cfg, err := Load(path, env, Overrides{Version: "v3.0.0"})
	require.NoError(t, err)

	// CLI beats env beats file.
	assert.Equal(t, "v3.0.0", cfg.Version)
	assert.Equal(t, "env/repo", cfg.Repository)
	assert.Equal(t, "file-node", cfg.TargetNode)
	assert.Equal(t, "file:token", cfg.RegistryToken.Value())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "https://api.github.com", cfg.RegistryURL)
	assert.Equal(t, "kairos-io/kairos", cfg.Repository)
	assert.Equal(t, "latest", cfg.Version)
	assert.Equal(t, 3, cfg.KeepVersions)
	assert.Equal(t, "iso", cfg.DeployMethod)
	assert.False(t, cfg.DryRun)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml", nil, Overrides{})
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		requireCred bool
		wantErr     string
	}{
		{
			name:        "status tolerates missing credentials",
			env:         nil,
			requireCred: false,
		},
		{
			name:        "missing token",
			env:         map[string]string{EnvTargetNode: "pve1"},
			requireCred: true,
			wantErr:     "registry token is required",
		},
		{
			name: "missing target node",
			env: map[string]string{
				EnvRegistryToken: "deploy:s3cret",
			},
			requireCred: true,
			wantErr:     "target node identifier is required",
		},
		{
			name: "complete",
			env: map[string]string{
				EnvRegistryToken: "deploy:s3cret",
				EnvTargetNode:    "pve1",
			},
			requireCred: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", tt.env, Overrides{})
			require.NoError(t, err)

			err = cfg.Validate(tt.requireCred)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCredentialNeverPrintsSecret(t *testing.T) {
	cred := Credential("deploy:super-secret-token")

	assert.Equal(t, "deploy", cred.Prefix())
	assert.Equal(t, "deploy", fmt.Sprintf("%s", cred))
	assert.Equal(t, "deploy", fmt.Sprintf("%v", cred))
	assert.NotContains(t, fmt.Sprintf("%s %v", cred, cred), "super-secret")
	assert.Equal(t, "deploy:super-secret-token", cred.Value())
}

func TestCredentialWithoutSeparator(t *testing.T) {
	cred := Credential("ghp_abcdef123456")
	assert.Equal(t, "****", cred.Prefix())

	assert.Equal(t, "", Credential("").Prefix())
	assert.False(t, Credential("").IsSet())
}
