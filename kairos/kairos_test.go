package kairos

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairosdeploy/artifacts"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{in: "iso", want: MethodISO},
		{in: "NETWORK", want: MethodNetwork},
		{in: " hybrid ", want: MethodHybrid},
		{in: "pxe", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectImagePrecedence(t *testing.T) {
	iso := artifacts.Asset{Name: "kairos.iso", Type: artifacts.AssetISO}
	raw := artifacts.Asset{Name: "kairos.raw", Type: artifacts.AssetRAW}
	qcow := artifacts.Asset{Name: "kairos.qcow2", Type: artifacts.AssetQCOW2}

	tests := []struct {
		name    string
		assets  []artifacts.Asset
		method  Method
		want    string
		wantOK  bool
		wantErr bool
	}{
		{name: "hybrid prefers iso", assets: []artifacts.Asset{qcow, raw, iso}, method: MethodHybrid, want: "kairos.iso", wantOK: true},
		{name: "hybrid falls back to raw", assets: []artifacts.Asset{qcow, raw}, method: MethodHybrid, want: "kairos.raw", wantOK: true},
		{name: "hybrid falls back to qcow2", assets: []artifacts.Asset{qcow}, method: MethodHybrid, want: "kairos.qcow2", wantOK: true},
		{name: "hybrid requires something", assets: nil, method: MethodHybrid, wantErr: true},
		{name: "iso requires iso", assets: []artifacts.Asset{raw, qcow}, method: MethodISO, wantErr: true},
		{name: "iso picks iso", assets: []artifacts.Asset{raw, iso}, method: MethodISO, want: "kairos.iso", wantOK: true},
		{name: "network tolerates none", assets: nil, method: MethodNetwork, wantOK: false},
		{name: "network still prefers iso", assets: []artifacts.Asset{raw, iso}, method: MethodNetwork, want: "kairos.iso", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, ok, err := SelectImage(tt.assets, tt.method)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, asset.Name)
			}
		})
	}
}

type fakeRunner struct {
	stderr   string
	exitCode int
	gotArgs  []string
	calls    int
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, int, error) {
	f.calls++
	f.gotArgs = args
	return "", f.stderr, f.exitCode, nil
}

func TestInstall(t *testing.T) {
	runner := &fakeRunner{}
	inst := New("cloud-config.yaml", WithMethod(MethodHybrid), WithRunner(runner))

	err := inst.Install(context.Background(), "artifacts/v1.2.0/kairos.iso", "10.0.0.42")
	require.NoError(t, err)

	assert.Contains(t, runner.gotArgs, "--cloud-config")
	assert.Contains(t, runner.gotArgs, "cloud-config.yaml")
	assert.Contains(t, runner.gotArgs, "deploy.method=hybrid")
	assert.Contains(t, runner.gotArgs, "deploy.image=artifacts/v1.2.0/kairos.iso")
	assert.Contains(t, runner.gotArgs, "deploy.target=10.0.0.42")
}

func TestInstallFailure(t *testing.T) {
	runner := &fakeRunner{exitCode: 2, stderr: "no bootable media\n"}
	inst := New("cloud-config.yaml", WithRunner(runner))

	err := inst.Install(context.Background(), "kairos.iso", "10.0.0.42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "installer exited 2")
	assert.Contains(t, err.Error(), "no bootable media")
}

func TestCommandLineOmitsEmptyImage(t *testing.T) {
	inst := New("cc.yaml", WithMethod(MethodNetwork))
	line := inst.CommandLine("", "10.0.0.42")
	assert.NotContains(t, line, "deploy.image")
	assert.Contains(t, line, "deploy.method=network")
	assert.Contains(t, line, "deploy.target=10.0.0.42")
}
