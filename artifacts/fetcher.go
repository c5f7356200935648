package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kairosdeploy/clients/registryclient"
)

// Registry is the subset of the registry client the fetcher needs.
type Registry interface {
	LatestRelease(ctx context.Context, repo string) (registryclient.Release, error)
	Release(ctx context.Context, repo, tag string) (registryclient.Release, error)
	DownloadAsset(ctx context.Context, asset registryclient.Asset, dest string) error
}

// Fetcher downloads versioned release assets into the artifact directory.
type Fetcher struct {
	registry Registry
	repo     string
	dir      string
	logger   *slog.Logger
}

// NewFetcher creates a fetcher for the given repository coordinates rooted
// at dir.
func NewFetcher(registry Registry, repo, dir string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		registry: registry,
		repo:     repo,
		dir:      dir,
		logger:   logger.With("component", "artifacts"),
	}
}

// Dir returns the artifact root directory.
func (f *Fetcher) Dir() string { return f.dir }

// Resolve maps a version selector to a concrete release. "latest" resolves
// to the most recently published release; any other value passes through to
// an exact tag lookup. The selector is re-resolved on every call; the only
// cache is the on-disk marker written by UpdateLatestMarker.
func (f *Fetcher) Resolve(ctx context.Context, selector string) (registryclient.Release, error) {
	if selector == "latest" {
		release, err := f.registry.LatestRelease(ctx, f.repo)
		if err != nil {
			return registryclient.Release{}, fmt.Errorf("failed to resolve latest release: %w", err)
		}
		f.logger.Info("resolved version selector", "selector", selector, "tag", release.TagName)
		return release, nil
	}
	release, err := f.registry.Release(ctx, f.repo, selector)
	if err != nil {
		return registryclient.Release{}, fmt.Errorf("failed to resolve version %s: %w", selector, err)
	}
	return release, nil
}

// ListAssets filters the release's assets by glob match against the
// requested types' extensions. A type with no matching asset produces a
// logged AssetWarning, never an error.
func (f *Fetcher) ListAssets(release registryclient.Release, types []AssetType) []registryclient.Asset {
	var matched []registryclient.Asset
	for _, typ := range types {
		found := release.MatchAssets("*" + typ.Ext())
		if len(found) == 0 {
			warn := &AssetWarning{Tag: release.TagName, Type: typ}
			f.logger.Warn("asset type missing from release", "warning", warn.Error())
			continue
		}
		matched = append(matched, found...)
	}
	return matched
}

// Download fetches one asset into the version's directory. An existing local
// file is kept untouched unless force is set. After a reported success the
// file's presence on disk is verified; a failed verification is downgraded
// to a warning so remaining assets are still attempted.
func (f *Fetcher) Download(ctx context.Context, tag string, asset registryclient.Asset, force bool) (Asset, DownloadStatus) {
	local := Asset{
		Name:      asset.Name,
		Type:      typeOf(asset.Name),
		LocalPath: f.assetPath(tag, asset.Name),
		Size:      asset.Size,
	}

	if !force {
		if info, err := os.Stat(local.LocalPath); err == nil {
			local.Size = info.Size()
			local.DownloadedAt = info.ModTime()
			f.logger.Info("asset already present, skipping", "asset", asset.Name, "path", local.LocalPath)
			return local, SkippedExists
		}
	}

	if err := f.registry.DownloadAsset(ctx, asset, local.LocalPath); err != nil {
		f.logger.Error("asset download failed", "asset", asset.Name, "error", err)
		return local, FailedDownload
	}

	info, err := os.Stat(local.LocalPath)
	if err != nil {
		warn := &VerificationWarning{Path: local.LocalPath, Err: err}
		f.logger.Warn("downloaded asset missing on disk", "warning", warn.Error())
		return local, FailedDownload
	}
	local.Size = info.Size()
	local.DownloadedAt = time.Now()
	return local, Downloaded
}

// Fetch resolves the selector, downloads every requested asset type and
// repoints the latest marker when the selector was "latest". A total
// registry query failure is fatal to the fetch; individual asset misses are
// warnings.
func (f *Fetcher) Fetch(ctx context.Context, selector string, types []AssetType, force bool) (Version, error) {
	release, err := f.Resolve(ctx, selector)
	if err != nil {
		return Version{}, err
	}

	version := Version{
		Tag:         release.TagName,
		PublishedAt: release.PublishedAt,
		IsLatest:    selector == "latest",
	}

	for _, remote := range f.ListAssets(release, types) {
		local, status := f.Download(ctx, release.TagName, remote, force)
		f.logger.Info("asset fetch", "asset", remote.Name, "status", status.String())
		if status != FailedDownload {
			version.Assets = append(version.Assets, local)
		}
	}

	if version.IsLatest {
		marker := Marker{Tag: release.TagName, Name: release.Name, PublishedAt: release.PublishedAt}
		if err := WriteMarker(f.dir, marker); err != nil {
			return version, err
		}
	}
	return version, nil
}

// LocalAssets returns the assets already on disk for the given tag.
func (f *Fetcher) LocalAssets(tag string) ([]Asset, error) {
	entries, err := os.ReadDir(filepath.Join(f.dir, tag))
	if err != nil {
		return nil, fmt.Errorf("failed to read version directory for %s: %w", tag, err)
	}
	var assets []Asset
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		assets = append(assets, Asset{
			Name:         e.Name(),
			Type:         typeOf(e.Name()),
			LocalPath:    f.assetPath(tag, e.Name()),
			Size:         info.Size(),
			DownloadedAt: info.ModTime(),
		})
	}
	return assets, nil
}

func (f *Fetcher) assetPath(tag, name string) string {
	return filepath.Join(f.dir, tag, name)
}

func typeOf(name string) AssetType {
	switch {
	case strings.HasSuffix(name, AssetRAW.Ext()):
		return AssetRAW
	case strings.HasSuffix(name, AssetQCOW2.Ext()):
		return AssetQCOW2
	default:
		return AssetISO
	}
}
