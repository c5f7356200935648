// Package registryclient talks to the release registry hosting Kairos image
// artifacts. The API surface is GitHub-releases shaped: list releases, fetch
// release metadata, download assets.
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const defaultTimeout = 5 * time.Minute

// Client is an HTTP client for the artifact registry.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token used for authentication.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout overrides the HTTP client timeout. Downloads of multi-gigabyte
// images need a generous default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.With("component", "registryclient") }
}

// New creates a registry client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("registry base URL is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListReleases returns the releases of repo, most recent first.
func (c *Client) ListReleases(ctx context.Context, repo string) ([]Release, error) {
	var releases []Release
	if err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/releases", repo), &releases); err != nil {
		return nil, fmt.Errorf("failed to list releases for %s: %w", repo, err)
	}
	return releases, nil
}

// LatestRelease returns the most recently published release of repo.
func (c *Client) LatestRelease(ctx context.Context, repo string) (Release, error) {
	var release Release
	if err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/releases/latest", repo), &release); err != nil {
		return Release{}, fmt.Errorf("failed to get latest release for %s: %w", repo, err)
	}
	return release, nil
}

// Release returns the release of repo with the given tag.
func (c *Client) Release(ctx context.Context, repo, tag string) (Release, error) {
	var release Release
	if err := c.getJSON(ctx, fmt.Sprintf("/repos/%s/releases/tags/%s", repo, tag), &release); err != nil {
		return Release{}, fmt.Errorf("failed to get release %s of %s: %w", tag, repo, err)
	}
	return release, nil
}

// CheckAuth probes the registry with the configured credentials. A 401 or
// 403 answer means the token is invalid.
func (c *Client) CheckAuth(ctx context.Context) error {
	resp, err := c.get(ctx, "/rate_limit")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// DownloadAsset streams the asset to dest. The file is written via a
// temporary sibling and renamed into place, so a torn download never leaves
// a half-written asset behind.
func (c *Client) DownloadAsset(ctx context.Context, asset Asset, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}
	c.authorize(req)

	c.logger.Info("downloading asset", "name", asset.Name, "size", asset.Size)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", asset.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create asset directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+asset.Name+".partial-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", asset.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move asset into place: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
