// Package artifacts resolves version selectors against the release registry,
// downloads image assets into the versioned artifact directory, maintains the
// on-disk "latest" marker and applies retention cleanup.
package artifacts

import (
	"fmt"
	"strings"
	"time"
)

// AssetType is the closed set of image asset types the deployer handles.
type AssetType int

const (
	AssetISO AssetType = iota
	AssetRAW
	AssetQCOW2
)

// String returns the type name without the leading dot.
func (t AssetType) String() string {
	switch t {
	case AssetISO:
		return "iso"
	case AssetRAW:
		return "raw"
	case AssetQCOW2:
		return "qcow2"
	default:
		return "unknown"
	}
}

// Ext returns the filename suffix used for exact-match filtering.
func (t AssetType) Ext() string {
	return "." + t.String()
}

// ParseAssetType converts a string to an AssetType.
func ParseAssetType(s string) (AssetType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iso":
		return AssetISO, nil
	case "raw":
		return AssetRAW, nil
	case "qcow2":
		return AssetQCOW2, nil
	default:
		return AssetISO, fmt.Errorf("unknown asset type: %q", s)
	}
}

// Asset is a release asset tracked on local disk. LocalPath lives under the
// version's own directory, so paths never collide across versions.
type Asset struct {
	Name         string
	Type         AssetType
	LocalPath    string
	Size         int64
	DownloadedAt time.Time
}

// Version is a concrete release with its tracked assets.
type Version struct {
	Tag         string
	PublishedAt time.Time
	Assets      []Asset
	IsLatest    bool
}

// DownloadStatus is the outcome of a single asset download.
type DownloadStatus int

const (
	Downloaded DownloadStatus = iota
	SkippedExists
	FailedDownload
)

func (s DownloadStatus) String() string {
	switch s {
	case Downloaded:
		return "downloaded"
	case SkippedExists:
		return "skipped-exists"
	case FailedDownload:
		return "failed"
	default:
		return "unknown"
	}
}

// AssetWarning reports a missing asset type for a version. Logged, non-fatal.
type AssetWarning struct {
	Tag  string
	Type AssetType
}

func (w *AssetWarning) Error() string {
	return fmt.Sprintf("release %s has no %s asset", w.Tag, w.Type)
}

// VerificationWarning reports a failed post-download check. Logged, non-fatal.
type VerificationWarning struct {
	Path string
	Err  error
}

func (w *VerificationWarning) Error() string {
	return fmt.Sprintf("verification of %s failed: %v", w.Path, w.Err)
}
