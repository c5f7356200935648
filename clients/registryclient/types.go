package registryclient

import (
	"path"
	"time"
)

// Release is a published release in the artifact registry.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Asset is a single downloadable file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	DownloadURL string `json:"browser_download_url"`
}

// MatchAssets returns every asset whose name matches the glob pattern, in
// release order.
func (r Release) MatchAssets(pattern string) []Asset {
	var matched []Asset
	for _, a := range r.Assets {
		if ok, err := path.Match(pattern, a.Name); err == nil && ok {
			matched = append(matched, a)
		}
	}
	return matched
}
