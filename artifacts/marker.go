package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// markerFile is the filesystem marker recording the last known release, so
// later "latest" lookups resolve without a registry call.
const markerFile = "latest.yaml"

// Marker is the persisted last-known-release record.
type Marker struct {
	Tag         string    `yaml:"tag"`
	Name        string    `yaml:"name"`
	PublishedAt time.Time `yaml:"published_at"`
}

// ReadMarker loads the latest marker from the artifact directory. A missing
// marker is not an error; ok is false.
func ReadMarker(dir string) (Marker, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, markerFile))
	if os.IsNotExist(err) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, fmt.Errorf("failed to read latest marker: %w", err)
	}
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Marker{}, false, fmt.Errorf("failed to parse latest marker: %w", err)
	}
	return m, true, nil
}

// WriteMarker idempotently repoints the latest marker at the given release.
// The marker is replaced atomically via rename.
func WriteMarker(dir string, m Marker) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode latest marker: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	tmp := filepath.Join(dir, "."+markerFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write latest marker: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, markerFile)); err != nil {
		return fmt.Errorf("failed to replace latest marker: %w", err)
	}
	return nil
}
