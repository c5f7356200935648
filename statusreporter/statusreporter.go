// Package statusreporter aggregates the state other components export to
// disk — the provisioning output record and the latest release marker —
// into a human-readable summary. It degrades gracefully: any missing piece
// of state is reported as "not available", never as an error.
package statusreporter

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"kairosdeploy/artifacts"
)

// NotAvailable is the placeholder for any state that could not be read.
const NotAvailable = "not available"

// addressKeys are the provisioning output keys probed, in order, for the
// machine's network address.
var addressKeys = []string{"ip_address", "ipv4_address", "address"}

// Summary is the aggregated deployment state.
type Summary struct {
	Name      string
	Node      string
	Address   string
	Cores     string
	Memory    string
	Disk      string
	Tags      []string
	ImageTag  string
	Published string
}

// Reporter builds summaries from exported on-disk state.
type Reporter struct {
	outputsPath string
	artifactDir string
	logger      *slog.Logger
}

// New creates a reporter over the provisioning output record at outputsPath
// and the artifact directory holding the latest marker.
func New(outputsPath, artifactDir string, logger *slog.Logger) *Reporter {
	return &Reporter{
		outputsPath: outputsPath,
		artifactDir: artifactDir,
		logger:      logger.With("component", "statusreporter"),
	}
}

// Summarize reads whatever state exists and fills placeholders for the rest.
func (r *Reporter) Summarize() Summary {
	s := Summary{
		Name:      NotAvailable,
		Node:      NotAvailable,
		Address:   NotAvailable,
		Cores:     NotAvailable,
		Memory:    NotAvailable,
		Disk:      NotAvailable,
		ImageTag:  NotAvailable,
		Published: NotAvailable,
	}

	outputs, err := ReadOutputs(r.outputsPath)
	if err != nil {
		r.logger.Warn("provisioning output record unavailable", "path", r.outputsPath, "error", err)
	} else {
		fill(&s.Name, outputs, "name")
		fill(&s.Node, outputs, "node")
		fill(&s.Cores, outputs, "cores")
		fill(&s.Memory, outputs, "memory")
		fill(&s.Disk, outputs, "disk")
		if addr := FirstAddress(outputs); addr != "" {
			s.Address = addr
		}
		if tags := outputs["tags"]; tags != "" {
			s.Tags = strings.Split(tags, ",")
			for i := range s.Tags {
				s.Tags[i] = strings.TrimSpace(s.Tags[i])
			}
		}
	}

	marker, ok, err := artifacts.ReadMarker(r.artifactDir)
	if err != nil {
		r.logger.Warn("latest marker unreadable", "error", err)
	} else if ok {
		s.ImageTag = marker.Tag
		if !marker.PublishedAt.IsZero() {
			s.Published = marker.PublishedAt.Format("2006-01-02")
		}
	}

	return s
}

// FirstAddress returns the first non-empty address candidate from a
// provisioning output record.
func FirstAddress(outputs map[string]string) string {
	for _, key := range addressKeys {
		if v := strings.TrimSpace(outputs[key]); v != "" {
			return v
		}
	}
	return ""
}

// ReadOutputs loads a provisioning output record exported by an earlier run.
func ReadOutputs(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]string)
	if err := yaml.Unmarshal(data, &outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}

func fill(dst *string, outputs map[string]string, key string) {
	if v := strings.TrimSpace(outputs[key]); v != "" {
		*dst = v
	}
}

// Write renders the summary to w.
func (s Summary) Write(w io.Writer) {
	fmt.Fprintf(w, "Deployment status\n")
	fmt.Fprintf(w, "  Name:      %s\n", s.Name)
	fmt.Fprintf(w, "  Node:      %s\n", s.Node)
	fmt.Fprintf(w, "  Address:   %s\n", s.Address)
	fmt.Fprintf(w, "  Cores:     %s\n", s.Cores)
	fmt.Fprintf(w, "  Memory:    %s\n", s.Memory)
	fmt.Fprintf(w, "  Disk:      %s\n", s.Disk)
	tags := NotAvailable
	if len(s.Tags) > 0 {
		tags = strings.Join(s.Tags, ", ")
	}
	fmt.Fprintf(w, "  Tags:      %s\n", tags)
	fmt.Fprintf(w, "  Image:     %s (published %s)\n", s.ImageTag, s.Published)
}
