package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Cleanup removes version directories beyond the keepN most recent by
// version ordering, not file timestamp. The directory the latest marker
// targets is never removed, even when it falls outside the retention window.
func (f *Fetcher) Cleanup(keepN int) ([]string, error) {
	if keepN < 1 {
		return nil, fmt.Errorf("retention count must be at least 1, got %d", keepN)
	}

	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	var tags []string
	for _, e := range entries {
		if e.IsDir() {
			tags = append(tags, e.Name())
		}
	}

	sort.Slice(tags, func(i, j int) bool {
		return compareVersions(tags[i], tags[j]) > 0
	})

	marker, hasMarker, err := ReadMarker(f.dir)
	if err != nil {
		return nil, err
	}

	var removed []string
	for i, tag := range tags {
		if i < keepN {
			continue
		}
		if hasMarker && tag == marker.Tag {
			f.logger.Info("retaining latest marker target", "tag", tag)
			continue
		}
		if err := os.RemoveAll(filepath.Join(f.dir, tag)); err != nil {
			return removed, fmt.Errorf("failed to remove version %s: %w", tag, err)
		}
		f.logger.Info("removed old version", "tag", tag)
		removed = append(removed, tag)
	}
	return removed, nil
}

// compareVersions orders two tags like "v1.2.3" numerically per component,
// falling back to lexical comparison for non-numeric parts. Returns >0 when
// a is newer than b.
func compareVersions(a, b string) int {
	pa := strings.Split(strings.TrimPrefix(a, "v"), ".")
	pb := strings.Split(strings.TrimPrefix(b, "v"), ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var sa, sb string
		if i < len(pa) {
			sa = pa[i]
		}
		if i < len(pb) {
			sb = pb[i]
		}
		na, erra := strconv.Atoi(sa)
		nb, errb := strconv.Atoi(sb)
		switch {
		case erra == nil && errb == nil:
			if na != nb {
				return na - nb
			}
		default:
			if c := strings.Compare(sa, sb); c != 0 {
				return c
			}
		}
	}
	return 0
}
