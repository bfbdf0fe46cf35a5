package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArtifactWriter stores failure snapshots on disk
type ArtifactWriter struct {
	dir string
	now func() time.Time
}

// NewArtifactWriter writes into dir, creating it on first use
func NewArtifactWriter(dir string) *ArtifactWriter {
	return &ArtifactWriter{dir: dir, now: time.Now}
}

// Write saves the screenshot as .png and the markup as .html, skipping
// empty parts, and returns the paths written
func (w *ArtifactWriter) Write(name string, snap *Snapshot) ([]string, error) {
	if w == nil || snap == nil {
		return nil, nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	base := fmt.Sprintf("%s-%s", unsafeName.ReplaceAllString(name, "_"), w.now().UTC().Format("20060102T150405.000"))
	var paths []string

	if len(snap.Screenshot) > 0 {
		path := filepath.Join(w.dir, base+".png")
		if err := os.WriteFile(path, snap.Screenshot, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write screenshot: %w", err)
		}
		paths = append(paths, path)
	}

	if snap.HTML != "" {
		path := filepath.Join(w.dir, base+".html")
		if err := os.WriteFile(path, []byte(snap.HTML), 0o644); err != nil {
			return paths, fmt.Errorf("failed to write markup: %w", err)
		}
		paths = append(paths, path)
	}

	return paths, nil
}
