// Package scan discovers candidate video files in the configured
// library roots and verifies they are no longer being written to.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"av1d/internal/skipmark"
)

// videoExtensions is the fixed allow-list of extensions the scanner
// admits, matched case-insensitively.
var videoExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".m4v":  true,
	".ts":   true,
	".m2ts": true,
}

// Candidate is a video file discovered during a scan, captured with
// the size and mtime observed at discovery time.
type Candidate struct {
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// IsVideoFile reports whether path carries one of the allowed video
// extensions.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// Scan walks each library root and returns the candidates found.
// Hidden directories (dot-prefixed) below a root are pruned entirely;
// the root itself is always walked regardless of its name. Files with
// an existing skip marker are excluded. Missing roots are skipped, not
// errors, so one unmounted library does not stall the others.
func Scan(roots []string) []Candidate {
	var candidates []Candidate

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}

		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !IsVideoFile(path) {
				return nil
			}
			if skipmark.Exists(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			candidates = append(candidates, Candidate{
				Path:      path,
				SizeBytes: info.Size(),
				ModTime:   info.ModTime(),
			})
			return nil
		})
	}

	return candidates
}
