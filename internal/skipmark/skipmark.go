// Package skipmark writes and checks the sidecar files that keep a
// media file out of future scans: an empty .av1skip marker and an
// optional human-readable .why.txt reason.
package skipmark

import (
	"fmt"
	"os"
)

const (
	markerSuffix  = ".av1skip"
	sidecarSuffix = ".why.txt"
)

// MarkerPath returns the skip marker path for a media file:
// /media/movie.mkv -> /media/movie.mkv.av1skip
func MarkerPath(mediaPath string) string {
	return mediaPath + markerSuffix
}

// SidecarPath returns the why-sidecar path for a media file:
// /media/movie.mkv -> /media/movie.mkv.why.txt
func SidecarPath(mediaPath string) string {
	return mediaPath + sidecarSuffix
}

// Exists reports whether a skip marker is present. Presence is a plain
// stat; content never matters.
func Exists(mediaPath string) bool {
	_, err := os.Stat(MarkerPath(mediaPath))
	return err == nil
}

// Write creates an empty marker next to the media file.
func Write(mediaPath string) error {
	f, err := os.Create(MarkerPath(mediaPath))
	if err != nil {
		return fmt.Errorf("write skip marker for %s: %w", mediaPath, err)
	}
	return f.Close()
}

// WriteSidecar records the skip reason next to the media file. It is a
// no-op unless enabled by configuration.
func WriteSidecar(mediaPath, reason string, enabled bool) error {
	if !enabled {
		return nil
	}
	if err := os.WriteFile(SidecarPath(mediaPath), []byte(reason+"\n"), 0o644); err != nil {
		return fmt.Errorf("write why sidecar for %s: %w", mediaPath, err)
	}
	return nil
}
