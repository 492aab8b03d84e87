package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"av1d/internal/skipmark"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func paths(candidates []Candidate) map[string]bool {
	m := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		m[c.Path] = true
	}
	return m
}

func TestIsVideoFile(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/media/movie.mkv", true},
		{"/media/movie.MKV", true},
		{"/media/movie.Mp4", true},
		{"/media/movie.avi", true},
		{"/media/movie.mov", true},
		{"/media/movie.m4v", true},
		{"/media/show.ts", true},
		{"/media/show.m2ts", true},
		{"/media/movie.txt", false},
		{"/media/movie.srt", false},
		{"/media/movie.jpg", false},
		{"/media/movie", false},
	}
	for _, tc := range cases {
		if got := IsVideoFile(tc.path); got != tc.want {
			t.Fatalf("IsVideoFile(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestScan_FiltersByExtension(t *testing.T) {
	root := t.TempDir()
	video := filepath.Join(root, "film.mkv")
	text := filepath.Join(root, "notes.txt")
	writeFile(t, video)
	writeFile(t, text)

	got := paths(Scan([]string{root}))
	if !got[video] {
		t.Fatalf("expected %s in candidates", video)
	}
	if got[text] {
		t.Fatalf("did not expect %s in candidates", text)
	}
}

func TestScan_PrunesHiddenDirectories(t *testing.T) {
	root := t.TempDir()
	visible := filepath.Join(root, "movies", "film.mkv")
	hidden := filepath.Join(root, ".trash", "film.mkv")
	nestedHidden := filepath.Join(root, "movies", ".cache", "deep", "film.mkv")
	writeFile(t, visible)
	writeFile(t, hidden)
	writeFile(t, nestedHidden)

	got := paths(Scan([]string{root}))
	if !got[visible] {
		t.Fatalf("expected %s in candidates", visible)
	}
	if got[hidden] || got[nestedHidden] {
		t.Fatalf("hidden directory contents should be pruned, got %v", got)
	}
}

func TestScan_HiddenRootIsWalked(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, ".library")
	video := filepath.Join(root, "film.mkv")
	writeFile(t, video)

	got := paths(Scan([]string{root}))
	if !got[video] {
		t.Fatal("a dot-named root should still be scanned")
	}
}

func TestScan_ExcludesMarkedFiles(t *testing.T) {
	root := t.TempDir()
	marked := filepath.Join(root, "done.mkv")
	fresh := filepath.Join(root, "fresh.mkv")
	writeFile(t, marked)
	writeFile(t, fresh)
	if err := skipmark.Write(marked); err != nil {
		t.Fatal(err)
	}

	got := paths(Scan([]string{root}))
	if got[marked] {
		t.Fatal("marked file should be excluded")
	}
	if !got[fresh] {
		t.Fatal("unmarked file should be included")
	}
}

func TestScan_MissingRootSkipped(t *testing.T) {
	root := t.TempDir()
	video := filepath.Join(root, "film.mkv")
	writeFile(t, video)

	got := Scan([]string{filepath.Join(root, "no-such-dir"), root})
	if len(got) != 1 || got[0].Path != video {
		t.Fatalf("expected only %s, got %+v", video, got)
	}
}

func TestScan_CapturesSize(t *testing.T) {
	root := t.TempDir()
	video := filepath.Join(root, "film.mkv")
	writeFile(t, video)

	got := Scan([]string{root})
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].SizeBytes != 4 {
		t.Fatalf("size = %d, want 4", got[0].SizeBytes)
	}
	if got[0].ModTime.IsZero() {
		t.Fatal("mod time should be captured")
	}
}

func TestCompareSizes(t *testing.T) {
	if s := CompareSizes(1000, 1000); !s.Stable {
		t.Fatalf("equal sizes should be stable, got %+v", s)
	}
	s := CompareSizes(1000, 2000)
	if s.Stable {
		t.Fatal("growing file should be unstable")
	}
	if s.InitialSize != 1000 || s.CurrentSize != 2000 {
		t.Fatalf("unstable result should carry both sizes, got %+v", s)
	}
	if s := CompareSizes(2000, 1000); s.Stable {
		t.Fatal("shrinking file should be unstable")
	}
}

func TestCheckStability_StableFile(t *testing.T) {
	video := filepath.Join(t.TempDir(), "film.mkv")
	writeFile(t, video)

	s, err := CheckStability(context.Background(), video, 4, time.Millisecond)
	if err != nil {
		t.Fatalf("check stability: %v", err)
	}
	if !s.Stable {
		t.Fatalf("expected stable, got %+v", s)
	}
}

func TestCheckStability_GrowingFile(t *testing.T) {
	video := filepath.Join(t.TempDir(), "film.mkv")
	writeFile(t, video)

	// Initial size recorded before the extra bytes landed.
	s, err := CheckStability(context.Background(), video, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("check stability: %v", err)
	}
	if s.Stable {
		t.Fatal("expected unstable")
	}
	if s.InitialSize != 2 || s.CurrentSize != 4 {
		t.Fatalf("sizes = %+v", s)
	}
}

func TestCheckStability_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.mkv")
	if _, err := CheckStability(context.Background(), missing, 10, time.Millisecond); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCheckStability_Canceled(t *testing.T) {
	video := filepath.Join(t.TempDir(), "film.mkv")
	writeFile(t, video)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CheckStability(ctx, video, 4, time.Hour); err == nil {
		t.Fatal("expected cancellation error")
	}
}
