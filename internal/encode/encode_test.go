package encode

import (
	"strings"
	"testing"
)

func TestBuildArgs_FixedProfile(t *testing.T) {
	args := BuildArgs(Request{
		InputPath:  "/media/in.mkv",
		OutputPath: "/work/abc.mkv",
		Workers:    4,
		TempDir:    "/work/tmp",
	})

	want := []string{
		"-i", "/media/in.mkv",
		"-o", "/work/abc.mkv",
		"--encoder", "svt-av1",
		"--pix-format", "yuv420p10le",
		"--video-params", "--crf 8 --preset 3 --film-grain 20 --enable-qm 1 --qm-min 1 --qm-max 15 --keyint 240 --lookahead 40",
		"--audio-params", "-c:a copy",
		"--workers", "4",
		"--temp", "/work/tmp",
	}
	if len(args) != len(want) {
		t.Fatalf("got %d args, want %d: %v", len(args), len(want), args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestBuildArgs_OnlyWorkersAndPathsVary(t *testing.T) {
	a := BuildArgs(Request{InputPath: "/a.mkv", OutputPath: "/x.mkv", Workers: 4, TempDir: "/t"})
	b := BuildArgs(Request{InputPath: "/b.mkv", OutputPath: "/y.mkv", Workers: 8, TempDir: "/u"})

	joinedA := strings.Join(a, " ")
	joinedB := strings.Join(b, " ")
	for _, fixed := range []string{"--crf 8", "--preset 3", "--film-grain 20", "svt-av1", "yuv420p10le", "-c:a copy"} {
		if !strings.Contains(joinedA, fixed) || !strings.Contains(joinedB, fixed) {
			t.Fatalf("fixed parameter %q missing", fixed)
		}
	}
}

func TestTailBuffer_KeepsOnlyTail(t *testing.T) {
	var tb tailBuffer
	filler := strings.Repeat("x", stderrTailLimit)
	if _, err := tb.Write([]byte(filler)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := tb.Write([]byte("final error line")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := tb.String()
	if len(got) > stderrTailLimit {
		t.Fatalf("tail length %d exceeds limit", len(got))
	}
	if !strings.HasSuffix(got, "final error line") {
		t.Fatalf("tail lost the newest output: %q", got[len(got)-40:])
	}
}
