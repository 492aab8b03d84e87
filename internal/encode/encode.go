// Package encode builds and runs the av1an invocation for one job.
// The encoding profile is fixed; only worker count and paths vary per
// job.
package encode

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Fixed SVT-AV1 parameters. Quality is not configurable: every file in
// the library gets the same profile.
const (
	videoParams = "--crf 8 --preset 3 --film-grain 20 --enable-qm 1 --qm-min 1 --qm-max 15 --keyint 240 --lookahead 40"
	audioParams = "-c:a copy"
)

// stderrTailLimit bounds how much encoder output is kept for the
// failure diagnostic.
const stderrTailLimit = 4096

// Request describes one encode invocation.
type Request struct {
	InputPath  string
	OutputPath string
	Workers    int
	TempDir    string
}

// BuildArgs returns the full av1an argument list for the request. Pure
// so the exact command line can be asserted without running anything.
func BuildArgs(req Request) []string {
	return []string{
		"-i", req.InputPath,
		"-o", req.OutputPath,
		"--encoder", "svt-av1",
		"--pix-format", "yuv420p10le",
		"--video-params", videoParams,
		"--audio-params", audioParams,
		"--workers", strconv.Itoa(req.Workers),
		"--temp", req.TempDir,
	}
}

// Av1an invokes the av1an binary as a subprocess.
type Av1an struct {
	// Bin overrides the binary name, used by startup checks and tests.
	Bin string
}

func (a Av1an) bin() string {
	if a.Bin != "" {
		return a.Bin
	}
	return "av1an"
}

// Encode runs av1an to completion. On failure the returned error
// carries the tail of the encoder's stderr so the job record explains
// what went wrong.
func (a Av1an) Encode(ctx context.Context, req Request) error {
	cmd := exec.CommandContext(ctx, a.bin(), BuildArgs(req)...)

	var stderr tailBuffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("encode %s: %w", req.InputPath, ctx.Err())
		}
		tail := stderr.String()
		if tail != "" {
			return fmt.Errorf("encode %s: %w: %s", req.InputPath, err, tail)
		}
		return fmt.Errorf("encode %s: %w", req.InputPath, err)
	}
	return nil
}

// Version runs `av1an --version` and returns the first output line.
func (a Av1an) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, a.bin(), "--version").Output()
	if err != nil {
		return "", fmt.Errorf("av1an --version: %w", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// tailBuffer keeps only the last stderrTailLimit bytes written.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTailLimit {
		t.buf = t.buf[len(t.buf)-stderrTailLimit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(string(t.buf))
}
