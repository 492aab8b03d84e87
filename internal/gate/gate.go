// Package gate applies the admission rules that decide whether a
// probed candidate enters the encode pipeline.
package gate

import (
	"fmt"
	"strings"

	"av1d/internal/probe"
)

// Config carries the thresholds the gates evaluate against.
type Config struct {
	MinBytes int64
}

// Result is either an admission carrying the probe metadata forward,
// or a skip with a reason destined for the why sidecar.
type Result struct {
	Pass   bool
	Probe  *probe.Result
	Reason string
}

func skip(reason string) Result {
	return Result{Reason: reason}
}

// Check evaluates the gates in priority order. The order is fixed: a
// tiny audio-only file reports "no video streams", not the size gate.
func Check(pr *probe.Result, fileSize int64, cfg Config) Result {
	if len(pr.VideoStreams) == 0 {
		return skip("no video streams")
	}

	if fileSize < cfg.MinBytes {
		return skip(fmt.Sprintf("below minimum size (%d bytes < %d bytes)", fileSize, cfg.MinBytes))
	}

	if strings.Contains(strings.ToLower(pr.VideoStreams[0].Codec), "av1") {
		return skip("already AV1")
	}

	return Result{Pass: true, Probe: pr}
}
