package executor

import (
	"fmt"
	"math"
	"strings"

	"av1d/internal/probe"
)

// durationToleranceSecs bounds how far the encoded duration may drift
// from the original before the output is rejected.
const durationToleranceSecs = 2.0

// targetVideoCodec is the codec the encoded output must carry.
const targetVideoCodec = "av1"

// ValidateOutput checks an encoded file's probe result against the
// original. The output must carry exactly one video stream, encoded
// with the target codec, and keep the original duration.
func ValidateOutput(original, encoded *probe.Result) error {
	if n := len(encoded.VideoStreams); n != 1 {
		return fmt.Errorf("expected exactly one video stream, found %d", n)
	}
	codec := encoded.VideoStreams[0].Codec
	if !strings.Contains(strings.ToLower(codec), targetVideoCodec) {
		return fmt.Errorf("video codec %q is not %s", codec, targetVideoCodec)
	}

	drift := math.Abs(encoded.Format.DurationSecs - original.Format.DurationSecs)
	if drift > durationToleranceSecs {
		return fmt.Errorf("duration drifted %.2fs (original %.2fs, encoded %.2fs)",
			drift, original.Format.DurationSecs, encoded.Format.DurationSecs)
	}
	return nil
}

// SizeGateReject reports whether the encoded output is too large to
// justify replacing the original. An output exactly at the ratio is
// rejected: the replacement must be a strict improvement.
func SizeGateReject(outputBytes, originalBytes int64, maxRatio float64) bool {
	return float64(outputBytes) >= float64(originalBytes)*maxRatio
}
