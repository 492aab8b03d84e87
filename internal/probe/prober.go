// Package probe shells out to ffprobe and parses its JSON output into
// the stream and format metadata the gate checker and validator need.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Prober is the probing boundary. Implementations return metadata for
// a media file or an error when the file cannot be probed.
type Prober interface {
	Probe(ctx context.Context, path string) (*Result, error)
}

// FFprobe probes files with the ffprobe binary.
type FFprobe struct {
	// Bin overrides the binary name, defaulting to "ffprobe".
	Bin string
}

func (p FFprobe) bin() string {
	if p.Bin != "" {
		return p.Bin
	}
	return "ffprobe"
}

// Probe runs a single ffprobe JSON call against path.
func (p FFprobe) Probe(ctx context.Context, path string) (*Result, error) {
	cmd := exec.CommandContext(ctx, p.bin(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams", "-show_format",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe %q: %w: %s", path, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}

	return ParseJSON(out)
}

// ParseJSON converts raw ffprobe JSON output into a Result.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (*Result, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	if raw.Format == nil {
		return nil, fmt.Errorf("parse ffprobe JSON: missing format section")
	}
	return buildResult(&raw), nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  *ffprobeFormat  `json:"format"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	BitRate   string `json:"bit_rate"`
	Channels  int    `json:"channels"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

func buildResult(raw *ffprobeOutput) *Result {
	res := &Result{}

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			vs := VideoStream{
				Codec:  s.CodecName,
				Width:  s.Width,
				Height: s.Height,
			}
			if bps, err := strconv.ParseFloat(s.BitRate, 64); err == nil {
				kbps := bps / 1000.0
				vs.BitrateKbps = &kbps
			}
			res.VideoStreams = append(res.VideoStreams, vs)
		case "audio":
			res.AudioStreams = append(res.AudioStreams, AudioStream{
				Codec:    s.CodecName,
				Channels: s.Channels,
			})
		}
	}

	if d, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
		res.Format.DurationSecs = d
	}
	if sz, err := strconv.ParseInt(raw.Format.Size, 10, 64); err == nil {
		res.Format.SizeBytes = sz
	}

	return res
}
