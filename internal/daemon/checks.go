package daemon

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"av1d/internal/encode"
)

// minFFmpegMajor is the oldest ffmpeg release av1an's pipeline is
// known to work with here.
const minFFmpegMajor = 8

// hardwareEncoderTokens identify GPU encode paths. Software-only
// operation is enforced at startup, not per job.
var hardwareEncoderTokens = []string{
	"nvenc", "qsv", "vaapi", "cuda", "amf", "vce", "qsvenc",
}

// CheckEncoderArgs rejects any encoder argument that smells like a
// hardware encode path.
func CheckEncoderArgs(args []string) error {
	for _, arg := range args {
		lower := strings.ToLower(arg)
		for _, token := range hardwareEncoderTokens {
			if strings.Contains(lower, token) {
				return fmt.Errorf("hardware encoding is disallowed: argument %q matches %q", arg, token)
			}
		}
	}
	return nil
}

// ParseFFmpegMajor extracts the major version from `ffmpeg -version`
// output. Distribution builds often prefix the version with "n"
// (n8.0), which is accepted.
func ParseFFmpegMajor(output string) (int, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	fields := strings.Fields(line)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] != "version" {
			continue
		}
		version := strings.TrimPrefix(fields[i+1], "n")
		majorStr, _, _ := strings.Cut(version, ".")
		majorStr = strings.TrimFunc(majorStr, func(r rune) bool { return r < '0' || r > '9' })
		if majorStr == "" {
			break
		}
		major, err := strconv.Atoi(majorStr)
		if err != nil {
			break
		}
		return major, nil
	}
	return 0, fmt.Errorf("cannot parse ffmpeg version from %q", line)
}

// RunStartupChecks verifies the external tools before the daemon
// commits to processing files. Any failure is fatal: a daemon that
// cannot encode correctly must not touch the library.
func RunStartupChecks(ctx context.Context, disallowHardware bool, log zerolog.Logger) error {
	if disallowHardware {
		probe := encode.BuildArgs(encode.Request{InputPath: "in", OutputPath: "out", Workers: 1, TempDir: "tmp"})
		if err := CheckEncoderArgs(probe); err != nil {
			return err
		}
	}

	av1an := encode.Av1an{}
	version, err := av1an.Version(ctx)
	if err != nil {
		return fmt.Errorf("av1an is not usable: %w", err)
	}
	log.Info().Str("av1an", version).Msg("encoder available")

	out, err := exec.CommandContext(ctx, "ffmpeg", "-version").Output()
	if err != nil {
		return fmt.Errorf("ffmpeg is not usable: %w", err)
	}
	major, err := ParseFFmpegMajor(string(out))
	if err != nil {
		return err
	}
	if major < minFFmpegMajor {
		return fmt.Errorf("ffmpeg major version %d is too old, need >= %d", major, minFFmpegMajor)
	}
	log.Info().Int("ffmpeg_major", major).Msg("ffmpeg available")
	return nil
}
