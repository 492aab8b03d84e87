// Package classify labels a probed file as web-sourced or disc-sourced
// from release-name keywords and the bitrate-to-resolution ratio.
package classify

import (
	"strings"

	"av1d/internal/probe"
)

// SourceType is the provenance label attached to every admitted file.
type SourceType string

const (
	WebLike  SourceType = "web_like"
	DiscLike SourceType = "disc_like"
	Unknown  SourceType = "unknown"
)

// webKeywords mark streaming rips and web downloads in release names.
var webKeywords = []string{
	"webrip", "web-rip", "webdl", "web-dl", "web.dl", "web.rip",
	"amzn", "amazon", "nf", "netflix", "hulu", "dsnp", "disney",
	"atvp", "appletv", "hmax", "hbo", "pcok", "peacock",
	"pmtp", "paramount", "stan", "it", "hdtv", "pdtv",
	"webhd", "web", "streaming",
}

// discKeywords mark Blu-ray and DVD sourced releases.
var discKeywords = []string{
	"bluray", "blu-ray", "bdrip", "bd-rip", "brrip", "br-rip",
	"remux", "bdremux", "bd.remux", "dvdrip", "dvd-rip", "dvd",
	"uhd", "ultrahd", "4k.uhd", "hddvd", "hd-dvd",
}

// bitrateThresholdKbpsPerMP splits web from disc content when the path
// gives no hint. Web 1080p tends to land at 1000-4000 kbps/MP, disc
// content at 10000-20000.
const bitrateThresholdKbpsPerMP = 6000.0

// Source labels the file. Path keywords win over the bitrate
// heuristic; ambiguous evidence yields Unknown. The function is total
// and deterministic.
func Source(path string, pr *probe.Result) SourceType {
	lower := strings.ToLower(path)

	if containsAny(lower, webKeywords) {
		return WebLike
	}
	if containsAny(lower, discKeywords) {
		return DiscLike
	}

	return byBitrateRatio(pr)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func byBitrateRatio(pr *probe.Result) SourceType {
	if len(pr.VideoStreams) == 0 {
		return Unknown
	}
	vs := pr.VideoStreams[0]

	if vs.BitrateKbps == nil || *vs.BitrateKbps <= 0 {
		return Unknown
	}
	if vs.Width <= 0 || vs.Height <= 0 {
		return Unknown
	}

	megapixels := float64(vs.Width) * float64(vs.Height) / 1e6
	if *vs.BitrateKbps/megapixels < bitrateThresholdKbpsPerMP {
		return WebLike
	}
	return DiscLike
}
