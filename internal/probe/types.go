package probe

// VideoStream holds the parsed properties of a single video stream.
type VideoStream struct {
	Codec       string   `json:"codec_name"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	BitrateKbps *float64 `json:"bitrate_kbps,omitempty"`
}

// AudioStream holds the parsed properties of a single audio stream.
type AudioStream struct {
	Codec    string `json:"codec_name"`
	Channels int    `json:"channels"`
}

// FormatInfo holds container-level metadata from ffprobe's format section.
type FormatInfo struct {
	DurationSecs float64 `json:"duration_secs"`
	SizeBytes    int64   `json:"size_bytes"`
}

// Result is the stream and format metadata captured for one file.
// It is immutable once captured and embedded into the job record.
type Result struct {
	VideoStreams []VideoStream `json:"video_streams"`
	AudioStreams []AudioStream `json:"audio_streams"`
	Format       FormatInfo    `json:"format"`
}
