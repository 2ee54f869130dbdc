package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"clipforge/internal/services"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
	raw     []byte
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		detail := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return Result{}, services.Wrap(services.ErrExternalTool, "ffprobe", "inspect", detail, err)
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "ffprobe", "parse", "", err)
	}
	result.raw = append([]byte(nil), output...)
	return result, nil
}

// RawJSON returns the raw ffprobe JSON payload.
func (r Result) RawJSON() []byte {
	return append([]byte(nil), r.raw...)
}

func (r Result) firstStream(codecType string) (Stream, bool) {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, codecType) {
			return stream, true
		}
	}
	return Stream{}, false
}

func (r Result) countStreams(codecType string) int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, codecType) {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration, falling back to the first
// video stream. It returns 0 when unavailable and NaN when unparseable.
func (r Result) DurationSeconds() float64 {
	duration := parseFloat(r.Format.Duration)
	if duration > 0 || math.IsNaN(duration) {
		return duration
	}
	if video, ok := r.firstStream("video"); ok {
		return parseFloat(video.Duration)
	}
	return duration
}

// SizeBytes returns the reported container size in bytes, or 0 when unavailable.
func (r Result) SizeBytes() int64 {
	size := parseFloat(r.Format.Size)
	if math.IsNaN(size) || size < 0 {
		return 0
	}
	return int64(size)
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}

// Info is the media summary the pipeline works from.
type Info struct {
	DurationSeconds float64
	SizeBytes       int64
	FormatName      string
	VideoCodec      string
	AudioCodec      string
	Width           int
	Height          int
	VideoStreams    int
	AudioStreams    int
	SubtitleStreams int
	Raw             []byte
}

// Summarize reduces a Result to Info. It fails when the source has no video
// stream or no usable duration.
func (r Result) Summarize() (Info, error) {
	info := Info{
		DurationSeconds: r.DurationSeconds(),
		SizeBytes:       r.SizeBytes(),
		FormatName:      r.Format.FormatName,
		VideoStreams:    r.countStreams("video"),
		AudioStreams:    r.countStreams("audio"),
		SubtitleStreams: r.countStreams("subtitle"),
		Raw:             r.RawJSON(),
	}
	if video, ok := r.firstStream("video"); ok {
		info.VideoCodec = video.CodecName
		info.Width = video.Width
		info.Height = video.Height
	}
	if audio, ok := r.firstStream("audio"); ok {
		info.AudioCodec = audio.CodecName
	}
	if info.VideoStreams == 0 {
		return info, services.Wrap(services.ErrExternalTool, "ffprobe", "summarize", "source has no video stream", nil)
	}
	if math.IsNaN(info.DurationSeconds) || info.DurationSeconds <= 0 {
		return info, services.Wrap(services.ErrExternalTool, "ffprobe", "summarize", "source duration unavailable", nil)
	}
	return info, nil
}

// Reader reads media metadata through ffprobe.
type Reader struct {
	binary string
}

// NewReader returns a Reader invoking binary (default "ffprobe").
func NewReader(binary string) *Reader {
	return &Reader{binary: strings.TrimSpace(binary)}
}

// Read inspects path and summarizes it.
func (r *Reader) Read(ctx context.Context, path string) (Info, error) {
	result, err := Inspect(ctx, r.binary, path)
	if err != nil {
		return Info{}, err
	}
	info, err := result.Summarize()
	if err != nil {
		return info, fmt.Errorf("%s: %w", path, err)
	}
	return info, nil
}
