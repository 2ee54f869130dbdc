package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout, onStderr func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Settings holds the fixed encode parameters applied to every segment.
type Settings struct {
	VideoCodec   string
	VideoPreset  string
	VideoCRF     int
	AudioCodec   string
	AudioBitrate string
}

// SettingsFromConfig extracts encode settings from the media section.
func SettingsFromConfig(media config.Media) Settings {
	return Settings{
		VideoCodec:   media.VideoCodec,
		VideoPreset:  media.VideoPreset,
		VideoCRF:     media.VideoCRF,
		AudioCodec:   media.AudioCodec,
		AudioBitrate: media.AudioBitrate,
	}
}

// Client drives the ffmpeg CLI.
type Client struct {
	binary   string
	settings Settings
	exec     Executor
}

// New constructs an ffmpeg client. An empty binary resolves "ffmpeg" from PATH.
func New(binary string, settings Settings, opts ...Option) *Client {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	client := &Client{
		binary:   binary,
		settings: settings,
		exec:     commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// SegmentRequest describes one clip to cut from a source.
type SegmentRequest struct {
	Input     string
	Output    string
	Start     float64
	Duration  float64
	Subtitles bool
}

// Progress is one parsed ffmpeg progress report for the running segment.
type Progress struct {
	Percent float64
	OutTime time.Duration
	Done    bool
}

// Segment re-encodes [Start, Start+Duration) of Input into Output.
func (c *Client) Segment(ctx context.Context, req SegmentRequest, progress func(Progress)) error {
	if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.Output) == "" {
		return services.Wrap(services.ErrValidation, "ffmpeg", "segment", "input and output paths are required", nil)
	}
	if req.Duration <= 0 {
		return services.Wrap(services.ErrValidation, "ffmpeg", "segment", "duration must be positive", nil)
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return services.Wrap(services.ErrFilesystem, "ffmpeg", "segment", "create output directory", err)
	}

	parser := newProgressParser(req.Duration, progress)
	stderr := newTail(8)
	if err := c.exec.Run(ctx, c.binary, c.segmentArgs(req), parser.feed, stderr.add); err != nil {
		return c.failure(ctx, "segment", err, stderr)
	}
	parser.finish()
	return nil
}

func (c *Client) segmentArgs(req SegmentRequest) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	start := formatSeconds(req.Start)
	if req.Subtitles {
		// The subtitles filter reads cue times from the file, so seek after
		// decoding to keep cues aligned with the cut.
		args = append(args, "-i", req.Input, "-ss", start)
	} else {
		args = append(args, "-ss", start, "-i", req.Input)
	}
	args = append(args,
		"-t", formatSeconds(req.Duration),
		"-map", "0:v:0",
		"-map", "0:a:0?",
	)
	if req.Subtitles {
		args = append(args, "-vf", "subtitles="+escapeFilterPath(req.Input))
	}
	s := c.settings
	args = append(args, "-c:v", valueOr(s.VideoCodec, "libx264"))
	if s.VideoPreset != "" {
		args = append(args, "-preset", s.VideoPreset)
	}
	args = append(args,
		"-crf", strconv.Itoa(s.VideoCRF),
		"-c:a", valueOr(s.AudioCodec, "aac"),
		"-b:a", valueOr(s.AudioBitrate, "128k"),
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		req.Output,
	)
	return args
}

// Thumbnail captures a single frame at atSeconds into output.
func (c *Client) Thumbnail(ctx context.Context, input, output string, atSeconds float64) error {
	if strings.TrimSpace(input) == "" || strings.TrimSpace(output) == "" {
		return services.Wrap(services.ErrValidation, "ffmpeg", "thumbnail", "input and output paths are required", nil)
	}
	if atSeconds < 0 {
		atSeconds = 0
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return services.Wrap(services.ErrFilesystem, "ffmpeg", "thumbnail", "create output directory", err)
	}
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", formatSeconds(atSeconds),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		output,
	}
	stderr := newTail(8)
	if err := c.exec.Run(ctx, c.binary, args, nil, stderr.add); err != nil {
		return c.failure(ctx, "thumbnail", err, stderr)
	}
	return nil
}

func (c *Client) failure(ctx context.Context, operation string, err error, stderr *tail) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return services.Wrap(services.ErrTimeout, "ffmpeg", operation, "interrupted", ctxErr)
	}
	return services.Wrap(services.ErrExternalTool, "ffmpeg", operation, stderr.last(), err)
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 3, 64)
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func escapeFilterPath(path string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`, `,`, `\,`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(path)
}

// progressParser turns -progress key=value lines into Progress callbacks.
type progressParser struct {
	total    float64
	callback func(Progress)
	done     bool
}

func newProgressParser(totalSeconds float64, callback func(Progress)) *progressParser {
	return &progressParser{total: totalSeconds, callback: callback}
}

func (p *progressParser) feed(line string) {
	if p == nil || p.callback == nil {
		return
	}
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports microseconds under both keys.
		micros, err := strconv.ParseFloat(value, 64)
		if err != nil || micros < 0 {
			return
		}
		outTime := time.Duration(micros) * time.Microsecond
		p.callback(Progress{Percent: p.percent(outTime), OutTime: outTime})
	case "progress":
		if value == "end" {
			p.emitDone()
		}
	}
}

func (p *progressParser) finish() {
	if p == nil || p.callback == nil {
		return
	}
	p.emitDone()
}

func (p *progressParser) emitDone() {
	if p.done {
		return
	}
	p.done = true
	p.callback(Progress{Percent: 100, OutTime: time.Duration(p.total * float64(time.Second)), Done: true})
}

func (p *progressParser) percent(outTime time.Duration) float64 {
	if p.total <= 0 {
		return 0
	}
	ratio := outTime.Seconds() / p.total
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio * 100
}

// tail keeps the last few non-empty lines of a stream.
type tail struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newTail(limit int) *tail {
	return &tail{limit: limit}
}

func (t *tail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

func (t *tail) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == 0 {
		return ""
	}
	return t.lines[len(t.lines)-1]
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout, onStderr func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var (
		wg      sync.WaitGroup
		scanErr error
		once    sync.Once
	)
	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if forward != nil {
				forward(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}

	wg.Add(2)
	go scan(stdout, onStdout)
	go scan(stderr, onStderr)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
