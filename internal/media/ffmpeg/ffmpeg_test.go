package ffmpeg_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"clipforge/internal/media/ffmpeg"
	"clipforge/internal/services"
)

type scriptedExecutor struct {
	binary string
	args   []string
	stdout []string
	stderr []string
	err    error
}

func (s *scriptedExecutor) Run(_ context.Context, binary string, args []string, onStdout, onStderr func(string)) error {
	s.binary = binary
	s.args = append([]string(nil), args...)
	for _, line := range s.stdout {
		if onStdout != nil {
			onStdout(line)
		}
	}
	for _, line := range s.stderr {
		if onStderr != nil {
			onStderr(line)
		}
	}
	return s.err
}

func settings() ffmpeg.Settings {
	return ffmpeg.Settings{VideoCodec: "libx264", VideoPreset: "veryfast", VideoCRF: 23, AudioCodec: "aac", AudioBitrate: "128k"}
}

func argValue(args []string, flag string) string {
	idx := slices.Index(args, flag)
	if idx < 0 || idx+1 >= len(args) {
		return ""
	}
	return args[idx+1]
}

func TestSegmentBuildsEncodeArgsAndReportsProgress(t *testing.T) {
	exec := &scriptedExecutor{stdout: []string{
		"frame=10",
		"out_time_us=30000000",
		"progress=continue",
		"out_time_ms=60000000",
		"progress=end",
	}}
	client := ffmpeg.New("", settings(), ffmpeg.WithExecutor(exec))
	out := filepath.Join(t.TempDir(), "clips", "job_clip_2.mp4")

	var reports []ffmpeg.Progress
	err := client.Segment(context.Background(), ffmpeg.SegmentRequest{
		Input:    "/uploads/in.mp4",
		Output:   out,
		Start:    60,
		Duration: 60,
	}, func(p ffmpeg.Progress) { reports = append(reports, p) })
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	if exec.binary != "ffmpeg" {
		t.Fatalf("expected default binary, got %q", exec.binary)
	}
	for flag, want := range map[string]string{
		"-ss":       "60.000",
		"-t":        "60.000",
		"-crf":      "23",
		"-b:a":      "128k",
		"-c:v":      "libx264",
		"-preset":   "veryfast",
		"-progress": "pipe:1",
	} {
		if got := argValue(exec.args, flag); got != want {
			t.Fatalf("%s = %q, want %q (args %v)", flag, got, want, exec.args)
		}
	}
	if slices.Index(exec.args, "-ss") > slices.Index(exec.args, "-i") {
		t.Fatalf("expected input seeking without subtitles: %v", exec.args)
	}
	if exec.args[len(exec.args)-1] != out {
		t.Fatalf("expected output last, got %v", exec.args)
	}

	if len(reports) != 3 {
		t.Fatalf("expected 3 progress reports, got %d: %+v", len(reports), reports)
	}
	if reports[0].Percent != 50 || reports[1].Percent != 100 || !reports[2].Done {
		t.Fatalf("unexpected progress: %+v", reports)
	}
}

func TestSegmentWithSubtitlesBurnsFromSource(t *testing.T) {
	exec := &scriptedExecutor{}
	client := ffmpeg.New("/opt/ffmpeg", settings(), ffmpeg.WithExecutor(exec))
	err := client.Segment(context.Background(), ffmpeg.SegmentRequest{
		Input:     "/uploads/my:video.mkv",
		Output:    filepath.Join(t.TempDir(), "out.mp4"),
		Duration:  30,
		Subtitles: true,
	}, nil)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if got := argValue(exec.args, "-vf"); got != `subtitles=/uploads/my\:video.mkv` {
		t.Fatalf("unexpected filter %q", got)
	}
	if slices.Index(exec.args, "-ss") < slices.Index(exec.args, "-i") {
		t.Fatalf("expected output seeking with subtitles: %v", exec.args)
	}
}

func TestSegmentFailureCarriesStderr(t *testing.T) {
	exec := &scriptedExecutor{
		stderr: []string{"Input #0", "Invalid data found when processing input"},
		err:    errors.New("exit status 1"),
	}
	client := ffmpeg.New("ffmpeg", settings(), ffmpeg.WithExecutor(exec))
	err := client.Segment(context.Background(), ffmpeg.SegmentRequest{
		Input:    "in.mp4",
		Output:   filepath.Join(t.TempDir(), "out.mp4"),
		Duration: 10,
	}, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected stderr detail in error, got %v", err)
	}
}

func TestSegmentRejectsBadRequests(t *testing.T) {
	client := ffmpeg.New("ffmpeg", settings(), ffmpeg.WithExecutor(&scriptedExecutor{}))
	if err := client.Segment(context.Background(), ffmpeg.SegmentRequest{Input: "a", Output: "b"}, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero duration, got %v", err)
	}
}

func TestThumbnailArgs(t *testing.T) {
	exec := &scriptedExecutor{}
	client := ffmpeg.New("ffmpeg", settings(), ffmpeg.WithExecutor(exec))
	out := filepath.Join(t.TempDir(), "thumbs", "c.jpg")
	if err := client.Thumbnail(context.Background(), "clip.mp4", out, 6); err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if argValue(exec.args, "-ss") != "6.000" || argValue(exec.args, "-frames:v") != "1" || argValue(exec.args, "-i") != "clip.mp4" {
		t.Fatalf("unexpected thumbnail args: %v", exec.args)
	}
}
