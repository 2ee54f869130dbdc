package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"clipforge/internal/config"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := writeStub(t, binDir, "present", "exit 0")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
	if missing := Missing(results); len(missing) != 2 {
		t.Fatalf("expected 2 missing, got %d", len(missing))
	}
}

func TestCheckBinariesReadsVersion(t *testing.T) {
	binDir := t.TempDir()
	ffmpeg := writeStub(t, binDir, "ffmpeg", `echo "ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers"`)
	broken := writeStub(t, binDir, "ffprobe", "exit 3")

	results := CheckBinaries(context.Background(), MediaRequirements(config.Media{FFmpegBinary: ffmpeg, FFprobeBinary: broken}))
	if results[0].Version != "6.1.1-3ubuntu5" {
		t.Fatalf("unexpected ffmpeg version %q", results[0].Version)
	}
	if !results[1].Available || results[1].Version != "" || results[1].Detail == "" {
		t.Fatalf("expected failed probe recorded in detail, got %#v", results[1])
	}
}

func TestParseVersionLine(t *testing.T) {
	cases := map[string]string{
		"ffprobe version n7.0 Copyright": "n7.0",
		"  custom build 2  ":             "custom build 2",
		"version":                        "version",
	}
	for line, want := range cases {
		if got := parseVersionLine(line); got != want {
			t.Fatalf("parseVersionLine(%q) = %q, want %q", line, got, want)
		}
	}
}
