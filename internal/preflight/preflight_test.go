package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"clipforge/internal/deps"
	"clipforge/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpaceIsAdvisory(t *testing.T) {
	dir := t.TempDir()
	result := CheckFreeSpace("space", dir, 0)
	if !result.Passed || !result.Advisory {
		t.Fatalf("expected advisory pass with no threshold, got %+v", result)
	}
	strict := CheckFreeSpace("space", dir, 0.0001)
	if !strict.Advisory {
		t.Fatalf("expected advisory result, got %+v", strict)
	}
	if len(Failed([]Result{strict})) != 0 {
		t.Fatal("advisory results must not block")
	}
}

func TestRunAllWithStubbedBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	results := RunAll(context.Background(), cfg)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected all blocking checks to pass, got %+v", failed)
	}
}

func TestRunAllReportsMissingBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Media.FFmpegBinary = "clearly-not-present-ffmpeg"
	cfg.Media.FFprobeBinary = "clearly-not-present-ffprobe"

	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 2 {
		t.Fatalf("expected both binaries to fail, got %+v", failed)
	}
	if failed[0].Name != "FFmpeg" || failed[1].Name != "FFprobe" {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestFromDependency(t *testing.T) {
	result := FromDependency(deps.Status{Name: "FFmpeg", Command: "/usr/bin/ffmpeg", Available: true, Version: "7.1"})
	if !result.Passed || result.Detail != "/usr/bin/ffmpeg (7.1)" {
		t.Fatalf("unexpected result: %+v", result)
	}
	optional := FromDependency(deps.Status{Name: "extra", Optional: true, Detail: "missing"})
	if optional.Passed || !optional.Advisory {
		t.Fatalf("expected optional dependency to be advisory, got %+v", optional)
	}
}
