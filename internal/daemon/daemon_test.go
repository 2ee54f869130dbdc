package daemon_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/credits"
	"clipforge/internal/daemon"
	"clipforge/internal/faults"
	"clipforge/internal/jobs"
	"clipforge/internal/media/ffprobe"
	"clipforge/internal/reclaimer"
	"clipforge/internal/splitter"
	"clipforge/internal/store"
	"clipforge/internal/testsupport"
)

type fixedReader struct{ duration float64 }

func (r fixedReader) Read(context.Context, string) (ffprobe.Info, error) {
	return ffprobe.Info{DurationSeconds: r.duration, VideoStreams: 1}, nil
}

type instantSplitter struct{}

func (instantSplitter) Split(_ context.Context, req splitter.Request) (splitter.Result, error) {
	count := splitter.CountClips(req.SourceDuration, req.ClipSeconds)
	result := splitter.Result{}
	for i := 1; i <= count; i++ {
		result.Clips = append(result.Clips, &store.Clip{JobID: req.JobID, Filename: req.JobID + "_clip.mp4"})
		if req.OnSegment != nil {
			req.OnSegment(i, count)
		}
	}
	return result, nil
}

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *store.Store) {
	t.Helper()
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Store:    st,
		Reader:   fixedReader{duration: 125},
		Splitter: instantSplitter{},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d, st
}

func stubbedConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Reclaimer.Enabled = false
	return cfg
}

func TestDaemonStartStop(t *testing.T) {
	cfg := stubbedConfig(t)
	d, _ := newDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || !status.Jobs.Running {
		t.Fatalf("expected daemon and workers running, got %+v", status)
	}
	if status.LockPath != cfg.LockPath() || status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("unexpected paths: %+v", status)
	}
	if len(status.Dependencies) != 2 {
		t.Fatalf("expected ffmpeg and ffprobe dependency status, got %+v", status.Dependencies)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if status := d.Status(ctx); status.Running || status.Jobs.Running {
		t.Fatalf("expected daemon stopped, got %+v", status)
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	cfg := stubbedConfig(t)
	first, _ := newDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	second, err := daemon.New(daemon.Options{Config: cfg, Store: testsupport.MustOpenStore(t, cfg)})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	err = second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("expected start after release, got %v", err)
	}
	second.Stop()
}

func TestDaemonStartRecoversInterruptedJobs(t *testing.T) {
	cfg := stubbedConfig(t)
	d, st := newDaemon(t, cfg)
	ctx := context.Background()
	job := testsupport.NewUploadedJob(t, cfg, st, "jane", "talk.mp4")

	ledger := credits.NewLedger(st, cfg.Credits.DefaultBalance, nil)
	if _, err := ledger.Debit(ctx, "jane", 3, credits.Meta{JobID: job.ID}); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if err := st.StartProcessing(ctx, job.ID, store.ProcessingStart{DurationSeconds: 125, ClipSeconds: 60, CreditsCharged: 3, Progress: 40}); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	recovered, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if recovered.Status != store.JobFailed || recovered.ErrorMessage != store.InterruptedReason {
		t.Fatalf("expected interrupted job failed, got %+v", recovered)
	}
	balance, err := ledger.Balance(ctx, "jane")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.Remaining != cfg.Credits.DefaultBalance {
		t.Fatalf("expected refund to %d, got %d", cfg.Credits.DefaultBalance, balance.Remaining)
	}
}

func TestDaemonProcess(t *testing.T) {
	cfg := stubbedConfig(t)
	d, st := newDaemon(t, cfg)
	ctx := context.Background()
	job := testsupport.NewUploadedJob(t, cfg, st, "jane", "talk.mp4")
	req := jobs.ProcessRequest{JobID: job.ID, UserID: "jane", RequestedSeconds: 60}

	_, err := d.Process(ctx, req)
	if fault, ok := faults.As(err); !ok || fault.Status() != 503 {
		t.Fatalf("expected 503 while stopped, got %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := d.Process(ctx, req); err != nil {
		t.Fatalf("Process: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		current, err := st.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if current.Status == store.JobCompleted {
			if len(current.Outputs) != 2 {
				t.Fatalf("expected 2 outputs, got %v", current.Outputs)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete, status %s", current.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemonRunSweep(t *testing.T) {
	cfg := stubbedConfig(t)
	d, _ := newDaemon(t, cfg)
	ctx := context.Background()

	report, err := d.RunSweep(ctx, reclaimer.SweepTemp)
	if err != nil || report.Sweep != reclaimer.SweepTemp {
		t.Fatalf("RunSweep temp = %+v, %v", report, err)
	}
	if status := d.Status(ctx); len(status.LastSweeps) != 1 {
		t.Fatalf("expected sweep report in status, got %+v", status.LastSweeps)
	}

	_, err = d.RunSweep(ctx, "defrag")
	if !faults.IsType(err, faults.TypeValidation) {
		t.Fatalf("expected validation fault, got %v", err)
	}
}

func TestDaemonStartFailsPreflight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Media.FFmpegBinary = "clearly-not-present-ffmpeg"
	d, _ := newDaemon(t, cfg)

	err := d.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "FFmpeg") {
		t.Fatalf("expected preflight failure naming FFmpeg, got %v", err)
	}
	if d.Running() {
		t.Fatal("daemon should not be running after failed preflight")
	}
}
