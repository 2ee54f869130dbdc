package ipc_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipforge/internal/daemon"
	"clipforge/internal/ipc"
	"clipforge/internal/logging"
	"clipforge/internal/media/ffprobe"
	"clipforge/internal/reclaimer"
	"clipforge/internal/splitter"
	"clipforge/internal/store"
	"clipforge/internal/testsupport"
)

type fixedReader struct{}

func (fixedReader) Read(context.Context, string) (ffprobe.Info, error) {
	return ffprobe.Info{DurationSeconds: 130, VideoStreams: 1}, nil
}

type instantSplitter struct{}

func (instantSplitter) Split(_ context.Context, req splitter.Request) (splitter.Result, error) {
	return splitter.Result{Clips: []*store.Clip{{JobID: req.JobID, Filename: req.JobID + "_clip_1.mp4"}}}, nil
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Reclaimer.Enabled = false
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Store:    st,
		Logger:   logger,
		Reader:   fixedReader{},
		Splitter: instantSplitter{},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}

	socket := filepath.Join(cfg.Paths.DataDir, "ipc-test.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	status, err := client.Status(callCtx)
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.Workers != cfg.Jobs.Workers {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.Sweeps) != len(reclaimer.SweepNames()) {
		t.Fatalf("expected every sweep listed, got %+v", status.Sweeps)
	}

	job := testsupport.NewUploadedJob(t, cfg, st, "jane", "talk.mp4")
	queued, err := client.Process(callCtx, ipc.ProcessRequest{JobID: job.ID, UserID: "jane", RequestedSeconds: 60})
	if err != nil {
		t.Fatalf("Process RPC failed: %v", err)
	}
	if queued.Status == string(store.JobUploaded) || queued.CreditsCharged == 0 {
		t.Fatalf("unexpected queued job: %+v", queued)
	}

	_, err = client.Process(callCtx, ipc.ProcessRequest{JobID: job.ID, UserID: "jane"})
	var fault *ipc.Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected Fault for repeated process, got %v", err)
	}
	if fault.HTTPStatus != 409 || fault.ID == "" || fault.Message == "" {
		t.Fatalf("unexpected conflict fault: %+v", fault)
	}

	_, err = client.Process(callCtx, ipc.ProcessRequest{JobID: "missing", UserID: "jane"})
	if !errors.As(err, &fault) || fault.HTTPStatus != 404 {
		t.Fatalf("expected 404 fault, got %v", err)
	}

	sweep, err := client.RunSweep(callCtx, reclaimer.SweepTemp)
	if err != nil || sweep.Skipped {
		t.Fatalf("RunSweep temp = %+v, %v", sweep, err)
	}
	_, err = client.RunSweep(callCtx, "defrag")
	if !errors.As(err, &fault) || fault.Type != "validation" {
		t.Fatalf("expected validation fault for unknown sweep, got %v", err)
	}

	recent, err := client.RecentErrors(callCtx, 10)
	if err != nil {
		t.Fatalf("RecentErrors RPC failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 recorded errors, got %+v", recent)
	}
	if recent[0].ID != fault.ID {
		t.Fatalf("expected newest error first, got %+v", recent[0])
	}
	records, err := st.RecentErrorRecords(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentErrorRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 persisted error records, got %d", len(records))
	}
}

func TestDialWithoutDaemon(t *testing.T) {
	if _, err := ipc.Dial(filepath.Join(t.TempDir(), "absent.sock")); err == nil {
		t.Fatal("expected dial to fail without a listening daemon")
	}
}
