package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/credits"
	"clipforge/internal/faults"
	"clipforge/internal/jobs"
	"clipforge/internal/media/ffmpeg"
	"clipforge/internal/media/ffprobe"
	"clipforge/internal/splitter"
	"clipforge/internal/store"
	"clipforge/internal/testsupport"
)

type fakeReader struct {
	duration float64
	err      error
}

func (f fakeReader) Read(context.Context, string) (ffprobe.Info, error) {
	if f.err != nil {
		return ffprobe.Info{}, f.err
	}
	return ffprobe.Info{DurationSeconds: f.duration, VideoStreams: 1}, nil
}

// gatedSplitter reports the first segment, then waits for the gate before
// consulting Continue and finishing.
type gatedSplitter struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	err   error
}

func (g *gatedSplitter) Split(ctx context.Context, req splitter.Request) (splitter.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	req.OnSegment(1, 2)
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return splitter.Result{}, ctx.Err()
		}
	}
	if req.Continue != nil {
		proceed, err := req.Continue(ctx)
		if err != nil {
			return splitter.Result{}, err
		}
		if !proceed {
			return splitter.Result{}, splitter.ErrStopped
		}
	}
	if g.err != nil {
		return splitter.Result{}, g.err
	}
	req.OnSegment(2, 2)
	return splitter.Result{Clips: []*store.Clip{{Filename: req.JobID + "_clip_1.mp4"}, {Filename: req.JobID + "_clip_2.mp4"}}}, nil
}

func (g *gatedSplitter) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fileTranscoder struct{}

func (fileTranscoder) Segment(_ context.Context, req ffmpeg.SegmentRequest, _ func(ffmpeg.Progress)) error {
	return os.WriteFile(req.Output, make([]byte, 256), 0o644)
}

func (fileTranscoder) Thumbnail(_ context.Context, _, output string, _ float64) error {
	return os.WriteFile(output, []byte("jpg"), 0o644)
}

type env struct {
	cfg     *config.Config
	store   *store.Store
	ledger  *credits.Ledger
	errors  *faults.Handler
	manager *jobs.Manager
}

// gatedTranscoder blocks the first segment until gate is closed.
type gatedTranscoder struct {
	fileTranscoder
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedTranscoder() *gatedTranscoder {
	return &gatedTranscoder{started: make(chan struct{}), gate: make(chan struct{})}
}

func (g *gatedTranscoder) Segment(ctx context.Context, req ffmpeg.SegmentRequest, progress func(ffmpeg.Progress)) error {
	g.once.Do(func() {
		close(g.started)
		<-g.gate
	})
	return g.fileTranscoder.Segment(ctx, req, progress)
}

func (g *gatedTranscoder) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the first segment")
	}
}

func newEnv(t *testing.T, reader jobs.MetadataReader, split jobs.Splitter, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	return buildEnv(t, reader, split, fileTranscoder{}, opts...)
}

// newTranscodingEnv runs the real splitter over the given transcoder.
func newTranscodingEnv(t *testing.T, reader jobs.MetadataReader, transcoder splitter.Transcoder, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	return buildEnv(t, reader, nil, transcoder, opts...)
}

func buildEnv(t *testing.T, reader jobs.MetadataReader, split jobs.Splitter, transcoder splitter.Transcoder, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	ledger := credits.NewLedger(st, cfg.Credits.DefaultBalance, nil)
	handler := faults.NewHandler(faults.Options{Sink: st})
	if split == nil {
		split = splitter.New(splitter.Options{
			Transcoder:   transcoder,
			Sink:         st,
			ClipDir:      cfg.Paths.ClipDir,
			ThumbnailDir: cfg.Paths.ThumbnailDir,
		})
	}
	mgr := jobs.NewManager(jobs.Options{
		Config:   cfg,
		Store:    st,
		Ledger:   ledger,
		Reader:   reader,
		Splitter: split,
		Errors:   handler,
	})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return &env{cfg: cfg, store: st, ledger: ledger, errors: handler, manager: mgr}
}

func (e *env) upload(t *testing.T, user string) *store.Job {
	t.Helper()
	path := filepath.Join(e.cfg.Paths.UploadDir, user+"-source.mp4")
	testsupport.WriteFile(t, path, 2048)
	job, err := e.manager.CreateFromUpload(context.Background(), jobs.UploadEvent{UserID: user, Path: path, RawMetadata: `{"name":"source.mp4"}`})
	if err != nil {
		t.Fatalf("CreateFromUpload: %v", err)
	}
	return job
}

func (e *env) remaining(t *testing.T, user string) int64 {
	t.Helper()
	balance, err := e.ledger.Balance(context.Background(), user)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return balance.Remaining
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (e *env) waitForStatus(t *testing.T, id string, want store.JobStatus) *store.Job {
	t.Helper()
	var job *store.Job
	waitFor(t, "job status "+string(want), func() bool {
		current, err := e.store.GetJob(context.Background(), id)
		if err != nil || current == nil {
			return false
		}
		job = current
		return current.Status == want
	})
	return job
}

func (e *env) waitIdle(t *testing.T) {
	t.Helper()
	waitFor(t, "idle workers", func() bool {
		status := e.manager.Status()
		return status.Active == 0 && status.Queued == 0
	})
}

func TestCreateFromUpload(t *testing.T) {
	e := newEnv(t, fakeReader{duration: 60}, &gatedSplitter{})
	job := e.upload(t, "alice")
	if job.Status != store.JobUploaded || job.InputSize != 2048 || job.RawMetadata == "" {
		t.Fatalf("unexpected job: %+v", job)
	}

	_, err := e.manager.CreateFromUpload(context.Background(), jobs.UploadEvent{UserID: "alice", Path: filepath.Join(e.cfg.Paths.UploadDir, "missing.mp4")})
	if !faults.IsType(err, faults.TypeFilesystem) {
		t.Fatalf("expected filesystem error for missing upload, got %v", err)
	}
	_, err = e.manager.CreateFromUpload(context.Background(), jobs.UploadEvent{Path: "/tmp/x"})
	if !faults.IsType(err, faults.TypeValidation) {
		t.Fatalf("expected validation error without user, got %v", err)
	}
}

func TestProcessProducesClipsAndCharges(t *testing.T) {
	e := newEnv(t, fakeReader{duration: 125}, nil)
	job := e.upload(t, "alice")

	started, err := e.manager.RequestProcess(context.Background(), jobs.ProcessRequest{JobID: job.ID, UserID: "alice", RequestedSeconds: 60, ClipCount: 3})
	if err != nil {
		t.Fatalf("RequestProcess: %v", err)
	}
	if started.Status == store.JobUploaded || started.CreditsCharged != 3 {
		t.Fatalf("unexpected job after request: %+v", started)
	}

	done := e.waitForStatus(t, job.ID, store.JobCompleted)
	if done.Progress != 100 || len(done.Outputs) != 2 || done.CompletedAt == nil {
		t.Fatalf("unexpected completed job: %+v", done)
	}
	if done.Outputs[0] != job.ID+"_clip_1.mp4" {
		t.Fatalf("unexpected outputs: %v", done.Outputs)
	}
	if got := e.remaining(t, "alice"); got != 7 {
		t.Fatalf("remaining = %d, want 7", got)
	}
	clips, err := e.manager.Clips(context.Background(), job.ID)
	if err != nil || len(clips) != 2 {
		t.Fatalf("Clips = %d, %v", len(clips), err)
	}
	history, _ := e.ledger.History(context.Background(), "alice", 10, 0)
	if len(history) != 1 || history[0].Type != store.TransactionSpent || history[0].JobID != job.ID {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestProcessInsufficientCreditsAbortsBeforeTranscoding(t *testing.T) {
	split := &gatedSplitter{}
	e := newEnv(t, fakeReader{duration: 650}, split, testsupport.WithDefaultBalance(2))
	job := e.upload(t, "bob")

	_, err := e.manager.RequestProcess(context.Background(), jobs.ProcessRequest{JobID: job.ID})
	if !faults.IsType(err, faults.TypeCreditSystem) {
		t.Fatalf("expected credit-system error, got %v", err)
	}
	current, _ := e.store.GetJob(context.Background(), job.ID)
	if current.Status != store.JobUploaded {
		t.Fatalf("job status = %s, want uploaded", current.Status)
	}
	if got := e.remaining(t, "bob"); got != 2 {
		t.Fatalf("remaining = %d, want 2", got)
	}
	e.waitIdle(t)
	if split.Calls() != 0 {
		t.Fatalf("splitter ran %d times for an unfunded job", split.Calls())
	}
}

func TestProcessValidation(t *testing.T) {
	e := newEnv(t, fakeReader{duration: 8}, &gatedSplitter{})
	job := e.upload(t, "carol")
	ctx := context.Background()

	if _, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: job.ID}); !faults.IsType(err, faults.TypeValidation) {
		t.Fatalf("expected validation error for short source, got %v", err)
	}
	if _, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: job.ID, CustomSeconds: 5}); !faults.IsType(err, faults.TypeValidation) {
		t.Fatalf("expected validation error for short clip length, got %v", err)
	}
	if _, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: job.ID, UserID: "mallory"}); !faults.IsType(err, faults.TypeAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	_, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: "missing"})
	if fe, ok := faults.As(err); !ok || fe.Status() != 404 {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if got := e.remaining(t, "carol"); got != 10 {
		t.Fatalf("remaining = %d, want 10", got)
	}
}

func TestClipLengthErrorWithoutUpperBound(t *testing.T) {
	e := newEnv(t, fakeReader{duration: 120}, &gatedSplitter{})
	e.cfg.Media.MaxClipSeconds = 0
	job := e.upload(t, "kim")

	_, err := e.manager.RequestProcess(context.Background(), jobs.ProcessRequest{JobID: job.ID, CustomSeconds: 5})
	fe, ok := faults.As(err)
	if !ok || fe.Type != faults.TypeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(fe.Message, "at least 10s") || strings.Contains(fe.Message, "-0s") {
		t.Fatalf("unexpected message %q", fe.Message)
	}
	if _, err := e.manager.RequestProcess(context.Background(), jobs.ProcessRequest{JobID: job.ID, CustomSeconds: 7200}); err != nil {
		t.Fatalf("expected long clip accepted without an upper bound, got %v", err)
	}
}

func TestProcessRejectsJobAlreadyProcessing(t *testing.T) {
	split := &gatedSplitter{gate: make(chan struct{})}
	e := newEnv(t, fakeReader{duration: 120}, split)
	job := e.upload(t, "dave")
	ctx := context.Background()

	if _, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: job.ID}); err != nil {
		t.Fatalf("first RequestProcess: %v", err)
	}
	waitFor(t, "segment progress", func() bool {
		current, _ := e.store.GetJob(ctx, job.ID)
		return current != nil && current.Progress == 50
	})

	_, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: job.ID})
	if fe, ok := faults.As(err); !ok || fe.Status() != 409 {
		t.Fatalf("expected conflict for second request, got %v", err)
	}
	close(split.gate)
	e.waitForStatus(t, job.ID, store.JobCompleted)
	if split.Calls() != 1 {
		t.Fatalf("splitter calls = %d, want 1", split.Calls())
	}
}

func TestFailedJobIsRefunded(t *testing.T) {
	cause := faults.New(faults.TypeMediaProcessing, "segment 1/2: transcode failed")
	e := newEnv(t, fakeReader{duration: 120}, &gatedSplitter{err: cause})
	job := e.upload(t, "erin")

	if _, err := e.manager.RequestProcess(context.Background(), jobs.ProcessRequest{JobID: job.ID}); err != nil {
		t.Fatalf("RequestProcess: %v", err)
	}
	failed := e.waitForStatus(t, job.ID, store.JobFailed)
	if failed.ErrorMessage == "" {
		t.Fatal("expected failure message on job")
	}
	waitFor(t, "refund", func() bool { return e.remaining(t, "erin") == 10 })

	recent := e.errors.Recent(10)
	if len(recent) != 1 || recent[0].Type != faults.TypeMediaProcessing {
		t.Fatalf("unexpected recent errors: %+v", recent)
	}
	records, err := e.store.RecentErrorRecords(context.Background(), 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("RecentErrorRecords = %d, %v", len(records), err)
	}
}

func TestFailedJobWithoutRefund(t *testing.T) {
	e := newEnv(t, fakeReader{duration: 120}, &gatedSplitter{err: errors.New("ffmpeg crashed")}, testsupport.WithRefundOnFailure(false))
	job := e.upload(t, "frank")

	if _, err := e.manager.RequestProcess(context.Background(), jobs.ProcessRequest{JobID: job.ID}); err != nil {
		t.Fatalf("RequestProcess: %v", err)
	}
	e.waitForStatus(t, job.ID, store.JobFailed)
	e.waitIdle(t)
	if got := e.remaining(t, "frank"); got != 7 {
		t.Fatalf("remaining = %d, want 7", got)
	}
}

func TestCancelStopsBetweenSegments(t *testing.T) {
	split := &gatedSplitter{gate: make(chan struct{})}
	e := newEnv(t, fakeReader{duration: 120}, split)
	job := e.upload(t, "gina")
	ctx := context.Background()

	if _, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: job.ID}); err != nil {
		t.Fatalf("RequestProcess: %v", err)
	}
	waitFor(t, "split start", func() bool { return split.Calls() == 1 })

	cancelled, err := e.manager.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != store.JobCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	close(split.gate)
	e.waitIdle(t)

	current, _ := e.store.GetJob(ctx, job.ID)
	if current.Status != store.JobCancelled {
		t.Fatalf("status after worker finished = %s, want cancelled", current.Status)
	}
	if got := e.remaining(t, "gina"); got != 7 {
		t.Fatalf("remaining = %d, want 7 (cancel is not refunded)", got)
	}
	if _, err := e.manager.Cancel(ctx, job.ID); err == nil {
		t.Fatal("expected second cancel to be rejected")
	}
}

func TestDeleteRemovesArtifacts(t *testing.T) {
	e := newEnv(t, fakeReader{duration: 180}, nil)
	ctx := context.Background()

	empty := e.upload(t, "hank")
	result, err := e.manager.Delete(ctx, empty.ID)
	if err != nil {
		t.Fatalf("Delete empty job: %v", err)
	}
	if result.ClipsRemoved != 0 {
		t.Fatalf("ClipsRemoved = %d, want 0", result.ClipsRemoved)
	}

	job := e.upload(t, "ivy")
	if _, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: job.ID}); err != nil {
		t.Fatalf("RequestProcess: %v", err)
	}
	e.waitForStatus(t, job.ID, store.JobCompleted)
	clips, _ := e.store.ListClips(ctx, store.ClipFilter{JobID: job.ID})
	if len(clips) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(clips))
	}

	result, err = e.manager.Delete(ctx, job.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if result.ClipsRemoved != 3 || result.FilesRemoved != 7 || result.FileFailures != 0 {
		t.Fatalf("unexpected delete result: %+v", result)
	}
	for _, clip := range clips {
		if _, err := os.Stat(clip.Path); !os.IsNotExist(err) {
			t.Fatalf("clip file %s still present", clip.Path)
		}
	}
	if _, err := e.manager.Get(ctx, job.ID); err == nil {
		t.Fatal("expected deleted job lookup to fail")
	}
}

func TestRecoverInterruptedRefunds(t *testing.T) {
	e := newEnv(t, fakeReader{duration: 120}, &gatedSplitter{})
	ctx := context.Background()
	job := e.upload(t, "jane")

	if _, err := e.ledger.Debit(ctx, "jane", 3, credits.Meta{JobID: job.ID}); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if err := e.store.StartProcessing(ctx, job.ID, store.ProcessingStart{DurationSeconds: 120, ClipSeconds: 60, CreditsCharged: 3, Progress: 10}); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}

	count, err := e.manager.RecoverInterrupted(ctx)
	if err != nil || count != 1 {
		t.Fatalf("RecoverInterrupted = %d, %v", count, err)
	}
	current, _ := e.store.GetJob(ctx, job.ID)
	if current.Status != store.JobFailed || current.ErrorMessage != store.InterruptedReason {
		t.Fatalf("unexpected recovered job: %+v", current)
	}
	if got := e.remaining(t, "jane"); got != 10 {
		t.Fatalf("remaining = %d, want 10", got)
	}
	if count, _ := e.manager.RecoverInterrupted(ctx); count != 0 {
		t.Fatalf("second recovery count = %d, want 0", count)
	}
}

func requireEmptyDirs(t *testing.T, dirs ...string) {
	t.Helper()
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read %s: %v", dir, err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
		}
	}
}

func TestDeleteRefusedWhileWorkerOwnsCancelledJob(t *testing.T) {
	transcoder := newGatedTranscoder()
	e := newTranscodingEnv(t, fakeReader{duration: 120}, transcoder)
	job := e.upload(t, "hana")
	ctx := context.Background()

	if _, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: job.ID}); err != nil {
		t.Fatalf("RequestProcess: %v", err)
	}
	transcoder.waitStarted(t)

	if _, err := e.manager.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, err := e.manager.Delete(ctx, job.ID)
	if fe, ok := faults.As(err); !ok || fe.Status() != 409 {
		t.Fatalf("expected conflict while the worker owns the job, got %v", err)
	}

	close(transcoder.gate)
	e.waitIdle(t)

	if recent := e.errors.Recent(10); len(recent) != 0 {
		t.Fatalf("expected no handled errors, got %+v", recent)
	}
	current, _ := e.store.GetJob(ctx, job.ID)
	if current == nil || current.Status != store.JobCancelled {
		t.Fatalf("expected cancelled job, got %+v", current)
	}

	result, err := e.manager.Delete(ctx, job.ID)
	if err != nil {
		t.Fatalf("Delete after worker finished: %v", err)
	}
	if result.ClipsRemoved != 1 {
		t.Fatalf("clips removed = %d, want 1", result.ClipsRemoved)
	}
	requireEmptyDirs(t, e.cfg.Paths.ClipDir, e.cfg.Paths.ThumbnailDir)
}

func TestSplitErrorAfterOutsideDeleteIsNotReported(t *testing.T) {
	transcoder := newGatedTranscoder()
	e := newTranscodingEnv(t, fakeReader{duration: 120}, transcoder)
	job := e.upload(t, "ivan")
	ctx := context.Background()

	if _, err := e.manager.RequestProcess(ctx, jobs.ProcessRequest{JobID: job.ID}); err != nil {
		t.Fatalf("RequestProcess: %v", err)
	}
	transcoder.waitStarted(t)

	// A second process deletes straight through the datastore and never
	// sees this manager's guard.
	if _, err := e.store.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if _, _, err := e.store.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}

	close(transcoder.gate)
	e.waitIdle(t)

	if recent := e.errors.Recent(10); len(recent) != 0 {
		t.Fatalf("expected no handled errors, got %+v", recent)
	}
	if stats := e.errors.Stats(); stats.Total != 0 {
		t.Fatalf("expected no counted errors, got %+v", stats)
	}
	records, err := e.store.RecentErrorRecords(ctx, 10)
	if err != nil || len(records) != 0 {
		t.Fatalf("RecentErrorRecords = %d, %v", len(records), err)
	}
	requireEmptyDirs(t, e.cfg.Paths.ClipDir, e.cfg.Paths.ThumbnailDir)
}
