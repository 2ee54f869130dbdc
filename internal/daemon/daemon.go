package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"clipforge/internal/config"
	"clipforge/internal/credits"
	"clipforge/internal/deps"
	"clipforge/internal/faults"
	"clipforge/internal/jobs"
	"clipforge/internal/logging"
	"clipforge/internal/media/ffmpeg"
	"clipforge/internal/media/ffprobe"
	"clipforge/internal/notifications"
	"clipforge/internal/preflight"
	"clipforge/internal/reclaimer"
	"clipforge/internal/splitter"
	"clipforge/internal/store"
)

// Options configures a Daemon. Reader and Splitter default to the ffprobe
// and ffmpeg backed implementations named by the media config.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Logger   *slog.Logger
	Notifier notifications.Service
	Reader   jobs.MetadataReader
	Splitter jobs.Splitter
	Clock    func() time.Time
}

// Daemon owns the job workers and the maintenance scheduler and enforces
// single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	errors    *faults.Handler
	ledger    *credits.Ledger
	manager   *jobs.Manager
	reclaimer *reclaimer.Reclaimer

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	startedAt time.Time
	startErr  string
	deps      []deps.Status
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	StartError   string
	DatabasePath string
	LockPath     string
	Jobs         jobs.Status
	Summary      store.JobSummary
	Errors       faults.Stats
	Dependencies []deps.Status
	Health       *reclaimer.HealthSample
	LastSweeps   map[string]reclaimer.Report
	NextSweeps   map[string]time.Time
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	handler := faults.NewHandler(faults.Options{
		Logger:         logger,
		Sink:           opts.Store,
		RecentCapacity: cfg.Errors.RecentCapacity,
		OnCritical:     faults.NotifyHook(notifier, logger),
	})
	ledger := credits.NewLedger(opts.Store, cfg.Credits.DefaultBalance, logger)

	reader := opts.Reader
	if reader == nil {
		reader = ffprobe.NewReader(cfg.Media.FFprobeBinary)
	}
	split := opts.Splitter
	if split == nil {
		split = splitter.New(splitter.Options{
			Transcoder:   ffmpeg.New(cfg.Media.FFmpegBinary, ffmpeg.SettingsFromConfig(cfg.Media)),
			Sink:         opts.Store,
			ClipDir:      cfg.Paths.ClipDir,
			ThumbnailDir: cfg.Paths.ThumbnailDir,
			TempDir:      cfg.Paths.TempDir,
			Logger:       logger,
		})
	}

	manager := jobs.NewManager(jobs.Options{
		Config:   cfg,
		Store:    opts.Store,
		Ledger:   ledger,
		Reader:   reader,
		Splitter: split,
		Errors:   handler,
		Notifier: notifier,
		Logger:   logger,
	})
	rec := reclaimer.New(reclaimer.Options{
		Config:   cfg,
		Store:    opts.Store,
		Errors:   handler,
		Notifier: notifier,
		Logger:   logger,
		Clock:    opts.Clock,
	})

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     opts.Store,
		errors:    handler,
		ledger:    ledger,
		manager:   manager,
		reclaimer: rec,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, fails jobs interrupted by a previous run,
// and starts the workers and maintenance scheduler. A failed start is
// reported through Status until the next successful one.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}
	err := d.start(ctx)
	d.startErr = ""
	if err != nil {
		d.startErr = err.Error()
	}
	return err
}

func (d *Daemon) start(ctx context.Context) error {

	results := preflight.RunAll(ctx, d.cfg)
	if failed := preflight.Failed(results); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, result := range failed {
			names = append(names, fmt.Sprintf("%s: %s", result.Name, result.Detail))
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, "; "))
	}
	d.deps = preflight.CheckSystemDeps(ctx, d.cfg)

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another clipforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if _, err := d.manager.RecoverInterrupted(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start job workers: %w", err)
	}
	if d.cfg.Reclaimer.Enabled {
		if err := d.reclaimer.Start(runCtx); err != nil {
			d.manager.Stop()
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start reclaimer: %w", err)
		}
	}

	d.cancel = cancel
	d.running = true
	d.startedAt = time.Now()
	for _, result := range results {
		if !result.Passed {
			logging.WarnWithContext(d.logger, "preflight advisory", "preflight_advisory",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
				logging.String(logging.FieldErrorHint, "see clipforge doctor"),
				logging.String(logging.FieldImpact, "processing continues"),
			)
		}
	}
	d.logger.Info("clipforge daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.cfg.Jobs.Workers),
		logging.Bool("reclaimer", d.cfg.Reclaimer.Enabled),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop halts the scheduler and workers and releases the daemon lock. Jobs
// still processing are failed as interrupted and refunded.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.reclaimer.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if the next start fails"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.running = false
	d.logger.Info("clipforge daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Process queues an uploaded job for clip production.
func (d *Daemon) Process(ctx context.Context, req jobs.ProcessRequest) (*store.Job, error) {
	if !d.Running() {
		return nil, faults.New(faults.TypeInternal, "daemon not running",
			faults.WithHTTPStatus(503), faults.WithRetryable(true), faults.WithCode("daemon_stopped"))
	}
	return d.manager.RequestProcess(ctx, req)
}

// RunSweep runs one maintenance sweep immediately.
func (d *Daemon) RunSweep(ctx context.Context, name string) (reclaimer.Report, error) {
	report, err := d.reclaimer.RunSweep(ctx, name)
	if errors.Is(err, reclaimer.ErrUnknownSweep) {
		return report, faults.Wrap(faults.TypeValidation, err, "unknown sweep "+name,
			faults.WithHTTPStatus(400), faults.WithCode("unknown_sweep"),
			faults.WithUserMessage("Unknown sweep. Choose one of: "+strings.Join(reclaimer.SweepNames(), ", ")))
	}
	return report, err
}

// Handle records err with the daemon's error handler.
func (d *Daemon) Handle(ctx context.Context, err error, req faults.RequestInfo) *faults.Error {
	return d.errors.Handle(ctx, err, req)
}

// RecentErrors returns the newest handled errors, newest first.
func (d *Daemon) RecentErrors(limit int) []*faults.Error {
	return d.errors.Recent(limit)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	status := Status{
		Running:      d.running,
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		StartError:   d.startErr,
		DatabasePath: d.cfg.DatabasePath(),
		LockPath:     d.lockPath,
		Dependencies: append([]deps.Status(nil), d.deps...),
	}
	d.mu.Unlock()

	status.Jobs = d.manager.Status()
	status.Errors = d.errors.Stats()
	status.Health = d.reclaimer.LastHealth()
	status.LastSweeps = d.reclaimer.LastRuns()
	if d.cfg.Reclaimer.Enabled {
		status.NextSweeps = d.reclaimer.NextRuns()
	}
	summary, err := d.store.SummarizeJobs(ctx)
	if err != nil {
		d.logger.Debug("job summary unavailable", logging.Error(err))
	}
	status.Summary = summary
	return status
}
