package reclaimer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"clipforge/internal/config"
	"clipforge/internal/faults"
	"clipforge/internal/logging"
	"clipforge/internal/notifications"
	"clipforge/internal/services"
	"clipforge/internal/store"
)

// Sweep names accepted by RunSweep.
const (
	SweepExpired   = "expired"
	SweepTemp      = "temp"
	SweepOrphans   = "orphans"
	SweepLogs      = "logs"
	SweepDatastore = "datastore"
	SweepHealth    = "health"
	SweepBackup    = "backup"
)

// ErrUnknownSweep is returned by RunSweep for names that are not registered.
var ErrUnknownSweep = errors.New("unknown sweep")

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Report summarizes one sweep run.
type Report struct {
	Sweep    string
	Skipped  bool
	Examined int
	Removed  int
	Bytes    int64
	Warnings []string
	Detail   string
	Started  time.Time
	Elapsed  time.Duration
}

type sweep struct {
	name     string
	schedule string
	run      func(ctx context.Context, now time.Time) (Report, error)
	running  atomic.Bool
}

// Options configures a Reclaimer. Clock defaults to time.Now.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Errors   *faults.Handler
	Notifier notifications.Service
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Reclaimer runs maintenance sweeps on fixed schedules. Each sweep skips a
// run while its previous run is still active, whether the run came from the
// schedule or from RunSweep.
type Reclaimer struct {
	cfg      *config.Config
	store    *store.Store
	errors   *faults.Handler
	notifier notifications.Service
	logger   *slog.Logger
	clock    func() time.Time

	sweeps map[string]*sweep

	mu         sync.Mutex
	scheduler  *cron.Cron
	lastHealth *HealthSample
	lastRuns   map[string]Report
}

// New constructs a Reclaimer with every sweep registered.
func New(opts Options) *Reclaimer {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	r := &Reclaimer{
		cfg:      opts.Config,
		store:    opts.Store,
		errors:   opts.Errors,
		notifier: notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "reclaimer"),
		clock:    clock,
		sweeps:   make(map[string]*sweep),
		lastRuns: make(map[string]Report),
	}
	r.register(SweepExpired, "0 * * * *", r.sweepExpired)
	r.register(SweepTemp, "*/30 * * * *", r.sweepTemp)
	r.register(SweepOrphans, "15 */6 * * *", r.sweepOrphans)
	r.register(SweepLogs, "30 3 * * *", r.sweepLogs)
	r.register(SweepDatastore, "0 4 * * *", r.sweepDatastore)
	r.register(SweepHealth, "*/15 * * * *", r.sweepHealth)
	r.register(SweepBackup, "0 2 * * *", r.sweepBackup)
	return r
}

func (r *Reclaimer) register(name, schedule string, run func(context.Context, time.Time) (Report, error)) {
	r.sweeps[name] = &sweep{name: name, schedule: schedule, run: run}
}

// SweepNames lists registered sweeps in name order.
func SweepNames() []string {
	names := []string{SweepExpired, SweepTemp, SweepOrphans, SweepLogs, SweepDatastore, SweepHealth, SweepBackup}
	sort.Strings(names)
	return names
}

// Start schedules every sweep. Scheduled runs use ctx and stop with Stop.
func (r *Reclaimer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		return errors.New("reclaimer already running")
	}
	scheduler := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cronLogger{logger: r.logger})),
		cron.WithLogger(cronLogger{logger: r.logger}),
	)
	for _, name := range SweepNames() {
		s := r.sweeps[name]
		if _, err := scheduler.AddFunc(s.schedule, func() {
			_, _ = r.RunSweep(ctx, s.name)
		}); err != nil {
			return fmt.Errorf("schedule %s sweep: %w", s.name, err)
		}
	}
	scheduler.Start()
	r.scheduler = scheduler
	r.logger.Info("reclaimer scheduled",
		logging.Int("sweeps", len(r.sweeps)),
		logging.String(logging.FieldEventType, "reclaimer_started"),
	)
	return nil
}

// Stop halts scheduling and waits for running sweeps to return.
func (r *Reclaimer) Stop() {
	r.mu.Lock()
	scheduler := r.scheduler
	r.scheduler = nil
	r.mu.Unlock()
	if scheduler == nil {
		return
	}
	<-scheduler.Stop().Done()
}

// NextRuns returns the next scheduled time of each sweep.
func (r *Reclaimer) NextRuns() map[string]time.Time {
	now := r.clock()
	out := make(map[string]time.Time, len(r.sweeps))
	for name, s := range r.sweeps {
		schedule, err := cronParser.Parse(s.schedule)
		if err != nil {
			continue
		}
		out[name] = schedule.Next(now)
	}
	return out
}

// RunSweep runs one sweep now. When the sweep is already running the call
// returns a report with Skipped set. A failing sweep is forwarded to the
// error handler and the classified error is returned; it never affects other
// sweeps.
func (r *Reclaimer) RunSweep(ctx context.Context, name string) (Report, error) {
	s, ok := r.sweeps[name]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownSweep, name)
	}
	ctx = services.WithSweep(ctx, name)
	logger := logging.WithContext(ctx, r.logger)
	if !s.running.CompareAndSwap(false, true) {
		logger.Info("sweep still running; skipping",
			logging.String(logging.FieldEventType, "sweep_skipped"),
		)
		return Report{Sweep: name, Skipped: true}, nil
	}
	defer s.running.Store(false)

	now := r.clock()
	began := time.Now()
	report, err := s.run(ctx, now)
	report.Sweep = name
	report.Started = now
	report.Elapsed = time.Since(began)
	if err != nil {
		if r.errors == nil {
			logging.ErrorWithContext(logger, "sweep failed", "sweep_failed", logging.Error(err))
			return report, err
		}
		return report, r.errors.Handle(ctx, faults.Wrap(faults.Classify(err), err, name+" sweep failed",
			faults.WithOperation("reclaimer", name)), faults.RequestInfo{})
	}

	r.mu.Lock()
	r.lastRuns[name] = report
	r.mu.Unlock()
	logger.Info("sweep finished",
		logging.Int("examined", report.Examined),
		logging.Int("removed", report.Removed),
		logging.Int64("bytes", report.Bytes),
		logging.Int("warnings", len(report.Warnings)),
		logging.Duration("elapsed", report.Elapsed),
		logging.String(logging.FieldEventType, "sweep_finished"),
	)
	return report, nil
}

// LastRuns returns the most recent successful report of each sweep.
func (r *Reclaimer) LastRuns() map[string]Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Report, len(r.lastRuns))
	for name, report := range r.lastRuns {
		out[name] = report
	}
	return out
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err), logging.String(logging.FieldEventType, "cron_error"), logging.String(logging.FieldErrorHint, "see the sweep logs")}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
