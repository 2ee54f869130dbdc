package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"clipforge/internal/config"
	"clipforge/internal/credits"
	"clipforge/internal/faults"
	"clipforge/internal/logging"
	"clipforge/internal/media/ffprobe"
	"clipforge/internal/notifications"
	"clipforge/internal/splitter"
	"clipforge/internal/store"
)

var (
	// ErrQueueFull is returned when the work queue cannot accept another job.
	ErrQueueFull = errors.New("job queue is full")
	// ErrNotRunning is returned when work is submitted to a stopped manager.
	ErrNotRunning = errors.New("job manager is not running")
)

// MetadataReader inspects a source video before it is charged.
type MetadataReader interface {
	Read(ctx context.Context, path string) (ffprobe.Info, error)
}

// Splitter produces clips for a processing job.
type Splitter interface {
	Split(ctx context.Context, req splitter.Request) (splitter.Result, error)
}

// Options carries the collaborators a Manager drives. Every field except
// Notifier and Logger is required.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Ledger   *credits.Ledger
	Reader   MetadataReader
	Splitter Splitter
	Errors   *faults.Handler
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Manager owns the job lifecycle. Intake runs on the caller's goroutine;
// clip production runs on a bounded worker pool fed by a buffered queue.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	ledger   *credits.Ledger
	reader   MetadataReader
	splitter Splitter
	errors   *faults.Handler
	notifier notifications.Service
	logger   *slog.Logger

	guard  *jobGuard
	tasks  chan task
	active atomic.Int64

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

type task struct {
	jobID string
}

// NewManager constructs a Manager. Call Start before submitting work.
func NewManager(opts Options) *Manager {
	queueSize := opts.Config.Jobs.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	return &Manager{
		cfg:      opts.Config,
		store:    opts.Store,
		ledger:   opts.Ledger,
		reader:   opts.Reader,
		splitter: opts.Splitter,
		errors:   opts.Errors,
		notifier: notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "jobs"),
		guard:    newJobGuard(),
		tasks:    make(chan task, queueSize),
	}
}

// Start launches the worker pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("job manager already running")
	}
	workers := m.cfg.Jobs.Workers
	if workers <= 0 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker(runCtx)
	}
	m.logger.Info("job workers started",
		logging.Int("workers", workers),
		logging.Int("queue_size", cap(m.tasks)),
		logging.String(logging.FieldEventType, "workers_started"),
	)
	return nil
}

// Stop cancels in-flight work, waits for the workers, and fails any job
// still waiting in the queue so its credits are returned.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	for {
		select {
		case t := <-m.tasks:
			m.interrupt(context.Background(), t.jobID)
		default:
			m.logger.Info("job workers stopped", logging.String(logging.FieldEventType, "workers_stopped"))
			return
		}
	}
}

// Status is a point-in-time view of the pool.
type Status struct {
	Running   bool
	Workers   int
	Queued    int
	Active    int64
	LastError string
}

// Status reports pool occupancy.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := Status{
		Running: m.running,
		Workers: m.cfg.Jobs.Workers,
		Queued:  len(m.tasks),
		Active:  m.active.Load(),
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

func (m *Manager) submit(jobID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return ErrNotRunning
	}
	select {
	case m.tasks <- task{jobID: jobID}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-m.tasks:
			if ctx.Err() != nil {
				m.interrupt(context.Background(), t.jobID)
				return
			}
			m.active.Add(1)
			m.run(ctx, t.jobID)
			m.active.Add(-1)
		}
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// jobGuard admits one mutation per job id at a time. Workers hold it for the
// whole split so deletes are refused while a worker owns the job.
type jobGuard struct {
	mu   sync.Mutex
	cond *sync.Cond
	busy map[string]struct{}
}

func newJobGuard() *jobGuard {
	g := &jobGuard{busy: make(map[string]struct{})}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *jobGuard) acquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[id]; ok {
		return false
	}
	g.busy[id] = struct{}{}
	return true
}

// hold blocks until id is free, then takes it.
func (g *jobGuard) hold(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		if _, ok := g.busy[id]; !ok {
			break
		}
		g.cond.Wait()
	}
	g.busy[id] = struct{}{}
}

func (g *jobGuard) release(id string) {
	g.mu.Lock()
	delete(g.busy, id)
	g.mu.Unlock()
	g.cond.Broadcast()
}
