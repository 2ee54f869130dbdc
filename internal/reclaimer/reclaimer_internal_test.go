package reclaimer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"clipforge/internal/config"
	"clipforge/internal/faults"
	"clipforge/internal/notifications"
	"clipforge/internal/store"
	"clipforge/internal/testsupport"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Payload
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if event == notifications.EventHealthWarning {
		n.events = append(n.events, payload)
	}
	return nil
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	r := New(Options{Config: cfg, Store: st})

	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce sync.Once
	var mu sync.Mutex
	runs := 0
	r.register("slow", "* * * * *", func(context.Context, time.Time) (Report, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		enterOnce.Do(func() { close(entered) })
		<-release
		return Report{Removed: 1}, nil
	})

	done := make(chan Report, 1)
	go func() {
		report, _ := r.RunSweep(context.Background(), "slow")
		done <- report
	}()
	<-entered

	skipped, err := r.RunSweep(context.Background(), "slow")
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if !skipped.Skipped {
		t.Fatalf("expected overlapping run skipped, got %+v", skipped)
	}
	close(release)

	first := <-done
	if first.Skipped || first.Removed != 1 {
		t.Fatalf("unexpected first report: %+v", first)
	}
	again, err := r.RunSweep(context.Background(), "slow")
	if err != nil || again.Skipped || again.Removed != 1 {
		t.Fatalf("expected run after release, got %+v err=%v", again, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if runs != 2 {
		t.Fatalf("sweep body ran %d times, want 2", runs)
	}
}

func TestFailingSweepReportsToHandler(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	handler := faults.NewHandler(faults.Options{Sink: st})
	r := New(Options{Config: cfg, Store: st, Errors: handler})

	boom := errors.New("disk unplugged")
	r.register("broken", "* * * * *", func(context.Context, time.Time) (Report, error) {
		return Report{}, boom
	})

	if _, err := r.RunSweep(context.Background(), "broken"); !errors.Is(err, boom) {
		t.Fatalf("expected sweep error, got %v", err)
	}
	recent := handler.Recent(10)
	if len(recent) != 1 {
		t.Fatalf("expected one handled error, got %d", len(recent))
	}
	if _, ok := r.LastRuns()["broken"]; ok {
		t.Fatal("failed run should not replace the last successful report")
	}

	// Other sweeps still run.
	if _, err := r.RunSweep(context.Background(), SweepTemp); err != nil {
		t.Fatalf("temp sweep after failure: %v", err)
	}
	if _, err := r.RunSweep(context.Background(), "broken"); err == nil {
		t.Fatal("expected broken sweep to fail again rather than stay marked running")
	}
}

func TestHealthSweepRaisesWarnings(t *testing.T) {
	original := statfs
	t.Cleanup(func() { statfs = original })
	statfs = func(string) (uint64, uint64, error) { return 1000, 50, nil }

	cfg := testsupport.NewConfig(t)
	cfg.Health = config.Health{DiskWarnPercent: 90, ErrorRateWarnPerHour: 1}
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if err := st.InsertErrorRecord(ctx, &store.ErrorRecord{Type: "system", Severity: "high", Message: "recent"}); err != nil {
		t.Fatalf("InsertErrorRecord: %v", err)
	}

	notifier := &recordingNotifier{}
	r := New(Options{Config: cfg, Store: st, Notifier: notifier})
	if r.LastHealth() != nil {
		t.Fatal("expected no health sample before the first sweep")
	}

	report, err := r.RunSweep(ctx, SweepHealth)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if len(report.Warnings) != 2 {
		t.Fatalf("expected disk and error-rate warnings, got %v", report.Warnings)
	}
	if !strings.HasPrefix(report.Warnings[0], "disk 95.0% used") {
		t.Fatalf("unexpected disk warning: %q", report.Warnings[0])
	}

	sample := r.LastHealth()
	if sample == nil || sample.RecentErrors != 1 || sample.DiskFreeBytes != 50 {
		t.Fatalf("unexpected sample: %+v", sample)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 2 {
		t.Fatalf("expected 2 health notifications, got %d", len(notifier.events))
	}
}

func TestHealthSweepQuietBelowThresholds(t *testing.T) {
	original := statfs
	t.Cleanup(func() { statfs = original })
	statfs = func(string) (uint64, uint64, error) { return 1000, 900, nil }

	cfg := testsupport.NewConfig(t)
	cfg.Health = config.Health{DiskWarnPercent: 90, ErrorRateWarnPerHour: 5, ActiveJobsWarnCeiling: 3}
	st := testsupport.MustOpenStore(t, cfg)

	report, err := New(Options{Config: cfg, Store: st}).RunSweep(context.Background(), SweepHealth)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if len(report.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", report.Warnings)
	}
}

func TestHealthSweepFailsWhenDiskUnreadable(t *testing.T) {
	original := statfs
	t.Cleanup(func() { statfs = original })
	statfs = func(string) (uint64, uint64, error) { return 0, 0, errors.New("stale mount") }

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if _, err := New(Options{Config: cfg, Store: st}).RunSweep(context.Background(), SweepHealth); err == nil {
		t.Fatal("expected health sweep to fail")
	}
}
