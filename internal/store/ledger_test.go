package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clipforge/internal/store"
	"clipforge/internal/testsupport"
)

func TestEnsureAccountCreatesOpeningBalance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	account, err := st.EnsureAccount(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("EnsureAccount failed: %v", err)
	}
	if account.Total != 10 || account.Used != 0 || account.Remaining() != 10 {
		t.Fatalf("unexpected opening account: %+v", account)
	}
	again, err := st.EnsureAccount(ctx, "user-1", 99)
	if err != nil {
		t.Fatalf("EnsureAccount failed: %v", err)
	}
	if again.Total != 10 {
		t.Fatalf("expected existing account untouched, got total %d", again.Total)
	}
}

func TestDebitInsufficientLeavesBalanceUnchanged(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.Debit(ctx, "user-1", 4, 10, store.LedgerEntry{Description: "first"}); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	before, _ := st.EnsureAccount(ctx, "user-1", 10)

	account, err := st.Debit(ctx, "user-1", 7, 10, store.LedgerEntry{Description: "too much"})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if account == nil || account.Remaining() != 6 {
		t.Fatalf("expected unchanged account returned, got %+v", account)
	}
	after, _ := st.EnsureAccount(ctx, "user-1", 10)
	if after.Total != before.Total || after.Used != before.Used || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("balance changed: before %+v after %+v", before, after)
	}
	txns, err := st.ListTransactions(ctx, "user-1", 0, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected only the successful debit logged, got %d", len(txns))
	}
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Debit(ctx, "user-1", 3, 10, store.LedgerEntry{}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Fatalf("expected exactly 3 successful debits of 3 from 10, got %d", succeeded)
	}
	account, _ := st.EnsureAccount(ctx, "user-1", 10)
	if account.Used != 9 || account.Remaining() != account.Total-account.Used {
		t.Fatalf("unexpected account after concurrent debits: %+v", account)
	}
}

func TestCreditAndHistoryOrdering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.Debit(ctx, "user-1", 2, 10, store.LedgerEntry{Description: "job", JobID: "job-1"}); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	account, err := st.Credit(ctx, "user-1", 5, 10, store.LedgerEntry{Type: store.TransactionPurchased, Description: "top up"})
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if account.Total != 15 || account.Used != 2 || account.Remaining() != 13 {
		t.Fatalf("unexpected account: %+v", account)
	}

	txns, err := st.ListTransactions(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	if txns[0].Type != store.TransactionPurchased || txns[1].Type != store.TransactionSpent {
		t.Fatalf("expected newest first, got %s then %s", txns[0].Type, txns[1].Type)
	}
	if txns[1].JobID != "job-1" {
		t.Fatalf("expected job reference, got %q", txns[1].JobID)
	}

	page, err := st.ListTransactions(ctx, "user-1", 1, 1)
	if err != nil {
		t.Fatalf("ListTransactions page failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != txns[1].ID {
		t.Fatalf("unexpected page: %+v", page)
	}
	count, err := st.CountJobTransactions(ctx, "job-1", store.TransactionSpent)
	if err != nil || count != 1 {
		t.Fatalf("expected one spent transaction for job, got %d err=%v", count, err)
	}
}

func TestErrorRecordsAndPurge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	old := time.Now().Add(-200 * 24 * time.Hour)

	records := []*store.ErrorRecord{
		{Type: "network", Severity: "low", Message: "old low", CreatedAt: old},
		{Type: "datastore", Severity: "critical", Message: "old critical", CreatedAt: old},
		{Type: "validation", Severity: "medium", Message: "recent"},
	}
	for _, record := range records {
		if err := st.InsertErrorRecord(ctx, record); err != nil {
			t.Fatalf("InsertErrorRecord failed: %v", err)
		}
	}
	purged, err := st.PurgeErrorRecords(ctx, time.Now().Add(-180*24*time.Hour), "critical")
	if err != nil {
		t.Fatalf("PurgeErrorRecords failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged record, got %d", purged)
	}
	recent, err := st.RecentErrorRecords(ctx, 10)
	if err != nil {
		t.Fatalf("RecentErrorRecords failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Message != "recent" {
		t.Fatalf("unexpected remaining records: %+v", recent)
	}
	count, err := st.CountErrorRecordsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil || count != 1 {
		t.Fatalf("expected 1 recent record, got %d err=%v", count, err)
	}
}

func TestActivityPurge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := st.RecordActivity(ctx, store.ActivityEntry{UserID: "u", Action: "job_created", CreatedAt: time.Now().Add(-100 * 24 * time.Hour)}); err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}
	if err := st.RecordActivity(ctx, store.ActivityEntry{UserID: "u", Action: "job_completed"}); err != nil {
		t.Fatalf("RecordActivity failed: %v", err)
	}
	purged, err := st.PurgeActivity(ctx, time.Now().Add(-90*24*time.Hour))
	if err != nil || purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d err=%v", purged, err)
	}
	entries, err := st.ListActivity(ctx, "u", 10)
	if err != nil {
		t.Fatalf("ListActivity failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "job_completed" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestSnapshotAndCompact(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewUploadedJob(t, cfg, st, "user-1", "a.mp4")

	if err := st.Compact(ctx); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	dest := filepath.Join(cfg.Paths.BackupDir, "snapshot.db")
	if err := st.SnapshotTo(ctx, dest); err != nil {
		t.Fatalf("SnapshotTo failed: %v", err)
	}
	copyStore, err := store.OpenPath(dest)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer copyStore.Close()
	jobs, err := copyStore.ListJobs(ctx, store.JobFilter{})
	if err != nil {
		t.Fatalf("ListJobs on snapshot failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected snapshot to contain 1 job, got %d", len(jobs))
	}
	if err := st.SnapshotTo(ctx, dest); err == nil {
		t.Fatal("expected error when snapshot destination exists")
	}
}
