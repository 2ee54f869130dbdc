package faults_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"clipforge/internal/faults"
	"clipforge/internal/services"
	"clipforge/internal/store"
	"clipforge/internal/testsupport"
)

func TestNewFillsDefaults(t *testing.T) {
	err := faults.New(faults.TypeMediaProcessing, "ffmpeg exited 1")
	if err.ID == "" || err.Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", err)
	}
	if err.UserMessage != faults.DefaultUserMessage(faults.TypeMediaProcessing) {
		t.Fatalf("unexpected user message %q", err.UserMessage)
	}
	if !err.Recoverable || err.Retryable {
		t.Fatalf("unexpected recoverability: recoverable=%v retryable=%v", err.Recoverable, err.Retryable)
	}
	other := faults.New(faults.TypeMediaProcessing, "ffmpeg exited 1")
	if other.ID == err.ID {
		t.Fatal("expected unique ids")
	}

	custom := faults.New(faults.TypeValidation, "bad", faults.WithUserMessage("Pick a shorter clip."), faults.WithCode("clip_too_long"))
	if custom.UserMessage != "Pick a shorter clip." || custom.Code != "clip_too_long" {
		t.Fatalf("options not applied: %+v", custom)
	}
}

func TestRecoverabilityDefaults(t *testing.T) {
	cases := []struct {
		typ         faults.Type
		message     string
		recoverable bool
		retryable   bool
	}{
		{faults.TypeAuthentication, "session expired", false, false},
		{faults.TypeAuthorization, "not yours", false, false},
		{faults.TypeNetwork, "reset", true, true},
		{faults.TypeCloudStorage, "bucket gone", true, true},
		{faults.TypeEmail, "smtp down", true, true},
		{faults.TypeAPI, "upstream 502", true, true},
		{faults.TypeInternal, "temporary glitch", true, true},
		{faults.TypeDatastore, "query hit rate limit", true, true},
		{faults.TypeValidation, "clip too short", true, false},
	}
	for _, tc := range cases {
		err := faults.New(tc.typ, tc.message)
		if err.Recoverable != tc.recoverable || err.Retryable != tc.retryable {
			t.Fatalf("%s %q: recoverable=%v retryable=%v, want %v %v", tc.typ, tc.message, err.Recoverable, err.Retryable, tc.recoverable, tc.retryable)
		}
	}
}

func TestClassifyMessagePriority(t *testing.T) {
	cases := map[string]faults.Type{
		"insufficient credits for operation":        faults.TypeCreditSystem,
		"invalid clip duration":                     faults.TypeValidation,
		"user not authenticated":                    faults.TypeAuthentication,
		"access denied to job":                      faults.TypeAuthorization,
		"database is locked":                        faults.TypeDatastore,
		"dial tcp 10.0.0.1:443: connection refused": faults.TypeNetwork,
		"open /x/y: no such file or directory":      faults.TypeFilesystem,
		"s3 put object failed":                      faults.TypeCloudStorage,
		"smtp relay rejected":                       faults.TypeEmail,
		"ffmpeg exited with status 1":               faults.TypeMediaProcessing,
		"something odd happened":                    faults.TypeInternal,
		"invalid file":                              faults.TypeValidation,
	}
	for message, want := range cases {
		if got := faults.ClassifyMessage(message); got != want {
			t.Fatalf("ClassifyMessage(%q) = %s, want %s", message, got, want)
		}
	}
}

func TestClassifyHonorsMarkers(t *testing.T) {
	if got := faults.Classify(services.Wrap(services.ErrInsufficientCredits, "credits", "debit", "", nil)); got != faults.TypeCreditSystem {
		t.Fatalf("expected credit-system, got %s", got)
	}
	if got := faults.Classify(fmt.Errorf("lookup: %w", store.ErrNotFound)); got != faults.TypeValidation {
		t.Fatalf("expected validation, got %s", got)
	}
	typed := faults.New(faults.TypePayment, "card declined")
	if got := faults.Classify(fmt.Errorf("wrapped: %w", typed)); got != faults.TypePayment {
		t.Fatalf("expected payment, got %s", got)
	}
}

func TestInferSeverity(t *testing.T) {
	cases := []struct {
		typ    faults.Type
		status int
		want   faults.Severity
	}{
		{faults.TypeValidation, 503, faults.SeverityCritical},
		{faults.TypeDatastore, 0, faults.SeverityCritical},
		{faults.TypeNetwork, 404, faults.SeverityHigh},
		{faults.TypeAuthentication, 0, faults.SeverityHigh},
		{faults.TypePayment, 0, faults.SeverityHigh},
		{faults.TypeValidation, 0, faults.SeverityMedium},
		{faults.TypeFilesystem, 0, faults.SeverityMedium},
		{faults.TypeCloudStorage, 0, faults.SeverityMedium},
		{faults.TypeMediaProcessing, 0, faults.SeverityLow},
		{faults.TypeCreditSystem, 0, faults.SeverityLow},
	}
	for _, tc := range cases {
		if got := faults.InferSeverity(tc.typ, tc.status); got != tc.want {
			t.Fatalf("InferSeverity(%s, %d) = %s, want %s", tc.typ, tc.status, got, tc.want)
		}
	}
	if !(faults.SeverityLow.Rank() < faults.SeverityMedium.Rank() &&
		faults.SeverityMedium.Rank() < faults.SeverityHigh.Rank() &&
		faults.SeverityHigh.Rank() < faults.SeverityCritical.Rank()) {
		t.Fatal("severity ranks are not ascending")
	}
}

func TestRedactMasksCredentials(t *testing.T) {
	redacted := faults.Redact(faults.Context{
		Headers: map[string]string{"Authorization": "Bearer abc", "Cookie": "sid=1", "Accept": "json"},
		Fields:  map[string]string{"password": "hunter2", "client_secret": "s", "file": "a.mp4"},
	})
	if redacted.Headers["Authorization"] != faults.Redacted || redacted.Headers["Cookie"] != faults.Redacted {
		t.Fatalf("headers not redacted: %v", redacted.Headers)
	}
	if redacted.Headers["Accept"] != "json" {
		t.Fatalf("unexpected header change: %v", redacted.Headers)
	}
	if redacted.Fields["password"] != faults.Redacted || redacted.Fields["client_secret"] != faults.Redacted {
		t.Fatalf("fields not redacted: %v", redacted.Fields)
	}
	if redacted.Fields["file"] != "a.mp4" {
		t.Fatalf("unexpected field change: %v", redacted.Fields)
	}
}

type memorySink struct {
	mu      sync.Mutex
	records []*store.ErrorRecord
}

func (m *memorySink) InsertErrorRecord(_ context.Context, record *store.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func TestHandleClassifiesPersistsAndRedacts(t *testing.T) {
	sink := &memorySink{}
	handler := faults.NewHandler(faults.Options{Sink: sink})

	handled := handler.Handle(context.Background(), errors.New("insufficient credits for operation"), faults.RequestInfo{
		UserID:  "user-1",
		Headers: map[string]string{"Authorization": "Bearer secret-token"},
	})
	if handled.Type != faults.TypeCreditSystem {
		t.Fatalf("expected credit-system, got %s", handled.Type)
	}
	want := "You don't have enough credits to complete this operation. Please purchase more credits to continue."
	if handled.UserMessage != want {
		t.Fatalf("unexpected user message %q", handled.UserMessage)
	}
	if handled.Severity != faults.SeverityLow {
		t.Fatalf("expected low severity, got %s", handled.Severity)
	}

	if len(sink.records) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(sink.records))
	}
	record := sink.records[0]
	if record.ID != handled.ID || record.UserID != "user-1" || record.Type != "credit-system" {
		t.Fatalf("unexpected record: %+v", record)
	}
	var ctx faults.Context
	if err := json.Unmarshal([]byte(record.ContextJSON), &ctx); err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if ctx.Headers["Authorization"] != faults.Redacted {
		t.Fatalf("expected redacted authorization header, got %v", ctx.Headers)
	}
}

func TestHandleRingBufferEvictsOldest(t *testing.T) {
	handler := faults.NewHandler(faults.Options{RecentCapacity: 3})
	for i := 0; i < 5; i++ {
		handler.Handle(context.Background(), faults.New(faults.TypeInternal, fmt.Sprintf("err-%d", i)), faults.RequestInfo{})
	}
	recent := handler.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained errors, got %d", len(recent))
	}
	for i, want := range []string{"err-4", "err-3", "err-2"} {
		if recent[i].Message != want {
			t.Fatalf("recent[%d] = %q, want %q", i, recent[i].Message, want)
		}
	}
	stats := handler.Stats()
	if stats.Total != 5 || stats.ByType[faults.TypeInternal] != 5 || stats.BySeverity[faults.SeverityLow] != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHandleInvokesCriticalHookOnlyForCritical(t *testing.T) {
	var calls []string
	handler := faults.NewHandler(faults.Options{
		OnCritical: func(_ context.Context, err *faults.Error) { calls = append(calls, err.ID) },
	})
	ctx := context.Background()
	handler.Handle(ctx, faults.New(faults.TypeValidation, "bad input"), faults.RequestInfo{})
	critical := handler.Handle(ctx, errors.New("database disk image is malformed"), faults.RequestInfo{})
	if critical.Type != faults.TypeValidation {
		// "malformed" is a validation keyword and validation outranks datastore.
		t.Fatalf("expected validation classification, got %s", critical.Type)
	}
	datastore := handler.Handle(ctx, faults.New(faults.TypeDatastore, "disk I/O error"), faults.RequestInfo{})
	if len(calls) != 1 || calls[0] != datastore.ID {
		t.Fatalf("expected one critical hook call for datastore error, got %v", calls)
	}
}

func TestHandlePersistsToStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	handler := faults.NewHandler(faults.Options{Sink: st})

	ctx := services.WithJobID(context.Background(), "job-9")
	handled := handler.Handle(ctx, faults.New(faults.TypeMediaProcessing, "ffmpeg exited 1", faults.WithField("api_key", "k")), faults.RequestInfo{RequestID: "req-1"})

	records, err := st.RecentErrorRecords(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentErrorRecords failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != handled.ID || records[0].RequestID != "req-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
	var stored faults.Context
	if err := json.Unmarshal([]byte(records[0].ContextJSON), &stored); err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if stored.JobID != "job-9" || stored.Fields["api_key"] != faults.Redacted {
		t.Fatalf("unexpected stored context: %+v", stored)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("exit status 1")
	wrapped := faults.Wrap(faults.TypeMediaProcessing, cause, "segment 2 failed")
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if faults.Wrap(faults.TypeInternal, nil, "x") != nil {
		t.Fatal("expected nil for nil cause")
	}
	if !faults.IsType(fmt.Errorf("outer: %w", wrapped), faults.TypeMediaProcessing) {
		t.Fatal("expected IsType to see through wrapping")
	}
	if wrapped.Status() != 422 {
		t.Fatalf("expected default status 422, got %d", wrapped.Status())
	}
}
