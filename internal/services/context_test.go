package services_test

import (
	"context"
	"testing"

	"clipforge/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithClipIndex(ctx, 3)
	ctx = services.WithUserID(ctx, "user-9")
	ctx = services.WithRequestID(ctx, "req-123")
	ctx = services.WithSweep(ctx, "expired_clips")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if idx, ok := services.ClipIndexFromContext(ctx); !ok || idx != 3 {
		t.Fatalf("unexpected clip index: %v %v", idx, ok)
	}
	if uid, ok := services.UserIDFromContext(ctx); !ok || uid != "user-9" {
		t.Fatalf("unexpected user id: %v %v", uid, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
	if sweep, ok := services.SweepFromContext(ctx); !ok || sweep != "expired_clips" {
		t.Fatalf("unexpected sweep: %v %v", sweep, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "")
	ctx = services.WithClipIndex(ctx, 0)
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id value")
	}
	if _, ok := services.ClipIndexFromContext(ctx); ok {
		t.Fatal("expected no clip index value")
	}
	if _, ok := services.SessionIDFromContext(ctx); ok {
		t.Fatal("expected no session id value")
	}
}
