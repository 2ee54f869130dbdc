package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"clipforge/internal/config"
	"clipforge/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewUploadedJob writes a placeholder source file under the upload directory
// and records an uploaded job for it.
func NewUploadedJob(t testing.TB, cfg *config.Config, st *store.Store, userID, name string) *store.Job {
	t.Helper()

	path := filepath.Join(cfg.Paths.UploadDir, name)
	WriteFile(t, path, 1024)
	job, err := st.CreateJob(context.Background(), &store.Job{
		UserID:    userID,
		InputPath: path,
		InputSize: 1024,
	})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
