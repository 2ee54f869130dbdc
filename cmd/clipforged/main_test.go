package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipforge/internal/testsupport"
)

func TestCommandFlags(t *testing.T) {
	cmd := newCommand()
	for _, name := range []string{"config", "log-level", "development"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("expected --%s flag", name)
		}
	}
}

func TestCommandRejectsInvalidConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(testsupport.BaseDir(cfg), "broken.toml")
	if err := os.WriteFile(path, []byte("[jobs]\nworkers = \"many\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newCommand()
	cmd.SetArgs([]string{"--config", path})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config error, got %v", err)
	}
}
