package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNextMigrationNumber(t *testing.T) {
	dir := t.TempDir()

	n, err := nextMigrationNumber(filepath.Join(dir, "missing"))
	if err != nil || n != 1 {
		t.Errorf("Expected 1 for a missing directory, got %d, %v", n, err)
	}

	for _, name := range []string{
		"000001_create_submissions.up.sql",
		"000001_create_submissions.down.sql",
		"000007_add_index.up.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	n, err = nextMigrationNumber(dir)
	if err != nil {
		t.Fatalf("nextMigrationNumber failed: %v", err)
	}
	if n != 8 {
		t.Errorf("Expected 8, got %d", n)
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()
	if err := createMigration(&Config{MigrationsPath: dir}, "add_locale"); err != nil {
		t.Fatalf("createMigration failed: %v", err)
	}
	for _, name := range []string{"000001_add_locale.up.sql", "000001_add_locale.down.sql"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}
}

func TestRunCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		cmd  string
		args []string
	}{
		{"missing database url", Config{}, "up", nil},
		{"unknown command", Config{DatabaseURL: "postgres://localhost/x"}, "sideways", nil},
		{"bad steps", Config{DatabaseURL: "postgres://localhost/x"}, "up", []string{"many"}},
		{"goto without version", Config{DatabaseURL: "postgres://localhost/x"}, "goto", nil},
		{"create without name", Config{}, "create", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if err := runCommand(&cfg, tt.cmd, tt.args); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestRunCommand_DryRun(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://localhost/x", DryRun: true}
	for _, cmd := range [][]string{{"up"}, {"down", "1"}, {"goto", "1"}, {"force", "1"}, {"drop"}} {
		if err := runCommand(cfg, cmd[0], cmd[1:]); err != nil {
			t.Errorf("%v: expected dry run to succeed, got %v", cmd, err)
		}
	}
}
