package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[log]
verbosity = 2

[archive]
backend = "sqlite"
path = "cache/units.db"

[prewarm]
shapes = ["L", "LI", "JD"]
workers = 8
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	if c.Archive.Backend != BackendSQLite {
		t.Errorf("backend = %q, want sqlite", c.Archive.Backend)
	}
	if len(c.Prewarm.Shapes) != 3 || c.Prewarm.Shapes[1] != "LI" {
		t.Errorf("shapes = %v, want [L LI JD]", c.Prewarm.Shapes)
	}
	if c.Prewarm.Workers != 8 {
		t.Errorf("workers = %d, want 8", c.Prewarm.Workers)
	}
	abs, _ := filepath.Abs(dir)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
	if want := filepath.Join(abs, "cache", "units.db"); c.ArchivePath() != want {
		t.Errorf("ArchivePath = %q, want %q", c.ArchivePath(), want)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[archive]\nbackend = \"sqlite\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Archive.Path != filepath.Join(".linkage", "units.db") {
		t.Errorf("default sqlite path = %q", c.Archive.Path)
	}
	if c.Prewarm.Workers != 4 {
		t.Errorf("default workers = %d, want 4", c.Prewarm.Workers)
	}

	d := Default()
	if d.Archive.Backend != BackendMemory || d.Dir != "" {
		t.Errorf("Default = %+v, want memory backend and no dir", d)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]string{
		"bad toml":    "[archive\n",
		"bad backend": "[archive]\nbackend = \"redis\"\n",
		"bad shape":   "[prewarm]\nshapes = [\"LZ\"]\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(dir); err == nil {
				t.Error("Load succeeded")
			}
		})
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load without a file succeeded")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[log]\nverbosity = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Log.Verbosity != 1 {
		t.Errorf("verbosity = %d, want 1 from the parent's file", c.Log.Verbosity)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LINKAGE_ARCHIVE", "SQLite")
	t.Setenv("LINKAGE_ARCHIVE_PATH", "/tmp/linkage/units.db")
	t.Setenv("LINKAGE_VERBOSITY", "3")
	t.Setenv("LINKAGE_PREWARM_WORKERS", "2")

	c := Default()
	c.ApplyEnv()
	if c.Archive.Backend != BackendSQLite {
		t.Errorf("backend = %q, want sqlite", c.Archive.Backend)
	}
	if c.ArchivePath() != "/tmp/linkage/units.db" {
		t.Errorf("ArchivePath = %q", c.ArchivePath())
	}
	if c.Log.Verbosity != 3 || c.Prewarm.Workers != 2 {
		t.Errorf("verbosity %d workers %d, want 3 and 2", c.Log.Verbosity, c.Prewarm.Workers)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}
}

func TestLoadAppliesEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("[archive]\nbackend = \"memory\"\n\n[prewarm]\nworkers = 8\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LINKAGE_ARCHIVE", "none")
	t.Setenv("LINKAGE_PREWARM_WORKERS", "2")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Archive.Backend != BackendNone {
		t.Errorf("backend = %q, want none from the environment", c.Archive.Backend)
	}
	if c.Prewarm.Workers != 2 {
		t.Errorf("workers = %d, want 2 from the environment", c.Prewarm.Workers)
	}

	t.Setenv("LINKAGE_ARCHIVE", "tape")
	if _, err := Load(dir); err == nil {
		t.Error("Load accepted backend tape from the environment")
	}
}
