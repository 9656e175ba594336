package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/steveyegge/forge/internal/config"
	"github.com/steveyegge/forge/internal/storage"
	"github.com/steveyegge/forge/internal/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCollectArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "welcome.html"), "<table><tr><td>hi</td></tr></table>")
	writeFile(t, filepath.Join(dir, "a", "deep", "sale.mjml"), "<mjml><mj-body></mj-body></mjml>")
	writeFile(t, filepath.Join(dir, "b", "notes.txt"), "not a template")

	src := &sourceFlags{sourceID: "gallery", license: "MIT"}
	arts, err := collectArtifacts(filepath.Join(dir, "**", "*.{html,mjml}"), src)
	if err != nil {
		t.Fatalf("collectArtifacts failed: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(arts))
	}

	byName := make(map[string]*types.Artifact)
	for _, a := range arts {
		byName[filepath.Base(a.FilePath)] = a
	}
	if a := byName["welcome.html"]; a == nil || a.Type != types.TypeHTML || a.SourceID != "gallery" || a.License != "MIT" {
		t.Errorf("welcome.html artifact = %+v", a)
	}
	if a := byName["sale.mjml"]; a == nil || a.Type != types.TypeMJML {
		t.Errorf("sale.mjml artifact = %+v", a)
	}
}

func TestCollectArtifactsBadPattern(t *testing.T) {
	if _, err := collectArtifacts("[", &sourceFlags{sourceID: "x"}); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestArtifactTypeFlagWins(t *testing.T) {
	src := &sourceFlags{typ: "MJML"}
	if got := src.artifactType("x.html"); got != types.TypeMJML {
		t.Errorf("artifactType = %q, want mjml", got)
	}
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	testDB := filepath.Join(t.TempDir(), "forge.db")
	testStore, err := storage.NewStorage(ctx, &storage.Config{Path: testDB})
	if err != nil {
		t.Fatalf("Failed to create test storage: %v", err)
	}
	defer testStore.Close()

	// Override the globals for the test
	originalStore, originalCfg := store, cfg
	store, cfg = testStore, config.DefaultConfig()
	cfg.CacheEnabled = false
	cfg.DBPath = testDB
	defer func() { store, cfg = originalStore, originalCfg }()

	hasher, closeCache, err := newHasher()
	if err != nil {
		t.Fatal(err)
	}
	defer closeCache()
	ix, err := newIndexer(hasher)
	if err != nil {
		t.Fatal(err)
	}
	src := &sourceFlags{sourceID: "gallery"}
	for _, name := range []string{"a.html", "b.html"} {
		if _, err := ix.Append(ctx, src.artifact(name, []byte("<table><tr><td>same</td></tr></table>"))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	s, err := getStats(ctx)
	if err != nil {
		t.Fatalf("getStats failed: %v", err)
	}
	if s.Records != 2 || s.Clusters != 0 || s.LastPass != nil {
		t.Errorf("before pass: %+v", s)
	}

	curator, err := newCurator()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := curator.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(storage.PassLockPath(testDB)); !os.IsNotExist(err) {
		t.Errorf("pass lock left behind next to %s: %v", testDB, err)
	}

	s, err = getStats(ctx)
	if err != nil {
		t.Fatalf("getStats failed: %v", err)
	}
	if s.Clusters != 1 {
		t.Errorf("Clusters = %d, want 1 (exact duplicates)", s.Clusters)
	}
	if s.LastPass == nil || s.LastPass.Status != types.PassCompleted {
		t.Errorf("LastPass = %+v", s.LastPass)
	}
}
