package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Database.Driver != "postgres" {
		t.Fatalf("unexpected default driver: %s", cfg.Database.Driver)
	}
	if cfg.HTTP.MaxRetries != 3 {
		t.Fatalf("unexpected default retries: %d", cfg.HTTP.MaxRetries)
	}
	if cfg.Resolver.ShortNameThreshold != 0.90 || cfg.Resolver.LongNameThreshold != 0.85 {
		t.Fatalf("unexpected fuzzy thresholds: %+v", cfg.Resolver)
	}
	if len(cfg.Sources) == 0 {
		t.Fatal("expected default sources")
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
database:
  driver: sqlite3
  dsn: file:episcanner.db
ingest:
  country: US
  concurrency: 8
sources:
  - name: test-feed
    kind: rss
    url: https://example.org/feed.xml
    label: Test Feed
    country: US
    language: en
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(configPathEnv, path)
	t.Setenv(databaseDSNEnv, "file:override.db")

	cfg := Load()

	if cfg.Database.Driver != "sqlite3" {
		t.Fatalf("file override lost: %s", cfg.Database.Driver)
	}
	if cfg.Database.DSN != "file:override.db" {
		t.Fatalf("env override lost: %s", cfg.Database.DSN)
	}
	if cfg.Ingest.Country != "US" || cfg.Ingest.Concurrency != 8 {
		t.Fatalf("ingest settings lost: %+v", cfg.Ingest)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Name != "test-feed" {
		t.Fatalf("sources not taken from file: %+v", cfg.Sources)
	}
	// Defaults survive where the file is silent.
	if cfg.HTTP.TimeoutSeconds != 30 {
		t.Fatalf("default timeout lost: %d", cfg.HTTP.TimeoutSeconds)
	}
}
