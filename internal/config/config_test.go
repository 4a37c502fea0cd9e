package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.Line.ReplyTemplate != DefaultReplyTemplate {
		t.Fatalf("expected default reply template, got %q", cfg.Line.ReplyTemplate)
	}
	if cfg.Inbound.Workers != 4 || cfg.Inbound.QueueSize != 256 {
		t.Fatalf("unexpected inbound defaults: %+v", cfg.Inbound)
	}
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.toml")
	content := `
[server]
addr = ":8080"

[line]
channel_secret = "from-file"
reply_template = "echo: %s"

[storage]
driver = "badger"
badger_path = "/tmp/relay"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LINE_CHANNEL_SECRET", "from-env")
	t.Setenv("CHATRELAY_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected file addr, got %q", cfg.Server.Addr)
	}
	if cfg.Line.ChannelSecret != "from-env" {
		t.Fatalf("expected env override, got %q", cfg.Line.ChannelSecret)
	}
	if cfg.Line.ReplyTemplate != "echo: %s" {
		t.Fatalf("unexpected template %q", cfg.Line.ReplyTemplate)
	}
	if cfg.Storage.Driver != StorageDriverBadger || cfg.Storage.BadgerPath != "/tmp/relay" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected prefixed env var, got %q", cfg.Redis.Addr)
	}
	// Untouched defaults survive the file decode.
	if cfg.Line.APIBaseURL != DefaultLineAPIBaseURL {
		t.Fatalf("expected default api base, got %q", cfg.Line.APIBaseURL)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORAGE_DRIVER", "sqlite")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db",
		Port:     5433,
		User:     "relay",
		Password: "s3cret",
		Database: "chatrelay",
		SSLMode:  "disable",
	}
	if got, want := cfg.DSN("postgres"), "postgres://relay:s3cret@db:5433/chatrelay?sslmode=disable"; got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
	if got, want := cfg.DSN("pgx5"), "pgx5://relay:s3cret@db:5433/chatrelay?sslmode=disable"; got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}

	cfg.URL = "postgres://u@h:5432/x"
	if got := cfg.DSN("pgx5"); got != "pgx5://u@h:5432/x" {
		t.Fatalf("unexpected rewritten url %q", got)
	}
}

func TestAuthExpiresIn(t *testing.T) {
	d, err := AuthConfig{}.ExpiresIn()
	if err != nil || d != 24*time.Hour {
		t.Fatalf("expected 24h default, got %v %v", d, err)
	}
	if _, err := (AuthConfig{JWTExpiresIn: "soon"}).ExpiresIn(); err == nil {
		t.Fatal("expected parse error")
	}
}
