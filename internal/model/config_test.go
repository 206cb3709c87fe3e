package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PageSize != 20 {
		t.Errorf("page size: got %d, want 20", cfg.PageSize)
	}
	if cfg.CallTimeoutSec != 30 {
		t.Errorf("call timeout: got %d, want 30", cfg.CallTimeoutSec)
	}
	if cfg.Providers.Yahoo.IMAPHost != "imap.mail.yahoo.com" {
		t.Errorf("yahoo imap host: got %q", cfg.Providers.Yahoo.IMAPHost)
	}
}

func TestLoadConfig_ReadsFileAndClampsPageSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
page_size: 500
providers:
  gmail:
    client_id: gid
    client_secret: gsecret
  yahoo:
    imap_host: imap.example.com
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PageSize != 50 {
		t.Errorf("page size: got %d, want clamped to 50", cfg.PageSize)
	}
	if cfg.Providers.Gmail.ClientID != "gid" {
		t.Errorf("gmail client id: got %q", cfg.Providers.Gmail.ClientID)
	}
	if cfg.Providers.Yahoo.IMAPHost != "imap.example.com" {
		t.Errorf("yahoo imap host: got %q", cfg.Providers.Yahoo.IMAPHost)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Providers.Yahoo.IMAPPort != "993" {
		t.Errorf("yahoo imap port: got %q, want default 993", cfg.Providers.Yahoo.IMAPPort)
	}
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	original := &AppConfig{
		PageSize:       25,
		CallTimeoutSec: 15,
		DBPath:         "/tmp/mailhub.db",
		Providers: ProvidersConfig{
			Outlook: OAuthClientConfig{ClientID: "oid", ClientSecret: "osecret"},
		},
	}
	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("saving config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if loaded.PageSize != 25 {
		t.Errorf("page size: got %d, want 25", loaded.PageSize)
	}
	if loaded.Providers.Outlook.ClientID != "oid" {
		t.Errorf("outlook client id: got %q", loaded.Providers.Outlook.ClientID)
	}
	if loaded.DBPath != "/tmp/mailhub.db" {
		t.Errorf("db path: got %q", loaded.DBPath)
	}
}
