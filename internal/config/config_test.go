package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("APP_ENV", "development")
	t.Setenv("CSRF_TRUSTED_ORIGINS", " example.test , ,other.test")
	t.Setenv("MAX_UPLOAD_MB", "nope")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UsersDBPath != filepath.Join(dir, "usuarios.db") {
		t.Fatalf("usersDB=%s", cfg.UsersDBPath)
	}
	if cfg.MaxUploadMB != 10 || cfg.MaxUploadBytes() != 10<<20 {
		t.Fatalf("maxUpload=%d", cfg.MaxUploadMB)
	}
	if cfg.ImportsPerMinute != 30 {
		t.Fatalf("importsPerMinute=%d", cfg.ImportsPerMinute)
	}
	if len(cfg.CSRFTrustedOrigins) != 2 || cfg.CSRFTrustedOrigins[1] != "other.test" {
		t.Fatalf("origins=%v", cfg.CSRFTrustedOrigins)
	}
}

func TestLoadProductionRequiresCSRFKey(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("CSRF_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without CSRF_KEY")
	}
}
