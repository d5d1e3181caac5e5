package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir     string
	UsersDBPath string

	HTTPAddr           string
	Env                string
	LogLevel           string
	CSRFKey            string
	CSRFTrustedOrigins []string
	MaxUploadMB        int
	ImportsPerMinute   int
	ShutdownTimeoutSec int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	dataDir := getEnv("DATA_DIR", filepath.Join(cwd, "data"))
	cfg := Config{
		DataDir:     dataDir,
		UsersDBPath: getEnv("USERS_DB_PATH", filepath.Join(dataDir, "usuarios.db")),

		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		Env:                strings.ToLower(getEnv("APP_ENV", "development")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CSRFKey:            getEnv("CSRF_KEY", ""),
		CSRFTrustedOrigins: getEnvList("CSRF_TRUSTED_ORIGINS", []string{"localhost:8080", "127.0.0.1:8080"}),
		MaxUploadMB:        getEnvInt("MAX_UPLOAD_MB", 10),
		ImportsPerMinute:   getEnvInt("IMPORTS_PER_MINUTE", 30),
		ShutdownTimeoutSec: getEnvInt("SHUTDOWN_TIMEOUT_SEC", 10),
	}

	if cfg.IsProduction() {
		if err := cfg.Require("CSRF_KEY", cfg.CSRFKey); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return int64(c.MaxUploadMB) << 20
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
