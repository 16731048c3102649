package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the metering gateway and the
// admin console.
type Config struct {
	ListenAddr      string
	AdminListenAddr string
	AdminUsername   string
	AdminPassword   string
	AllowedOrigins  []string

	MySQLDSN string

	LedgerBaseURL       string
	LedgerIDToken       string
	LedgerTokenFile     string
	RequestTimeout      time.Duration
	AuthRefreshInterval time.Duration

	NotifyBuffer  int
	NotifyTimeout time.Duration

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// ExportEnabled reports whether ledger history export to object storage is
// configured. The export endpoint is disabled when it is not.
func (c Config) ExportEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		AdminListenAddr:     getEnv("ADMIN_LISTEN_ADDR", ":8081"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", "change-me"),
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "*")),
		LedgerBaseURL:       normalizeBaseURL(os.Getenv("LEDGER_BASE_URL")),
		LedgerTokenFile:     os.Getenv("LEDGER_TOKEN_FILE"),
		RequestTimeout:      time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),
		AuthRefreshInterval: time.Minute * time.Duration(getInt("AUTH_REFRESH_MINUTES", 50)),
		NotifyBuffer:        getInt("NOTIFY_BUFFER", 64),
		NotifyTimeout:       time.Second * time.Duration(getInt("NOTIFY_TIMEOUT_SECONDS", 10)),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
		S3Region:            os.Getenv("S3_REGION"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("S3_SECRET_KEY"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:     os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:      getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:            getEnv("S3_PREFIX", "ledger-exports"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.LedgerIDToken = os.Getenv("LEDGER_ID_TOKEN")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.LedgerBaseURL == "" {
		missing = append(missing, "LEDGER_BASE_URL")
	}
	if cfg.LedgerIDToken == "" && cfg.LedgerTokenFile == "" {
		missing = append(missing, "LEDGER_ID_TOKEN or LEDGER_TOKEN_FILE")
	}
	if cfg.ExportEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// normalizeBaseURL trims trailing slashes and defaults the scheme to https so
// a bare hostname in the environment still produces a usable base URL.
func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(strings.TrimRight(raw, "/"))
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	return parsed.String()
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Running without an env file is fine; everything can come from the
	// process environment.
	return nil
}
