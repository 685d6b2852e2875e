package config

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Config holds all environment-based configuration for wealth-portal.
type Config struct {
	// Portal service endpoint (required), e.g. https://portal.example.com.
	// Stored without a trailing slash.
	BaseURL string `env:"PORTAL_BASE_URL"`

	// API version segment used in every request path.
	APIVersion string `env:"PORTAL_API_VERSION" envDefault:"v1"`

	// Feature pair identifying this front end to the portal. Sent on every
	// API request as the featureType/feature query parameters and on the
	// authorization URL as feature_type/feature_key.
	FeatureType string `env:"PORTAL_FEATURE_TYPE"`
	FeatureKey  string `env:"PORTAL_FEATURE_KEY"`

	// OAuth2 public client identifier (required).
	ClientID string `env:"PORTAL_CLIENT_ID"`

	// BCP-47 tag sent as X-Locale. Defaults to the LANG-derived locale,
	// falling back to en-US.
	Locale string `env:"PORTAL_LOCALE"`

	// IANA zone name sent as X-Timezone-IANA. Defaults to TZ when set,
	// otherwise UTC.
	Timezone string `env:"PORTAL_TIMEZONE"`

	// Loopback address the OAuth redirect lands on during login.
	CallbackAddr string `env:"CALLBACK_ADDR" envDefault:"127.0.0.1:53682"`

	// Path of the local state database. Defaults to ~/.wealth-portal/state.db.
	StateDBPath string `env:"STATE_DB_PATH"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Locale == "" {
		cfg.Locale = systemLocale()
	}

	if cfg.Timezone == "" {
		cfg.Timezone = systemTimezone()
	}

	if cfg.StateDBPath == "" {
		path, err := DefaultStatePath()
		if err != nil {
			return nil, fmt.Errorf("deriving state database path: %w", err)
		}

		cfg.StateDBPath = path
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Canonicalize the locale so the X-Locale header carries a well-formed
	// BCP-47 tag regardless of how the environment spelled it. POSIX-style
	// underscores ("en_US") are tolerated.
	tag, err := language.Parse(strings.ReplaceAll(cfg.Locale, "_", "-"))
	if err != nil {
		return nil, fmt.Errorf("validating config: PORTAL_LOCALE %q is not a valid BCP-47 tag: %w", cfg.Locale, err)
	}

	cfg.Locale = tag.String()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("PORTAL_BASE_URL is required")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PORTAL_BASE_URL must be an absolute URL, got %q", c.BaseURL)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("PORTAL_BASE_URL must use http or https, got %q", u.Scheme)
	}

	if c.APIVersion == "" {
		return fmt.Errorf("PORTAL_API_VERSION must not be empty")
	}

	if c.FeatureType == "" {
		return fmt.Errorf("PORTAL_FEATURE_TYPE is required")
	}

	if c.FeatureKey == "" {
		return fmt.Errorf("PORTAL_FEATURE_KEY is required")
	}

	if c.ClientID == "" {
		return fmt.Errorf("PORTAL_CLIENT_ID is required")
	}

	if _, _, err := net.SplitHostPort(c.CallbackAddr); err != nil {
		return fmt.Errorf("CALLBACK_ADDR must be host:port, got %q", c.CallbackAddr)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("PORTAL_TIMEZONE %q is not a known IANA zone", c.Timezone)
	}

	return nil
}

// systemLocale derives a locale from LANG/LC_ALL, which carry values like
// "en_US.UTF-8". The charset suffix is stripped and the underscore replaced
// so the result parses as BCP-47. Falls back to en-US.
func systemLocale() string {
	for _, name := range []string{"LC_ALL", "LANG"} {
		raw := os.Getenv(name)
		if raw == "" || raw == "C" || strings.HasPrefix(raw, "C.") || strings.HasPrefix(raw, "POSIX") {
			continue
		}

		raw, _, _ = strings.Cut(raw, ".")

		candidate := strings.ReplaceAll(raw, "_", "-")
		if _, err := language.Parse(candidate); err == nil {
			return candidate
		}
	}

	return "en-US"
}

// systemTimezone returns the TZ zone name when one is set and loadable.
// Reading the zone name back out of /etc/localtime is not portable, so
// without TZ the client reports UTC rather than guessing.
func systemTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}

	return "UTC"
}

// DefaultStatePath returns the default state database location:
// ~/.wealth-portal/state.db
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".wealth-portal", "state.db"), nil
}

// RedirectURL returns the loopback address the OAuth provider sends the
// browser back to, e.g. http://127.0.0.1:53682/callback.
func (c *Config) RedirectURL() string {
	return "http://" + c.CallbackAddr + "/callback"
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
