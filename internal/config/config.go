package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every setting for the lecturer client and the sandbox service
// ARCHITECTURAL DISCOVERY: One config tree serves both binaries; each reads only its sections
type Config struct {
	API     *APIConfig     `json:"api" validate:"required"`
	Session *SessionConfig `json:"session" validate:"required"`
	Sandbox *SandboxConfig `json:"sandbox" validate:"required"`
}

// APIConfig locates the remote attendance service and its credential
type APIConfig struct {
	BaseURL   string        `json:"base_url" validate:"required,url"`
	Timeout   time.Duration `json:"timeout" validate:"gt=0"`
	Token     string        `json:"token"`
	TokenFile string        `json:"token_file"`
	LiveFeed  bool          `json:"live_feed"`
}

// SessionConfig tunes the countdown and expiry transition
// FUNCTIONAL DISCOVERY: 1s ticks, 500ms alert tint and 2s fade match the lecturer screen
type SessionConfig struct {
	TickInterval  time.Duration `json:"tick_interval" validate:"gt=0"`
	AlertDuration time.Duration `json:"alert_duration" validate:"gte=0"`
	FadeDuration  time.Duration `json:"fade_duration" validate:"gte=0"`
}

// SandboxConfig configures the local reference attendance service
type SandboxConfig struct {
	Host          string        `json:"host" validate:"required"`
	Port          int           `json:"port" validate:"min=1,max=65535"`
	DatabasePath  string        `json:"database_path" validate:"required"`
	JWTSecret     string        `json:"jwt_secret" validate:"required,min=8"`
	SessionLength time.Duration `json:"session_length" validate:"gt=0"`
	ExtendBy      time.Duration `json:"extend_by" validate:"gt=0"`
	ReadTimeout   time.Duration `json:"read_timeout" validate:"gt=0"`
	WriteTimeout  time.Duration `json:"write_timeout" validate:"gt=0"`
	MarkRateLimit int           `json:"mark_rate_limit" validate:"gt=0"`
	Seed          bool          `json:"seed"`
}

var validate = validator.New()

// DefaultConfig returns settings suitable for local development
func DefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 15 * time.Second,
		},
		Session: &SessionConfig{
			TickInterval:  time.Second,
			AlertDuration: 500 * time.Millisecond,
			FadeDuration:  2 * time.Second,
		},
		Sandbox: &SandboxConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			DatabasePath:  "./rollcall-sandbox.db",
			JWTSecret:     "rollcall-dev-secret",
			SessionLength: 5 * time.Minute,
			ExtendBy:      5 * time.Minute,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			MarkRateLimit: 100,
			Seed:          true,
		},
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag())
	}
	return err
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file without overriding the process environment
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overlays ROLLCALL_* environment variables on the defaults
func LoadFromEnv() *Config {
	config := DefaultConfig()

	setString(&config.API.BaseURL, "ROLLCALL_API_BASE_URL")
	setDuration(&config.API.Timeout, "ROLLCALL_API_TIMEOUT")
	setString(&config.API.Token, "ROLLCALL_API_TOKEN")
	setString(&config.API.TokenFile, "ROLLCALL_API_TOKEN_FILE")
	setBool(&config.API.LiveFeed, "ROLLCALL_API_LIVE_FEED")

	setDuration(&config.Session.TickInterval, "ROLLCALL_SESSION_TICK_INTERVAL")
	setDuration(&config.Session.AlertDuration, "ROLLCALL_SESSION_ALERT_DURATION")
	setDuration(&config.Session.FadeDuration, "ROLLCALL_SESSION_FADE_DURATION")

	setString(&config.Sandbox.Host, "ROLLCALL_SANDBOX_HOST")
	setInt(&config.Sandbox.Port, "ROLLCALL_SANDBOX_PORT")
	setString(&config.Sandbox.DatabasePath, "ROLLCALL_SANDBOX_DATABASE_PATH")
	setString(&config.Sandbox.JWTSecret, "ROLLCALL_SANDBOX_JWT_SECRET")
	setDuration(&config.Sandbox.SessionLength, "ROLLCALL_SANDBOX_SESSION_LENGTH")
	setDuration(&config.Sandbox.ExtendBy, "ROLLCALL_SANDBOX_EXTEND_BY")
	setDuration(&config.Sandbox.ReadTimeout, "ROLLCALL_SANDBOX_READ_TIMEOUT")
	setDuration(&config.Sandbox.WriteTimeout, "ROLLCALL_SANDBOX_WRITE_TIMEOUT")
	setInt(&config.Sandbox.MarkRateLimit, "ROLLCALL_SANDBOX_MARK_RATE_LIMIT")
	setBool(&config.Sandbox.Seed, "ROLLCALL_SANDBOX_SEED")

	return config
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile is the JSON shape of a config file
// FUNCTIONAL DISCOVERY: Durations are strings ("15s") in files and parsed on load
type ConfigFile struct {
	API     *APIConfigFile     `json:"api"`
	Session *SessionConfigFile `json:"session"`
	Sandbox *SandboxConfigFile `json:"sandbox"`
}

type APIConfigFile struct {
	BaseURL   string `json:"base_url"`
	Timeout   string `json:"timeout"`
	Token     string `json:"token"`
	TokenFile string `json:"token_file"`
	LiveFeed  *bool  `json:"live_feed"`
}

type SessionConfigFile struct {
	TickInterval  string `json:"tick_interval"`
	AlertDuration string `json:"alert_duration"`
	FadeDuration  string `json:"fade_duration"`
}

type SandboxConfigFile struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	DatabasePath  string `json:"database_path"`
	JWTSecret     string `json:"jwt_secret"`
	SessionLength string `json:"session_length"`
	ExtendBy      string `json:"extend_by"`
	ReadTimeout   string `json:"read_timeout"`
	WriteTimeout  string `json:"write_timeout"`
	MarkRateLimit int    `json:"mark_rate_limit"`
	Seed          *bool  `json:"seed"`
}

// LoadFromFile reads a JSON config file on top of base, or the defaults when base is nil
func LoadFromFile(filepath string, base ...*Config) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()
	if len(base) > 0 && base[0] != nil {
		config = base[0]
	}

	if f := configFile.API; f != nil {
		if f.BaseURL != "" {
			config.API.BaseURL = f.BaseURL
		}
		if f.Token != "" {
			config.API.Token = f.Token
		}
		if f.TokenFile != "" {
			config.API.TokenFile = f.TokenFile
		}
		if f.LiveFeed != nil {
			config.API.LiveFeed = *f.LiveFeed
		}
		if err := parseDuration(&config.API.Timeout, f.Timeout); err != nil {
			return nil, fmt.Errorf("invalid api.timeout in %s: %w", filepath, err)
		}
	}

	if f := configFile.Session; f != nil {
		for _, d := range []struct {
			dst  *time.Duration
			raw  string
			name string
		}{
			{&config.Session.TickInterval, f.TickInterval, "session.tick_interval"},
			{&config.Session.AlertDuration, f.AlertDuration, "session.alert_duration"},
			{&config.Session.FadeDuration, f.FadeDuration, "session.fade_duration"},
		} {
			if err := parseDuration(d.dst, d.raw); err != nil {
				return nil, fmt.Errorf("invalid %s in %s: %w", d.name, filepath, err)
			}
		}
	}

	if f := configFile.Sandbox; f != nil {
		if f.Host != "" {
			config.Sandbox.Host = f.Host
		}
		if f.Port > 0 {
			config.Sandbox.Port = f.Port
		}
		if f.DatabasePath != "" {
			config.Sandbox.DatabasePath = f.DatabasePath
		}
		if f.JWTSecret != "" {
			config.Sandbox.JWTSecret = f.JWTSecret
		}
		if f.MarkRateLimit > 0 {
			config.Sandbox.MarkRateLimit = f.MarkRateLimit
		}
		if f.Seed != nil {
			config.Sandbox.Seed = *f.Seed
		}
		for _, d := range []struct {
			dst  *time.Duration
			raw  string
			name string
		}{
			{&config.Sandbox.SessionLength, f.SessionLength, "sandbox.session_length"},
			{&config.Sandbox.ExtendBy, f.ExtendBy, "sandbox.extend_by"},
			{&config.Sandbox.ReadTimeout, f.ReadTimeout, "sandbox.read_timeout"},
			{&config.Sandbox.WriteTimeout, f.WriteTimeout, "sandbox.write_timeout"},
		} {
			if err := parseDuration(d.dst, d.raw); err != nil {
				return nil, fmt.Errorf("invalid %s in %s: %w", d.name, filepath, err)
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

func parseDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// LoadConfigWithPrecedence resolves file > environment (.env included) > defaults
// A broken config file is logged and skipped; environment and defaults still apply.
func LoadConfigWithPrecedence(filepath string) *Config {
	if err := LoadDotEnv(""); err != nil {
		log.Printf("config: %v", err)
	}

	config := LoadFromEnv()

	if filepath != "" {
		fileConfig, err := LoadFromFile(filepath, config)
		if err != nil {
			log.Printf("config: ignoring %s: %v", filepath, err)
			return LoadFromEnv()
		}
		config = fileConfig
	}

	return config
}
