package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Authentication AuthConfig       `yaml:"authentication"`
	Endpoint       EndpointConfig   `yaml:"endpoint"`
	WorkSchedule   WorkSchedule     `yaml:"work_schedule"`
	Service        ServiceSettings  `yaml:"service_settings"`
	Storage        StorageConfig    `yaml:"storage"`
	Logging        LoggingConfig    `yaml:"logging"`
	Server         ServerConfig     `yaml:"server"`
	Push           PushConfig       `yaml:"push"`
	WorkerPool     WorkerPoolConfig `yaml:"worker_pool"`
}

// AuthConfig describes the credential bundle sent with every punch.
type AuthConfig struct {
	BearerCookie        string            `yaml:"bearer_cookie"`
	ModuleSessionCookie string            `yaml:"module_session_cookie"`
	DefaultCookies      map[string]string `yaml:"default_cookies"`
}

// EndpointConfig defines the upstream attendance endpoint.
type EndpointConfig struct {
	PunchURL   string            `yaml:"punch_url"`
	RefreshURL string            `yaml:"refresh_url"`
	Headers    map[string]string `yaml:"headers"`
	HTTPProxy  string            `yaml:"http_proxy"`
}

// PunchWindow is the hour and minute range one punch is drawn from.
type PunchWindow struct {
	Hour        int         `yaml:"hour"`
	MinuteRange MinuteRange `yaml:"minute_range"`
}

// MinuteRange is an inclusive [Min, Max] minute range.
type MinuteRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// WorkSchedule holds the punch-in and punch-out windows.
type WorkSchedule struct {
	PunchIn           PunchWindow `yaml:"punch_in"`
	PunchOut          PunchWindow `yaml:"punch_out"`
	WorkDurationHours float64     `yaml:"work_duration_hours"`
}

// ServiceSettings controls retries, timeouts and the scheduling loop.
type ServiceSettings struct {
	MaxRetries           int           `yaml:"max_retries"`
	TimeoutSeconds       int           `yaml:"timeout_seconds"`
	Timeout              time.Duration `yaml:"-"`
	CheckIntervalSeconds int           `yaml:"check_interval_seconds"`
	CheckInterval        time.Duration `yaml:"-"`
	RetrySpacingMillis   int           `yaml:"retry_spacing_ms"`
	RetrySpacing         time.Duration `yaml:"-"`
	Workdays             []string      `yaml:"workdays"`
	Timezone             string        `yaml:"timezone"`
	PIDFile              string        `yaml:"pid_file"`
	AlertFile            string        `yaml:"alert_file"`
	EscalationThreshold  int           `yaml:"escalation_threshold"`
}

// StorageConfig selects the credential and history database.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig holds the log level and optional log file.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ServerConfig holds the status API configuration.
type ServerConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// PushConfig holds the VAPID keys for web push alerts.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Default returns the built-in configuration used when no file is available.
func Default() *Config {
	cfg := &Config{
		Authentication: AuthConfig{
			BearerCookie:        "__ModuleSessionCookie",
			ModuleSessionCookie: "YOUR_MODULE_SESSION_COOKIE_HERE",
			DefaultCookies: map[string]string{
				"__ModuleSessionCookie2": "Ok",
				"LoggedInDomain":         "apollo.mayohr.com",
			},
		},
		Endpoint: EndpointConfig{
			PunchURL:   "https://apollo.mayohr.com/backend/pt/api/checkIn/punch/web",
			RefreshURL: "https://apollo.mayohr.com/",
			Headers: map[string]string{
				"Content-Type":    "application/json",
				"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36 Edg/139.0.0.0",
				"Accept":          "*/*",
				"Accept-Language": "zh-tw",
				"Actioncode":      "Default",
				"Functioncode":    "PunchCard",
				"Origin":          "https://apollo.mayohr.com",
				"Referer":         "https://apollo.mayohr.com/ta?id=webpunch",
			},
		},
		WorkSchedule: WorkSchedule{
			PunchIn:           PunchWindow{Hour: 9, MinuteRange: MinuteRange{Min: 10, Max: 20}},
			PunchOut:          PunchWindow{Hour: 18, MinuteRange: MinuteRange{Min: 10, Max: 30}},
			WorkDurationHours: 9,
		},
		Service: ServiceSettings{
			MaxRetries:           2,
			TimeoutSeconds:       30,
			CheckIntervalSeconds: 30,
			Workdays:             []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
			PIDFile:              "attendance_service.pid",
			AlertFile:            "logs/cookie_alert.txt",
			EscalationThreshold:  3,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "attendance.db",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "logs/attendance_service.log",
		},
		Server: ServerConfig{
			Port:            8087,
			RateLimitPerSec: 10,
			CacheTTLSeconds: 30,
		},
		Push:       PushConfig{TTL: 3600},
		WorkerPool: WorkerPoolConfig{Size: 1},
	}
	cfg.normalize()
	return cfg
}

// Load reads the configuration from the given path. Fields absent from the
// file keep their built-in defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	applyEnv(cfg)
	cfg.normalize()
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file is missing
// or malformed.
func LoadOrDefault(path string, logger zerolog.Logger) *Config {
	cfg, err := Load(path)
	if err == nil {
		return cfg
	}
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("path", path).Msg("config file not found, using default configuration")
	} else {
		logger.Warn().Err(err).Str("path", path).Msg("cannot load config file, using default configuration")
	}
	cfg = Default()
	applyEnv(cfg)
	cfg.normalize()
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PUNCH_BEARER_TOKEN"); v != "" {
		cfg.Authentication.ModuleSessionCookie = v
	}
	if v := os.Getenv("PUNCH_ENDPOINT_URL"); v != "" {
		cfg.Endpoint.PunchURL = v
	}
	if v := os.Getenv("PUNCH_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func (c *Config) normalize() {
	def := PunchWindow{Hour: 9, MinuteRange: MinuteRange{Min: 10, Max: 20}}
	c.WorkSchedule.PunchIn = normalizeWindow(c.WorkSchedule.PunchIn, def)
	def = PunchWindow{Hour: 18, MinuteRange: MinuteRange{Min: 10, Max: 30}}
	c.WorkSchedule.PunchOut = normalizeWindow(c.WorkSchedule.PunchOut, def)

	if c.Authentication.BearerCookie == "" {
		c.Authentication.BearerCookie = "__ModuleSessionCookie"
	}
	if c.Service.MaxRetries < 0 {
		c.Service.MaxRetries = 2
	}
	if c.Service.TimeoutSeconds <= 0 {
		c.Service.TimeoutSeconds = 30
	}
	c.Service.Timeout = time.Duration(c.Service.TimeoutSeconds) * time.Second

	if c.Service.CheckIntervalSeconds <= 0 {
		c.Service.CheckIntervalSeconds = 30
	}
	c.Service.CheckInterval = time.Duration(c.Service.CheckIntervalSeconds) * time.Second

	if c.Service.RetrySpacingMillis < 0 {
		c.Service.RetrySpacingMillis = 0
	}
	c.Service.RetrySpacing = time.Duration(c.Service.RetrySpacingMillis) * time.Millisecond

	if len(c.Service.Workdays) == 0 {
		c.Service.Workdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
	}
	if c.Service.EscalationThreshold <= 0 {
		c.Service.EscalationThreshold = 3
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}
	if c.WorkerPool.Size <= 0 {
		c.WorkerPool.Size = 1
	}
	if c.Server.CacheTTLSeconds <= 0 {
		c.Server.CacheTTLSeconds = 30
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
}

// normalizeWindow replaces an out-of-range window with def and orders the
// minute bounds.
func normalizeWindow(w, def PunchWindow) PunchWindow {
	if w.Hour < 0 || w.Hour > 23 {
		return def
	}
	r := w.MinuteRange
	if r.Min < 0 || r.Min > 59 || r.Max < 0 || r.Max > 59 {
		return def
	}
	if r.Min > r.Max {
		r.Min, r.Max = r.Max, r.Min
	}
	w.MinuteRange = r
	return w
}

// Location returns the configured schedule timezone, or time.Local.
func (s ServiceSettings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}
