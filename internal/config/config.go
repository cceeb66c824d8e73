// Package config loads, merges and persists the capture settings document.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/autocapture/internal/errors"
)

// LocationService names one of the supported geolocation providers.
type LocationService string

const (
	LocationIPAPI       LocationService = "ipapi"
	LocationIPAPICo     LocationService = "ipapi_co"
	LocationGeolocation LocationService = "geolocation"
)

// Valid reports whether s names a known provider.
func (s LocationService) Valid() bool {
	switch s {
	case LocationIPAPI, LocationIPAPICo, LocationGeolocation:
		return true
	}
	return false
}

// WebhookPlaceholder is written by --init so the user knows what to replace.
const WebhookPlaceholder = "YOUR_DISCORD_WEBHOOK_URL_HERE"

const defaultAvatarURL = "https://cdn-icons-png.flaticon.com/512/4712/4712035.png"

// Config mirrors the on-disk settings document. It is immutable once Load returns.
type Config struct {
	WebhookURL        string          `json:"webhook_url" yaml:"webhook_url"`
	CaptureInterval   int             `json:"capture_interval" yaml:"capture_interval"`
	ImageQuality      int             `json:"image_quality" yaml:"image_quality"`
	MaxCaptures       int             `json:"max_captures" yaml:"max_captures"`
	SaveLocally       bool            `json:"save_locally" yaml:"save_locally"`
	LocalSavePath     string          `json:"local_save_path" yaml:"local_save_path"`
	CompressImages    bool            `json:"compress_images" yaml:"compress_images"`
	MaxImageSizeMB    float64         `json:"max_image_size_mb" yaml:"max_image_size_mb"`
	EmbedColor        int             `json:"embed_color" yaml:"embed_color"`
	IncludeTimestamp  bool            `json:"include_timestamp" yaml:"include_timestamp"`
	IncludeSystemInfo bool            `json:"include_system_info" yaml:"include_system_info"`
	CaptureLocation   bool            `json:"capture_location" yaml:"capture_location"`
	LocationService   LocationService `json:"location_service" yaml:"location_service"`
	LocationTimeout   float64         `json:"location_timeout" yaml:"location_timeout"`
	StartDelay        float64         `json:"start_delay" yaml:"start_delay"`
	LogLevel          string          `json:"log_level" yaml:"log_level"`
	RunForever        bool            `json:"run_forever" yaml:"run_forever"`
	AutoStart         bool            `json:"auto_start" yaml:"auto_start"`

	SessionsDir   string `json:"sessions_dir" yaml:"sessions_dir"`
	LogFile       string `json:"log_file" yaml:"log_file"`
	LedgerPath    string `json:"ledger_path" yaml:"ledger_path"`
	StatusAddr    string `json:"status_addr" yaml:"status_addr"`
	HealthAddr    string `json:"health_addr" yaml:"health_addr"`
	SkipUnchanged bool   `json:"skip_unchanged" yaml:"skip_unchanged"`
	// Optional guards in front of the location provider. Off by default so
	// every iteration sends its own lookup.
	LocationRateLimit bool `json:"location_rate_limit" yaml:"location_rate_limit"`
	LocationBreaker   bool `json:"location_breaker" yaml:"location_breaker"`
	Username      string `json:"username" yaml:"username"`
	AvatarURL     string `json:"avatar_url" yaml:"avatar_url"`
}

// Defaults returns the built-in configuration every document is merged onto.
func Defaults() Config {
	return Config{
		WebhookURL:        "",
		CaptureInterval:   300,
		ImageQuality:      85,
		MaxCaptures:       0,
		SaveLocally:       true,
		LocalSavePath:     "auto_captures",
		CompressImages:    true,
		MaxImageSizeMB:    8,
		EmbedColor:        15158332,
		IncludeTimestamp:  true,
		IncludeSystemInfo: true,
		CaptureLocation:   true,
		LocationService:   LocationIPAPI,
		LocationTimeout:   5,
		StartDelay:        10,
		LogLevel:          "INFO",
		RunForever:        true,
		AutoStart:         true,
		SessionsDir:       "session_logs",
		LogFile:           filepath.Join("logs", "autocapture.log"),
		LedgerPath:        filepath.Join("session_logs", "captures.db"),
		Username:          "Auto Image Logger",
		AvatarURL:         defaultAvatarURL,
	}
}

// Load reads path (if it exists), overlays it onto Defaults, applies
// environment overrides, writes the merged document back and validates it.
// A document that cannot be parsed is logged and ignored.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if uerr := unmarshal(path, data, &cfg); uerr != nil {
			slog.Error("error loading config, using defaults", "path", path, "error", uerr)
			cfg = Defaults()
		}
	case os.IsNotExist(err):
		slog.Debug("config file not found, using defaults", "path", path)
	default:
		slog.Error("error reading config, using defaults", "path", path, "error", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := Save(path, &cfg); err != nil {
		slog.Warn("failed to persist merged config", "path", path, "error", err)
	}
	return &cfg, nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(path string, cfg *Config) error {
	data, err := marshal(path, cfg)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode config")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Init writes a default document with a placeholder webhook to path.
// It refuses to overwrite an existing file.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "config %s already exists", path)
	}
	cfg := Defaults()
	cfg.WebhookURL = WebhookPlaceholder
	return Save(path, &cfg)
}

// Validate enforces the invariants the scheduler relies on.
func (c *Config) Validate() error {
	if url := strings.TrimSpace(c.WebhookURL); url == "" || url == WebhookPlaceholder {
		return apperrors.New(apperrors.CodeConfigMissing, "webhook_url is required")
	}
	numeric := []struct {
		name  string
		value float64
	}{
		{"capture_interval", float64(c.CaptureInterval)},
		{"image_quality", float64(c.ImageQuality)},
		{"max_captures", float64(c.MaxCaptures)},
		{"max_image_size_mb", c.MaxImageSizeMB},
		{"embed_color", float64(c.EmbedColor)},
		{"location_timeout", c.LocationTimeout},
		{"start_delay", c.StartDelay},
	}
	for _, n := range numeric {
		if n.value < 0 {
			return apperrors.Newf(apperrors.CodeConfigInvalid, "%s must be >= 0", n.name).
				WithMetadata("value", strconv.FormatFloat(n.value, 'f', -1, 64))
		}
	}
	if c.ImageQuality > 100 {
		return apperrors.New(apperrors.CodeConfigInvalid, "image_quality must be <= 100")
	}
	if c.EmbedColor > 0xFFFFFF {
		return apperrors.New(apperrors.CodeConfigInvalid, "embed_color must be a 24-bit RGB value")
	}
	if !c.LocationService.Valid() {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "unsupported location_service %q", c.LocationService)
	}
	return nil
}

// Interval is the pause between iterations.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.CaptureInterval) * time.Second
}

// StartDelayDuration is the pause before the first capture.
func (c *Config) StartDelayDuration() time.Duration {
	return seconds(c.StartDelay)
}

// LocationTimeoutDuration bounds one geolocation request.
func (c *Config) LocationTimeoutDuration() time.Duration {
	return seconds(c.LocationTimeout)
}

// MaxImageBytes is the encoder size ceiling.
func (c *Config) MaxImageBytes() int {
	return int(c.MaxImageSizeMB * 1024 * 1024)
}

// CaptureLimit returns the number of iterations to run, 0 meaning unlimited.
// With run_forever disabled and no explicit ceiling a single capture is taken.
func (c *Config) CaptureLimit() int {
	if c.MaxCaptures > 0 {
		return c.MaxCaptures
	}
	if !c.RunForever {
		return 1
	}
	return 0
}

// MaskedWebhook returns the webhook URL in a form safe to log.
func (c *Config) MaskedWebhook() string {
	return MaskURL(c.WebhookURL)
}

// MaskURL keeps the first and last ten characters of url.
func MaskURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:10] + "..." + url[len(url)-10:]
}

func (c *Config) applyEnv() {
	c.WebhookURL = getEnv("AUTOCAPTURE_WEBHOOK_URL", c.WebhookURL)
	c.LogLevel = getEnv("AUTOCAPTURE_LOG_LEVEL", c.LogLevel)
	c.StatusAddr = getEnv("AUTOCAPTURE_STATUS_ADDR", c.StatusAddr)
	c.HealthAddr = getEnv("AUTOCAPTURE_HEALTH_ADDR", c.HealthAddr)
	c.CaptureInterval = getEnvInt("AUTOCAPTURE_CAPTURE_INTERVAL", c.CaptureInterval)
	c.MaxCaptures = getEnvInt("AUTOCAPTURE_MAX_CAPTURES", c.MaxCaptures)
	c.SaveLocally = getEnvBool("AUTOCAPTURE_SAVE_LOCALLY", c.SaveLocally)
	c.CaptureLocation = getEnvBool("AUTOCAPTURE_CAPTURE_LOCATION", c.CaptureLocation)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func marshal(path string, cfg *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "    ")
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
