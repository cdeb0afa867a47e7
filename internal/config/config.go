// Package config loads gateway configuration: defaults, then the
// persistent TOML file at ~/.config/omni/beacon/config.toml, then
// environment variables (env wins). Internal struct definitions that
// back hot-reloadable sections also carry yaml tags for parity with
// the teacher's in-process config conventions.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TelegramAccountConfig is one bot account's settings.
type TelegramAccountConfig struct {
	Token                  string  `toml:"token" yaml:"token"`
	AllowedIDs             []int64 `toml:"allowed_ids" yaml:"allowed_ids"`
	BotUsername            string  `toml:"bot_username" yaml:"bot_username"`
	RequireMentionInGroups bool    `toml:"require_mention_in_groups" yaml:"require_mention_in_groups"`
}

// TelegramConfig holds the default account plus any additional named
// accounts for multi-bot deployments.
type TelegramConfig struct {
	Enabled                bool                              `toml:"enabled" yaml:"enabled"`
	Token                  string                             `toml:"token" yaml:"token"`
	AllowedIDs             []int64                            `toml:"allowed_ids" yaml:"allowed_ids"`
	BotUsername            string                             `toml:"bot_username" yaml:"bot_username"`
	RequireMentionInGroups bool                               `toml:"require_mention_in_groups" yaml:"require_mention_in_groups"`
	Accounts               map[string]TelegramAccountConfig  `toml:"accounts" yaml:"accounts"`
}

// GatewayConfig controls the HTTP/WS listener and admin auth.
type GatewayConfig struct {
	BindAddr    string `toml:"bind_addr" yaml:"bind_addr"`
	AdminAPIKey string `toml:"admin_api_key" yaml:"admin_api_key"`
}

// AetherConfig drives the billing gate (see internal/billing). Empty
// URL disables the gate entirely.
type AetherConfig struct {
	URL           string `toml:"url" yaml:"url"`
	ServiceAPIKey string `toml:"service_api_key" yaml:"service_api_key"`
	AppID         string `toml:"app_id" yaml:"app_id"`
	FailMode      string `toml:"fail_mode" yaml:"fail_mode"`
	CacheTTLSecs  int    `toml:"cache_ttl_secs" yaml:"cache_ttl_secs"`
}

// OtelConfig drives tracing/metrics export. Disabled by default so a
// gateway with no collector configured pays zero overhead.
type OtelConfig struct {
	Enabled     bool    `toml:"enabled" yaml:"enabled"`
	Exporter    string  `toml:"exporter" yaml:"exporter"`
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	ServiceName string  `toml:"service_name" yaml:"service_name"`
	SampleRate  float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// Config is the gateway's fully resolved configuration.
type Config struct {
	HomeDir string `toml:"-" yaml:"-"`

	LogLevel    string   `toml:"log_level" yaml:"log_level"`
	AuthBaseURL string   `toml:"auth_base_url" yaml:"auth_base_url"`
	PluginDirs  []string `toml:"plugin_dirs" yaml:"plugin_dirs"`

	Gateway  GatewayConfig  `toml:"gateway" yaml:"gateway"`
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
	Aether   AetherConfig   `toml:"aether" yaml:"aether"`
	Otel     OtelConfig     `toml:"otel" yaml:"otel"`
}

// PersistentPath returns the path to the TOML config file:
// ~/.config/omni/beacon/config.toml, honoring XDG_CONFIG_HOME.
func PersistentPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "omni", "beacon", "config.toml")
	}
	return filepath.Join(".", "omni-beacon-config.toml")
}

// HomeDir returns the gateway's data directory: BEACON_HOME if set,
// else ~/.beacon-gateway.
func HomeDir() string {
	if override := os.Getenv("BEACON_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".beacon-gateway")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Gateway: GatewayConfig{
			BindAddr: "127.0.0.1:8787",
		},
		Aether: AetherConfig{
			AppID:        "synapse",
			FailMode:     "open",
			CacheTTLSecs: 60,
		},
		Otel: OtelConfig{
			Exporter:    "otlp-http",
			ServiceName: "beacon-gateway",
			SampleRate:  1.0,
		},
	}
}

// Load resolves configuration: defaults, then the persistent TOML
// file (parse failures warn via the supplied logger func and fall
// back to defaults rather than failing startup), then environment
// variables, which always win.
func Load(warnf func(format string, args ...any)) (Config, error) {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create gateway home: %w", err)
	}

	path := PersistentPath()
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg Config
		if _, decodeErr := toml.Decode(string(data), &fileCfg); decodeErr != nil {
			warnf("failed to parse persistent config %s, using defaults: %v", path, decodeErr)
		} else {
			mergeFileConfig(&cfg, fileCfg)
		}
	} else if !os.IsNotExist(err) {
		warnf("failed to read persistent config %s: %v", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// mergeFileConfig overlays non-zero fields from the TOML file onto
// the defaults. All TOML keys are optional per the external contract.
func mergeFileConfig(cfg *Config, file Config) {
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.AuthBaseURL != "" {
		cfg.AuthBaseURL = file.AuthBaseURL
	}
	if len(file.PluginDirs) > 0 {
		cfg.PluginDirs = file.PluginDirs
	}
	if file.Gateway.BindAddr != "" {
		cfg.Gateway.BindAddr = file.Gateway.BindAddr
	}
	if file.Gateway.AdminAPIKey != "" {
		cfg.Gateway.AdminAPIKey = file.Gateway.AdminAPIKey
	}
	if file.Telegram.Token != "" || len(file.Telegram.AllowedIDs) > 0 || file.Telegram.Enabled {
		cfg.Telegram = file.Telegram
	}
	if file.Aether.URL != "" {
		cfg.Aether = file.Aether
	}
	if file.Otel.Enabled {
		cfg.Otel = file.Otel
	}
}

// validate rejects startup-fatal misconfiguration: AETHER_URL set
// without a service key, or an AETHER_URL that doesn't parse as a URL.
func validate(cfg Config) error {
	if cfg.Aether.URL == "" {
		return nil
	}
	if !strings.Contains(cfg.Aether.URL, "://") {
		return fmt.Errorf("aether url %q is not a valid URL", cfg.Aether.URL)
	}
	if cfg.Aether.ServiceAPIKey == "" {
		return fmt.Errorf("AETHER_SERVICE_API_KEY is required when AETHER_URL is set")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_ADDR"); v != "" {
		cfg.Gateway.BindAddr = v
	}
	if v := os.Getenv("GATEWAY_AUTH_TOKEN"); v != "" {
		cfg.Gateway.AdminAPIKey = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUTH_BASE_URL"); v != "" {
		cfg.AuthBaseURL = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_ALLOWED_IDS"); v != "" {
		cfg.Telegram.AllowedIDs = parseIDList(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_USERNAME"); v != "" {
		cfg.Telegram.BotUsername = v
	}
	if v := os.Getenv("TELEGRAM_REQUIRE_MENTION"); v != "" {
		cfg.Telegram.RequireMentionInGroups = v == "1" || strings.EqualFold(v, "true")
	}

	if v := os.Getenv("AETHER_URL"); v != "" {
		cfg.Aether.URL = v
	}
	if v := os.Getenv("AETHER_SERVICE_API_KEY"); v != "" {
		cfg.Aether.ServiceAPIKey = v
	}
	if v := os.Getenv("AETHER_APP_ID"); v != "" {
		cfg.Aether.AppID = v
	}
	if v := os.Getenv("AETHER_FAIL_MODE"); v != "" {
		cfg.Aether.FailMode = v
	}
	if v := os.Getenv("AETHER_CACHE_TTL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Aether.CacheTTLSecs = n
		}
	}

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		cfg.Otel.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OTEL_EXPORTER"); v != "" {
		cfg.Otel.Exporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Otel.Endpoint = v
	}
}

func parseIDList(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
