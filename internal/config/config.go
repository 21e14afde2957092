// Package config loads the control plane's configuration from an optional
// YAML file with environment variable overrides, the way the rest of this
// codebase layers config: typed defaults, then file, then env, then
// validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Backup    BackupConfig    `yaml:"backup"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Observability ObsConfig   `yaml:"observability"`
}

type ServerConfig struct {
	ListenAddr          string `yaml:"listen_addr"`
	Version             string `yaml:"version"`
	PublicURL           string `yaml:"public_url"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
	HealthPublic        bool   `yaml:"health_public"`
}

// AuthConfig carries the bot's shared secret; user principal auth is
// resolved per-request against the sessions table, not from config.
type AuthConfig struct {
	BotAPIKey string `yaml:"bot_api_key"`
}

type RateLimitConfig struct {
	Enabled     bool    `yaml:"enabled"`
	GlobalRPS   float64 `yaml:"global_rps"`
	GlobalBurst int     `yaml:"global_burst"`
	PerIPRPS    float64 `yaml:"per_ip_rps"`
	PerIPBurst  int     `yaml:"per_ip_burst"`
}

type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	DataDir      string `yaml:"data_dir"`
}

// RuntimeConfig configures the Container Runtime Adapter and the naming
// scheme Scheduler uses to tell managed game containers apart from the
// platform's own infrastructure containers.
type RuntimeConfig struct {
	EngineHost          string `yaml:"engine_host"`
	ManagedNamePrefix   string `yaml:"managed_name_prefix"`
	OrchestrationProject string `yaml:"orchestration_project"`
}

type BackupConfig struct {
	Root         string `yaml:"root"`
	HostDataRoot string `yaml:"host_data_root"`
}

type NotifierConfig struct {
	ChannelAPIBase string `yaml:"channel_api_base"`
	WebhookURL     string `yaml:"webhook_url"`
}

type ObsConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPath string `yaml:"metrics_path"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:          ":9000",
			Version:             "dev",
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 30,
			IdleTimeoutSeconds:  60,
			HealthPublic:        true,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			GlobalRPS:   100,
			GlobalBurst: 200,
			PerIPRPS:    20,
			PerIPBurst:  40,
		},
		Storage: StorageConfig{
			DatabasePath: "/var/lib/gamepanel/panel.db",
			DataDir:      "/data",
		},
		Runtime: RuntimeConfig{
			ManagedNamePrefix:    "game-panel-",
			OrchestrationProject: "gamepanel",
		},
		Backup: BackupConfig{
			Root:         "/var/lib/gamepanel/backups",
			HostDataRoot: "/host-data/",
		},
		Observability: ObsConfig{LogLevel: "info", MetricsPath: "/metrics"},
	}
}

func Load() (Config, error) {
	cfg := Default()

	configFile := os.Getenv("GAMEPANEL_CONFIG_FILE")
	if configFile != "" {
		if err := loadYAML(&cfg, configFile); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadYAML(cfg *Config, file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "GAMEPANEL_LISTEN_ADDR")
	setString(&cfg.Server.Version, "GAMEPANEL_VERSION")
	setString(&cfg.Server.PublicURL, "GAMEPANEL_PUBLIC_URL")
	setInt(&cfg.Server.ReadTimeoutSeconds, "GAMEPANEL_READ_TIMEOUT_SECONDS")
	setInt(&cfg.Server.WriteTimeoutSeconds, "GAMEPANEL_WRITE_TIMEOUT_SECONDS")
	setInt(&cfg.Server.IdleTimeoutSeconds, "GAMEPANEL_IDLE_TIMEOUT_SECONDS")
	setBool(&cfg.Server.HealthPublic, "GAMEPANEL_HEALTH_PUBLIC")

	setString(&cfg.Auth.BotAPIKey, "GAMEPANEL_BOT_API_KEY")

	setBool(&cfg.RateLimit.Enabled, "GAMEPANEL_RATE_LIMIT_ENABLED")
	setFloat64(&cfg.RateLimit.GlobalRPS, "GAMEPANEL_RATE_LIMIT_GLOBAL_RPS")
	setInt(&cfg.RateLimit.GlobalBurst, "GAMEPANEL_RATE_LIMIT_GLOBAL_BURST")
	setFloat64(&cfg.RateLimit.PerIPRPS, "GAMEPANEL_RATE_LIMIT_PER_IP_RPS")
	setInt(&cfg.RateLimit.PerIPBurst, "GAMEPANEL_RATE_LIMIT_PER_IP_BURST")

	setString(&cfg.Storage.DatabasePath, "GAMEPANEL_DATABASE_PATH")
	setString(&cfg.Storage.DataDir, "GAMEPANEL_DATA_DIR")

	setString(&cfg.Runtime.EngineHost, "GAMEPANEL_ENGINE_HOST")
	setString(&cfg.Runtime.ManagedNamePrefix, "GAMEPANEL_MANAGED_NAME_PREFIX")
	setString(&cfg.Runtime.OrchestrationProject, "GAMEPANEL_ORCHESTRATION_PROJECT")

	setString(&cfg.Backup.Root, "GAMEPANEL_BACKUP_ROOT")
	setString(&cfg.Backup.HostDataRoot, "GAMEPANEL_HOST_DATA_ROOT")

	setString(&cfg.Notifier.ChannelAPIBase, "GAMEPANEL_NOTIFIER_CHANNEL_API_BASE")
	setString(&cfg.Notifier.WebhookURL, "GAMEPANEL_NOTIFIER_WEBHOOK_URL")

	setString(&cfg.Observability.LogLevel, "GAMEPANEL_LOG_LEVEL")
	setString(&cfg.Observability.MetricsPath, "GAMEPANEL_METRICS_PATH")
}

func validate(cfg Config) error {
	if cfg.Server.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Storage.DatabasePath == "" {
		return errors.New("database path is required")
	}
	if cfg.Runtime.ManagedNamePrefix == "" {
		return errors.New("managed name prefix is required")
	}
	if cfg.Backup.Root == "" {
		return errors.New("backup root is required")
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.GlobalRPS <= 0 || cfg.RateLimit.GlobalBurst <= 0 {
			return errors.New("global rate limit values must be > 0")
		}
		if cfg.RateLimit.PerIPRPS <= 0 || cfg.RateLimit.PerIPBurst <= 0 {
			return errors.New("per-ip rate limit values must be > 0")
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.ParseBool(v); err == nil {
			*dst = p
		}
	}
}
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			*dst = p
		}
	}
}
func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = p
		}
	}
}
