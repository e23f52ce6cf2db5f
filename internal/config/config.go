// Package config provides configuration management for paseod.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration sections for paseod.
type Config struct {
	Listen     ListenConfig     `mapstructure:"listen"`
	Home       HomeConfig       `mapstructure:"home"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Permission PermissionConfig `mapstructure:"permission"`
	Timeline   TimelineConfig   `mapstructure:"timeline"`
	Features   FeaturesConfig   `mapstructure:"features"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
}

// ListenConfig holds the WebSocket listener configuration.
// Addr may be "host:port", a bare ":port", or a UNIX socket path (prefixed "unix:").
type ListenConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowedHosts []string `mapstructure:"allowedHosts"`
}

// HomeConfig describes the $PASEO_HOME layout root.
type HomeConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds optional containerized-sandbox configuration.
// Disabled by default. Enabling it only connects to and pings a Docker
// daemon at startup; agents run as plain host subprocesses either way.
type DockerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// PermissionConfig holds the permission broker's timeout policy.
type PermissionConfig struct {
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

// TimelineConfig holds the timeline store's retention policy.
type TimelineConfig struct {
	MaxItemsPerEpoch int `mapstructure:"maxItemsPerEpoch"`
}

// FeaturesConfig holds optional feature toggles.
type FeaturesConfig struct {
	VoiceEnabled bool `mapstructure:"voiceEnabled"`
	MCPEnabled   bool `mapstructure:"mcpEnabled"`
}

// ProviderConfig holds per-provider CLI invocation settings.
type ProviderConfig struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// ProvidersConfig maps a provider tag (claude, codex, opencode, copilot, ...)
// to its invocation settings.
type ProvidersConfig struct {
	Claude   ProviderConfig `mapstructure:"claude"`
	Codex    ProviderConfig `mapstructure:"codex"`
	OpenCode ProviderConfig `mapstructure:"opencode"`
	Copilot  ProviderConfig `mapstructure:"copilot"`
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("PASEO_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// DefaultHome returns $PASEO_HOME, or ~/.paseo if unset.
func DefaultHome() string {
	if home := os.Getenv("PASEO_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".paseo"
	}
	return filepath.Join(dir, ".paseo")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.addr", ":4273")
	v.SetDefault("listen.allowedHosts", []string{"localhost", "127.0.0.1"})

	v.SetDefault("home.path", DefaultHome())

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "paseod")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", "unix:///var/run/docker.sock")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("permission.timeoutSeconds", 300)

	v.SetDefault("timeline.maxItemsPerEpoch", 10000)

	v.SetDefault("features.voiceEnabled", false)
	v.SetDefault("features.mcpEnabled", true)

	v.SetDefault("providers.claude.command", "claude-code-acp")
	v.SetDefault("providers.codex.command", "codex")
	v.SetDefault("providers.opencode.command", "opencode")
	v.SetDefault("providers.copilot.command", "copilot")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix PASEO_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory (in addition
// to $PASEO_HOME and the working directory) or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PASEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("listen.addr", "PASEO_LISTEN_ADDR")
	_ = v.BindEnv("home.path", "PASEO_HOME")
	_ = v.BindEnv("logging.level", "PASEO_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("json")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(DefaultHome())
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := applyYAMLOverlay(&cfg, configPath); err != nil {
		return nil, fmt.Errorf("error applying config overlay: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyYAMLOverlay merges an optional "config.overlay.yaml" over cfg, the
// same search order as the primary JSON config. Unlike viper's own
// (indirect) YAML support, this reads the file directly with yaml.v3 so an
// operator can hand-edit a second, version-controlled file without it being
// clobbered by the JSON config viper already loaded. Silent no-op if no
// overlay file exists in any search directory.
func applyYAMLOverlay(cfg *Config, configPath string) error {
	dirs := []string{}
	if configPath != "" {
		dirs = append(dirs, configPath)
	}
	dirs = append(dirs, DefaultHome(), ".")

	for _, dir := range dirs {
		path := filepath.Join(dir, "config.overlay.yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return yaml.Unmarshal(data, cfg)
	}
	return nil
}

// validate checks that all required configuration fields are set, collecting
// every violation rather than failing on the first.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Listen.Addr == "" {
		errs = append(errs, "listen.addr must not be empty")
	}

	if cfg.Home.Path == "" {
		errs = append(errs, "home.path must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if cfg.Permission.TimeoutSeconds <= 0 {
		errs = append(errs, "permission.timeoutSeconds must be positive")
	}

	if cfg.Timeline.MaxItemsPerEpoch <= 0 {
		errs = append(errs, "timeline.maxItemsPerEpoch must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
