package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	appName   = "nowplaying"
	envPrefix = "NOWPLAYING_"
)

type Config struct {
	MQTT   MQTTConfig   `koanf:"mqtt"`
	Server ServerConfig `koanf:"server"`
	Notify NotifyConfig `koanf:"notify"`
	State  StateConfig  `koanf:"state"`
	Log    LogConfig    `koanf:"log"`
}

// MQTTConfig describes the broker carrying the receiver's feed.
type MQTTConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	ClientID string `koanf:"client_id"` // hostname is appended
	Topic    string `koanf:"topic"`     // base topic, e.g. "shairport-sync"
}

type ServerConfig struct {
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	CORS               bool          `koanf:"cors"`
	KeepAlive          time.Duration `koanf:"keepalive"`
	ControlMinInterval time.Duration `koanf:"control_min_interval"` // 0 disables rate limiting
}

type NotifyConfig struct {
	QueueSize int `koanf:"queue_size"`
}

// StateConfig enables persistence of the device identity when DBPath is set.
type StateConfig struct {
	DBPath string `koanf:"db_path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

func defaults() map[string]any {
	return map[string]any{
		"mqtt.host":                   "localhost",
		"mqtt.port":                   1883,
		"mqtt.client_id":              "shairport-web",
		"mqtt.topic":                  "shairport-sync",
		"server.host":                 "0.0.0.0",
		"server.port":                 5000,
		"server.cors":                 false,
		"server.keepalive":            "30s",
		"server.control_min_interval": "250ms",
		"notify.queue_size":           10,
		"state.db_path":               "",
		"log.level":                   "info",
		"log.format":                  "json",
	}
}

// Load builds the configuration from defaults, the YAML files found on the
// search path, an explicit file (which must exist when given), and
// NOWPLAYING_ environment variables, in increasing priority.
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if explicitPath != "" {
		if err := k.Load(file.Provider(explicitPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", explicitPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.State.DBPath != "" {
		cfg.State.DBPath = expandPath(cfg.State.DBPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps NOWPLAYING_MQTT__CLIENT_ID to mqtt.client_id.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func searchPaths() []string {
	paths := []string{}

	// 1. $XDG_CONFIG_HOME/nowplaying/config.yaml
	paths = append(paths, filepath.Join(xdg.ConfigHome, appName, "config.yaml"))

	// 2. ./config.yaml (pwd, highest priority)
	paths = append(paths, "config.yaml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MQTT.Topic) == "" {
		errs = append(errs, errors.New("mqtt.topic must not be empty"))
	}
	if strings.HasSuffix(c.MQTT.Topic, "/") {
		errs = append(errs, errors.New("mqtt.topic must not end with /"))
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.KeepAlive <= 0 {
		errs = append(errs, errors.New("server.keepalive must be positive"))
	}
	if c.Server.ControlMinInterval < 0 {
		errs = append(errs, errors.New("server.control_min_interval must not be negative"))
	}
	if c.Notify.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("notify.queue_size %d must be at least 1", c.Notify.QueueSize))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
