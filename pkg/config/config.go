// Package config resolves daemon configuration from the environment.
//
// Configuration is read once at startup. A missing or malformed base API URL
// does not abort the daemon: it yields a degraded configuration where network
// actions are disabled with a user-visible reason.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/juannvilchez/ciudadseguraappi/pkg/mqtt"
)

// Config holds resolved daemon configuration
type Config struct {
	APIURL      string `json:"api_url"`
	WSURL       string `json:"ws_url"`
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	MetricsPort int    `json:"metrics_port"`

	MQTT *mqtt.Config `json:"mqtt"`

	configured bool
	reason     string
}

// Default values applied when the environment leaves a setting empty
const (
	DefaultDBPath      = "alertad.db"
	DefaultLogLevel    = "info"
	DefaultMetricsPort = 9090
)

// Load reads environment variables, applies defaults, and returns a Config.
// envFile names an optional dotenv file; an absent file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		DBPath:      os.Getenv("CIUDADSEGURA_DB_PATH"),
		LogLevel:    os.Getenv("CIUDADSEGURA_LOG_LEVEL"),
		MetricsPort: DefaultMetricsPort,
		MQTT:        mqtt.DefaultConfig(),
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if p, err := strconv.Atoi(os.Getenv("CIUDADSEGURA_METRICS_PORT")); err == nil && p > 0 {
		cfg.MetricsPort = p
	}

	loadMQTT(cfg.MQTT)

	base, err := NormalizeBase(os.Getenv("CIUDADSEGURA_API_URL"))
	if err != nil {
		// Degraded: alert activation reports the reason instead of crashing
		cfg.reason = err.Error()
		return cfg, nil
	}
	cfg.APIURL = base
	cfg.configured = true

	if ws := os.Getenv("CIUDADSEGURA_WS_URL"); ws != "" {
		cfg.WSURL = ws
	} else {
		cfg.WSURL = DeriveWSURL(base)
	}

	return cfg, nil
}

// loadMQTT overlays MQTT settings from the environment
func loadMQTT(m *mqtt.Config) {
	if v := os.Getenv("CIUDADSEGURA_MQTT_ENABLED"); v != "" {
		m.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("CIUDADSEGURA_MQTT_BROKER"); v != "" {
		m.Broker = v
	}
	if p, err := strconv.Atoi(os.Getenv("CIUDADSEGURA_MQTT_PORT")); err == nil && p > 0 {
		m.Port = p
	}
	if v := os.Getenv("CIUDADSEGURA_MQTT_CLIENT_ID"); v != "" {
		m.ClientID = v
	}
	if v := os.Getenv("CIUDADSEGURA_MQTT_USERNAME"); v != "" {
		m.Username = v
	}
	if v := os.Getenv("CIUDADSEGURA_MQTT_PASSWORD"); v != "" {
		m.Password = v
	}
	if v := os.Getenv("CIUDADSEGURA_MQTT_TOPIC_PREFIX"); v != "" {
		m.TopicPrefix = v
	}
}

// Configured reports whether a usable base API URL was resolved
func (c *Config) Configured() bool {
	return c.configured
}

// Reason describes why the configuration is degraded. Empty when configured.
func (c *Config) Reason() string {
	return c.reason
}

// NormalizeBase validates a base API URL and strips trailing slashes
func NormalizeBase(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("CIUDADSEGURA_API_URL is not set")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid API URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("API URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("API URL %q has no host", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// DeriveWSURL maps a base HTTP URL to its live-channel WebSocket endpoint.
// http becomes ws, https becomes wss, and the /ws path is appended.
func DeriveWSURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}
