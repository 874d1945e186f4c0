package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type NotificationsConfig struct {
	Enabled bool   `json:"enabled"`
	Desktop bool   `json:"desktop"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

type RelayConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Host    string `json:"host"`
}

type Config struct {
	APIBaseURL        string              `json:"apiBaseURL"`
	HubBaseURL        string              `json:"hubBaseURL"` // defaults to APIBaseURL
	HubPaths          map[string]string   `json:"hubPaths"`
	Token             string              `json:"token,omitempty"`
	RequestTimeout    string              `json:"requestTimeout"`
	KeepAlive         string              `json:"keepAlive"`
	RequestsPerSecond float64             `json:"requestsPerSecond"` // 0 disables the limit
	LogDir            string              `json:"logDir"`
	LogLevel          string              `json:"logLevel"`
	LogFormat         string              `json:"logFormat"` // text or json
	Notifications     NotificationsConfig `json:"notifications"`
	Relay             RelayConfig         `json:"relay"`
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultKeepAlive      = 15 * time.Second
)

func Defaults() Config {
	return Config{
		APIBaseURL: "http://localhost:5000",
		HubPaths: map[string]string{
			"refund":  "/hubs/refund",
			"payment": "/hubs/payment",
			"video":   "/hubs/video",
		},
		RequestTimeout:    defaultRequestTimeout.String(),
		KeepAlive:         defaultKeepAlive.String(),
		RequestsPerSecond: 10,
		LogDir:            filepath.Join(baseDir(), "logs"),
		LogLevel:          "info",
		LogFormat:         "text",
		Relay: RelayConfig{
			Enabled: true,
			Port:    8090,
			Host:    "127.0.0.1",
		},
	}
}

func baseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".coursedesk")
}

func DefaultPath() string {
	return filepath.Join(baseDir(), "config.json")
}

func DBPath() string {
	return filepath.Join(baseDir(), "journal.db")
}

// HubURL returns the hub server root, falling back to the API base URL.
func (c Config) HubURL() string {
	if c.HubBaseURL != "" {
		return c.HubBaseURL
	}
	return c.APIBaseURL
}

// RequestTimeoutDuration parses RequestTimeout, falling back to the default
// on empty or invalid input.
func (c Config) RequestTimeoutDuration() time.Duration {
	return parseDuration(c.RequestTimeout, defaultRequestTimeout)
}

func (c Config) KeepAliveDuration() time.Duration {
	return parseDuration(c.KeepAlive, defaultKeepAlive)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating the parent directory. The file holds the
// session token, so it is written owner-only.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
