package app

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home         string // config directory, e.g. $HOME/.privcomm
	SelfID       string // our name on the directory and relay
	DirectoryURL string // directory base URL, e.g. http://127.0.0.1:8080
	RelayURL     string // relay websocket URL, e.g. ws://127.0.0.1:8080/ws
	Passphrase   string // never read from the config file

	BackoffBase          time.Duration
	BackoffCap           time.Duration
	MaxReconnectAttempts int

	OneTimePreKeyCount int
	RefillThreshold    int

	STUNServers []string

	HTTP   *http.Client // optional; defaults to http.DefaultClient
	Logger zerolog.Logger
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Home:                 home + "/.privcomm",
		DirectoryURL:         "http://127.0.0.1:8080",
		RelayURL:             "ws://127.0.0.1:8080/ws",
		BackoffBase:          time.Second,
		BackoffCap:           30 * time.Second,
		MaxReconnectAttempts: 10,
		OneTimePreKeyCount:   50,
		RefillThreshold:      10,
		STUNServers:          []string{"stun:stun.l.google.com:19302"},
		Logger:               zerolog.Nop(),
	}
}

type fileConfig struct {
	SelfID               string   `toml:"self_id"`
	DirectoryURL         string   `toml:"directory_url"`
	RelayURL             string   `toml:"relay_url"`
	BackoffBase          string   `toml:"backoff_base"`
	BackoffCap           string   `toml:"backoff_cap"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	OneTimePreKeyCount   int      `toml:"one_time_prekey_count"`
	RefillThreshold      int      `toml:"refill_threshold"`
	STUNServers          []string `toml:"stun_servers"`
}

// ApplyFile overlays settings from the TOML file at path onto cfg. Only keys
// present in the file override; a missing file is not an error.
func (cfg Config) ApplyFile(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("self_id") {
		cfg.SelfID = strings.TrimSpace(raw.SelfID)
	}
	if meta.IsDefined("directory_url") {
		cfg.DirectoryURL = strings.TrimSpace(raw.DirectoryURL)
	}
	if meta.IsDefined("relay_url") {
		cfg.RelayURL = strings.TrimSpace(raw.RelayURL)
	}
	if meta.IsDefined("backoff_base") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffBase))
		if err != nil {
			return Config{}, fmt.Errorf("parse backoff_base: %w", err)
		}
		cfg.BackoffBase = d
	}
	if meta.IsDefined("backoff_cap") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BackoffCap))
		if err != nil {
			return Config{}, fmt.Errorf("parse backoff_cap: %w", err)
		}
		cfg.BackoffCap = d
	}
	if meta.IsDefined("max_reconnect_attempts") {
		cfg.MaxReconnectAttempts = raw.MaxReconnectAttempts
	}
	if meta.IsDefined("one_time_prekey_count") {
		cfg.OneTimePreKeyCount = raw.OneTimePreKeyCount
	}
	if meta.IsDefined("refill_threshold") {
		cfg.RefillThreshold = raw.RefillThreshold
	}
	if meta.IsDefined("stun_servers") {
		cfg.STUNServers = nil
		for _, s := range raw.STUNServers {
			if v := strings.TrimSpace(s); v != "" {
				cfg.STUNServers = append(cfg.STUNServers, v)
			}
		}
	}
	return cfg, nil
}
