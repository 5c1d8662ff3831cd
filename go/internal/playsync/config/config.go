package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid config")

const (
	ProviderSpotify = "spotify"
	ProviderMPD     = "mpd"
)

// Config is the agent configuration. File values are overridden by
// environment variables, which are overridden by command line flags.
type Config struct {
	Mode     string `yaml:"mode"`
	RoomID   string `yaml:"room_id"`
	RelayURL string `yaml:"relay_url"`
	Provider string `yaml:"provider"`

	PollIntervalMs   int `yaml:"poll_interval_ms"`
	DriftThresholdMs int `yaml:"drift_threshold_ms"`
	CommandTimeoutMs int `yaml:"command_timeout_ms"`

	Spotify SpotifyConfig `yaml:"spotify"`
	MPD     MPDConfig     `yaml:"mpd"`
}

// SpotifyConfig holds Web API credentials. A refresh_token with client_id lets
// the agent renew access tokens on its own; access_token alone is used until
// it expires.
type SpotifyConfig struct {
	AccessToken      string `yaml:"access_token"`
	RefreshToken     string `yaml:"refresh_token"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	BaseURL          string `yaml:"base_url"`
	TokenURL         string `yaml:"token_url"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

type MPDConfig struct {
	Network  string `yaml:"network"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
}

func Default() *Config {
	return &Config{
		Mode:             "follower",
		RelayURL:         "ws://localhost:8888/ws",
		Provider:         ProviderSpotify,
		PollIntervalMs:   5000,
		DriftThresholdMs: 2000,
		CommandTimeoutMs: 10000,
		Spotify: SpotifyConfig{
			BaseURL:          "https://api.spotify.com",
			TokenURL:         "https://accounts.spotify.com/api/token",
			RequestTimeoutMs: 10000,
		},
		MPD: MPDConfig{
			Network: "tcp",
			Address: "localhost:6600",
		},
	}
}

// Load reads path (when non-empty) over the defaults and applies environment
// overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Mode = getEnv("PLAYSYNC_MODE", c.Mode)
	c.RoomID = getEnv("PLAYSYNC_ROOM_ID", c.RoomID)
	c.RelayURL = getEnv("PLAYSYNC_RELAY_URL", c.RelayURL)
	c.Provider = getEnv("PLAYSYNC_PROVIDER", c.Provider)
	c.PollIntervalMs = getEnvAsInt("PLAYSYNC_POLL_INTERVAL_MS", c.PollIntervalMs)
	c.DriftThresholdMs = getEnvAsInt("PLAYSYNC_DRIFT_THRESHOLD_MS", c.DriftThresholdMs)
	c.CommandTimeoutMs = getEnvAsInt("PLAYSYNC_COMMAND_TIMEOUT_MS", c.CommandTimeoutMs)
	c.Spotify.AccessToken = getEnv("SPOTIFY_ACCESS_TOKEN", c.Spotify.AccessToken)
	c.Spotify.RefreshToken = getEnv("SPOTIFY_REFRESH_TOKEN", c.Spotify.RefreshToken)
	c.Spotify.ClientID = getEnv("SPOTIFY_CLIENT_ID", c.Spotify.ClientID)
	c.Spotify.ClientSecret = getEnv("SPOTIFY_CLIENT_SECRET", c.Spotify.ClientSecret)
	c.Spotify.BaseURL = getEnv("SPOTIFY_BASE_URL", c.Spotify.BaseURL)
	c.Spotify.TokenURL = getEnv("SPOTIFY_TOKEN_URL", c.Spotify.TokenURL)
	c.MPD.Network = getEnv("MPD_NETWORK", c.MPD.Network)
	c.MPD.Address = getEnv("MPD_ADDRESS", c.MPD.Address)
	c.MPD.Password = getEnv("MPD_PASSWORD", c.MPD.Password)
}

// Validate checks the fields needed to start an agent
func (c *Config) Validate() error {
	if c.RoomID == "" {
		return fmt.Errorf("%w: room_id is required", ErrInvalid)
	}
	if c.Mode != "leader" && c.Mode != "follower" {
		return fmt.Errorf("%w: mode must be leader or follower, got %q", ErrInvalid, c.Mode)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("%w: poll_interval_ms must be positive", ErrInvalid)
	}
	if c.DriftThresholdMs < 0 {
		return fmt.Errorf("%w: drift_threshold_ms must not be negative", ErrInvalid)
	}
	if c.CommandTimeoutMs < 0 {
		return fmt.Errorf("%w: command_timeout_ms must not be negative", ErrInvalid)
	}
	if u, err := url.Parse(c.RelayURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("%w: relay_url must be a ws:// or wss:// URL, got %q", ErrInvalid, c.RelayURL)
	}

	switch c.Provider {
	case ProviderSpotify:
		refreshable := c.Spotify.RefreshToken != "" && c.Spotify.ClientID != ""
		if c.Spotify.AccessToken == "" && !refreshable {
			return fmt.Errorf("%w: spotify.access_token or spotify.refresh_token with client_id is required", ErrInvalid)
		}
		if c.Spotify.RequestTimeoutMs < 0 {
			return fmt.Errorf("%w: spotify.request_timeout_ms must not be negative", ErrInvalid)
		}
	case ProviderMPD:
		if c.MPD.Address == "" {
			return fmt.Errorf("%w: mpd.address is required", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalid, c.Provider)
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) DriftThreshold() time.Duration {
	return time.Duration(c.DriftThresholdMs) * time.Millisecond
}

func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// RestartRequired lists the changed settings that only take effect after a
// restart. drift_threshold_ms is applied live and never listed.
func RestartRequired(old, updated *Config) []string {
	var changed []string
	check := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}
	check("mode", old.Mode != updated.Mode)
	check("room_id", old.RoomID != updated.RoomID)
	check("relay_url", old.RelayURL != updated.RelayURL)
	check("provider", old.Provider != updated.Provider)
	check("poll_interval_ms", old.PollIntervalMs != updated.PollIntervalMs)
	check("command_timeout_ms", old.CommandTimeoutMs != updated.CommandTimeoutMs)
	check("spotify", old.Spotify != updated.Spotify)
	check("mpd", old.MPD != updated.MPD)
	return changed
}

// Overrides holds settings given on the command line. Empty fields leave the
// config untouched.
type Overrides struct {
	Mode     string
	RoomID   string
	RelayURL string
	Provider string
}

// Apply writes the non-empty overrides into c
func (o Overrides) Apply(c *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Mode, o.Mode)
	set(&c.RoomID, o.RoomID)
	set(&c.RelayURL, o.RelayURL)
	set(&c.Provider, o.Provider)
}
