package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/mcdev12/playsync/go/internal/playsync/agent"
	"github.com/mcdev12/playsync/go/internal/playsync/config"
	"github.com/mcdev12/playsync/go/internal/playsync/follower"
	"github.com/mcdev12/playsync/go/internal/playsync/leader"
	"github.com/mcdev12/playsync/go/internal/playsync/provider"
	"github.com/mcdev12/playsync/go/internal/playsync/provider/mpd"
	"github.com/mcdev12/playsync/go/internal/playsync/provider/spotify"
)

func main() {
	var (
		configPath string
		mode       string
		roomID     string
		relayURL   string
		providerID string
		verbose    bool
	)
	flag.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flag.StringVarP(&mode, "mode", "m", "", "agent role: leader or follower")
	flag.StringVarP(&roomID, "room", "r", "", "room to join")
	flag.StringVar(&relayURL, "relay", "", "relay WebSocket URL")
	flag.StringVar(&providerID, "provider", "", "playback provider: spotify or mpd")
	flag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flag.Parse()

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	// flags default to empty, which leaves file and env values alone
	flags := config.Overrides{
		Mode:     mode,
		RoomID:   roomID,
		RelayURL: relayURL,
		Provider: providerID,
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	agentMode, err := agent.ParseMode(cfg.Mode)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid mode")
	}

	player, err := newProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create provider")
	}

	clientConfig := agent.DefaultConfig()
	clientConfig.URL = cfg.RelayURL
	clientConfig.RoomID = cfg.RoomID
	client := agent.NewClient(clientConfig)

	var a *agent.Agent
	switch agentMode {
	case agent.ModeLeader:
		a = agent.NewLeaderAgent(client, player, leader.Config{
			RoomID:       cfg.RoomID,
			PollInterval: cfg.PollInterval(),
		})
	case agent.ModeFollower:
		fcfg := follower.DefaultConfig()
		fcfg.RoomID = cfg.RoomID
		fcfg.DriftThreshold = cfg.DriftThreshold()
		fcfg.CommandTimeout = cfg.CommandTimeout()
		a = agent.NewFollowerAgent(client, player, fcfg)
	}

	if configPath != "" {
		// only touched by the watcher goroutine
		current := cfg
		watcher, err := config.Watch(configPath, func(updated *config.Config) {
			if changed := config.RestartRequired(current, updated); len(changed) > 0 {
				log.Warn().Strs("settings", changed).Msg("config changes ignored until restart")
			}
			if f := a.Follower(); f != nil && updated.DriftThreshold() != f.DriftThreshold() {
				f.SetDriftThreshold(updated.DriftThreshold())
			}
			current = updated
		}, flags.Apply)
		if err != nil {
			log.Error().Err(err).Msg("config hot reload disabled")
		} else {
			defer watcher.Close()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("mode", string(agentMode)).
		Str("room_id", cfg.RoomID).
		Str("relay_url", cfg.RelayURL).
		Str("provider", cfg.Provider).
		Msg("starting playsync agent")

	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("agent stopped with error")
	}

	log.Info().Msg("agent shutdown complete")
}

func newProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSpotify:
		return spotify.NewClient(spotify.Config{
			BaseURL:      cfg.Spotify.BaseURL,
			TokenURL:     cfg.Spotify.TokenURL,
			AccessToken:  cfg.Spotify.AccessToken,
			RefreshToken: cfg.Spotify.RefreshToken,
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Timeout:      time.Duration(cfg.Spotify.RequestTimeoutMs) * time.Millisecond,
		}), nil
	case config.ProviderMPD:
		mcfg := mpd.DefaultConfig()
		mcfg.Network = cfg.MPD.Network
		mcfg.Address = cfg.MPD.Address
		mcfg.Password = cfg.MPD.Password
		return mpd.NewClient(mcfg), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}
