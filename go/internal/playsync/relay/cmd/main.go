package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/playsync/go/internal/playsync/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(parseLevel(getEnv("LOG_LEVEL", "info")))

	port := getEnv("RELAY_PORT", "8888")
	natsURL := getEnv("NATS_URL", "")

	config := relay.DefaultConfig()
	if natsURL != "" {
		bridgeConfig := relay.DefaultBridgeConfig()
		bridgeConfig.URL = natsURL
		bridgeConfig.Subject = getEnv("RELAY_NATS_SUBJECT", bridgeConfig.Subject)
		config.Bridge = &bridgeConfig
	}

	log.Info().
		Str("port", port).
		Str("nats_url", natsURL).
		Msg("starting playsync relay")

	service, err := relay.NewService(config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay service")
	}

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := service.Start(ctx); err != nil {
			log.Error().Err(err).Msg("relay service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// hijacked WebSocket connections are not tracked by Shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	<-done

	log.Info().Msg("relay shutdown complete")
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
