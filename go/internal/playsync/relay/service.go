package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service is the relay: it accepts agent connections, tracks room membership
// and fans sync events out to the other members of a room
type Service struct {
	rooms             *Rooms
	counters          *CounterMetrics
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	bridge            *Bridge
}

// Config holds configuration for the relay service
type Config struct {
	ConnectionConfig ConnectionConfig
	// Bridge is nil for a single instance relay
	Bridge *BridgeConfig
}

// DefaultConfig returns default configuration for the relay
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new relay service
func NewService(config Config) (*Service, error) {
	counters := NewCounterMetrics()
	rooms := NewRooms(counters)
	connectionManager := NewConnectionManager(config.ConnectionConfig, rooms, counters)

	s := &Service{
		rooms:             rooms,
		counters:          counters,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, rooms, counters),
	}

	if config.Bridge != nil {
		bridge, err := NewBridge(connectionManager, *config.Bridge)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay bridge: %w", err)
		}
		s.bridge = bridge
	}

	return s, nil
}

// Start blocks until ctx is cancelled and then stops the service
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("bridged", s.bridge != nil).Msg("starting relay service")

	<-ctx.Done()

	log.Info().Msg("relay service shutting down")
	return s.Stop()
}

// Stop closes every connection and the bridge
func (s *Service) Stop() error {
	s.connectionManager.CloseAll()

	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close relay bridge")
		}
	}

	log.Info().Msg("relay service stopped")
	return nil
}

// RegisterRoutes registers the relay HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("relay routes registered")
}

// Rooms exposes the room index
func (s *Service) Rooms() *Rooms {
	return s.rooms
}
