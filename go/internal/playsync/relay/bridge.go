package relay

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	headerRoomID   = "Room-ID"
	headerOriginID = "Origin-ID"
)

// BridgeConfig holds configuration for the NATS fan-out between relay instances
type BridgeConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultBridgeConfig returns default bridge configuration
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		URL:           nats.DefaultURL,
		Subject:       "playsync.rooms",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Bridge shares receive-sync frames with other relay instances over NATS so
// members of one room may be spread across instances. Frames are published on
// a single subject with the room carried in a header since room ids are free
// form.
type Bridge struct {
	cm       *ConnectionManager
	nc       *nats.Conn
	sub      *nats.Subscription
	config   BridgeConfig
	originID string

	// publish is swapped in tests
	publish func(msg *nats.Msg) error
}

// NewBridge connects to NATS and installs itself as cm's forwarder
func NewBridge(cm *ConnectionManager, config BridgeConfig) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name("playsync-relay"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	b := newBridge(cm, config)
	b.nc = nc
	b.publish = nc.PublishMsg

	sub, err := nc.Subscribe(config.Subject, b.handleMsg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", config.Subject, err)
	}
	b.sub = sub

	cm.SetForwarder(b)

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("subject", config.Subject).
		Str("origin_id", b.originID).
		Msg("relay bridge connected to NATS")

	return b, nil
}

func newBridge(cm *ConnectionManager, config BridgeConfig) *Bridge {
	return &Bridge{
		cm:       cm,
		config:   config,
		originID: uuid.New().String(),
	}
}

// Forward implements Forwarder
func (b *Bridge) Forward(roomID string, frame []byte) error {
	msg := nats.NewMsg(b.config.Subject)
	msg.Header.Set(headerRoomID, roomID)
	msg.Header.Set(headerOriginID, b.originID)
	msg.Data = frame

	if err := b.publish(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", b.config.Subject, err)
	}
	return nil
}

// handleMsg delivers frames published by other instances to local members
func (b *Bridge) handleMsg(msg *nats.Msg) {
	if msg.Header.Get(headerOriginID) == b.originID {
		return
	}

	roomID := msg.Header.Get(headerRoomID)
	if roomID == "" {
		log.Warn().Str("subject", msg.Subject).Msg("bridge message without room header, ignoring")
		return
	}

	// the sender lives on another instance so nobody local is excluded
	b.cm.deliver("", roomID, msg.Data)
}

// Close unsubscribes and drains the NATS connection
func (b *Bridge) Close() error {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Msg("failed to unsubscribe bridge")
		}
	}
	if b.nc != nil {
		return b.nc.Drain()
	}
	return nil
}
