package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const subjectEvents = "newsradar.events"

// NATSBridge subscribes to a NATS subject and feeds every message received
// from it into the local Hub. Messages published through Hub.Publish are
// delivered to local clients only; they are not forwarded to NATS, since
// the Hub holds no reference to the bridge and nothing calls
// NATSBridge.Publish.
type NATSBridge struct {
	conn   *nats.Conn
	hub    *Hub
	logger zerolog.Logger
	sub    *nats.Subscription
}

// ConnectBridge dials natsURL and subscribes hub to the shared subject.
func ConnectBridge(natsURL string, hub *Hub, logger zerolog.Logger) (*NATSBridge, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	b := &NATSBridge{conn: conn, hub: hub, logger: logger}

	sub, err := conn.Subscribe(subjectEvents, b.onRemoteMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe nats subject %s: %w", subjectEvents, err)
	}
	b.sub = sub
	return b, nil
}

func (b *NATSBridge) onRemoteMessage(msg *nats.Msg) {
	var decoded Message
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		b.logger.Error().Err(err).Msg("decode nats broadcast message failed")
		return
	}
	b.hub.broadcast <- decoded
}

// Publish sends msg onto the shared NATS subject; it does not also deliver
// locally — callers should let the subscription loop above do that so every
// replica (including this one) observes a consistent sequence.
func (b *NATSBridge) Publish(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal broadcast message: %w", err)
	}
	return b.conn.Publish(subjectEvents, payload)
}

// Close releases the underlying NATS connection.
func (b *NATSBridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.conn.Close()
}
