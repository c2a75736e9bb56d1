package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
)

// OutboundMessage is one renderable message emitted by a flow transition,
// with card buttons and select options already resolved. Delivery transport
// is owned by the chat-channel integration, not by the engine.
type OutboundMessage struct {
	NodeID   string             `json:"node_id"`
	Type     domain.MessageType `json:"type"`
	Body     string             `json:"body"`
	MediaURL string             `json:"media_url,omitempty"`

	Buttons []domain.MessageCardButton   `json:"buttons,omitempty"`
	Options []domain.MessageSelectOption `json:"options,omitempty"`
}

// Sender delivers emitted messages to the chat channel. Delivery is
// at-least-once and decoupled from the state transition: the flow service
// invokes Send only after the session advance has committed, and a Send
// failure is logged, never rolled back.
type Sender interface {
	Send(ctx context.Context, instagramUserID string, msgs []OutboundMessage) error
}

// LogSender is the default Sender: it records deliveries in the structured
// log and nothing else. Deployments plug in a channel-specific Sender.
type LogSender struct{}

// Send logs each emitted message at debug level.
func (LogSender) Send(_ context.Context, instagramUserID string, msgs []OutboundMessage) error {
	for _, m := range msgs {
		log.Debug().
			Str("instagram_user_id", instagramUserID).
			Str("node_id", m.NodeID).
			Str("type", string(m.Type)).
			Msg("outbound message")
	}
	return nil
}
