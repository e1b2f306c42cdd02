// Package realtime defines the Provider interface for realtime conversation
// transports.
//
// A realtime provider owns the bidirectional audio channel and the structured
// message channel to one logical conversation session with the upstream voice
// agent. The core pipeline only consumes the structured side: an ordered
// stream of raw inbound messages that the transcription normalizer decodes.
// Audio transport details (codecs, token minting, device access) live behind
// the provider implementation and are out of the core's scope.
//
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"time"
)

// InboundMessage is one raw structured message delivered by the transport.
// The payload is opaque to the transport; decoding belongs to the consumer.
type InboundMessage struct {
	// ChannelID tags the logical channel the message was received on. May be
	// empty when the vendor transport does not tag messages. Consumers must
	// ignore messages tagged with a foreign channel id.
	ChannelID string

	// Payload is the raw message body as received from the wire.
	Payload []byte

	// ReceivedAt records when the transport read the message.
	ReceivedAt time.Time
}

// SessionConfig is the initial configuration for a new realtime session.
type SessionConfig struct {
	// ChannelID is the logical channel to join. Inbound messages for other
	// channels are foreign and must be ignored by the consumer.
	ChannelID string

	// AgentID selects the upstream conversational agent.
	AgentID string

	// Instructions is the system prompt handed to the upstream agent when
	// the session opens. It must include the delimiter contract (see
	// [github.com/MrWong99/voxweave/pkg/prompt]).
	Instructions string
}

// SessionHandle represents an open realtime session.
//
// Messages delivers inbound structured messages in arrival order on a single
// channel; the consumer processes them one at a time, which preserves
// per-lane ordering without further synchronisation. The channel is closed
// when the session ends — check [SessionHandle.Err] afterwards to
// distinguish a clean close from a transport failure.
//
// Callers must call Close when the session is no longer needed. Close more
// than once is safe.
type SessionHandle interface {
	// Messages returns the inbound structured message stream. The channel
	// is owned by the session and closed by it.
	Messages() <-chan InboundMessage

	// Mute enables or disables the outbound audio track. Returns an error
	// if the session is closed.
	Mute(muted bool) error

	// Err returns the error that terminated the message stream, or nil if
	// the session ended cleanly.
	Err() error

	// Close terminates the session and releases transport resources.
	Close() error
}

// Provider is the abstraction over any realtime conversation backend.
type Provider interface {
	// Connect establishes a new session. The returned handle delivers
	// messages immediately. Returns an error if the transport cannot be
	// established or ctx is already cancelled.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
