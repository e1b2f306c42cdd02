// Package convoai implements the realtime.Provider interface for
// conversational-AI vendor channels that speak JSON over WebSocket.
//
// It establishes a WebSocket connection to the vendor's message endpoint,
// sends a join message carrying the channel, agent identity, and agent
// instructions, and then forwards every inbound frame to the session's
// message channel untouched except for channel-tag extraction. Transcription
// decoding belongs to the consumer; the transport stays payload-agnostic.
package convoai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxweave/pkg/realtime"
)

// Compile-time assertions that Provider and session satisfy the realtime
// interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.SessionHandle = (*session)(nil)

const (
	defaultBaseURL = "wss://realtime.convoai.example.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// messageBuf is the buffer depth of the inbound message channel. The
	// consumer processes messages one at a time; the buffer absorbs short
	// bursts of transcription updates.
	messageBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements realtime.Provider for JSON-over-WebSocket vendor
// channels.
type Provider struct {
	apiKey  string
	baseURL string
}

// New creates a Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new realtime session on the configured channel. The
// returned handle delivers messages as soon as the join message is accepted.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s/channels/%s", p.baseURL, cfg.ChannelID)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("convoai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:      conn,
		channelID: cfg.ChannelID,
		messages:  make(chan realtime.InboundMessage, messageBuf),
		done:      make(chan struct{}),
		ctx:       sessCtx,
		cancel:    sessCancel,
	}

	if err := sess.sendJoin(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "join failed")
		return nil, fmt.Errorf("convoai: join: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type joinMessage struct {
	Type         string `json:"type"`
	ChannelID    string `json:"channel_id"`
	AgentID      string `json:"agent_id,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type muteMessage struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

// channelTag is the minimal decode used to extract the channel identifier
// from an inbound frame without interpreting the rest of the payload.
type channelTag struct {
	ChannelID string `json:"channel_id"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn      *websocket.Conn
	channelID string
	messages  chan realtime.InboundMessage

	mu     sync.Mutex
	errVal error
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendJoin announces the session to the vendor channel and hands the agent
// its instructions, including the delimiter contract.
func (s *session) sendJoin(cfg realtime.SessionConfig) error {
	return s.writeJSON(joinMessage{
		Type:         "join",
		ChannelID:    cfg.ChannelID,
		AgentID:      cfg.AgentID,
		Instructions: cfg.Instructions,
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("convoai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads frames from the WebSocket and forwards them as inbound
// messages. It owns the messages channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeMessages()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var tag channelTag
		_ = json.Unmarshal(data, &tag) // best-effort; untagged frames pass through

		msg := realtime.InboundMessage{
			ChannelID:  tag.ChannelID,
			Payload:    data,
			ReceivedAt: time.Now(),
		}

		select {
		case s.messages <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the vendor connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeMessages() {
	s.closeOnce.Do(func() {
		close(s.messages)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// Messages returns the channel on which inbound structured messages arrive.
func (s *session) Messages() <-chan realtime.InboundMessage { return s.messages }

// Mute toggles the outbound audio track on the vendor side.
func (s *session) Mute(muted bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("convoai: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(muteMessage{Type: "mute", Muted: muted})
}

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.cancel()
	// receiveLoop owns the messages channel and closes it once Read fails.
	if err := s.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
		return fmt.Errorf("convoai: close: %w", err)
	}
	return nil
}
