// Package session manages the lifecycle of one realtime conversation session
// and glues the pipeline together: transport messages are normalized into
// transcription fragments, applied to the turn aggregator, and the resulting
// updates are fanned out to feed subscribers.
//
// A single goroutine consumes the transport's message stream, which preserves
// per-lane fragment ordering without further synchronisation. Only one
// session can be connected at a time (enforced by mutex). All exported
// methods are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxweave/internal/archive"
	"github.com/MrWong99/voxweave/internal/observe"
	"github.com/MrWong99/voxweave/internal/turns"
	"github.com/MrWong99/voxweave/pkg/realtime"
	"github.com/MrWong99/voxweave/pkg/transcript"
)

const (
	// defaultUpdateBuf is the buffer depth of each subscriber's update
	// channel. A subscriber that falls further behind than this loses
	// updates rather than stalling the pipeline.
	defaultUpdateBuf = 64

	// archiveTimeout bounds each archive write so a slow database cannot
	// stall fragment processing.
	archiveTimeout = 5 * time.Second
)

// Info holds metadata about a connected session.
type Info struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// ChannelID is the realtime channel the session is connected to.
	ChannelID string

	// StartedAt is when the session was connected.
	StartedAt time.Time
}

// Config holds all dependencies for a [Manager].
type Config struct {
	// Provider establishes realtime sessions. Required.
	Provider realtime.Provider

	// ChannelID is the logical channel to join. Inbound messages tagged with
	// a different channel id are ignored.
	ChannelID string

	// AgentID selects the upstream conversational agent.
	AgentID string

	// Instructions is the system prompt for the upstream agent, including
	// the delimiter contract.
	Instructions string

	// Archive, when non-nil, receives sealed transcript entries and
	// committed code versions. Write failures are logged, never fatal.
	Archive archive.Store

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics

	// UpdateBuf overrides the per-subscriber update buffer depth.
	UpdateBuf int

	// Retry controls automatic reconnection after a transport failure.
	Retry RetryPolicy
}

// Manager owns one realtime session and the turn aggregator behind it.
// Committed versions and transcript entries survive a disconnect; connecting
// again starts the version history over.
type Manager struct {
	mu     sync.Mutex
	active bool
	info   Info
	handle realtime.SessionHandle
	done   chan struct{}
	wg     sync.WaitGroup

	agg     *turns.Aggregator
	metrics *observe.Metrics

	subMu   sync.Mutex
	subs    map[int]chan turns.Update
	nextSub int

	// Dependencies injected at construction.
	provider     realtime.Provider
	channelID    string
	agentID      string
	instructions string
	store        archive.Store
	updateBuf    int
	retry        RetryPolicy
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("session: provider is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.UpdateBuf <= 0 {
		cfg.UpdateBuf = defaultUpdateBuf
	}
	return &Manager{
		agg:          turns.New(),
		metrics:      cfg.Metrics,
		subs:         make(map[int]chan turns.Update),
		provider:     cfg.Provider,
		channelID:    cfg.ChannelID,
		agentID:      cfg.AgentID,
		instructions: cfg.Instructions,
		store:        cfg.Archive,
		updateBuf:    cfg.UpdateBuf,
		retry:        cfg.Retry.withDefaults(),
	}, nil
}

// Start connects a new realtime session and begins consuming its message
// stream. The aggregator is reset first, so the new session's version
// history starts at 1.
//
// Returns an error if a session is already connected.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return fmt.Errorf("session: a session is already active (id=%s)", m.info.SessionID)
	}

	now := time.Now().UTC()
	sessionID := fmt.Sprintf("session-%s-%s",
		sanitizeName(m.channelID),
		now.Format("20060102T150405Z"),
	)

	m.agg.Reset()

	handle, err := m.provider.Connect(ctx, realtime.SessionConfig{
		ChannelID:    m.channelID,
		AgentID:      m.agentID,
		Instructions: m.instructions,
	})
	if err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}

	done := make(chan struct{})
	m.active = true
	m.handle = handle
	m.done = done
	m.info = Info{
		SessionID: sessionID,
		ChannelID: m.channelID,
		StartedAt: now,
	}

	m.metrics.ActiveSessions.Add(context.Background(), 1)

	m.wg.Add(1)
	go m.consumeLoop(sessionID, handle, done)

	slog.Info("session started",
		"session_id", sessionID,
		"channel_id", m.channelID,
		"agent_id", m.agentID,
	)

	return nil
}

// Stop disconnects the active session. Delivery is cancelled before lane
// state is cleared, so a fragment racing the teardown can never resurrect an
// open turn. Committed versions and transcript entries are retained.
//
// Returns an error if no session is active.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return fmt.Errorf("session: no active session to stop")
	}

	sessionID := m.info.SessionID
	handle := m.handle
	done := m.done

	m.active = false
	m.handle = nil
	m.done = nil
	m.info = Info{}
	m.mu.Unlock()

	// Stop delivery first, then close the transport, then wait for the
	// consumer to drain out before touching lane state.
	close(done)
	if err := handle.Close(); err != nil {
		slog.Warn("session: transport close error", "session_id", sessionID, "err", err)
	}
	m.wg.Wait()

	m.agg.ClearLanes()
	m.metrics.ActiveSessions.Add(context.Background(), -1)

	slog.Info("session stopped", "session_id", sessionID)
	return nil
}

// Mute toggles the outbound audio track on the active session.
func (m *Manager) Mute(muted bool) error {
	m.mu.Lock()
	handle := m.handle
	m.mu.Unlock()

	if handle == nil {
		return fmt.Errorf("session: no active session to mute")
	}
	if err := handle.Mute(muted); err != nil {
		return fmt.Errorf("session: mute: %w", err)
	}
	return nil
}

// IsActive reports whether a session is currently connected.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Info returns metadata about the active session, or the zero value when no
// session is connected.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Aggregator returns the turn aggregator holding transcript entries and code
// versions. The aggregator outlives individual sessions.
func (m *Manager) Aggregator() *turns.Aggregator {
	return m.agg
}

// Subscribe registers a new update feed subscriber and returns its channel
// along with an unsubscribe function. Updates are dropped for subscribers
// whose buffer is full; the channel is closed on unsubscribe.
func (m *Manager) Subscribe() (<-chan turns.Update, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan turns.Update, m.updateBuf)
	m.subs[id] = ch

	m.metrics.FeedSubscribers.Add(context.Background(), 1)

	unsubscribe := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[id]; !ok {
			return
		}
		delete(m.subs, id)
		close(ch)
		m.metrics.FeedSubscribers.Add(context.Background(), -1)
	}
	return ch, unsubscribe
}

// consumeLoop processes the session's inbound messages one at a time until
// the stream ends or the session is stopped. A stream that ends with a
// transport error triggers reconnection per the retry policy; a clean close
// leaves the session state in place.
func (m *Manager) consumeLoop(sessionID string, handle realtime.SessionHandle, done chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-handle.Messages():
			if !ok {
				err := handle.Err()
				if err == nil {
					slog.Info("session: transport stream closed", "session_id", sessionID)
					return
				}
				slog.Warn("session: transport stream ended", "session_id", sessionID, "err", err)
				if m.retry.Disabled {
					return
				}
				next := m.reconnect(sessionID, done)
				if next == nil {
					m.deactivate(sessionID)
					return
				}
				handle = next
				continue
			}
			m.processMessage(sessionID, msg)
		}
	}
}

// processMessage runs one inbound message through the pipeline: filter,
// normalize, apply, archive, broadcast.
func (m *Manager) processMessage(sessionID string, msg realtime.InboundMessage) {
	ctx := context.Background()

	if msg.ChannelID != "" && msg.ChannelID != m.channelID {
		slog.Debug("session: ignoring message for foreign channel",
			"session_id", sessionID,
			"channel_id", msg.ChannelID,
		)
		return
	}

	start := time.Now()
	frag := transcript.Normalize(msg.Payload)
	if frag == nil {
		m.metrics.RecordMalformedPayload(ctx)
		slog.Debug("session: dropped non-transcription message",
			"session_id", sessionID,
			"len", len(msg.Payload),
		)
		return
	}
	if !msg.ReceivedAt.IsZero() {
		frag.ReceivedAt = msg.ReceivedAt
	}

	upd := m.agg.Apply(frag)
	m.metrics.RecordFragment(ctx, string(frag.Speaker), frag.IsFinal, time.Since(start).Seconds())

	if len(upd.NewVersions) > 0 {
		m.metrics.CodeVersions.Add(ctx, int64(len(upd.NewVersions)))
	}
	if upd.Entry != nil {
		m.metrics.RecordTranscriptEntry(ctx, string(upd.Entry.Speaker))
	}

	m.archiveUpdate(sessionID, upd)
	m.broadcast(upd)
}

// archiveUpdate persists the sealed outputs of one update. Failures are
// logged and counted; the in-memory state remains authoritative.
func (m *Manager) archiveUpdate(sessionID string, upd turns.Update) {
	if m.store == nil {
		return
	}
	if upd.Entry == nil && len(upd.NewVersions) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	if upd.Entry != nil {
		if err := m.store.WriteEntry(ctx, sessionID, *upd.Entry); err != nil {
			m.metrics.RecordArchiveError(ctx, "entry")
			slog.Warn("session: archive entry write failed", "session_id", sessionID, "err", err)
		}
	}
	for _, v := range upd.NewVersions {
		if err := m.store.WriteVersion(ctx, sessionID, v); err != nil {
			m.metrics.RecordArchiveError(ctx, "version")
			slog.Warn("session: archive version write failed",
				"session_id", sessionID,
				"version_id", v.ID,
				"err", err,
			)
		}
	}
}

// broadcast fans one update out to all subscribers. A full subscriber buffer
// drops the update instead of blocking the consume loop.
func (m *Manager) broadcast(upd turns.Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for id, ch := range m.subs {
		select {
		case ch <- upd:
		default:
			slog.Debug("session: dropping update for slow subscriber", "subscriber", id)
		}
	}
}

// sanitizeName replaces spaces with hyphens and lowercases a name for use in
// session IDs.
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	return name
}
