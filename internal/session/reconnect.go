package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voxweave/pkg/realtime"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// RetryPolicy controls automatic transport reconnection after a stream
// failure. A clean stream close never triggers reconnection; only a transport
// error does.
type RetryPolicy struct {
	// MaxRetries is the number of reconnect attempts before the session is
	// declared dead. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial delay between attempts. It doubles per attempt
	// up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the per-attempt delay. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// Disabled turns reconnection off entirely. A failed stream then leaves
	// the session state in place for inspection, exactly like a clean close.
	Disabled bool
}

// withDefaults fills zero fields with the package defaults.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return p
}

// reconnect tries to re-establish the transport with exponential backoff.
// It returns nil when the session was stopped meanwhile or all attempts
// failed. On success the manager's handle is swapped so Mute and Stop act on
// the new transport.
func (m *Manager) reconnect(sessionID string, done chan struct{}) realtime.SessionHandle {
	backoff := m.retry.Backoff

	for attempt := 1; attempt <= m.retry.MaxRetries; attempt++ {
		select {
		case <-done:
			return nil
		default:
		}

		slog.Info("session: attempting transport reconnect",
			"session_id", sessionID,
			"attempt", attempt,
			"max_retries", m.retry.MaxRetries,
		)

		handle, err := m.provider.Connect(context.Background(), realtime.SessionConfig{
			ChannelID:    m.channelID,
			AgentID:      m.agentID,
			Instructions: m.instructions,
		})
		if err == nil {
			// Provisional lane state from the broken stream is stale; the
			// new stream will resend complete-so-far snapshots.
			m.agg.ClearLanes()

			m.mu.Lock()
			if !m.active || m.info.SessionID != sessionID {
				m.mu.Unlock()
				_ = handle.Close()
				return nil
			}
			m.handle = handle
			m.mu.Unlock()

			slog.Info("session: transport reconnected",
				"session_id", sessionID,
				"attempt", attempt,
			)
			return handle
		}

		slog.Warn("session: reconnect attempt failed",
			"session_id", sessionID,
			"attempt", attempt,
			"err", err,
		)

		select {
		case <-done:
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > m.retry.MaxBackoff {
			backoff = m.retry.MaxBackoff
		}
	}

	slog.Error("session: reconnect failed after max retries",
		"session_id", sessionID,
		"max_retries", m.retry.MaxRetries,
	)
	return nil
}

// deactivate tears the session down from inside the consume loop after
// reconnection is exhausted. Committed entries and versions stay queryable.
func (m *Manager) deactivate(sessionID string) {
	m.mu.Lock()
	if !m.active || m.info.SessionID != sessionID {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.handle = nil
	m.done = nil
	m.info = Info{}
	m.mu.Unlock()

	m.agg.ClearLanes()
	m.metrics.ActiveSessions.Add(context.Background(), -1)

	slog.Info("session deactivated after transport loss", "session_id", sessionID)
}
