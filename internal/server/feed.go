package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxweave/internal/turns"
)

// feedWriteTimeout bounds each outbound frame so one stuck client cannot pin
// a handler goroutine.
const feedWriteTimeout = 10 * time.Second

// feedEvent is one frame on the /v1/feed WebSocket. The first frame is always
// a "snapshot" carrying the full transcript and version list; every frame
// after that is an "update" carrying only the delta.
type feedEvent struct {
	Type string `json:"type"`

	// Snapshot fields.
	Entries  []transcriptEntry `json:"entries,omitempty"`
	Versions []versionMeta     `json:"versions,omitempty"`

	// Update fields.
	Entry       *transcriptEntry `json:"entry,omitempty"`
	NewVersions []versionBody    `json:"new_versions,omitempty"`

	Generating     bool `json:"generating"`
	CurrentVersion int  `json:"current_version"`
}

// handleFeed upgrades to WebSocket and streams aggregator updates until the
// client disconnects. Subscribers that cannot keep up lose updates rather
// than stalling the pipeline; the snapshot-first protocol lets a client
// reconnect and resynchronise at any time.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("feed: websocket accept failed", "err", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "feed terminated")

	// The feed is write-only; CloseRead discards inbound frames and cancels
	// the context when the client goes away.
	ctx := c.CloseRead(r.Context())

	updates, unsubscribe := s.mgr.Subscribe()
	defer unsubscribe()

	if err := s.writeEvent(ctx, c, s.snapshotEvent()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case upd, ok := <-updates:
			if !ok {
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := s.writeEvent(ctx, c, updateEvent(upd)); err != nil {
				slog.Debug("feed: write failed, dropping subscriber", "err", err)
				return
			}
		}
	}
}

// snapshotEvent captures the aggregator's full visible state.
func (s *Server) snapshotEvent() feedEvent {
	agg := s.mgr.Aggregator()

	entries := agg.Entries()
	wireEntries := make([]transcriptEntry, 0, len(entries))
	for _, e := range entries {
		wireEntries = append(wireEntries, transcriptEntry{
			Speaker:   string(e.Speaker),
			Text:      e.Text,
			Timestamp: e.Timestamp,
		})
	}

	versions := agg.Versions()
	metas := make([]versionMeta, 0, len(versions))
	for _, v := range versions {
		metas = append(metas, versionMeta{ID: v.ID, Bytes: len(v.HTML), CreatedAt: v.CreatedAt})
	}

	current := 0
	if cv, ok := agg.CurrentVersion(); ok {
		current = cv.ID
	}

	return feedEvent{
		Type:           "snapshot",
		Entries:        wireEntries,
		Versions:       metas,
		Generating:     agg.Generating(),
		CurrentVersion: current,
	}
}

// updateEvent converts one aggregator update to its wire form.
func updateEvent(upd turns.Update) feedEvent {
	ev := feedEvent{
		Type:           "update",
		Generating:     upd.Generating,
		CurrentVersion: upd.CurrentVersion,
	}
	if upd.Entry != nil {
		ev.Entry = &transcriptEntry{
			Speaker:   string(upd.Entry.Speaker),
			Text:      upd.Entry.Text,
			Timestamp: upd.Entry.Timestamp,
		}
	}
	for _, v := range upd.NewVersions {
		ev.NewVersions = append(ev.NewVersions, versionBody{
			ID:        v.ID,
			HTML:      v.HTML,
			CreatedAt: v.CreatedAt,
		})
	}
	return ev
}

// writeEvent sends one frame with a write deadline.
func (s *Server) writeEvent(ctx context.Context, c *websocket.Conn, ev feedEvent) error {
	wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, c, ev)
}
