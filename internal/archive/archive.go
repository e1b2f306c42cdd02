// Package archive persists sealed transcript entries and committed code
// versions beyond the lifetime of a realtime session.
//
// Archiving is optional: the session manager treats a nil [Store] as
// "archiving disabled" and write failures as non-fatal. The canonical
// in-memory state always lives in the turn aggregator; the archive only
// extends retention across process restarts.
package archive

import (
	"context"
	"time"

	"github.com/MrWong99/voxweave/internal/turns"
)

// Store is the persistence contract for session archives.
// All implementations must be safe for concurrent use.
type Store interface {
	// WriteEntry appends one permanent transcript entry under sessionID.
	WriteEntry(ctx context.Context, sessionID string, entry turns.TranscriptEntry) error

	// WriteVersion appends one committed code version under sessionID.
	// Version ids are scoped to the session.
	WriteVersion(ctx context.Context, sessionID string, v turns.CodeVersion) error

	// RecentEntries returns all entries for sessionID whose timestamp is no
	// earlier than now-window, ordered chronologically (oldest first).
	RecentEntries(ctx context.Context, sessionID string, window time.Duration) ([]turns.TranscriptEntry, error)

	// Versions returns all archived code versions for sessionID in id order.
	Versions(ctx context.Context, sessionID string) ([]turns.CodeVersion, error)

	// Close releases any resources held by the store.
	Close()
}
