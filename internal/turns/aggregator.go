// Package turns groups transcription fragments into generation epochs and
// assigns monotonic version identifiers to completed code payloads.
//
// The aggregator keeps one lane per speaker. A lane holds at most the latest
// interim fragment — interim updates are complete-so-far snapshots, so each
// one replaces the previous. A final fragment seals the turn: its text is
// demultiplexed, renderable code payloads are committed as [CodeVersion]
// values in appearance order, the speech remainder becomes a permanent
// transcript entry, and the lane returns to idle.
//
// The version list only grows; the current-version pointer may be redirected
// to any existing version but committing a new version always advances it.
// All exported methods are safe for concurrent use — UI-driven version
// selection must not interleave with an in-progress commit, and the
// aggregator mutex enforces exactly that.
package turns

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxweave/pkg/demux"
	"github.com/MrWong99/voxweave/pkg/transcript"
)

// ErrNoSuchVersion is returned by [Aggregator.SelectVersion] when the
// requested version id has never been committed.
var ErrNoSuchVersion = errors.New("turns: no such version")

// TranscriptEntry is a permanent transcript line produced by a sealed turn.
// Interim fragments never become entries; they are exposed only through
// [Aggregator.Preview].
type TranscriptEntry struct {
	// Speaker is the lane that produced the entry.
	Speaker transcript.Speaker

	// Text is the spoken narration with code payloads removed and
	// surrounding whitespace trimmed. Bracketed regions that failed the
	// renderability heuristic appear verbatim.
	Text string

	// RawText is the sealed fragment's full original text, code included.
	RawText string

	// Timestamp records when the turn was sealed.
	Timestamp time.Time
}

// CodeVersion is one committed, renderable generated-code payload. Versions
// are never mutated or deleted; ids are strictly increasing from 1.
type CodeVersion struct {
	// ID is the 1-based ordinal of this version within the session.
	ID int

	// HTML is the cleaned payload content, ready for the preview pane.
	HTML string

	// CreatedAt records when the version was committed.
	CreatedAt time.Time
}

// Update describes the externally visible effect of applying one fragment.
// It is the event the presentation sink consumes.
type Update struct {
	// Entry is the new permanent transcript entry, or nil when the fragment
	// was interim or the sealed turn had no speech text.
	Entry *TranscriptEntry

	// NewVersions lists the code versions committed by this fragment, in
	// appearance order. Empty for interim fragments.
	NewVersions []CodeVersion

	// Generating reports whether the agent is currently streaming an
	// unterminated code payload.
	Generating bool

	// CurrentVersion is the id of the currently selected version, 0 when no
	// version has been committed yet.
	CurrentVersion int
}

// duplicateFinalWindow is how long after a seal an identical final fragment
// is treated as a transport retransmit rather than a genuinely repeated
// utterance.
const duplicateFinalWindow = 2 * time.Second

// lane is the per-speaker turn state machine: idle (held == nil) or open.
type lane struct {
	held *transcript.Fragment

	// generating caches the incomplete-code check for the held fragment.
	generating bool

	// lastSealedText and lastSealedAt detect a retransmitted final for an
	// already-sealed turn. Cleared as soon as a newer fragment opens the
	// lane again.
	lastSealedText string
	lastSealedAt   time.Time
}

// Aggregator owns all turns, transcript entries, and code versions for a
// session. Lanes are cleared on teardown; entries and versions survive until
// [Aggregator.Reset].
type Aggregator struct {
	mu       sync.Mutex
	lanes    map[transcript.Speaker]*lane
	entries  []TranscriptEntry
	versions []CodeVersion
	current  int
}

// New creates an empty Aggregator with idle lanes for both speakers.
func New() *Aggregator {
	return &Aggregator{
		lanes: map[transcript.Speaker]*lane{
			transcript.SpeakerAgent: {},
			transcript.SpeakerUser:  {},
		},
	}
}

// Apply processes one fragment in arrival order and returns the resulting
// update. Fragments for the same lane must not be applied concurrently; the
// session manager guarantees this by consuming the inbound stream with a
// single goroutine.
func (a *Aggregator) Apply(frag *transcript.Fragment) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	ln := a.lanes[frag.Speaker]
	if ln == nil {
		// Unknown lane: treat as agent to avoid dropping text, but log it.
		slog.Warn("fragment for unknown speaker lane", "speaker", frag.Speaker)
		ln = a.lanes[transcript.SpeakerAgent]
	}

	if !frag.IsFinal {
		a.applyInterim(ln, frag)
		return a.updateLocked(nil, nil)
	}
	return a.applyFinal(ln, frag)
}

// applyInterim replaces the held snapshot and recomputes the generation flag
// for the agent lane. Re-applying an identical interim is a no-op.
func (a *Aggregator) applyInterim(ln *lane, frag *transcript.Fragment) {
	if ln.held != nil && ln.held.Text == frag.Text {
		return
	}
	ln.held = frag
	ln.lastSealedText = ""
	ln.lastSealedAt = time.Time{}
	if frag.Speaker == transcript.SpeakerAgent {
		ln.generating = demux.Split(frag.Text).HasIncompleteCode()
	}
}

// applyFinal seals the turn: commit renderable code spans, surface the
// speech remainder, and return the lane to idle.
func (a *Aggregator) applyFinal(ln *lane, frag *transcript.Fragment) Update {
	if ln.held == nil && frag.Text != "" && frag.Text == ln.lastSealedText &&
		frag.ReceivedAt.Sub(ln.lastSealedAt) < duplicateFinalWindow {
		// Protocol anomaly: a retransmitted final for an already-sealed turn.
		// The time window keeps a genuinely repeated utterance ("yes" ...
		// "yes") from being swallowed.
		slog.Warn("duplicate final fragment ignored",
			"speaker", frag.Speaker,
			"len", len(frag.Text),
		)
		return a.updateLocked(nil, nil)
	}

	spans := demux.Split(frag.Text)

	var committed []CodeVersion
	for _, sp := range spans.RenderableCode() {
		v := CodeVersion{
			ID:        len(a.versions) + 1,
			HTML:      sp.Cleaned,
			CreatedAt: frag.ReceivedAt,
		}
		a.versions = append(a.versions, v)
		a.current = v.ID
		committed = append(committed, v)
	}

	var entry *TranscriptEntry
	if speech := strings.TrimSpace(spans.SpeechText()); speech != "" {
		entry = &TranscriptEntry{
			Speaker:   frag.Speaker,
			Text:      speech,
			RawText:   frag.Text,
			Timestamp: frag.ReceivedAt,
		}
		a.entries = append(a.entries, *entry)
	}

	ln.held = nil
	ln.generating = false
	ln.lastSealedText = frag.Text
	ln.lastSealedAt = frag.ReceivedAt

	return a.updateLocked(entry, committed)
}

// updateLocked assembles an Update from current state. Must be called with
// a.mu held.
func (a *Aggregator) updateLocked(entry *TranscriptEntry, committed []CodeVersion) Update {
	return Update{
		Entry:          entry,
		NewVersions:    committed,
		Generating:     a.lanes[transcript.SpeakerAgent].generating,
		CurrentVersion: a.current,
	}
}

// Generating reports whether the agent lane holds an unterminated code
// payload. This is the coarse "agent is producing code" indicator.
func (a *Aggregator) Generating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lanes[transcript.SpeakerAgent].generating
}

// Preview returns the speech text of the held interim fragment for the given
// lane, for transient "currently speaking" display. It reports false when
// the lane is idle. Preview text must never be written into transcript
// history.
func (a *Aggregator) Preview(speaker transcript.Speaker) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ln := a.lanes[speaker]
	if ln == nil || ln.held == nil {
		return "", false
	}
	return demux.Split(ln.held.Text).SpeechText(), true
}

// Entries returns a copy of all permanent transcript entries in order.
func (a *Aggregator) Entries() []TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]TranscriptEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Versions returns a copy of the committed version list in id order.
func (a *Aggregator) Versions() []CodeVersion {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]CodeVersion, len(a.versions))
	copy(out, a.versions)
	return out
}

// Version returns the version with the given id.
func (a *Aggregator) Version(id int) (CodeVersion, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id < 1 || id > len(a.versions) {
		return CodeVersion{}, false
	}
	return a.versions[id-1], true
}

// CurrentVersion returns the currently selected version. It reports false
// when no version has been committed yet.
func (a *Aggregator) CurrentVersion() (CodeVersion, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == 0 {
		return CodeVersion{}, false
	}
	return a.versions[a.current-1], true
}

// SelectVersion redirects the current-version pointer to an existing version
// id. It never mutates the version list.
func (a *Aggregator) SelectVersion(id int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id < 1 || id > len(a.versions) {
		return fmt.Errorf("%w: id %d (have %d versions)", ErrNoSuchVersion, id, len(a.versions))
	}
	a.current = id
	return nil
}

// ClearLanes drops any unsealed lane state. Committed entries and versions
// are retained so prior output stays inspectable after a disconnect; an
// unterminated provisional payload is discarded, never committed.
func (a *Aggregator) ClearLanes() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, ln := range a.lanes {
		ln.held = nil
		ln.generating = false
		ln.lastSealedText = ""
		ln.lastSealedAt = time.Time{}
	}
}

// Reset clears everything — lanes, entries, versions, and the current
// pointer. Called when a new session explicitly starts over.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, ln := range a.lanes {
		ln.held = nil
		ln.generating = false
		ln.lastSealedText = ""
		ln.lastSealedAt = time.Time{}
	}
	a.entries = nil
	a.versions = nil
	a.current = 0
}
