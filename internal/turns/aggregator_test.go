package turns_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/voxweave/internal/turns"
	"github.com/MrWong99/voxweave/pkg/transcript"
)

const page = "<!DOCTYPE html><html><body>Hi</body></html>"

func frag(speaker transcript.Speaker, text string, final bool) *transcript.Fragment {
	return &transcript.Fragment{
		Speaker:    speaker,
		Text:       text,
		IsFinal:    final,
		ReceivedAt: time.Now(),
	}
}

func TestApply_FullGenerationCycle(t *testing.T) {
	t.Parallel()
	a := turns.New()

	// Agent starts streaming an unterminated code region.
	upd := a.Apply(frag(transcript.SpeakerAgent, "Here's a button 【<!DOCTYPE html><h", false))
	if !upd.Generating {
		t.Error("interim with unterminated code: Generating = false, want true")
	}
	if upd.Entry != nil {
		t.Error("interim fragment produced a transcript entry")
	}
	if len(upd.NewVersions) != 0 {
		t.Error("interim fragment committed a version")
	}

	// The final fragment seals the turn with a complete payload.
	upd = a.Apply(frag(transcript.SpeakerAgent, "Here's a button 【"+page+"】 enjoy.", true))
	if upd.Generating {
		t.Error("after seal: Generating = true, want false")
	}
	if upd.Entry == nil {
		t.Fatal("sealed turn produced no transcript entry")
	}
	if upd.Entry.Text != "Here's a button  enjoy." {
		t.Errorf("entry text = %q, want %q", upd.Entry.Text, "Here's a button  enjoy.")
	}
	if len(upd.NewVersions) != 1 {
		t.Fatalf("committed %d versions, want 1", len(upd.NewVersions))
	}
	v := upd.NewVersions[0]
	if v.ID != 1 {
		t.Errorf("version id = %d, want 1", v.ID)
	}
	if v.HTML != page {
		t.Errorf("version html = %q, want %q", v.HTML, page)
	}
	if upd.CurrentVersion != 1 {
		t.Errorf("current version = %d, want 1", upd.CurrentVersion)
	}
}

func TestApply_InterimReplacementIsIdempotent(t *testing.T) {
	t.Parallel()
	a := turns.New()

	first := a.Apply(frag(transcript.SpeakerUser, "make me a landing pa", false))
	second := a.Apply(frag(transcript.SpeakerUser, "make me a landing pa", false))

	for name, upd := range map[string]turns.Update{"first": first, "second": second} {
		if upd.Entry != nil || len(upd.NewVersions) != 0 || upd.Generating || upd.CurrentVersion != 0 {
			t.Errorf("%s interim update = %+v, want empty", name, upd)
		}
	}
	if got := len(a.Entries()); got != 0 {
		t.Errorf("interim fragments wrote %d transcript entries", got)
	}
}

func TestApply_FinalityGating(t *testing.T) {
	t.Parallel()
	a := turns.New()

	// A complete, renderable payload in an interim fragment must not commit.
	a.Apply(frag(transcript.SpeakerAgent, "【"+page+"】", false))
	if got := len(a.Versions()); got != 0 {
		t.Fatalf("interim fragment committed %d versions, want 0", got)
	}

	// The same text sealed commits exactly once.
	a.Apply(frag(transcript.SpeakerAgent, "【"+page+"】", true))
	if got := len(a.Versions()); got != 1 {
		t.Fatalf("sealed turn committed %d versions, want 1", got)
	}
}

func TestApply_MonotonicVersionIDs(t *testing.T) {
	t.Parallel()
	a := turns.New()

	// Three sealed turns, the second committing two payloads at once.
	a.Apply(frag(transcript.SpeakerAgent, "【"+page+"】", true))
	a.Apply(frag(transcript.SpeakerAgent, "two: 【<html>1</html>】 and 【<html>2</html>】", true))
	a.Apply(frag(transcript.SpeakerAgent, "【<!doctype html><html>3</html>】", true))

	versions := a.Versions()
	if len(versions) != 4 {
		t.Fatalf("got %d versions, want 4", len(versions))
	}
	for i, v := range versions {
		if v.ID != i+1 {
			t.Errorf("versions[%d].ID = %d, want %d", i, v.ID, i+1)
		}
	}
	if cur, ok := a.CurrentVersion(); !ok || cur.ID != 4 {
		t.Errorf("current = %+v ok=%v, want id 4", cur, ok)
	}
}

func TestApply_UnterminatedRegionNeverCommits(t *testing.T) {
	t.Parallel()
	a := turns.New()

	upd := a.Apply(frag(transcript.SpeakerAgent, "【<!DOCTYPE html><body", false))
	if !upd.Generating {
		t.Error("Generating = false while code region open")
	}

	// The session ends: lanes are cleared, the provisional payload is gone.
	a.ClearLanes()
	if a.Generating() {
		t.Error("Generating survived ClearLanes")
	}
	if got := len(a.Versions()); got != 0 {
		t.Errorf("provisional payload was committed: %d versions", got)
	}
}

func TestApply_DuplicateFinalIgnored(t *testing.T) {
	t.Parallel()
	a := turns.New()

	text := "final words 【" + page + "】"
	a.Apply(frag(transcript.SpeakerAgent, text, true))
	upd := a.Apply(frag(transcript.SpeakerAgent, text, true))

	if upd.Entry != nil {
		t.Error("duplicate final produced a second transcript entry")
	}
	if len(upd.NewVersions) != 0 {
		t.Error("duplicate final re-committed a version")
	}
	if got := len(a.Versions()); got != 1 {
		t.Errorf("version list has %d entries, want 1", got)
	}
	if got := len(a.Entries()); got != 1 {
		t.Errorf("transcript has %d entries, want 1", got)
	}
}

func TestApply_RepeatedUtteranceIsNotADuplicate(t *testing.T) {
	t.Parallel()
	a := turns.New()

	// The user says "yes" twice, well apart. Only a retransmit arriving
	// shortly after the seal may be dropped.
	first := frag(transcript.SpeakerUser, "yes", true)
	second := frag(transcript.SpeakerUser, "yes", true)
	second.ReceivedAt = first.ReceivedAt.Add(5 * time.Second)

	a.Apply(first)
	upd := a.Apply(second)

	if upd.Entry == nil {
		t.Fatal("repeated utterance produced no transcript entry")
	}
	if got := len(a.Entries()); got != 2 {
		t.Errorf("transcript has %d entries, want 2", got)
	}
}

func TestApply_InterimReopensLaneAfterSeal(t *testing.T) {
	t.Parallel()
	a := turns.New()

	// An interim between two identical finals means a new turn is underway;
	// the second final must seal it even inside the dedup window.
	a.Apply(frag(transcript.SpeakerUser, "yes", true))
	a.Apply(frag(transcript.SpeakerUser, "y", false))
	upd := a.Apply(frag(transcript.SpeakerUser, "yes", true))

	if upd.Entry == nil {
		t.Fatal("second turn produced no transcript entry")
	}
	if got := len(a.Entries()); got != 2 {
		t.Errorf("transcript has %d entries, want 2", got)
	}
}

func TestApply_LanesAreIndependent(t *testing.T) {
	t.Parallel()
	a := turns.New()

	a.Apply(frag(transcript.SpeakerAgent, "building 【<html", false))
	a.Apply(frag(transcript.SpeakerUser, "please make it blue", true))

	// Sealing the user turn must not disturb the open agent turn.
	if !a.Generating() {
		t.Error("user seal cleared the agent generation state")
	}
	entries := a.Entries()
	if len(entries) != 1 || entries[0].Speaker != transcript.SpeakerUser {
		t.Errorf("entries = %+v, want single user entry", entries)
	}
}

func TestSelectVersion(t *testing.T) {
	t.Parallel()
	a := turns.New()
	a.Apply(frag(transcript.SpeakerAgent, "【<html>1</html>】", true))
	a.Apply(frag(transcript.SpeakerAgent, "【<html>2</html>】", true))

	if err := a.SelectVersion(1); err != nil {
		t.Fatalf("SelectVersion(1): %v", err)
	}
	if cur, _ := a.CurrentVersion(); cur.ID != 1 {
		t.Errorf("current = %d, want 1", cur.ID)
	}

	if err := a.SelectVersion(99); !errors.Is(err, turns.ErrNoSuchVersion) {
		t.Errorf("SelectVersion(99) = %v, want ErrNoSuchVersion", err)
	}
	if err := a.SelectVersion(0); !errors.Is(err, turns.ErrNoSuchVersion) {
		t.Errorf("SelectVersion(0) = %v, want ErrNoSuchVersion", err)
	}

	// A new commit always advances the pointer, even after a redirect.
	a.Apply(frag(transcript.SpeakerAgent, "【<html>3</html>】", true))
	if cur, _ := a.CurrentVersion(); cur.ID != 3 {
		t.Errorf("current after new commit = %d, want 3", cur.ID)
	}
}

func TestClearLanes_RetainsVersionsAndEntries(t *testing.T) {
	t.Parallel()
	a := turns.New()
	a.Apply(frag(transcript.SpeakerAgent, "done 【"+page+"】", true))
	a.Apply(frag(transcript.SpeakerAgent, "half 【<html", false))

	a.ClearLanes()

	if got := len(a.Versions()); got != 1 {
		t.Errorf("versions after ClearLanes = %d, want 1", got)
	}
	if got := len(a.Entries()); got != 1 {
		t.Errorf("entries after ClearLanes = %d, want 1", got)
	}
	if _, held := a.Preview(transcript.SpeakerAgent); held {
		t.Error("interim preview survived ClearLanes")
	}
}

func TestReset_ClearsEverythingAndRestartsIDs(t *testing.T) {
	t.Parallel()
	a := turns.New()
	a.Apply(frag(transcript.SpeakerAgent, "【"+page+"】", true))
	a.Reset()

	if got := len(a.Versions()); got != 0 {
		t.Errorf("versions after Reset = %d, want 0", got)
	}
	if _, ok := a.CurrentVersion(); ok {
		t.Error("current version survived Reset")
	}

	upd := a.Apply(frag(transcript.SpeakerAgent, "【"+page+"】", true))
	if len(upd.NewVersions) != 1 || upd.NewVersions[0].ID != 1 {
		t.Errorf("first version after Reset = %+v, want id 1", upd.NewVersions)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	a := turns.New()

	if _, ok := a.Preview(transcript.SpeakerAgent); ok {
		t.Error("idle lane reported a preview")
	}

	a.Apply(frag(transcript.SpeakerAgent, "working on it 【<html", false))
	got, ok := a.Preview(transcript.SpeakerAgent)
	if !ok {
		t.Fatal("open lane reported no preview")
	}
	if got != "working on it " {
		t.Errorf("preview = %q, want %q", got, "working on it ")
	}
}

func TestApply_ManySeals(t *testing.T) {
	t.Parallel()
	a := turns.New()

	for i := 0; i < 25; i++ {
		a.Apply(frag(transcript.SpeakerAgent, fmt.Sprintf("v%d 【<html>%d</html>】", i, i), true))
	}
	versions := a.Versions()
	if len(versions) != 25 {
		t.Fatalf("got %d versions, want 25", len(versions))
	}
	for i, v := range versions {
		if v.ID != i+1 {
			t.Fatalf("non-monotonic id at %d: %d", i, v.ID)
		}
	}
}
