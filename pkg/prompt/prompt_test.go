package prompt_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxweave/pkg/demux"
	"github.com/MrWong99/voxweave/pkg/prompt"
)

func TestInstructions_NamesBothMarkers(t *testing.T) {
	t.Parallel()
	got := prompt.Instructions("")

	if !strings.Contains(got, demux.OpenMarker) {
		t.Error("instructions do not mention the open marker")
	}
	if !strings.Contains(got, demux.CloseMarker) {
		t.Error("instructions do not mention the close marker")
	}
	if !strings.Contains(got, "<!DOCTYPE html>") {
		t.Error("instructions do not require a document root")
	}
}

func TestInstructions_AppendsExtra(t *testing.T) {
	t.Parallel()

	extra := "Prefer dark color schemes."
	got := prompt.Instructions("  " + extra + "\n")

	if !strings.HasSuffix(strings.TrimSpace(got), extra) {
		t.Errorf("extra instructions not appended, got:\n%s", got)
	}
}

func TestInstructions_EmptyExtraAddsNothing(t *testing.T) {
	t.Parallel()

	if prompt.Instructions("") != prompt.Instructions("   \n") {
		t.Error("whitespace-only extra changed the output")
	}
}

func TestSpeechNote_NamesBothMarkers(t *testing.T) {
	t.Parallel()
	got := prompt.SpeechNote()

	if !strings.Contains(got, demux.OpenMarker) || !strings.Contains(got, demux.CloseMarker) {
		t.Errorf("speech note must name both markers, got %q", got)
	}
}
