// Package prompt assembles the instruction text handed to the upstream
// generation agent. The delimiter contract lives here and nowhere else: the
// agent is told to wrap generated code in the exact markers that
// [github.com/MrWong99/voxweave/pkg/demux] splits on.
package prompt

import (
	"strings"

	"github.com/MrWong99/voxweave/pkg/demux"
)

// Instructions builds the system prompt for the upstream agent. extra is
// appended verbatim after the contract and may be empty.
func Instructions(extra string) string {
	var b strings.Builder
	b.WriteString("You are a voice assistant that builds single-page web sites while talking to the user.\n\n")
	b.WriteString("When you produce web page code, wrap the complete HTML document in the markers ")
	b.WriteString(demux.OpenMarker)
	b.WriteString(" and ")
	b.WriteString(demux.CloseMarker)
	b.WriteString(".\n")
	b.WriteString("Rules for code regions:\n")
	b.WriteString("- Emit one full HTML document per region, starting with <!DOCTYPE html> or <html>.\n")
	b.WriteString("- Do not use markdown code fences inside a region.\n")
	b.WriteString("- Do not nest regions and do not put the markers anywhere else in your speech.\n")
	b.WriteString("- Keep narrating outside the markers; the narration is spoken aloud, the code is not.\n")

	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString("\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return b.String()
}

// SpeechNote is the instruction for the speech-synthesis stage: delimited
// regions must never be vocalised.
func SpeechNote() string {
	return "Never read text between " + demux.OpenMarker + " and " + demux.CloseMarker +
		" aloud; skip those regions entirely."
}
