// Package demux splits agent transcript text into spoken narration and
// embedded generated-code payloads.
//
// The upstream generation agent is instructed (see [pkg/prompt]) to wrap any
// generated web-page code in a fixed pair of delimiter symbols. Everything
// outside the delimiters is narration that the speech-synthesis stage
// vocalises; everything inside is code destined for the preview pane. This
// package performs the split deterministically and conservatively: content
// that merely looks bracketed but does not hold a recognisable HTML document
// is reclassified as narration rather than dropped.
//
// Splitting never fails. The package is pure — no I/O, no state — and the
// ordered span sequence it produces can be reassembled into the original
// input byte-for-byte (see [Sequence.Reassemble]).
package demux

import "strings"

// Delimiter markers recognised by [Split]. They are a fixed contract shared
// with the upstream agent's instruction prompt and must never collide with
// JSON syntax, markdown fencing, or ordinary narration punctuation.
const (
	// OpenMarker starts a generated-code region (U+3010).
	OpenMarker = "【"

	// CloseMarker ends a generated-code region (U+3011).
	CloseMarker = "】"
)

// fence is the markdown code-fence prefix occasionally emitted by the agent
// inside a delimited region despite instructions.
const fence = "```"

// Kind discriminates the two span variants.
type Kind int

const (
	// KindSpeech marks narration text that belongs in the transcript.
	KindSpeech Kind = iota

	// KindCode marks a delimited generated-code payload.
	KindCode
)

// Span is one contiguous region of a fragment's text, classified as either
// speech or code. Spans are immutable once returned by [Split].
type Span struct {
	// Kind selects which of the remaining fields are meaningful.
	Kind Kind

	// Text is the narration text. Set only for KindSpeech spans. When a
	// complete delimited region fails the renderability heuristic the whole
	// region — delimiters included — appears here verbatim.
	Text string

	// Raw is the payload exactly as it appeared between the delimiters,
	// without the delimiters themselves. Set only for KindCode spans.
	Raw string

	// Cleaned is Raw with any stray markdown fence lines removed and
	// surrounding whitespace trimmed. Set only for KindCode spans.
	Cleaned string

	// Complete reports whether the close marker was found. An incomplete
	// span means generation is still in progress; it must never be committed
	// as a code version.
	Complete bool

	// Renderable reports whether Cleaned starts with a doctype declaration
	// or an <html> root tag. Only complete spans can be renderable.
	Renderable bool
}

// Sequence is the ordered span decomposition of one fragment's text.
type Sequence []Span

// Split decomposes text into an ordered [Sequence] of speech and code spans.
//
// The scan runs left to right. Text before an [OpenMarker] is speech. From an
// open marker, the first [CloseMarker] terminates the payload — delimiters do
// not nest. A payload with no close marker before the end of the input is
// returned as a provisional, incomplete code span. A complete payload is
// cleaned and classified; if it does not contain a recognisable document
// root it is folded back into the speech stream verbatim, delimiters and all.
//
// Split never returns an error: ambiguous input is always reclassified toward
// speech so no user-visible text is lost.
func Split(text string) Sequence {
	var spans Sequence
	rest := text
	for rest != "" {
		open := strings.Index(rest, OpenMarker)
		if open < 0 {
			spans = append(spans, Span{Kind: KindSpeech, Text: rest})
			break
		}
		if open > 0 {
			spans = append(spans, Span{Kind: KindSpeech, Text: rest[:open]})
		}

		body := rest[open+len(OpenMarker):]
		end := strings.Index(body, CloseMarker)
		if end < 0 {
			// Unterminated region: generation still in progress.
			spans = append(spans, Span{
				Kind:    KindCode,
				Raw:     body,
				Cleaned: clean(body),
			})
			break
		}

		raw := body[:end]
		cleaned := clean(raw)
		if renderable(cleaned) {
			spans = append(spans, Span{
				Kind:       KindCode,
				Raw:        raw,
				Cleaned:    cleaned,
				Complete:   true,
				Renderable: true,
			})
		} else {
			// Failed the document-root heuristic: narration after all.
			spans = append(spans, Span{
				Kind: KindSpeech,
				Text: OpenMarker + raw + CloseMarker,
			})
		}
		rest = body[end+len(CloseMarker):]
	}
	return spans
}

// SpeechText returns the concatenation of all speech spans in order. This is
// the text a transcript entry should display — code payloads removed,
// reclassified regions preserved verbatim.
func (s Sequence) SpeechText() string {
	var b strings.Builder
	for _, sp := range s {
		if sp.Kind == KindSpeech {
			b.WriteString(sp.Text)
		}
	}
	return b.String()
}

// HasIncompleteCode reports whether the sequence ends in an unterminated
// code region. This drives the "agent is producing code" indicator.
func (s Sequence) HasIncompleteCode() bool {
	for _, sp := range s {
		if sp.Kind == KindCode && !sp.Complete {
			return true
		}
	}
	return false
}

// RenderableCode returns the complete, renderable code spans in appearance
// order. These are the only spans eligible for commitment as code versions.
func (s Sequence) RenderableCode() []Span {
	var out []Span
	for _, sp := range s {
		if sp.Kind == KindCode && sp.Renderable {
			out = append(out, sp)
		}
	}
	return out
}

// Reassemble reconstructs the original input text from the span sequence by
// re-inserting delimiters around code spans. For any input,
// Split(text).Reassemble() == text.
func (s Sequence) Reassemble() string {
	var b strings.Builder
	for _, sp := range s {
		switch sp.Kind {
		case KindSpeech:
			b.WriteString(sp.Text)
		case KindCode:
			b.WriteString(OpenMarker)
			b.WriteString(sp.Raw)
			if sp.Complete {
				b.WriteString(CloseMarker)
			}
		}
	}
	return b.String()
}

// clean strips a leading and a trailing markdown fence line from raw and
// trims surrounding whitespace. The agent is told not to fence code inside
// the delimiters, but models occasionally do anyway.
func clean(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, fence) {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			// Single-line payload: drop the fence and a bare language tag.
			s = strings.TrimPrefix(s, fence)
			s = strings.TrimPrefix(s, "html")
		}
	}

	s = strings.TrimSpace(s)
	// Only a last line that is nothing but the fence is a closing fence; a
	// line merely starting with ``` carries content and stays.
	if nl := strings.LastIndexByte(s, '\n'); nl >= 0 && strings.TrimSpace(s[nl+1:]) == fence {
		s = s[:nl]
	} else if strings.HasSuffix(s, fence) {
		s = strings.TrimSuffix(s, fence)
	}

	return strings.TrimSpace(s)
}

// renderable reports whether cleaned content starts with a case-insensitive
// doctype declaration or an opening <html> root tag.
func renderable(cleaned string) bool {
	s := strings.ToLower(strings.TrimSpace(cleaned))
	return strings.HasPrefix(s, "<!doctype") || strings.HasPrefix(s, "<html")
}
