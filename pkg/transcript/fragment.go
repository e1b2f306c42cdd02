// Package transcript defines the canonical transcription fragment model and
// the normalizer that produces fragments from raw realtime messages.
//
// The realtime channel delivers transcription updates in several shapes
// depending on the vendor pipeline: raw JSON strings, envelopes with a nested
// serialized payload, or already-decoded maps. [Normalize] folds all of them
// into a single immutable [Fragment] that the rest of the pipeline consumes.
package transcript

import "time"

// Speaker identifies which conversation lane a fragment belongs to.
type Speaker string

const (
	// SpeakerAgent marks transcription of the AI agent's synthesised speech.
	SpeakerAgent Speaker = "agent"

	// SpeakerUser marks transcription of the user's microphone input.
	SpeakerUser Speaker = "user"
)

// IsValid reports whether s is a recognised speaker lane.
func (s Speaker) IsValid() bool {
	return s == SpeakerAgent || s == SpeakerUser
}

// Fragment is one inbound transcription update, interim or final.
//
// A Fragment is immutable after creation: it is produced once per inbound
// structured message by [Normalize] and consumed downstream without further
// mutation. Interim fragments are complete-so-far snapshots of the current
// utterance, not deltas — each one supersedes the previous interim fragment
// for the same lane.
type Fragment struct {
	// Speaker is the conversation lane this fragment belongs to.
	Speaker Speaker

	// Text is the transcribed text, complete so far.
	Text string

	// IsFinal reports whether this fragment seals the current turn. No
	// further updates for the utterance follow a final fragment.
	IsFinal bool

	// ReceivedAt records when the fragment was produced from the inbound
	// message.
	ReceivedAt time.Time
}
