package transcript

import (
	"encoding/json"
	"time"
)

// Message type discriminators used by the realtime transcription protocol.
const (
	objectAgentTranscription = "assistant.transcription"
	objectUserTranscription  = "user.transcription"
)

// turnStatusComplete is the numeric turn_status value that marks the end of
// an utterance. In-progress updates carry 0; interrupted turns carry 2 and
// are not treated as complete.
const turnStatusComplete = 1

// Normalize converts a raw inbound message into a [Fragment].
//
// The message may be a JSON string, a JSON byte slice, an envelope map with a
// nested serialized "data" field, or an already-decoded map. Field extraction
// is tolerant: the text is read from the first present of "text", "words",
// and "transcription"; finality is true when the numeric "turn_status" equals
// the completion sentinel or the boolean "final" flag is set. Either signal
// alone is sufficient — the upstream protocol does not document a precedence
// between them.
//
// Normalize returns nil when the message cannot be parsed or when it carries
// neither a speaker discriminator nor any text field (presence events, system
// notices). The caller decides whether a dropped message is worth logging;
// Normalize itself performs no I/O.
func Normalize(msg any) *Fragment {
	rec := record(msg)
	if rec == nil {
		return nil
	}

	object, hasObject := stringField(rec, "object")
	text, hasText := firstString(rec, "text", "words", "transcription")
	if !hasObject && !hasText {
		return nil
	}

	speaker := SpeakerAgent
	switch object {
	case objectAgentTranscription:
		speaker = SpeakerAgent
	case objectUserTranscription:
		speaker = SpeakerUser
	default:
		if hasObject {
			// A discriminator we do not recognise: not a transcription.
			return nil
		}
	}

	return &Fragment{
		Speaker:    speaker,
		Text:       text,
		IsFinal:    isFinal(rec),
		ReceivedAt: time.Now(),
	}
}

// record resolves msg into a decoded map, following one level of nesting:
// strings and byte slices are parsed as JSON; an envelope whose "data" field
// is a serialized string has that field parsed instead.
func record(msg any) map[string]any {
	switch v := msg.(type) {
	case map[string]any:
		if nested, ok := v["data"].(string); ok {
			return decode([]byte(nested))
		}
		return v
	case string:
		return record(decodeOrNil([]byte(v)))
	case []byte:
		return record(decodeOrNil(v))
	case json.RawMessage:
		return record(decodeOrNil(v))
	default:
		return nil
	}
}

func decode(data []byte) map[string]any {
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return rec
}

// decodeOrNil wraps decode so record can recurse without re-switching on a
// nil map.
func decodeOrNil(data []byte) any {
	rec := decode(data)
	if rec == nil {
		return nil
	}
	return rec
}

// isFinal reports whether rec marks the end of a turn: either the numeric
// turn_status equals the completion sentinel or the explicit final flag is
// true.
func isFinal(rec map[string]any) bool {
	if status, ok := numberField(rec, "turn_status"); ok && status == turnStatusComplete {
		return true
	}
	if final, ok := rec["final"].(bool); ok && final {
		return true
	}
	if final, ok := rec["is_final"].(bool); ok && final {
		return true
	}
	return false
}

// firstString returns the first of the named fields present as a string,
// reporting whether any of them existed at all.
func firstString(rec map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := stringField(rec, key); ok {
			return s, true
		}
	}
	return "", false
}

func stringField(rec map[string]any, key string) (string, bool) {
	v, ok := rec[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// numberField extracts a numeric field regardless of whether the decoder
// produced a float64 (encoding/json default) or an integer type.
func numberField(rec map[string]any, key string) (int, bool) {
	switch v := rec[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
