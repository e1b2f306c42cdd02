package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/voxweave/internal/turns"
)

// sessionStatus is the JSON body for GET /v1/session.
type sessionStatus struct {
	Active     bool      `json:"active"`
	SessionID  string    `json:"session_id,omitempty"`
	ChannelID  string    `json:"channel_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	Generating bool      `json:"generating"`
}

// versionMeta is a code version without its payload, for list responses.
type versionMeta struct {
	ID        int       `json:"id"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// versionBody is a full code version, payload included.
type versionBody struct {
	ID        int       `json:"id"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

// transcriptEntry is the wire form of a permanent transcript line.
type transcriptEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// versionList is the JSON body for GET /v1/versions.
type versionList struct {
	Versions   []versionMeta `json:"versions"`
	Current    int           `json:"current"`
	Generating bool          `json:"generating"`
}

// errorBody is the JSON body for all error responses.
type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	info := s.mgr.Info()
	writeJSON(w, http.StatusOK, sessionStatus{
		Active:     s.mgr.IsActive(),
		SessionID:  info.SessionID,
		ChannelID:  info.ChannelID,
		StartedAt:  info.StartedAt,
		Generating: s.mgr.Aggregator().Generating(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Start(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}
	info := s.mgr.Info()
	writeJSON(w, http.StatusOK, sessionStatus{
		Active:    true,
		SessionID: info.SessionID,
		ChannelID: info.ChannelID,
		StartedAt: info.StartedAt,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Stop(); err != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessionStatus{Active: false})
}

// muteRequest is the JSON body for POST /v1/session/mute.
type muteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := s.mgr.Mute(req.Muted); err != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	entries := s.mgr.Aggregator().Entries()
	out := make([]transcriptEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, transcriptEntry{
			Speaker:   string(e.Speaker),
			Text:      e.Text,
			Timestamp: e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]transcriptEntry{"entries": out})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	agg := s.mgr.Aggregator()

	versions := agg.Versions()
	metas := make([]versionMeta, 0, len(versions))
	for _, v := range versions {
		metas = append(metas, versionMeta{
			ID:        v.ID,
			Bytes:     len(v.HTML),
			CreatedAt: v.CreatedAt,
		})
	}

	current := 0
	if cv, ok := agg.CurrentVersion(); ok {
		current = cv.ID
	}

	writeJSON(w, http.StatusOK, versionList{
		Versions:   metas,
		Current:    current,
		Generating: agg.Generating(),
	})
}

func (s *Server) handleCurrentVersion(w http.ResponseWriter, r *http.Request) {
	v, ok := s.mgr.Aggregator().CurrentVersion()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no version committed yet"})
		return
	}
	writeJSON(w, http.StatusOK, versionBody{ID: v.ID, HTML: v.HTML, CreatedAt: v.CreatedAt})
}

// selectRequest is the JSON body for PUT /v1/versions/current.
type selectRequest struct {
	ID int `json:"id"`
}

func (s *Server) handleSelectVersion(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	if err := s.mgr.Aggregator().SelectVersion(req.ID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, turns.ErrNoSuchVersion) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}

	v, _ := s.mgr.Aggregator().Version(req.ID)
	writeJSON(w, http.StatusOK, versionBody{ID: v.ID, HTML: v.HTML, CreatedAt: v.CreatedAt})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "version id must be an integer"})
		return
	}

	v, ok := s.mgr.Aggregator().Version(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such version"})
		return
	}
	writeJSON(w, http.StatusOK, versionBody{ID: v.ID, HTML: v.HTML, CreatedAt: v.CreatedAt})
}

// writeJSON encodes v with the given status. Encoding failures after the
// header is written can only be logged by the middleware, so they are ignored.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
