package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/redactly/redactly/internal/detect"
	"github.com/redactly/redactly/internal/redact"
	"github.com/redactly/redactly/internal/session"
	"github.com/redactly/redactly/internal/suggest"
)

// allowedMIMETypes are the image formats the compositing engine can
// round-trip.
var allowedMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
}

// sessionSummary is the compact list form of a session.
type sessionSummary struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Entities int    `json:"entities"`
	Selected int    `json:"selected"`
	Error    string `json:"error,omitempty"`
}

func summarize(snap session.Snapshot) sessionSummary {
	return sessionSummary{
		ID:       snap.ID,
		Filename: snap.Filename,
		Status:   snap.Status,
		Entities: len(snap.Entities),
		Selected: len(snap.Selected),
		Error:    snap.Error,
	}
}

// handleUpload admits a new file into the queue.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.Server.MaxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload too large or malformed: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !allowedMIMETypes[mimeType] {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported file type %q; upload an image", mimeType))
		return
	}

	useLLM := s.config.Detection.UseLLM
	if v := r.FormValue("use_llm"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "use_llm must be a boolean")
			return
		}
		useLLM = parsed
	}

	snap, err := s.queue.Add(header.Filename, mimeType, data, useLLM)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, summarize(snap))
}

// handleList returns summaries of all sessions in queue order.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := s.queue.List()
	summaries := make([]sessionSummary, len(snaps))
	for i, snap := range snaps {
		summaries[i] = summarize(snap)
	}
	writeJSON(w, http.StatusOK, summaries)
}

// sessionDetail is the full view of one session, including the raw
// detection response for inspection.
type sessionDetail struct {
	session.Snapshot
	RawDetection json.RawMessage `json:"rawDetection,omitempty"`
}

// handleGet returns one session in full.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.queue.Get(mux.Vars(r)["id"])
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{Snapshot: snap, RawDetection: snap.RawDetection})
}

// handleRemove deletes a session and cancels its in-flight work.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Remove(mux.Vars(r)["id"]); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleToggle flips one entity's selection state.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID string `json:"entityId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "entityId is required")
		return
	}

	snap, err := s.queue.Toggle(mux.Vars(r)["id"], req.EntityID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(snap))
}

// handleSelections applies a bulk selection action.
func (s *Server) handleSelections(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"` // selectAll or deselectAll
		Kind   string `json:"kind"`   // pii, signature, or empty for both
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := session.Kind(req.Kind)
	switch kind {
	case "", session.KindPII, session.KindSignature:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown entity kind %q", req.Kind))
		return
	}

	id := mux.Vars(r)["id"]
	var (
		snap session.Snapshot
		err  error
	)
	switch req.Action {
	case "selectAll":
		snap, err = s.queue.SelectAll(id, kind)
	case "deselectAll":
		snap, err = s.queue.DeselectAll(id, kind)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(snap))
}

// handleOptions updates a session's redaction options.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	opts := redact.Defaults()
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := s.queue.SetOptions(mux.Vars(r)["id"], opts)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Options)
}

// handleSuggest runs the suggestion flow and replaces the selection with the
// recommended subset.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Criteria string `json:"criteria"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Criteria == "" {
		req.Criteria = s.config.Suggestion.DefaultCriteria
	}

	snap, reasoning, err := s.queue.Suggest(r.Context(), mux.Vars(r)["id"], req.Criteria)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected":  snap.Selected,
		"reasoning": reasoning,
	})
}

// handleRedact composites the selected regions and moves the session to its
// terminal redacted state.
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	snap, err := s.queue.Redact(mux.Vars(r)["id"])
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(snap))
}

// handleDownload streams the redacted image.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	data, filename, mimeType, err := s.queue.Output(mux.Vars(r)["id"])
	if err != nil {
		writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write download", zap.Error(err))
	}
}

// writeSessionError maps domain errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrCapacity):
		status = http.StatusTooManyRequests
	case errors.Is(err, session.ErrDuplicate), errors.Is(err, session.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNoSelection), errors.Is(err, session.ErrUnknownEntity), errors.Is(err, session.ErrMissingOriginal):
		status = http.StatusBadRequest
	case errors.Is(err, detect.ErrTransport), errors.Is(err, suggest.ErrSuggestion):
		status = http.StatusBadGateway
	case errors.Is(err, redact.ErrDecode), errors.Is(err, redact.ErrEncode):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
