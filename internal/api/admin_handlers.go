package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/callscribe/callscribe/internal/archive"
	"github.com/callscribe/callscribe/internal/ledger"
	"github.com/go-chi/chi/v5"

	mw "github.com/callscribe/callscribe/internal/api/middleware"
)

// handleHealth returns a basic liveness response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loginRequest is the POST /auth/login body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin authenticates an admin user and issues a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.admins.GetByUsername(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to look up admin user", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		slog.Warn("failed admin login attempt", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	match, err := ledger.CheckPassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		slog.Warn("failed admin login attempt", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := mw.GenerateAdminToken(s.jwtSecret, user.Username)
	if err != nil {
		slog.Error("failed to generate admin token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

// callerSummary is one archived caller in the listing response.
type callerSummary struct {
	CallerID string   `json:"caller_id"`
	Answers  []string `json:"answers"`
}

// handleListCallers lists all caller directories in the archive with the
// steps each caller has answered.
func (s *Server) handleListCallers(w http.ResponseWriter, r *http.Request) {
	callers, err := s.archive.Callers()
	if err != nil {
		slog.Error("failed to list archived callers", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	summaries := make([]callerSummary, 0, len(callers))
	for _, c := range callers {
		summaries = append(summaries, callerSummary{
			CallerID: c,
			Answers:  s.archive.Answers(c),
		})
	}

	writeJSON(w, http.StatusOK, summaries)
}

// callerIDParam extracts and validates the caller directory name from the
// URL. Directory names are already sanitized on write, so any name that
// sanitization would alter is a traversal attempt, not a real caller.
func callerIDParam(r *http.Request) (string, bool) {
	id := chi.URLParam(r, "callerID")
	if id == "" || archive.SanitizeCallerID(id) != id {
		return "", false
	}
	return id, true
}

// handleGetCaller returns one caller's answered steps and ledger rows.
func (s *Server) handleGetCaller(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller id")
		return
	}

	recordings, err := s.recordings.ListByCaller(r.Context(), callerID)
	if err != nil {
		slog.Error("failed to list recordings", "caller_id", callerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"caller_id":  callerID,
		"answers":    s.archive.Answers(callerID),
		"recordings": recordings,
	})
}

// handleCallerAudio streams one archived answer as WAV audio. The step name
// must be a real script step, which also rules out path traversal.
func (s *Server) handleCallerAudio(w http.ResponseWriter, r *http.Request) {
	callerID, ok := callerIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller id")
		return
	}

	step := chi.URLParam(r, "step")
	if _, err := s.script.Step(step); err != nil {
		writeError(w, http.StatusNotFound, "unknown step")
		return
	}

	path := s.archive.FilePath(callerID, step)
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

// handleCallEvents returns the activity log for one call.
func (s *Server) handleCallEvents(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSID")

	events, err := s.events.ListByCall(r.Context(), callSID)
	if err != nil {
		slog.Error("failed to list call events", "call_sid", callSID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// handleStats returns aggregate counters for the admin dashboard.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, err := s.recordings.Count(r.Context())
	if err != nil {
		slog.Error("failed to count recordings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	byEvent, err := s.events.CountByEvent(r.Context())
	if err != nil {
		slog.Error("failed to count call events", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	callers, err := s.archive.Callers()
	if err != nil {
		slog.Error("failed to list archived callers", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recordings": total,
		"callers":    len(callers),
		"events":     byEvent,
	})
}
