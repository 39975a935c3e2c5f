package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/fichabot/internal/domain"
	"github.com/soyeahso/fichabot/internal/version"
)

// messageRequest is the POST /message body.
type messageRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// messageResponse carries the results in wire shape: plain strings for
// text outcomes, typed objects for disambiguation and confirmation.
type messageResponse struct {
	Results json.RawMessage `json:"results"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeMs int64  `json:"uptimeMs"`
	Clients  int    `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  version.Version,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		Clients:  s.clients.Count(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	// A client disconnect must not sever an in-flight browser call: the
	// batch runs to completion and the timesheet stays consistent even if
	// nobody reads the response.
	results := s.handler.HandleMessage(context.WithoutCancel(r.Context()), req.UserID, req.Text)

	raw, err := domain.MarshalResults(results)
	if err != nil {
		s.log.Error().Err(err).Str("user", req.UserID).Msg("marshaling results failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Results: raw})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	closed := s.handler.CloseSession(r.Context(), userID)
	if !closed {
		writeError(w, http.StatusNotFound, "no active session for user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"closed": true})
}

// credentialsRequest is the PUT /credentials/{userId} body.
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	creds := domain.Credentials{Username: req.Username, Password: req.Password}
	if err := s.handler.UpdateCredentials(r.Context(), userID, creds); err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("credential update failed")
		writeError(w, http.StatusInternalServerError, "could not store credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
