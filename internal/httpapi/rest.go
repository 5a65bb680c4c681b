package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/chatflow/internal/apperr"
)

type createSessionRequest struct {
	VisitorID string `json:"visitorId"`
	Channel   string `json:"channel"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	channel := req.Channel
	if channel == "" {
		channel = "widget"
	}
	session, err := s.orch.EnsureSession(r.Context(), tenantOf(r, s.defaultTenant), "", req.VisitorID, channel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: session.ID})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	msgs, err := s.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type postMessageRequest struct {
	Sender string `json:"sender"` // "visitor" (default) | "agent" | "team"
	Text   string `json:"text"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	if req.Text == "" {
		writeError(w, apperr.Validation("text is required"))
		return
	}

	if req.Sender == "agent" || req.Sender == "team" {
		session, err := s.store.GetSession(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		if session == nil {
			writeError(w, apperr.NotFound("unknown session"))
			return
		}
		msg, err := s.orch.HandleAgentMessage(r.Context(), session, req.Text, req.Sender == "team")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
		return
	}

	result, err := s.orch.HandleVisitorMessage(r.Context(), tenantOf(r, s.defaultTenant), sessionID, "", "widget", req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": result.Session.ID})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	summary, changed, err := s.store.SetSessionStatus(r.Context(), sessionID, "closed")
	if err != nil {
		writeError(w, err)
		return
	}
	if changed {
		s.hub.EmitToSession(sessionID, "session:updated", summary)
	}
	writeJSON(w, http.StatusOK, summary)
}

type csatRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

func (s *Server) handleSubmitCSAT(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	var req csatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body"))
		return
	}
	if req.Score < 1 || req.Score > 5 {
		writeError(w, apperr.Validation("score must be between 1 and 5"))
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		writeError(w, apperr.NotFound("session not found"))
		return
	}
	if err := s.orch.SubmitCSAT(r.Context(), session, req.Score, req.Comment); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
