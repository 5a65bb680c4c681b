package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dohr-michael/chatflow/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an apperr.Kind to its HTTP status code, per §7.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindAuth:
		status = http.StatusUnauthorized
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// authenticate resolves the Authorization: Bearer header into an
// (agentID, tenantID) pair, per §6's auth contract.
func (s *Server) authenticate(r *http.Request) (agentID, tenantID string, err error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", "", apperr.Auth("missing bearer token")
	}
	token := header[len(prefix):]
	agentID, tenantID, ok := s.resolve(token)
	if !ok {
		return "", "", apperr.Auth("unknown bearer token")
	}
	return agentID, tenantID, nil
}
