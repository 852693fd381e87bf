package app

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"dealroom/api/internal/rbac"
)

const maxBeaconBytes = 4 << 10

func (s *HTTPServer) handleLocks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		locks, err := s.service.ListLocks(r.Context(), session)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locks": locks})

	case len(parts) == 1 && parts[0] == "release-beacon" && r.Method == http.MethodPost:
		s.handleReleaseBeacon(w, r, session)

	case len(parts) == 2 && r.Method == http.MethodGet:
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		result, err := s.service.CheckLock(r.Context(), session, parts[0], parts[1])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 2 && r.Method == http.MethodDelete:
		if _, err := s.service.ReleaseLock(r.Context(), session, parts[0], parts[1]); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"released": true})

	case len(parts) == 3 && r.Method == http.MethodPost:
		s.handleLockAction(w, r, session, parts[0], parts[1], parts[2])

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLockAction(w http.ResponseWriter, r *http.Request, session Session, entityType, entityID, action string) {
	switch action {
	case "acquire":
		if !s.service.Can(session.Role, rbac.ActionEdit) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		result, err := s.service.AcquireLock(r.Context(), session, entityType, entityID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case "heartbeat":
		if !s.service.Can(session.Role, rbac.ActionEdit) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		result, err := s.service.RenewLock(r.Context(), session, entityType, entityID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case "break":
		if !s.service.Can(session.Role, rbac.ActionManage) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		released, err := s.service.BreakLock(r.Context(), session, entityType, entityID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"released": released})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleReleaseBeacon serves navigator.sendBeacon on page unload. Browsers
// send the JSON payload as text/plain unless the page builds a Blob, so the
// body is read raw and the Content-Type header is ignored.
func (s *HTTPServer) handleReleaseBeacon(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		EntityType string `json:"entityType"`
		EntityID   string `json:"entityId"`
	}
	if err := decodeBeacon(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if _, err := s.service.ReleaseLock(r.Context(), session, body.EntityType, body.EntityID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": true})
}

func decodeBeacon(r *http.Request, target any) error {
	if r.Body == nil {
		return errBeaconBody
	}
	defer r.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBeaconBytes+1))
	if err != nil {
		return errBeaconBody
	}
	if len(raw) > maxBeaconBytes {
		return errBeaconTooLarge
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return errBeaconBody
	}
	if err := json.Unmarshal([]byte(text), target); err != nil {
		return errBeaconBody
	}
	return nil
}
