package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"argus/internal/core"
	"argus/internal/store"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"status":  status,
			"message": message,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var startTime = time.Now()

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, authenticated := s.optionalAuth(r)
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(startTime).String(),
	}
	if authenticated {
		resp["device_id"] = deviceID
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type authenticateRequest struct {
	DeviceID string `json:"device_id"`
}

type authenticateResponse struct {
	Token string `json:"token"`
}

// handleAuthenticate upserts the device by its opaque token and issues a
// bearer token binding the device's internal row id.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		s.respondError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	id, err := s.store.UpsertDevice(r.Context(), req.DeviceID)
	if err != nil {
		s.log.Error().Err(err).Msg("upserting device")
		s.respondError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	token, err := s.issueToken(id)
	if err != nil {
		s.log.Error().Err(err).Msg("issuing token")
		s.respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	s.respondJSON(w, http.StatusOK, authenticateResponse{Token: token})
}

type topicRequest struct {
	Topic string `json:"topic"`
}

// handleSubscribe validates the topic against the configured set plus the
// implicit Alert/Test pair, then subscribes the authenticated device at
// high priority. A duplicate subscription surfaces as 409 per the
// store's AlreadyPresent contract.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" {
		s.respondError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if _, ok := s.validTopics[req.Topic]; !ok {
		s.respondError(w, http.StatusBadRequest, "unknown topic")
		return
	}

	deviceID := r.Context().Value(deviceIDKey).(int64)
	err := s.store.Subscribe(r.Context(), deviceID, req.Topic, core.PriorityHigh)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})
	case errIsAlreadyPresent(err):
		s.respondError(w, http.StatusConflict, "already subscribed")
	default:
		s.log.Error().Err(err).Msg("subscribing device")
		s.respondError(w, http.StatusInternalServerError, "failed to subscribe")
	}
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" {
		s.respondError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if _, ok := s.validTopics[req.Topic]; !ok {
		s.respondError(w, http.StatusBadRequest, "unknown topic")
		return
	}

	deviceID := r.Context().Value(deviceIDKey).(int64)
	if err := s.store.Unsubscribe(r.Context(), deviceID, req.Topic); err != nil {
		s.log.Error().Err(err).Msg("unsubscribing device")
		s.respondError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func errIsAlreadyPresent(err error) bool {
	return errors.Is(err, store.ErrAlreadyPresent)
}
