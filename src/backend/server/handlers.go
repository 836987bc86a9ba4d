package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hannes/role-anonymizer/src/backend/pii"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type anonymizeRequest struct {
	Text string `json:"text"`
}

type anonymizeResponse struct {
	RequestID      string           `json:"request_id"`
	AnonymizedText string           `json:"anonymized_text"`
	Names          int              `json:"names"`
	Roles          map[string]int   `json:"roles"`
	RejectedSpans  []*pii.SpanError `json:"rejected_spans"`
	Detector       string           `json:"detector,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status   string  `json:"status"`
	Detector string  `json:"detector"`
	Healthy  bool    `json:"healthy"`
	Uptime   float64 `json:"uptime_seconds"`
}

type reloadRequest struct {
	Directory string `json:"directory"`
}

type auditListResponse struct {
	Entries []pii.AuditEntry `json:"entries"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// handleHealth answers 503 while the recognizer is not loaded
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := s.models.Info()
	resp := healthResponse{
		Status:   "healthy",
		Detector: info.Detector,
		Healthy:  info.Healthy,
		Uptime:   time.Since(s.startTime).Seconds(),
	}
	status := http.StatusOK
	if !info.Healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	if limit := s.config.Server.MaxBodyBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object with a text field")
		return
	}

	ctx := r.Context()
	if timeout := s.config.Server.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	requestID := RequestIDFromContext(r.Context())
	result, err := s.masking.MaskText(ctx, req.Text)
	switch {
	case errors.Is(err, pii.ErrNoDetector):
		s.logger.Warn().Err(err).Str("request_id", requestID).Msg("no detector available")
		writeError(w, http.StatusServiceUnavailable, "no_detector", "name recognizer is not available")
		return
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn().Str("request_id", requestID).Msg("recognizer timed out")
		writeError(w, http.StatusGatewayTimeout, "timeout", "name recognizer timed out")
		return
	case err != nil:
		s.logger.Error().Err(err).Str("request_id", requestID).Msg("recognizer failed")
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
		writeError(w, http.StatusBadGateway, "detector_failed", "name recognizer failed")
		return
	}

	rejected := result.Rejected
	if rejected == nil {
		rejected = []*pii.SpanError{}
	}
	roles := result.Roles
	if roles == nil {
		roles = map[string]int{}
	}
	writeJSON(w, http.StatusOK, anonymizeResponse{
		RequestID:      requestID,
		AnonymizedText: result.Text,
		Names:          result.Names,
		Roles:          roles,
		RejectedSpans:  rejected,
		Detector:       result.Detector,
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.models.Info())
}

func (s *Server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object with a directory field")
		return
	}
	if req.Directory == "" {
		writeError(w, http.StatusBadRequest, "missing_directory", "directory is required")
		return
	}

	if err := s.models.ReloadModel(req.Directory); err != nil {
		if errors.Is(err, pii.ErrReloadUnsupported) {
			writeError(w, http.StatusConflict, "reload_unsupported", err.Error())
			return
		}
		s.logger.Error().Err(err).Str("directory", req.Directory).Msg("model reload failed")
		writeError(w, http.StatusUnprocessableEntity, "reload_failed", err.Error())
		return
	}

	s.logger.Info().Str("directory", req.Directory).Msg("model reloaded")
	writeJSON(w, http.StatusOK, s.models.Info())
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit_disabled", "audit log is not configured")
		return
	}

	limit, err := queryInt(r, "limit", defaultAuditLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
		return
	}

	entries, err := s.audit.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list audit entries")
		writeError(w, http.StatusInternalServerError, "audit_failed", "failed to list audit entries")
		return
	}
	total, err := s.audit.Count(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count audit entries")
		writeError(w, http.StatusInternalServerError, "audit_failed", "failed to count audit entries")
		return
	}
	if entries == nil {
		entries = []pii.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditListResponse{Entries: entries, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleAuditClear(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "audit_disabled", "audit log is not configured")
		return
	}
	if err := s.audit.Clear(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear audit log")
		writeError(w, http.StatusInternalServerError, "audit_failed", "failed to clear audit log")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
