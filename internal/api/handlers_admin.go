package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xolohq/xolo/internal/api/middleware"
	"github.com/xolohq/xolo/internal/auditindex"
	"github.com/xolohq/xolo/pkg/logger"
)

// handleState implements GET /state (a server-admin route): a minimal
// liveness/identity snapshot an operator can poll without touching any
// title.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	shuttingDown := s.Shutdown != nil && s.Shutdown()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"shutting_down": shuttingDown,
		"principal":     middleware.Principal(r.Context()),
	})
}

// handleCleanup implements POST /cleanup (both a server-admin and an
// internal route): forces an immediate cleanup tick bypassing the hourly
// gate.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.Scheduler.Force()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cleanup forced"})
}

// handleCleanupInternal implements POST /maint/cleanup-internal: the
// loopback-only endpoint the Scheduler's ticker calls, running the actual
// cleanup workflow under the same request/lock plumbing as any
// admin-triggered one.
func (s *Server) handleCleanupInternal(w http.ResponseWriter, r *http.Request) {
	if err := s.Cleanup.Run(r.Context()); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpdateClientData implements POST /update-client-data
// (a server-admin route): runs a client-data snapshot build and upload on
// demand. This handler is the only caller of ClientData.Build; the
// Scheduler does not build client data.
func (s *Server) handleUpdateClientData(w http.ResponseWriter, r *http.Request) {
	result, err := s.ClientData.Build(r.Context())
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRotateLogs implements POST /rotate-logs (a server-admin route):
// forces the log writer to roll over immediately. This route is the only
// caller of logger.RotateNow; the Scheduler runs no log-rotation timer.
func (s *Server) handleRotateLogs(w http.ResponseWriter, r *http.Request) {
	if s.LogWriter == nil {
		writeError(w, r, http.StatusNotImplemented, "log rotation not configured for this process")
		return
	}
	if err := logger.RotateNow(s.LogWriter); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rotated"})
}

// handleAudit implements GET /audit (a server-admin route): ad hoc search
// over the audit index, the queryable SQL mirror of every title's
// changelog. Query parameters: slug, admin, since,
// until (RFC3339), limit, offset. Reports 501 when the process was
// started with audit_index.enabled=false — the changelog files
// themselves remain the source of truth either way.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.AuditIndex == nil {
		writeError(w, r, http.StatusNotImplemented, "audit index not configured for this process")
		return
	}

	q := r.URL.Query()
	filter := auditindex.Filter{
		Slug:  q.Get("slug"),
		Admin: q.Get("admin"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid until: "+err.Error())
			return
		}
		filter.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid limit: "+err.Error())
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid offset: "+err.Error())
			return
		}
		filter.Offset = n
	}

	records, err := s.AuditIndex.Query(r.Context(), filter)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": records})
}

type setLogLevelRequest struct {
	Level string `json:"level" validate:"required,oneof=debug info warn error"`
}

// handleSetLogLevel implements POST /set-log-level (a server-admin route):
// adjusts the process-wide logger's live level without a restart.
func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	if s.LogLevel == nil {
		writeError(w, r, http.StatusNotImplemented, "dynamic log level not configured for this process")
		return
	}
	var in setLogLevelRequest
	if err := decodeValid(r, &in); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	s.LogLevel.Set(logger.ParseLevel(in.Level))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "level": in.Level})
}
