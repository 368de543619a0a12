// Package api implements Xolo's HTTP route layer: thin transport glue
// over the orchestration engine. Every handler here
// does request parsing, lock-free validation, and progress-stream
// plumbing; all actual orchestration lives in internal/xolotitle and
// internal/xoloversion.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/xolohq/xolo/internal/api/authsvc"
	"github.com/xolohq/xolo/internal/api/middleware"
	"github.com/xolohq/xolo/internal/auditindex"
	"github.com/xolohq/xolo/internal/changelog"
	"github.com/xolohq/xolo/internal/clientdata"
	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/scheduler"
	"github.com/xolohq/xolo/internal/store"
	"github.com/xolohq/xolo/internal/xoloconfig"
	"github.com/xolohq/xolo/internal/xolometrics"
	"github.com/xolohq/xolo/internal/xolotitle"
	"github.com/xolohq/xolo/internal/xoloversion"
)

// Server wires every collaborator a handler needs. It holds no mutable
// state of its own beyond what its fields already own (Store, lock
// manager, etc.) — request-scoped state lives on the request context.
type Server struct {
	Config      xoloconfig.ServerConfig
	Store       *store.Store
	Changelog   *changelog.Manager
	Titles      *xolotitle.Service
	Versions    *xoloversion.Service
	ClientData  *clientdata.Builder
	Scheduler   *scheduler.Scheduler
	Cleanup     *scheduler.Cleanup
	Auth        *authsvc.Manager
	Metrics     *xolometrics.Registry
	Logger      *slog.Logger
	ProgressDir string

	// AuditIndex, when non-nil (audit_index.enabled), backs GET /audit
	// (a server-admin route) with the queryable SQL mirror of the
	// changelog. Nil when the profile has it disabled, in which case the
	// route reports 501.
	AuditIndex auditindex.Index

	// ProgressBus, when set (ProfileStandard), fans a workflow's progress
	// lines out over Redis pub/sub so a replica other than the one running
	// the workflow can still serve its /streamed_progress/ tail.
	ProgressBus *progress.Bus

	// Shutdown, when set, reports whether the process has begun a
	// graceful shutdown; new requests other than the progress-stream tail
	// get 503 while a shutdown drains.
	Shutdown func() bool

	// LogLevel and LogWriter back the server-admin /set-log-level and
	// /rotate-logs routes. Both may be nil (e.g. in tests), in which case
	// those two routes report 501.
	LogLevel  *slog.LevelVar
	LogWriter io.Writer
}

// NewRouter builds the full mux: the title/version/release surface plus
// the server-admin, upload, and maintenance routes.
func (s *Server) NewRouter() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.SecureHeaders())
	r.Use(middleware.PathNormalizationMiddleware())
	r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig()))
	r.Use(middleware.LoggingMiddleware(s.Logger))
	if s.Metrics != nil {
		httpMetrics := s.Metrics.HTTP()
		r.Use(func(next http.Handler) http.Handler {
			return httpMetrics.Middleware("unmatched", next)
		})
	}
	r.Use(s.shutdownGate)
	r.Use(middleware.RateLimitMiddleware(s.Config.RateLimitPerMinute, s.Config.RateLimitBurst))
	r.Use(middleware.ValidationMiddleware)

	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/streamed_progress/", s.handleStreamedProgress).Methods(http.MethodGet)
	r.HandleFunc("/streamed_progress/ws", s.handleProgressSocket).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(middleware.AuthMiddleware(s.Auth))
	// Compression stays off the root router: the progress-stream tail needs
	// http.Flusher, which the gzip wrapper does not forward.
	protected.Use(middleware.CompressionMiddleware)

	protected.HandleFunc("/titles", s.handleCreateTitle).Methods(http.MethodPost)
	protected.HandleFunc("/titles/{slug}", s.handleUpdateTitle).Methods(http.MethodPut)
	protected.HandleFunc("/titles/{slug}", s.handleDeleteTitle).Methods(http.MethodDelete)
	protected.HandleFunc("/titles/{slug}/versions", s.handleCreateVersion).Methods(http.MethodPost)
	protected.HandleFunc("/titles/{slug}/versions/{version}", s.handleUpdateVersion).Methods(http.MethodPut)
	protected.HandleFunc("/titles/{slug}/versions/{version}", s.handleDeleteVersion).Methods(http.MethodDelete)
	protected.HandleFunc("/titles/{slug}/release", s.handleRelease).Methods(http.MethodPost)
	protected.HandleFunc("/titles/{slug}/repair", s.handleRepairTitle).Methods(http.MethodPost)
	protected.HandleFunc("/titles/{slug}/freeze", s.handleFreeze).Methods(http.MethodPost)
	protected.HandleFunc("/titles/{slug}/thaw", s.handleThaw).Methods(http.MethodPost)
	protected.HandleFunc("/uploads/icon", s.handleUploadIcon).Methods(http.MethodPost)
	protected.HandleFunc("/uploads/pkg", s.handleUploadPkg).Methods(http.MethodPost)

	protected.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	protected.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	protected.HandleFunc("/cleanup", s.handleCleanup).Methods(http.MethodPost)
	protected.HandleFunc("/update-client-data", s.handleUpdateClientData).Methods(http.MethodPost)
	protected.HandleFunc("/rotate-logs", s.handleRotateLogs).Methods(http.MethodPost)
	protected.HandleFunc("/set-log-level", s.handleSetLogLevel).Methods(http.MethodPost)

	protected.HandleFunc("/maint/cleanup-internal", s.handleCleanupInternal).Methods(http.MethodPost)

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.HTTP().Handler()).Methods(http.MethodGet)
	}

	return r
}

// shutdownGate: once the process has started shutting down, every route
// except the progress-stream tail returns 503 so in-flight streamed reads
// can still finish.
func (s *Server) shutdownGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Shutdown != nil && s.Shutdown() && !strings.HasPrefix(r.URL.Path, "/streamed_progress/") {
			writeError(w, r, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// newProgressStream opens a Stream under the server's configured progress
// directory, used by every long-running workflow handler.
func (s *Server) newProgressStream() (*progress.Stream, error) {
	return progress.New(s.ProgressDir, s.Logger, s.ProgressBus)
}

// runAsync starts work in its own goroutine against a freshly-minted
// progress Stream, writes the "running" response immediately,
// and guarantees the stream is closed (Done or Fail) on every exit path —
// the "the worker releases locks on all exit paths" extends to
// always terminating the tail with a sentinel or error line.
func (s *Server) runAsync(w http.ResponseWriter, r *http.Request, work func(stream *progress.Stream)) {
	stream, err := s.newProgressStream()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to start progress stream: "+err.Error())
		return
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.Logger.Error("workflow panic", "recover", rec)
				stream.Fail(fmtPanic(rec))
			}
		}()
		work(stream)
	}()

	writeJSON(w, http.StatusAccepted, runningResponse{
		Status:                "running",
		ProgressStreamURLPath: "/streamed_progress/?stream_file=" + stream.ID(),
	})
}

type runningResponse struct {
	Status                string `json:"status"`
	ProgressStreamURLPath string `json:"progress_stream_url_path"`
}

// requestDeadline bounds a background workflow kicked off from an HTTP
// handler to a generous ceiling so a wedged upstream call cannot leak a
// goroutine forever; far longer than any request timeout since the caller
// already disconnected to poll the progress stream instead. It exceeds
// watch.go's own 60-minute watcher budget so a workflow's own timeout
// always fires first.
const requestDeadline = 65 * time.Minute

// newWorkflowContext builds a fresh, request-independent context for a
// goroutine started by runAsync — it must outlive the HTTP request that
// started it, so it is deliberately not derived from r.Context().
func newWorkflowContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestDeadline)
}
