package api

import (
	"net/http"
	"net/url"
	"os"

	"github.com/xolohq/xolo/internal/api/middleware"
	"github.com/xolohq/xolo/internal/progress"
)

// handlePing implements GET /ping → "pong".
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required"`
}

// handleLogin implements POST /auth/login: validates the credential
// against Fleet's own auth endpoint and mints a session cookie. A no-auth
// route — the credential itself is the authentication.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeValid(r, &in); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	token, err := s.Auth.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogout invalidates the caller's session, if any.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		s.Auth.Logout(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: middleware.SessionCookieName, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStreamedProgress implements GET /streamed_progress/?stream_file=…:
// tails the named progress file, forwarding each line
// to the response body until the completion sentinel, an ERROR: line, or
// the client disconnects. It never touches an entity lock.
func (s *Server) handleStreamedProgress(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("stream_file")
	if streamID == "" {
		writeError(w, r, http.StatusBadRequest, "stream_file query parameter is required")
		return
	}
	// stream_file names only the id portion of the path progress.New
	// generated; reject anything that looks like a path escape before
	// joining it below.
	if decoded, err := url.QueryUnescape(streamID); err == nil {
		streamID = decoded
	}
	if containsPathSeparator(streamID) {
		writeError(w, r, http.StatusBadRequest, "invalid stream_file")
		return
	}

	path := s.ProgressDir + "/" + streamID + ".progress"
	if _, statErr := os.Stat(path); statErr != nil {
		writeError(w, r, http.StatusNotFound, "unknown progress stream")
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	err := progress.Tail(r.Context(), path, func(line string) error {
		if _, werr := w.Write([]byte(line + "\n")); werr != nil {
			return werr
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil && err != progress.ErrStreamNotFound {
		s.Logger.Warn("progress tail ended with error", "stream_file", streamID, "error", err)
	}
}

func containsPathSeparator(s string) bool {
	for _, c := range s {
		if c == '/' || c == '\\' || c == '.' {
			return true
		}
	}
	return false
}
