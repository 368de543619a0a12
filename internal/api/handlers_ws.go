package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/xolohq/xolo/internal/progress"
	"github.com/xolohq/xolo/internal/xolo"
)

// progressUpgrader upgrades the dashboard's progress tail to a websocket.
// Origin is not checked: the dashboard is same-origin in deployment, and
// the endpoint only carries lines the plain-text tail already serves.
var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleProgressSocket implements GET /streamed_progress/ws?stream_file=…:
// the admin dashboard's live view of an in-flight workflow. Each progress
// line is forwarded as one text message; the socket closes after the
// completion sentinel or an ERROR: line. When the progress file is not on
// this replica and a Redis bus is configured, lines are relayed from the
// bus instead.
func (s *Server) handleProgressSocket(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("stream_file")
	if streamID == "" || containsPathSeparator(streamID) {
		writeError(w, r, http.StatusBadRequest, "invalid stream_file")
		return
	}

	path := filepath.Join(s.ProgressDir, streamID+".progress")
	_, statErr := os.Stat(path)
	if statErr != nil && s.ProgressBus == nil {
		writeError(w, r, http.StatusNotFound, "unknown progress stream")
		return
	}

	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the handshake error
	}
	defer conn.Close()

	send := func(line string) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	}

	if statErr == nil {
		if err := progress.Tail(r.Context(), path, send); err != nil && err != progress.ErrStreamNotFound {
			s.Logger.Warn("progress socket tail ended with error", "stream_file", streamID, "error", err)
		}
		return
	}

	// The workflow runs on another replica: relay its lines from the Redis
	// fan-out until the terminal line arrives or the client disconnects.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	err = s.ProgressBus.Subscribe(ctx, streamID, func(line string) {
		if send(line) != nil {
			cancel()
			return
		}
		if line == xolo.ProgressDoneSentinel || strings.HasPrefix(line, xolo.ProgressErrorPrefix) {
			cancel()
		}
	})
	if err != nil && err != context.Canceled {
		s.Logger.Warn("progress socket relay ended with error", "stream_file", streamID, "error", err)
	}
}
