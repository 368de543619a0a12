package progress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/xolohq/xolo/internal/xolo"
)

// Stream is a per-request progress file: a long-running
// workflow writes to it via Progress/Fail/Done, and internal/api's
// streamed-progress endpoint tails it. One Stream exists per request; its
// ID becomes the `stream_file` query parameter the initial "running"
// response hands back to the caller.
type Stream struct {
	id     string
	path   string
	logger *slog.Logger
	bus    *Bus // optional; nil unless a Redis fan-out is configured

	mu sync.Mutex
	f  *os.File
}

// New creates a unique progress file under dir and returns a Stream ready
// to accept Progress calls. Callers are responsible for eventually calling
// Done or Fail so the completion sentinel is written and readers can stop
// tailing.
func New(dir string, logger *slog.Logger, bus *Bus) (*Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}
	id := uuid.NewString()
	path := filepath.Join(dir, id+".progress")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create progress file: %w", err)
	}

	return &Stream{id: id, path: path, logger: logger, bus: bus, f: f}, nil
}

// ID is the stream identifier used to build the streamed_progress URL path.
func (s *Stream) ID() string { return s.id }

// Path is the on-disk location of the progress file.
func (s *Stream) Path() string { return s.path }

// Progress appends a line and, when level is non-zero, also logs it.
// Satisfies the Reporter interface.
func (s *Stream) Progress(msg string, level slog.Level) {
	s.write(msg)
	if level != 0 {
		s.logger.Log(context.Background(), level, msg, "stream_id", s.id)
	}
}

// Fail writes the "ERROR: …" terminal line and
// closes the stream. Workflows call this from their top-level error path
// so a streamed-workflow failure is always visible to the tailing client
// even though it never reaches an HTTP status code.
func (s *Stream) Fail(err error) {
	s.write(xolo.ProgressErrorPrefix + err.Error())
	s.logger.Error("workflow failed", "stream_id", s.id, "error", err, "alert", true)
	s.close()
}

// Done writes the completion sentinel and closes the stream.
func (s *Stream) Done() {
	s.write(xolo.ProgressDoneSentinel)
	s.close()
}

func (s *Stream) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return
	}
	if _, err := s.f.WriteString(line + "\n"); err != nil {
		s.logger.Error("progress write failed", "stream_id", s.id, "error", err)
	}
	_ = s.f.Sync()
	if s.bus != nil {
		s.bus.Publish(s.id, line)
	}
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		_ = s.f.Close()
		s.f = nil
	}
}

// Cleanup removes the on-disk progress file. Nothing in internal/api calls
// it, so completed progress files stay under the progress directory.
func (s *Stream) Cleanup() {
	_ = os.Remove(s.path)
}
