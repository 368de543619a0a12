// Package progress implements Xolo's per-request progress stream: a
// long-running workflow writes progress lines to a
// unique temp file while a dedicated HTTP endpoint tails it, forwarding
// lines to the response body until it sees the completion sentinel or an
// "ERROR:" line.
package progress

import (
	"fmt"
	"log/slog"
)

// Reporter is the narrow interface title/version workflows use to emit
// progress without depending on how (or whether) a line is ultimately
// observed — the "progress(msg, log_level?)". A workflow
// invoked directly by the Scheduler (no attached client) still gets a
// Reporter; it just writes to a stream nobody is tailing.
type Reporter interface {
	// Progress appends one line to the stream and, when level is
	// non-zero, also emits it through the process logger.
	Progress(msg string, level slog.Level)
}

// Progressf is a convenience for Reporter implementations: format msg and
// report it at slog.LevelInfo.
func Progressf(r Reporter, format string, args ...interface{}) {
	r.Progress(fmt.Sprintf(format, args...), slog.LevelInfo)
}
