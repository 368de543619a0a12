package progress

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/xolohq/xolo/internal/xolo"
)

// ErrStreamNotFound is returned by Tail when stream_file names a path that
// does not exist (e.g. a stale URL from an earlier server restart).
var ErrStreamNotFound = errors.New("progress stream not found")

// tailPollInterval is how long Tail sleeps after hitting EOF before
// checking for more lines — the "blocking-read loop".
const tailPollInterval = 200 * time.Millisecond

// Tail streams lines from path to emit, blocking on EOF and retrying until
// it reads the completion sentinel, an "ERROR: " line, or ctx is done.
// This is internal/api's streamed-progress handler's core loop; it never
// touches the entity lock since it only reads a
// plain file.
func Tail(ctx context.Context, path string, emit func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrStreamNotFound
		}
		return fmt.Errorf("open progress stream: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var pending strings.Builder
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		chunk, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read progress stream: %w", err)
		}

		complete := strings.HasSuffix(chunk, "\n")
		pending.WriteString(chunk)

		if !complete {
			// Partial line at EOF: the writer hasn't finished this line
			// yet. Keep it buffered and retry without emitting.
			if err == io.EOF {
				select {
				case <-time.After(tailPollInterval):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		trimmed := strings.TrimRight(pending.String(), "\n")
		pending.Reset()
		if trimmed == "" {
			continue
		}
		if emitErr := emit(trimmed); emitErr != nil {
			return emitErr
		}
		if trimmed == xolo.ProgressDoneSentinel || strings.HasPrefix(trimmed, xolo.ProgressErrorPrefix) {
			return nil
		}
	}
}
