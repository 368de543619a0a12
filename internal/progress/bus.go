package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bus fans progress-stream lines out to a Redis channel per stream id, so
// an admin dashboard websocket can tail a running workflow without reading
// the progress file directly. It is optional — Stream works with bus ==
// nil, writing only to its file.
type Bus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewBus wraps an existing Redis client. Pass nil to disable fan-out
// entirely (xoloconfig.ProfileLite runs without Redis).
func NewBus(rdb *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{rdb: rdb, logger: logger}
}

func channelName(streamID string) string { return "xolo:progress:" + streamID }

// Publish fans one line out to streamID's channel. Best-effort: a Redis
// hiccup never fails the underlying workflow, only the dashboard tail.
func (b *Bus) Publish(streamID, line string) {
	if b == nil || b.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, channelName(streamID), line).Err(); err != nil {
		b.logger.Warn("progress bus publish failed", "stream_id", streamID, "error", err)
	}
}

// Subscribe tails streamID's channel, invoking emit for every published
// line until ctx is done or the subscription errs. Used by the admin
// websocket handler as an alternative to file-tailing.
func (b *Bus) Subscribe(ctx context.Context, streamID string, emit func(line string)) error {
	if b == nil || b.rdb == nil {
		return nil
	}
	sub := b.rdb.Subscribe(ctx, channelName(streamID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			emit(msg.Payload)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
