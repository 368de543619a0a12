package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBus(client, nil)
}

func TestBus_PublishReachesSubscriber(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 8)
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, "stream-1", func(line string) { got <- line })
	}()

	// The goroutine's SUBSCRIBE races the first publish; keep publishing
	// until the subscriber reports a line.
	var line string
	deadline := time.After(3 * time.Second)
publishLoop:
	for {
		bus.Publish("stream-1", "hello")
		select {
		case line = <-got:
			break publishLoop
		case <-deadline:
			t.Fatal("subscriber never received a published line")
		case <-time.After(20 * time.Millisecond):
		}
	}
	assert.Equal(t, "hello", line)

	cancel()
	err := <-done
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Subscribe ended with unexpected error: %v", err)
	}
}

// Streams are isolated: a line published to one stream id never reaches
// another stream's subscriber.
func TestBus_ChannelPerStream(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 8)
	go func() { _ = bus.Subscribe(ctx, "stream-a", func(line string) { got <- line }) }()

	deadline := time.After(3 * time.Second)
	for {
		bus.Publish("stream-b", "wrong-stream")
		bus.Publish("stream-a", "right-stream")
		select {
		case line := <-got:
			require.Equal(t, "right-stream", line)
			return
		case <-deadline:
			t.Fatal("subscriber never received a line")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// A nil Bus (ProfileLite, no Redis) is a no-op on both paths.
func TestBus_NilBusIsNoOp(t *testing.T) {
	var bus *Bus
	bus.Publish("stream", "line")
	require.NoError(t, bus.Subscribe(context.Background(), "stream", nil))
}
