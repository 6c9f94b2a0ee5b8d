package notify

import (
	"context"
	"errors"
	"time"

	"github.com/treefix50/nowplaying/internal/playback"
)

// DefaultKeepAlive is how long a stream may stay silent before a keep-alive is sent.
const DefaultKeepAlive = 30 * time.Second

// ErrHubClosed is returned by Stream when the subscription was removed by the hub.
var ErrHubClosed = errors.New("notify: hub closed")

// Sink is the transport side of one live view connection.
type Sink interface {
	Send(playback.Snapshot) error
	KeepAlive() error
}

// Stream subscribes to h and forwards snapshots to sink until ctx is done,
// the sink fails, or the hub drops the subscription. The current snapshot is
// sent first. After interval without updates sink.KeepAlive is called so a
// dead peer surfaces as a write error. The subscription is always released.
func Stream(ctx context.Context, h *Hub, interval time.Duration, sink Sink) error {
	if interval <= 0 {
		interval = DefaultKeepAlive
	}

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done():
			return ErrHubClosed
		case snap := <-sub.Updates():
			if err := sink.Send(snap); err != nil {
				return err
			}
		case <-timer.C:
			if err := sink.KeepAlive(); err != nil {
				return err
			}
		}
		resetTimer(timer, interval)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
