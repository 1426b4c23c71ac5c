// Package connectivity tracks whether the remote backend is reachable by
// holding a websocket to its realtime endpoint.
package connectivity

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/conorfennell/cardsync/internal/tracker"
)

// DefaultRetry is the pause between reconnection attempts.
const DefaultRetry = 10 * time.Second

// Monitor dials the realtime endpoint and keeps redialling. Online is true
// while a connection is open. Every message received on the socket is a
// remote change notification.
type Monitor struct {
	url    string
	retry  time.Duration
	logger *slog.Logger

	online  *tracker.Flag
	changes chan struct{}
}

// NewMonitor returns a monitor for the websocket endpoint at url.
func NewMonitor(url string, retry time.Duration, logger *slog.Logger) *Monitor {
	if retry <= 0 {
		retry = DefaultRetry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		url:     url,
		retry:   retry,
		logger:  logger,
		online:  tracker.NewFlag(),
		changes: make(chan struct{}, 1),
	}
}

// Online returns the reachability flag.
func (m *Monitor) Online() *tracker.Flag {
	return m.online
}

// Changes returns the remote change notifications. Notifications that
// arrive while one is already queued are merged.
func (m *Monitor) Changes() <-chan struct{} {
	return m.changes
}

// Run connects and reconnects until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	for {
		m.session(ctx)
		m.online.Set(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retry):
		}
	}
}

func (m *Monitor) session(ctx context.Context) {
	conn, _, err := websocket.Dial(ctx, m.url, nil)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Debug("Realtime endpoint unreachable", "url", m.url, "error", err)
		}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	m.logger.Info("Connected to realtime endpoint", "url", m.url)
	m.online.Set(true)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			if ctx.Err() == nil {
				m.logger.Info("Realtime connection lost", "url", m.url, "error", err)
			}
			return
		}
		select {
		case m.changes <- struct{}{}:
		default:
		}
	}
}
