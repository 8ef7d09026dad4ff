package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/directout-bridge/internal/directout"
)

const defaultHealthInterval = 30 * time.Second

// HealthReporter publishes the retained health message periodically and
// whenever the device connection changes.
type HealthReporter struct {
	b         *Bridge
	startTime time.Time
	interval  time.Duration

	mu   sync.Mutex
	conn directout.ConnState

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newHealthReporter(b *Bridge, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		b:         b,
		startTime: time.Now(),
		interval:  interval,
		conn:      directout.StateDisconnected,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		h.publish(HealthStopping, "bridge shutting down")
	})
}

// SetConnection records the device connection state.
func (h *HealthReporter) SetConnection(state directout.ConnState) {
	h.mu.Lock()
	h.conn = state
	h.mu.Unlock()
}

// Publish publishes the current status immediately.
func (h *HealthReporter) Publish() {
	status, reason := h.determineStatus()
	h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.Publish()
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	switch {
	case conn != directout.StateConnected:
		return HealthDegraded, "device " + conn.String()
	case !h.b.session.Ready():
		return HealthDegraded, "waiting for device snapshot"
	default:
		return HealthOnline, ""
	}
}

// Message builds the health message for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	return HealthMessage{
		Status:        status,
		Reason:        reason,
		Site:          h.b.opts.Site,
		Version:       h.b.opts.Version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Device: DeviceHealth{
			Connection: conn.String(),
			Ready:      h.b.session.Ready(),
			Info:       h.b.session.DeviceInfo(),
		},
	}
}

func (h *HealthReporter) publish(status HealthStatus, reason string) {
	h.b.publishJSON("health", h.b.topics.Health(), h.Message(status, reason), true)
}
