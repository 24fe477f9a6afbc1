// Package monitor polls the BSSID reader on a fixed interval and emits
// presence events on state transitions only.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"wifi-attendance-agent/internal/model"
	"wifi-attendance-agent/internal/wifi"
)

// ReadingSource is the slice of the BSSID reader the monitor depends on.
type ReadingSource interface {
	ReadCurrent(ctx context.Context) (model.WifiReading, error)
}

// Listener receives presence events synchronously, in registration order.
type Listener func(model.PresenceEvent)

// Monitor observes (connected, bssid) and emits an event iff it changed
// since the previous poll. All mutation happens on the poll goroutine.
type Monitor struct {
	source   ReadingSource
	interval time.Duration
	logger   *log.Logger

	listeners []Listener

	// mu guards the observed state; the poll goroutine is the only writer,
	// the local API reads through Status.
	mu            sync.Mutex
	lastConnected bool
	lastBSSID     *string
	lastReading   model.WifiReading
	lastReadErr   error
}

// New creates a monitor polling source every interval.
func New(source ReadingSource, interval time.Duration, logger *log.Logger) *Monitor {
	return &Monitor{
		source:   source,
		interval: interval,
		logger:   logger.With("component", "monitor"),
	}
}

// AddListener registers a listener. Registration happens before Run; the
// notification order is the registration order.
func (m *Monitor) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Run polls until ctx is cancelled. After Run returns no listener is invoked
// again.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("starting presence monitor", "interval", m.interval)

	m.PollOnce(ctx)

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("presence monitor shutting down")
			return
		case <-timer.C:
			m.PollOnce(ctx)
			timer.Reset(m.interval)
		}
	}
}

// PollOnce performs a single poll cycle: read, diff, emit.
func (m *Monitor) PollOnce(ctx context.Context) {
	reading, err := m.source.ReadCurrent(ctx)

	if err != nil && errors.Is(err, wifi.ErrCapabilityUnavailable) {
		// Still treated as disconnected, but worth calling out: every
		// subsequent poll will fail the same way until the capability returns.
		m.logger.Warn("wifi capability unavailable", "err", err)
	}

	connected := err == nil && reading.BSSID != nil
	var bssid *string
	if connected {
		bssid = reading.BSSID
	}

	m.mu.Lock()
	event := transition(m.lastConnected, m.lastBSSID, connected, bssid, reading.CapturedAt)
	m.lastConnected = connected
	m.lastBSSID = bssid
	m.lastReading = reading
	m.lastReadErr = err
	m.mu.Unlock()

	if event != nil {
		m.logger.Info("presence transition", "type", event.Type, "bssid", deref(event.BSSID), "previous", deref(event.PreviousBSSID))
		m.notify(*event)
	}
}

// transition is the pure diff over the two observed variables. It returns
// nil when nothing changed; repeated identical readings emit nothing.
func transition(prevConnected bool, prevBSSID *string, connected bool, bssid *string, at time.Time) *model.PresenceEvent {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch {
	case !prevConnected && connected:
		ev := model.NewPresenceEvent(model.EventConnected, at)
		ev.BSSID = bssid
		ev.PreviousBSSID = prevBSSID
		return &ev
	case prevConnected && !connected:
		ev := model.NewPresenceEvent(model.EventDisconnected, at)
		ev.PreviousBSSID = prevBSSID
		return &ev
	case prevConnected && connected && prevBSSID != nil && bssid != nil && *prevBSSID != *bssid:
		ev := model.NewPresenceEvent(model.EventBSSIDChanged, at)
		ev.BSSID = bssid
		ev.PreviousBSSID = prevBSSID
		return &ev
	}
	return nil
}

// notify invokes listeners in order, isolating panics so one failing listener
// cannot abort the poll loop or starve the others.
func (m *Monitor) notify(event model.PresenceEvent) {
	for i, l := range m.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("presence listener panicked", "listener", i, "err", r)
				}
			}()
			l(event)
		}()
	}
}

// Status reports the monitor's view of the current association.
func (m *Monitor) Status() (connected bool, reading model.WifiReading, readErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConnected, m.lastReading, m.lastReadErr
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
