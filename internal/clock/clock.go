// Package clock abstracts wall-clock access so the grace countdown and the
// attendance timer can be driven by virtual time in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and ticker construction.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the cancellable subset of time.Ticker this module needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// System is the real clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// Mock is a manually advanced clock for tests.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
}

// NewMock creates a mock clock starting at the given instant.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// NewTicker returns a ticker that never fires on its own; tests push ticks
// through MockTicker.Tick.
func (m *Mock) NewTicker(d time.Duration) Ticker {
	t := &MockTicker{clock: m, ch: make(chan time.Time, 1)}
	m.mu.Lock()
	m.tickers = append(m.tickers, t)
	m.mu.Unlock()
	return t
}

// LastTicker returns the most recently created ticker, or nil.
func (m *Mock) LastTicker() *MockTicker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tickers) == 0 {
		return nil
	}
	return m.tickers[len(m.tickers)-1]
}

// MockTicker is a manually fired ticker.
type MockTicker struct {
	clock *Mock
	ch    chan time.Time

	mu      sync.Mutex
	stopped bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (t *MockTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Tick delivers one tick at the clock's current time. It is a no-op once the
// ticker is stopped.
func (t *MockTicker) Tick() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.ch <- t.clock.Now()
}
