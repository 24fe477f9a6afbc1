// Package grace turns a disconnect into a bounded countdown instead of an
// immediate absence: reconnecting within the window cancels the countdown,
// exhausting it emits grace_expired exactly once.
package grace

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"wifi-attendance-agent/internal/clock"
	"wifi-attendance-agent/internal/model"
)

// countdown owns the ticker resource for one grace window; halt is
// idempotent so cancel and expiry cannot race a double teardown.
type countdown struct {
	ticker clock.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (cd *countdown) halt() {
	cd.once.Do(func() {
		cd.ticker.Stop()
		close(cd.stop)
	})
}

// Controller is a reactive overlay on presence monitor events. At most one
// countdown is active at a time; a disconnect while one is running defers to
// the existing countdown.
type Controller struct {
	duration time.Duration
	clk      clock.Clock
	emit     func(model.PresenceEvent)
	logger   *log.Logger

	mu        sync.Mutex
	active    *countdown
	remaining int
	closed    bool

	wg sync.WaitGroup
}

// New creates a controller emitting grace events through emit.
func New(duration time.Duration, clk clock.Clock, emit func(model.PresenceEvent), logger *log.Logger) *Controller {
	return &Controller{
		duration: duration,
		clk:      clk,
		emit:     emit,
		logger:   logger.With("component", "grace"),
	}
}

// HandleEvent consumes a presence event. Disconnects start a countdown,
// reconnects cancel it; grace events themselves are ignored.
func (c *Controller) HandleEvent(event model.PresenceEvent) {
	switch {
	case event.IsDisconnect():
		c.start()
	case event.IsConnect():
		c.cancel()
	}
}

// InGrace reports whether a countdown is running and its remaining seconds.
func (c *Controller) InGrace() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false, 0
	}
	return true, c.remaining
}

// Stop tears the controller down: any open countdown is cancelled and no
// event is emitted afterwards.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.closed = true
	cd := c.active
	c.active = nil
	c.remaining = 0
	c.mu.Unlock()

	if cd != nil {
		cd.halt()
	}
	c.wg.Wait()
}

func (c *Controller) start() {
	c.mu.Lock()
	if c.closed || c.active != nil {
		c.mu.Unlock()
		return
	}

	seconds := int(c.duration / time.Second)
	cd := &countdown{
		ticker: c.clk.NewTicker(time.Second),
		stop:   make(chan struct{}),
	}
	c.active = cd
	c.remaining = seconds
	now := c.clk.Now()
	c.mu.Unlock()

	c.logger.Info("grace period started", "seconds", seconds)

	started := model.NewPresenceEvent(model.EventGraceStarted, now)
	started.GraceSecondsRemaining = &seconds
	c.emit(started)

	c.wg.Add(1)
	go c.run(cd)
}

func (c *Controller) cancel() {
	c.mu.Lock()
	cd := c.active
	c.active = nil
	c.remaining = 0
	c.mu.Unlock()

	if cd != nil {
		c.logger.Info("grace period cancelled: reconnected within window")
		cd.halt()
	}
}

// run decrements the countdown at 1s resolution until expiry or cancel.
func (c *Controller) run(cd *countdown) {
	defer c.wg.Done()

	for {
		select {
		case <-cd.stop:
			return
		case now := <-cd.ticker.C():
			if c.decrement(cd) {
				c.logger.Warn("grace period expired")
				zero := 0
				event := model.NewPresenceEvent(model.EventGraceExpired, now)
				event.GraceSecondsRemaining = &zero
				c.emit(event)
				return
			}
		}
	}
}

// decrement ticks the active countdown down one second. It reports expiry
// exactly once: the countdown is detached before the event is emitted.
func (c *Controller) decrement(cd *countdown) (expired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != cd || c.closed {
		return false
	}

	c.remaining--
	if c.remaining > 0 {
		return false
	}

	c.active = nil
	c.remaining = 0
	cd.halt()
	return true
}
