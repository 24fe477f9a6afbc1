// Package timer holds the attendance timer state machine of record. It
// consumes presence and grace events and decides start/pause/resume/stop of
// the accumulating attendance duration for the active lecture.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"wifi-attendance-agent/internal/clock"
	"wifi-attendance-agent/internal/model"
)

var (
	// ErrNotAuthorized rejects a start while the device is not associated
	// with the lecture room's authorized access point.
	ErrNotAuthorized = errors.New("not authorized to start timer")
	// ErrNoLecture rejects a start with no active lecture.
	ErrNoLecture = errors.New("no active lecture")
)

// Transition describes one state machine edge, for notification sinks.
type Transition struct {
	From   model.Phase
	To     model.Phase
	Reason model.PauseReason
	At     time.Time
	State  model.TimerState
}

// Coordinator mutates the single TimerState of the active student session.
// Presence events, grace events, and the explicit start/stop calls are
// serialized by its lock.
type Coordinator struct {
	clk          clock.Clock
	authorize    func(roomID, bssid string) error
	notify       func(Transition)
	graceEnabled bool
	logger       *log.Logger

	mu           sync.Mutex
	state        model.TimerState
	lecture      *model.LectureSnapshot
	currentBSSID *string
	accumulated  time.Duration
	lastAccount  time.Time
	// suspendedAt marks the disconnect instant while a grace countdown is
	// pending: accrual is frozen there, and a reconnect within the window
	// credits the gap back.
	suspendedAt *time.Time
}

// New creates an idle coordinator. authorize decides whether a BSSID is
// valid for a room; notify (optional) observes every transition.
func New(clk clock.Clock, graceEnabled bool, authorize func(roomID, bssid string) error, notify func(Transition), logger *log.Logger) *Coordinator {
	return &Coordinator{
		clk:          clk,
		authorize:    authorize,
		notify:       notify,
		graceEnabled: graceEnabled,
		logger:       logger.With("component", "timer"),
		state:        model.TimerState{Phase: model.PhaseIdle, PauseReason: model.PauseNone},
	}
}

// SetLecture binds the coordinator to a lecture. A lecture change forces
// idle and a fresh TimerState; passing nil clears the binding.
func (c *Coordinator) SetLecture(lecture *model.LectureSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sameLecture := lecture != nil && c.lecture != nil && lecture.ID == c.lecture.ID
	if sameLecture {
		return
	}

	c.lecture = lecture
	c.accumulated = 0
	c.suspendedAt = nil
	c.state = model.TimerState{Phase: model.PhaseIdle, PauseReason: model.PauseNone}
	if lecture != nil {
		c.state.LectureID = lecture.ID
		c.logger.Info("lecture bound, timer reset", "lecture", lecture.ID, "room", lecture.Room)
	}
}

// Start transitions idle→running, allowed only while the current BSSID is
// authorized for the lecture's room.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != model.PhaseIdle {
		return fmt.Errorf("timer already started (phase %s)", c.state.Phase)
	}
	if c.lecture == nil {
		return ErrNoLecture
	}
	if c.currentBSSID == nil {
		return fmt.Errorf("%w: not connected to wifi", ErrNotAuthorized)
	}
	if err := c.authorize(c.lecture.Room, *c.currentBSSID); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}

	now := c.clk.Now()
	from := c.state.Phase
	c.state.Phase = model.PhaseRunning
	c.state.PauseReason = model.PauseNone
	c.lastAccount = now
	c.suspendedAt = nil
	c.logger.Info("timer started", "room", c.lecture.Room, "bssid", *c.currentBSSID)
	c.emit(from, model.PhaseRunning, model.PauseNone, now)
	return nil
}

// Stop finalizes the timer (lecture ended or student logged out) and
// returns the accumulated attendance seconds.
func (c *Coordinator) Stop() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	c.accrue(now)
	from := c.state.Phase
	c.suspendedAt = nil
	c.state.Phase = model.PhaseIdle
	c.state.PauseReason = model.PauseNone
	c.state.AccumulatedSeconds = int(c.accumulated / time.Second)

	if from != model.PhaseIdle {
		c.logger.Info("timer stopped", "accumulatedSeconds", c.state.AccumulatedSeconds)
		c.emit(from, model.PhaseIdle, model.PauseNone, now)
	}
	return c.state.AccumulatedSeconds
}

// HandleEvent consumes a presence or grace event and applies the state
// machine's pause/resume rules.
func (c *Coordinator) HandleEvent(event model.PresenceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	at := event.OccurredAt
	if at.IsZero() {
		at = c.clk.Now()
	}

	switch event.Type {
	case model.EventDisconnected:
		c.currentBSSID = nil
		c.onDisconnected(at)
	case model.EventConnected, model.EventBSSIDChanged:
		c.currentBSSID = event.BSSID
		c.onReconnected(event.BSSID, at)
	case model.EventGraceExpired:
		c.onGraceExpired(at)
	case model.EventGraceStarted:
		// Countdown bookkeeping lives in the grace controller.
	}
}

// State returns a snapshot with accumulation brought up to now.
func (c *Coordinator) State() model.TimerState {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := c.state
	accumulated := c.accumulated
	if c.state.Phase == model.PhaseRunning && c.suspendedAt == nil {
		accumulated += c.clk.Now().Sub(c.lastAccount)
	}
	snapshot.AccumulatedSeconds = int(accumulated / time.Second)
	return snapshot
}

// Lecture returns the bound lecture snapshot, or nil.
func (c *Coordinator) Lecture() *model.LectureSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lecture
}

func (c *Coordinator) onDisconnected(at time.Time) {
	if c.state.Phase != model.PhaseRunning {
		return
	}

	c.accrue(at)
	if c.graceEnabled {
		// Freeze accrual at the disconnect instant; the grace controller
		// decides whether this becomes a pause.
		suspended := at
		c.suspendedAt = &suspended
		return
	}
	c.pause(model.PauseDisconnected, at)
}

func (c *Coordinator) onReconnected(bssid *string, at time.Time) {
	if c.lecture == nil || bssid == nil {
		return
	}

	if err := c.authorize(c.lecture.Room, *bssid); err != nil {
		if c.state.Phase == model.PhaseRunning {
			c.logger.Warn("connected to unauthorized access point", "bssid", *bssid, "room", c.lecture.Room)
			c.accrue(at)
			c.suspendedAt = nil
			c.pause(model.PauseWrongBSSID, at)
		}
		return
	}

	// Authorized again. A suspension within the grace window is credited in
	// full: the student never left the room as far as the record shows.
	if c.state.Phase == model.PhaseRunning && c.suspendedAt != nil {
		c.accumulated += at.Sub(*c.suspendedAt)
		c.suspendedAt = nil
		c.lastAccount = at
		c.logger.Info("reconnected within grace window, attendance unaffected")
		return
	}

	if c.state.Phase == model.PhasePaused {
		c.resume(at)
	}
}

func (c *Coordinator) onGraceExpired(at time.Time) {
	if c.state.Phase != model.PhaseRunning {
		return
	}
	// Accumulation stays frozen from the disconnect instant, not from expiry.
	c.suspendedAt = nil
	c.pause(model.PauseGraceExpired, at)
}

// accrue adds wall-clock elapsed time since the last accounting tick.
// No-op while idle, paused, or suspended in a grace window.
func (c *Coordinator) accrue(now time.Time) {
	if c.state.Phase != model.PhaseRunning || c.suspendedAt != nil {
		return
	}
	if now.After(c.lastAccount) {
		c.accumulated += now.Sub(c.lastAccount)
	}
	c.lastAccount = now
	c.state.AccumulatedSeconds = int(c.accumulated / time.Second)
}

func (c *Coordinator) pause(reason model.PauseReason, at time.Time) {
	from := c.state.Phase
	c.state.Phase = model.PhasePaused
	c.state.PauseReason = reason
	c.state.AccumulatedSeconds = int(c.accumulated / time.Second)
	c.logger.Warn("timer paused", "reason", reason)
	c.emit(from, model.PhasePaused, reason, at)
}

func (c *Coordinator) resume(at time.Time) {
	from := c.state.Phase
	c.state.Phase = model.PhaseRunning
	c.state.PauseReason = model.PauseNone
	c.lastAccount = at
	c.logger.Info("timer resumed")
	c.emit(from, model.PhaseRunning, model.PauseNone, at)
}

// emit notifies the transition sink. Called with the lock held; sinks must
// not call back into the coordinator.
func (c *Coordinator) emit(from, to model.Phase, reason model.PauseReason, at time.Time) {
	if c.notify == nil {
		return
	}
	snapshot := c.state
	snapshot.AccumulatedSeconds = int(c.accumulated / time.Second)
	c.notify(Transition{From: from, To: to, Reason: reason, At: at, State: snapshot})
}
