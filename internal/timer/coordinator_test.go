package timer

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-attendance-agent/internal/clock"
	"wifi-attendance-agent/internal/model"
)

const (
	authorizedAP   = "aa:bb:cc:dd:ee:01"
	unauthorizedAP = "aa:bb:cc:dd:ee:99"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// authorizeA2 accepts only authorizedAP for room A2.
func authorizeA2(roomID, bssid string) error {
	if roomID == "A2" && bssid == authorizedAP {
		return nil
	}
	return errors.New("bssid not authorized for room")
}

func lectureA2() *model.LectureSnapshot {
	return &model.LectureSnapshot{ID: "lec-1", Subject: "Databases", Room: "A2"}
}

func connected(clk clock.Clock, bssid string) model.PresenceEvent {
	ev := model.NewPresenceEvent(model.EventConnected, clk.Now())
	ev.BSSID = &bssid
	return ev
}

func roamed(clk clock.Clock, bssid string) model.PresenceEvent {
	ev := model.NewPresenceEvent(model.EventBSSIDChanged, clk.Now())
	ev.BSSID = &bssid
	return ev
}

func disconnected(clk clock.Clock) model.PresenceEvent {
	return model.NewPresenceEvent(model.EventDisconnected, clk.Now())
}

func graceExpired(clk clock.Clock) model.PresenceEvent {
	return model.NewPresenceEvent(model.EventGraceExpired, clk.Now())
}

// newRunning returns a coordinator already authorized and started at the mock
// clock's origin.
func newRunning(t *testing.T, graceEnabled bool, notify func(Transition)) (*Coordinator, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	c := New(clk, graceEnabled, authorizeA2, notify, testLogger())
	c.SetLecture(lectureA2())
	c.HandleEvent(connected(clk, authorizedAP))
	require.NoError(t, c.Start())
	return c, clk
}

func TestCoordinator_StartRequiresAuthorizedBSSID(t *testing.T) {
	clk := clock.NewMock(time.Now().UTC())
	c := New(clk, true, authorizeA2, nil, testLogger())

	// No lecture bound yet.
	assert.ErrorIs(t, c.Start(), ErrNoLecture)

	c.SetLecture(lectureA2())

	// Not connected at all.
	assert.ErrorIs(t, c.Start(), ErrNotAuthorized)

	// Connected, but to the wrong access point.
	c.HandleEvent(connected(clk, unauthorizedAP))
	assert.ErrorIs(t, c.Start(), ErrNotAuthorized)

	// Connected to the right one.
	c.HandleEvent(roamed(clk, authorizedAP))
	assert.NoError(t, c.Start())
	assert.Equal(t, model.PhaseRunning, c.State().Phase)

	// Starting twice is rejected.
	assert.Error(t, c.Start())
}

func TestCoordinator_AccumulatesWhileRunning(t *testing.T) {
	c, clk := newRunning(t, true, nil)

	clk.Advance(90 * time.Second)
	assert.Equal(t, 90, c.State().AccumulatedSeconds)

	clk.Advance(30 * time.Second)
	assert.Equal(t, 120, c.Stop())
	assert.Equal(t, model.PhaseIdle, c.State().Phase)
}

func TestCoordinator_WrongBSSIDPausesAndResumes(t *testing.T) {
	var transitions []Transition
	c, clk := newRunning(t, true, func(tr Transition) { transitions = append(transitions, tr) })

	clk.Advance(60 * time.Second)
	c.HandleEvent(roamed(clk, unauthorizedAP))

	state := c.State()
	assert.Equal(t, model.PhasePaused, state.Phase)
	assert.Equal(t, model.PauseWrongBSSID, state.PauseReason)
	assert.Equal(t, 60, state.AccumulatedSeconds)

	// Time in the wrong room earns nothing.
	clk.Advance(300 * time.Second)
	assert.Equal(t, 60, c.State().AccumulatedSeconds)

	c.HandleEvent(roamed(clk, authorizedAP))
	state = c.State()
	assert.Equal(t, model.PhaseRunning, state.Phase)
	assert.Equal(t, model.PauseNone, state.PauseReason)

	clk.Advance(40 * time.Second)
	assert.Equal(t, 100, c.State().AccumulatedSeconds)

	// start → pause(wrong_bssid) → resume
	require.Len(t, transitions, 3)
	assert.Equal(t, model.PhaseRunning, transitions[0].To)
	assert.Equal(t, model.PhasePaused, transitions[1].To)
	assert.Equal(t, model.PauseWrongBSSID, transitions[1].Reason)
	assert.Equal(t, model.PhaseRunning, transitions[2].To)
}

func TestCoordinator_ReconnectWithinGraceCreditsGap(t *testing.T) {
	c, clk := newRunning(t, true, nil)

	clk.Advance(600 * time.Second)
	c.HandleEvent(disconnected(clk))

	// Suspended, not paused: the grace controller owns the verdict.
	assert.Equal(t, model.PhaseRunning, c.State().Phase)
	assert.Equal(t, 600, c.State().AccumulatedSeconds)

	// 80 seconds pass with no association.
	clk.Advance(80 * time.Second)
	assert.Equal(t, 600, c.State().AccumulatedSeconds, "no accrual while suspended")

	// Reconnect to the authorized room within the window: the gap is credited
	// in full, as if the student never left.
	c.HandleEvent(connected(clk, authorizedAP))
	assert.Equal(t, model.PhaseRunning, c.State().Phase)
	assert.Equal(t, 680, c.State().AccumulatedSeconds)

	clk.Advance(20 * time.Second)
	assert.Equal(t, 700, c.Stop())
}

func TestCoordinator_GraceExpiryFreezesAtDisconnect(t *testing.T) {
	c, clk := newRunning(t, true, nil)

	clk.Advance(600 * time.Second)
	c.HandleEvent(disconnected(clk))

	clk.Advance(120 * time.Second)
	c.HandleEvent(graceExpired(clk))

	state := c.State()
	assert.Equal(t, model.PhasePaused, state.Phase)
	assert.Equal(t, model.PauseGraceExpired, state.PauseReason)
	assert.Equal(t, 600, state.AccumulatedSeconds, "the grace window itself earns nothing")

	// Reconnecting later resumes from the frozen total.
	clk.Advance(300 * time.Second)
	c.HandleEvent(connected(clk, authorizedAP))
	assert.Equal(t, model.PhaseRunning, c.State().Phase)

	clk.Advance(50 * time.Second)
	assert.Equal(t, 650, c.Stop())
}

func TestCoordinator_GraceDisabledPausesImmediately(t *testing.T) {
	c, clk := newRunning(t, false, nil)

	clk.Advance(60 * time.Second)
	c.HandleEvent(disconnected(clk))

	state := c.State()
	assert.Equal(t, model.PhasePaused, state.Phase)
	assert.Equal(t, model.PauseDisconnected, state.PauseReason)
	assert.Equal(t, 60, state.AccumulatedSeconds)
}

func TestCoordinator_ReconnectToWrongRoomDuringGrace(t *testing.T) {
	c, clk := newRunning(t, true, nil)

	clk.Advance(100 * time.Second)
	c.HandleEvent(disconnected(clk))
	clk.Advance(30 * time.Second)

	// Showing up in another classroom ends the suspension without credit.
	c.HandleEvent(connected(clk, unauthorizedAP))

	state := c.State()
	assert.Equal(t, model.PhasePaused, state.Phase)
	assert.Equal(t, model.PauseWrongBSSID, state.PauseReason)
	assert.Equal(t, 100, state.AccumulatedSeconds)
}

func TestCoordinator_LectureChangeResetsState(t *testing.T) {
	c, clk := newRunning(t, true, nil)
	clk.Advance(120 * time.Second)

	c.SetLecture(&model.LectureSnapshot{ID: "lec-2", Subject: "Networks", Room: "B1"})

	state := c.State()
	assert.Equal(t, model.PhaseIdle, state.Phase)
	assert.Equal(t, 0, state.AccumulatedSeconds)
	assert.Equal(t, "lec-2", state.LectureID)

	// Starting again requires authorization for the new room.
	c.HandleEvent(connected(clk, authorizedAP))
	assert.ErrorIs(t, c.Start(), ErrNotAuthorized)
}

func TestCoordinator_EventsWhileIdleAreIgnored(t *testing.T) {
	clk := clock.NewMock(time.Now().UTC())
	c := New(clk, true, authorizeA2, nil, testLogger())
	c.SetLecture(lectureA2())

	c.HandleEvent(disconnected(clk))
	c.HandleEvent(graceExpired(clk))
	assert.Equal(t, model.PhaseIdle, c.State().Phase)
	assert.Equal(t, 0, c.State().AccumulatedSeconds)
}
