package monitor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifi-attendance-agent/internal/model"
	"wifi-attendance-agent/internal/wifi"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func strptr(s string) *string { return &s }

// scriptedSource replays a fixed sequence of readings, one per poll.
type scriptedSource struct {
	readings []model.WifiReading
	errs     []error
	calls    int
}

func (s *scriptedSource) ReadCurrent(ctx context.Context) (model.WifiReading, error) {
	i := s.calls
	if i >= len(s.readings) {
		i = len(s.readings) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.readings[i], err
}

func TestTransition(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ap1 := strptr("aa:bb:cc:dd:ee:01")
	ap2 := strptr("aa:bb:cc:dd:ee:02")

	testCases := []struct {
		name          string
		prevConnected bool
		prevBSSID     *string
		connected     bool
		bssid         *string
		wantType      model.EventType
		wantNil       bool
	}{
		{name: "idle stays idle", wantNil: true},
		{name: "connect from idle", connected: true, bssid: ap1, wantType: model.EventConnected},
		{name: "disconnect", prevConnected: true, prevBSSID: ap1, wantType: model.EventDisconnected},
		{name: "same ap same state", prevConnected: true, prevBSSID: ap1, connected: true, bssid: ap1, wantNil: true},
		{name: "roam between aps", prevConnected: true, prevBSSID: ap1, connected: true, bssid: ap2, wantType: model.EventBSSIDChanged},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			event := transition(tc.prevConnected, tc.prevBSSID, tc.connected, tc.bssid, at)
			if tc.wantNil {
				assert.Nil(t, event)
				return
			}
			require.NotNil(t, event)
			assert.Equal(t, tc.wantType, event.Type)
			assert.Equal(t, at, event.OccurredAt)
			assert.NotEmpty(t, event.ID)
		})
	}
}

func TestTransition_CarriesBSSIDs(t *testing.T) {
	at := time.Now().UTC()
	ap1 := strptr("aa:bb:cc:dd:ee:01")
	ap2 := strptr("aa:bb:cc:dd:ee:02")

	roam := transition(true, ap1, true, ap2, at)
	require.NotNil(t, roam)
	assert.Equal(t, ap2, roam.BSSID)
	assert.Equal(t, ap1, roam.PreviousBSSID)

	drop := transition(true, ap1, false, nil, at)
	require.NotNil(t, drop)
	assert.Nil(t, drop.BSSID)
	assert.Equal(t, ap1, drop.PreviousBSSID)
}

func TestMonitor_EmitsOnlyOnChange(t *testing.T) {
	ap1 := strptr("aa:bb:cc:dd:ee:01")
	at := time.Now().UTC()

	source := &scriptedSource{
		readings: []model.WifiReading{
			{BSSID: ap1, CapturedAt: at},             // connect
			{BSSID: ap1, CapturedAt: at},             // unchanged, no event
			{CapturedAt: at},                         // disconnect
			{CapturedAt: at},                         // still disconnected, no event
		},
		errs: []error{nil, nil, wifi.ErrNoAssociation, wifi.ErrNoAssociation},
	}

	m := New(source, time.Second, testLogger())
	var events []model.PresenceEvent
	m.AddListener(func(e model.PresenceEvent) { events = append(events, e) })

	for i := 0; i < 4; i++ {
		m.PollOnce(context.Background())
	}

	require.Len(t, events, 2)
	assert.Equal(t, model.EventConnected, events[0].Type)
	assert.Equal(t, model.EventDisconnected, events[1].Type)
}

func TestMonitor_ReadFailureIsDisconnected(t *testing.T) {
	ap1 := strptr("aa:bb:cc:dd:ee:01")

	source := &scriptedSource{
		readings: []model.WifiReading{
			{BSSID: ap1, CapturedAt: time.Now().UTC()},
			{CapturedAt: time.Now().UTC()},
		},
		errs: []error{nil, wifi.ErrCapabilityUnavailable},
	}

	m := New(source, time.Second, testLogger())
	var events []model.PresenceEvent
	m.AddListener(func(e model.PresenceEvent) { events = append(events, e) })

	m.PollOnce(context.Background())
	m.PollOnce(context.Background())

	require.Len(t, events, 2)
	assert.Equal(t, model.EventDisconnected, events[1].Type)

	connected, _, readErr := m.Status()
	assert.False(t, connected)
	assert.ErrorIs(t, readErr, wifi.ErrCapabilityUnavailable)
}

func TestMonitor_ListenerOrderAndPanicIsolation(t *testing.T) {
	ap1 := strptr("aa:bb:cc:dd:ee:01")
	source := &scriptedSource{
		readings: []model.WifiReading{{BSSID: ap1, CapturedAt: time.Now().UTC()}},
	}

	m := New(source, time.Second, testLogger())

	var order []string
	m.AddListener(func(model.PresenceEvent) { order = append(order, "first") })
	m.AddListener(func(model.PresenceEvent) { panic("boom") })
	m.AddListener(func(model.PresenceEvent) { order = append(order, "third") })

	assert.NotPanics(t, func() { m.PollOnce(context.Background()) })
	assert.Equal(t, []string{"first", "third"}, order,
		"a panicking listener must not starve the ones after it")
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	source := &scriptedSource{readings: []model.WifiReading{{CapturedAt: time.Now().UTC()}}}
	m := New(source, 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after context cancellation")
	}
}
