// Package session owns the per-student wiring of reader → monitor → grace →
// timer → queue. One Session exists per active student; constructing it per
// session (instead of sharing a process-wide singleton) keeps state from
// leaking across sessions and tests.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"wifi-attendance-agent/config"
	"wifi-attendance-agent/internal/authdir"
	"wifi-attendance-agent/internal/clock"
	"wifi-attendance-agent/internal/grace"
	"wifi-attendance-agent/internal/model"
	"wifi-attendance-agent/internal/monitor"
	"wifi-attendance-agent/internal/queue"
	"wifi-attendance-agent/internal/timer"
	"wifi-attendance-agent/internal/wifi"
)

// StatusReport is the user-facing view of the session, served by the local
// API. The message is derived from timer state; raw error codes never reach
// the student.
type StatusReport struct {
	Timer          model.TimerState       `json:"timer"`
	WifiConnected  bool                   `json:"wifiConnected"`
	CurrentBSSID   *string                `json:"currentBssid"`
	CurrentSSID    *string                `json:"currentSsid"`
	SignalDbm      *int                   `json:"signalDbm"`
	LinkSpeedMbps  *int                   `json:"linkSpeedMbps"`
	InGracePeriod  bool                   `json:"inGracePeriod"`
	GraceRemaining int                    `json:"graceSecondsRemaining"`
	Offline        queue.OfflineStatus    `json:"offline"`
	HasPendingSync bool                   `json:"hasPendingSync"`
	Lecture        *model.LectureSnapshot `json:"lecture"`
	Message        string                 `json:"message"`
	Level          string                 `json:"level"`
}

// Session is the explicit context object owning monitor and queue state for
// one student.
type Session struct {
	cfg    *config.Config
	clk    clock.Clock
	logger *log.Logger

	directory *authdir.Directory
	monitor   *monitor.Monitor
	grace     *grace.Controller
	timer     *timer.Coordinator
	queue     *queue.Manager

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// New wires a session from its leaves up. The platform capability and the
// durable store arrive from main; everything else is built here.
func New(cfg *config.Config, platform wifi.Platform, store queue.Store, clk clock.Clock, logger *log.Logger) *Session {
	s := &Session{
		cfg:    cfg,
		clk:    clk,
		logger: logger.With("component", "session"),
	}

	reader := wifi.NewReader(platform, logger)
	s.directory = authdir.New(cfg.Upstream.BaseURL, cfg.Upstream.Headers, cfg.Upstream.Timeout, logger)
	s.queue = queue.NewManager(store, clk, cfg, logger)

	s.timer = timer.New(clk, !cfg.Grace.Disabled, s.authorizeBSSID, s.onTimerTransition, logger)
	s.grace = grace.New(cfg.Grace.Duration, clk, s.onGraceEvent, logger)

	s.monitor = monitor.New(reader, cfg.Monitor.PollInterval, logger)
	// Listener order is the data flow: record first, then the grace overlay,
	// then the state machine of record, then the offline bracket.
	s.monitor.AddListener(s.recordEvent)
	if !cfg.Grace.Disabled {
		s.monitor.AddListener(s.grace.HandleEvent)
	}
	s.monitor.AddListener(s.timer.HandleEvent)
	s.monitor.AddListener(s.trackConnectivity)

	return s
}

// Run refreshes the directory and starts the poll and flush loops. It
// returns once both loops are scheduled.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.directory.Refresh(ctx, s.directoryFilter()); err != nil {
		s.logger.Warn("initial directory refresh failed, lookups will miss until retry", "err", err)
	}

	if s.cfg.Monitor.Disabled {
		s.logger.Warn("presence monitor disabled by configuration")
	} else {
		go s.monitor.Run(ctx)
	}
	go s.queue.RunPeriodicFlush(ctx, s.cfg.Sync.FlushInterval)
}

// Stop tears the session down: the poll loop and flush ticker are cancelled,
// any open grace countdown is stopped, a running timer goes idle, and a
// final flush is attempted. Already-recorded attendance is not altered.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.grace.Stop()

	if s.timer.State().Phase != model.PhaseIdle {
		s.timer.Stop()
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), s.cfg.Upstream.Timeout)
	defer flushCancel()
	if err := s.queue.Flush(flushCtx); err != nil {
		s.logger.Warn("final flush failed", "err", err)
	}
	s.logger.Info("session stopped")
}

// StartTimer begins attendance accumulation for the active lecture.
func (s *Session) StartTimer() error { return s.timer.Start() }

// StopTimer finalizes the attendance timer and returns accumulated seconds.
func (s *Session) StopTimer() int { return s.timer.Stop() }

// SetLecture binds the session to a lecture and refreshes the directory for
// its cohort.
func (s *Session) SetLecture(ctx context.Context, lecture *model.LectureSnapshot) {
	s.timer.SetLecture(lecture)
	if err := s.directory.Refresh(ctx, s.directoryFilter()); err != nil {
		s.logger.Warn("directory refresh on lecture change failed", "err", err)
	}
}

// RefreshDirectory forces a directory refresh.
func (s *Session) RefreshDirectory(ctx context.Context) error {
	return s.directory.Refresh(ctx, s.directoryFilter())
}

// Rooms exposes the cached directory for the local API.
func (s *Session) Rooms() []authdir.Room { return s.directory.Rooms() }

// DirectoryRefreshedAt reports when the directory last refreshed successfully.
func (s *Session) DirectoryRefreshedAt() time.Time { return s.directory.LastRefreshed() }

// Flush triggers a queue flush.
func (s *Session) Flush(ctx context.Context) error { return s.queue.Flush(ctx) }

// ResetOffline wipes all locally queued offline data.
func (s *Session) ResetOffline(ctx context.Context) error { return s.queue.Reset(ctx) }

// Status assembles the user-facing report.
func (s *Session) Status(ctx context.Context) StatusReport {
	connected, reading, _ := s.monitor.Status()
	inGrace, remaining := s.grace.InGrace()
	state := s.timer.State()
	lecture := s.timer.Lecture()

	report := StatusReport{
		Timer:          state,
		WifiConnected:  connected,
		CurrentBSSID:   reading.BSSID,
		CurrentSSID:    reading.SSID,
		SignalDbm:      reading.SignalStrengthDbm,
		LinkSpeedMbps:  reading.LinkSpeedMbps,
		InGracePeriod:  inGrace,
		GraceRemaining: remaining,
		Offline:        s.queue.Status(ctx),
		HasPendingSync: s.queue.HasPendingSync(ctx),
		Lecture:        lecture,
	}
	report.Message, report.Level = s.statusMessage(report)
	return report
}

// statusMessage mirrors what the student sees; derived from state, never
// from raw error codes.
func (s *Session) statusMessage(r StatusReport) (string, string) {
	if r.Lecture == nil {
		return "No active lecture", "info"
	}
	if r.InGracePeriod {
		return fmt.Sprintf("WiFi disconnected - %d:%02d grace period remaining",
			r.GraceRemaining/60, r.GraceRemaining%60), "warning"
	}
	if !r.WifiConnected {
		return "Not connected to WiFi", "error"
	}
	if r.Timer.Phase == model.PhasePaused && r.Timer.PauseReason == model.PauseWrongBSSID {
		return fmt.Sprintf("Wrong classroom - connect to %s WiFi", r.Lecture.Room), "error"
	}
	if r.CurrentBSSID != nil {
		if err := s.authorizeBSSID(r.Lecture.Room, *r.CurrentBSSID); err != nil {
			return fmt.Sprintf("Wrong classroom - connect to %s WiFi", r.Lecture.Room), "error"
		}
	}
	return fmt.Sprintf("Connected to %s WiFi", r.Lecture.Room), "success"
}

// authorizeBSSID adapts the directory lookup for the timer coordinator.
func (s *Session) authorizeBSSID(roomID, bssid string) error {
	_, err := s.directory.Authorize(roomID, bssid)
	return err
}

// recordEvent appends every presence transition to the offline queue, which
// doubles as the online event log via its opportunistic flush.
func (s *Session) recordEvent(event model.PresenceEvent) {
	body := queue.EventBody{
		Timestamp:   event.OccurredAt.UTC().Format(time.RFC3339),
		Type:        string(event.Type),
		BSSID:       event.BSSID,
		StudentID:   s.cfg.Student.ID,
		Lecture:     s.timer.Lecture(),
		TimerState:  s.timer.State(),
		GracePeriod: event.Type == model.EventGraceStarted || event.Type == model.EventGraceExpired,
	}
	if err := s.queue.Enqueue(context.Background(), body); err != nil {
		s.logger.Error("failed to record presence event", "type", event.Type, "err", err)
	}
}

// onGraceEvent feeds grace transitions back through the same record/timer
// path as monitor events.
func (s *Session) onGraceEvent(event model.PresenceEvent) {
	s.recordEvent(event)
	s.timer.HandleEvent(event)
}

// trackConnectivity brackets the offline window: a disconnect opens it, a
// reconnect closes it and hands the payload to the server on a separate
// goroutine so the poll loop never blocks on the network.
func (s *Session) trackConnectivity(event model.PresenceEvent) {
	switch {
	case event.IsDisconnect():
		state := s.timer.State()
		if err := s.queue.StartOfflineTracking(context.Background(), s.timer.Lecture(), state.AccumulatedSeconds); err != nil {
			s.logger.Error("failed to start offline tracking", "err", err)
		}
	case event.IsConnect():
		if !s.queue.IsOffline() {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Upstream.Timeout)
			defer cancel()
			if _, err := s.queue.StopOfflineTracking(ctx); err != nil {
				s.logger.Warn("offline sync deferred to next trigger", "err", err)
			}
		}()
	}
}

// onTimerTransition reports pause/resume to the server off the poll loop.
func (s *Session) onTimerTransition(tr timer.Transition) {
	paused := tr.To == model.PhasePaused
	resumed := tr.From == model.PhasePaused && tr.To == model.PhaseRunning
	if !paused && !resumed {
		return
	}

	// The coordinator holds its lock while notifying; fetch the lecture and
	// talk to the network only after it is released.
	go func() {
		lecture := s.timer.Lecture()
		s.queue.NotifyTimerTransition(context.Background(), paused, tr.Reason, tr.State, lecture, tr.At)
	}()
}

func (s *Session) directoryFilter() authdir.Filter {
	return authdir.Filter{Semester: s.cfg.Student.Semester, Branch: s.cfg.Student.Branch}
}
