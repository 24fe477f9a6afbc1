// Package queue persists presence and timer events locally when the
// attendance server is unreachable and replays them, in order, once it is
// reachable again.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"wifi-attendance-agent/config"
	"wifi-attendance-agent/internal/clock"
	"wifi-attendance-agent/internal/model"
)

// EventBody is the wire shape of one attendance event, both as POSTed to
// /api/attendance/wifi-event and as queued offline.
type EventBody struct {
	Timestamp   string                  `json:"timestamp"`
	Type        string                  `json:"type"`
	BSSID       *string                 `json:"bssid"`
	StudentID   string                  `json:"studentId"`
	Lecture     *model.LectureSnapshot  `json:"lecture"`
	TimerState  model.TimerState        `json:"timerState"`
	GracePeriod bool                    `json:"gracePeriod"`
}

// SyncResult reports the server's reconciliation of an offline session.
type SyncResult struct {
	AcceptedSeconds     int `json:"acceptedSeconds"`
	TotalOfflineSeconds int `json:"totalOfflineSeconds"`
	SyncedEvents        int `json:"syncedEvents"`
}

// OfflineStatus is a point-in-time view of the offline tracking window.
type OfflineStatus struct {
	IsOffline              bool  `json:"isOffline"`
	OfflineStartTime       int64 `json:"offlineStartTime,omitempty"`
	OfflineDurationSeconds int   `json:"offlineDurationSeconds"`
	PendingEntries         int   `json:"pendingEntries"`
}

type serverResponse struct {
	Success         bool   `json:"success"`
	AcceptedSeconds int    `json:"acceptedSeconds"`
	Error           string `json:"error"`
}

// Manager owns the durable queue and the offline session lifecycle. A single
// mutex serializes enqueue and session transitions; flush holds its own
// try-lock so a concurrent flush is a no-op instead of a race.
type Manager struct {
	store   Store
	clk     clock.Clock
	client  *http.Client
	baseURL string
	headers map[string]string
	student config.StudentConfig
	logger  *log.Logger

	mu      sync.Mutex
	flushMu sync.Mutex
	offline *model.OfflineSession
}

// NewManager creates a sync manager over the given store and server.
func NewManager(store Store, clk clock.Clock, cfg *config.Config, logger *log.Logger) *Manager {
	m := &Manager{
		store:   store,
		clk:     clk,
		client:  &http.Client{Timeout: cfg.Upstream.Timeout},
		baseURL: cfg.Upstream.BaseURL,
		headers: cfg.Upstream.Headers,
		student: cfg.Student,
		logger:  logger.With("component", "queue"),
	}
	m.restoreOfflineSession()
	return m
}

// restoreOfflineSession resurrects an offline window that survived a process
// restart. An unreadable store degrades to an empty queue rather than
// blocking startup.
func (m *Manager) restoreOfflineSession() {
	session, err := m.store.OpenSession(context.Background())
	if err != nil {
		m.logger.Error("offline session unreadable, starting from a clean slate", "err", err)
		return
	}
	if session != nil {
		m.offline = session
		m.logger.Warn("resumed offline session from local storage", "startedAt", time.UnixMilli(session.StartTime))
	}
}

// Enqueue appends an event to the durable queue and attempts an
// opportunistic flush on a separate goroutine.
func (m *Manager) Enqueue(ctx context.Context, body EventBody) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	m.mu.Lock()
	entry := &model.QueueEntry{
		StudentID: body.StudentID,
		EventID:   uuid.New().String(),
		Payload:   payload,
	}
	err = m.store.Append(ctx, entry)
	if err == nil && m.offline != nil {
		m.offline.TotalOfflineSeconds = int(m.clk.Now().Sub(time.UnixMilli(m.offline.StartTime)) / time.Second)
		if saveErr := m.store.SaveSession(ctx, m.offline); saveErr != nil {
			m.logger.Error("failed to update offline session", "err", saveErr)
		}
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}

	go func() {
		if flushErr := m.Flush(context.Background()); flushErr != nil {
			m.logger.Debug("opportunistic flush failed, will retry on next trigger", "err", flushErr)
		}
	}()
	return nil
}

// Flush replays unsynced entries against the server in strictly ascending
// sequence order, stopping at the first failure. A call while another flush
// is in progress returns immediately.
func (m *Manager) Flush(ctx context.Context) error {
	if !m.flushMu.TryLock() {
		return nil
	}
	defer m.flushMu.Unlock()

	entries, err := m.store.Unsynced(ctx)
	if err != nil {
		m.logger.Error("queue unreadable, treating as empty", "err", err)
		return nil
	}

	for _, entry := range entries {
		if err := m.postRaw(ctx, "/api/attendance/wifi-event", entry.Payload); err != nil {
			// Entries after this one are never sent ahead of it; the
			// server's reconciliation needs contiguous history.
			return fmt.Errorf("flush stopped at sequence %d: %w", entry.SequenceNo, err)
		}
		if err := m.store.Acknowledge(ctx, entry.SequenceNo); err != nil {
			return fmt.Errorf("failed to acknowledge sequence %d: %w", entry.SequenceNo, err)
		}
	}

	if len(entries) > 0 {
		m.logger.Info("queue flushed", "entries", len(entries))
	}
	return nil
}

// RunPeriodicFlush retries the flush on a fixed interval until ctx is
// cancelled. Failures report and wait for the next trigger.
func (m *Manager) RunPeriodicFlush(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Flush(ctx); err != nil {
				m.logger.Debug("periodic flush failed", "err", err)
			}
		}
	}
}

// NotifyTimerTransition reports a pause or resume to the server, or queues
// it while offline. Failures are logged, never propagated to the caller.
func (m *Manager) NotifyTimerTransition(ctx context.Context, paused bool, reason model.PauseReason, state model.TimerState, lecture *model.LectureSnapshot, at time.Time) {
	endpoint := "/api/attendance/timer-resumed"
	eventType := "timer_resumed"
	if paused {
		endpoint = "/api/attendance/timer-paused"
		eventType = "timer_paused"
	}

	if m.IsOffline() {
		body := EventBody{
			Timestamp:  at.UTC().Format(time.RFC3339),
			Type:       eventType,
			StudentID:  m.student.ID,
			Lecture:    lecture,
			TimerState: state,
		}
		if err := m.Enqueue(ctx, body); err != nil {
			m.logger.Error("failed to queue timer transition", "err", err)
		}
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"studentId": m.student.ID,
		"reason":    reason,
		"timestamp": at.UTC().Format(time.RFC3339),
	})
	if err := m.postRaw(ctx, endpoint, payload); err != nil {
		m.logger.Warn("timer transition report failed", "endpoint", endpoint, "err", err)
	}
}

// StartOfflineTracking opens an offline window. A second call while one is
// open is a no-op.
func (m *Manager) StartOfflineTracking(ctx context.Context, lecture *model.LectureSnapshot, lastKnownOnlineSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline != nil {
		return nil
	}

	session := &model.OfflineSession{
		ID:                     uuid.New().String(),
		StudentID:              m.student.ID,
		StudentName:            m.student.Name,
		Semester:               m.student.Semester,
		Branch:                 m.student.Branch,
		StartTime:              m.clk.Now().UnixMilli(),
		LastKnownOnlineSeconds: lastKnownOnlineSeconds,
		CreatedAt:              time.Now().UTC(),
	}
	if lecture != nil {
		lectureJSON, err := json.Marshal(lecture)
		if err != nil {
			return fmt.Errorf("failed to marshal lecture snapshot: %w", err)
		}
		session.LectureJSON = lectureJSON
	}

	if err := m.store.SaveSession(ctx, session); err != nil {
		return err
	}
	m.offline = session
	m.logger.Warn("offline tracking started", "student", m.student.ID)
	return nil
}

// StopOfflineTracking closes the offline window, persists the sync payload,
// and hands it to the server for reconciliation.
func (m *Manager) StopOfflineTracking(ctx context.Context) (*SyncResult, error) {
	m.mu.Lock()
	session := m.offline
	if session == nil {
		m.mu.Unlock()
		return nil, nil
	}

	now := m.clk.Now()
	session.EndTime = now.UnixMilli()
	session.TotalOfflineSeconds = int(now.Sub(time.UnixMilli(session.StartTime)) / time.Second)
	session.ReadyForSync = true
	err := m.store.SaveSession(ctx, session)
	m.offline = nil
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	m.logger.Info("offline tracking stopped", "totalOfflineSeconds", session.TotalOfflineSeconds)
	return m.SyncOffline(ctx)
}

// SyncOffline sends the pending offline session and its ordered event list
// to the server. On acknowledgement exactly the entries captured in the
// payload and the reconciled session are cleared; anything enqueued during
// the roundtrip keeps its row. On failure everything stays for the next
// trigger. Holding flushMu for the duration keeps a concurrent Flush from
// replaying the same rows it is about to send.
func (m *Manager) SyncOffline(ctx context.Context) (*SyncResult, error) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	session, err := m.store.PendingSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	entries, err := m.store.Unsynced(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]json.RawMessage, 0, len(entries))
	var maxSeq int64
	for _, entry := range entries {
		if entry.SequenceNo > maxSeq {
			maxSeq = entry.SequenceNo
		}
		if !json.Valid(entry.Payload) {
			// Corrupt row: drop it rather than wedging the sync forever.
			m.logger.Error("dropping corrupt queue entry", "sequence", entry.SequenceNo)
			continue
		}
		events = append(events, json.RawMessage(entry.Payload))
	}

	var lecture *model.LectureSnapshot
	if len(session.LectureJSON) > 0 {
		lecture = &model.LectureSnapshot{}
		if err := json.Unmarshal(session.LectureJSON, lecture); err != nil {
			m.logger.Error("offline session lecture snapshot corrupt, syncing without it", "err", err)
			lecture = nil
		}
	}

	payload, err := json.Marshal(map[string]any{
		"studentId":              session.StudentID,
		"studentName":            session.StudentName,
		"semester":               session.Semester,
		"branch":                 session.Branch,
		"offlineStartTime":       session.StartTime,
		"offlineEndTime":         session.EndTime,
		"totalOfflineSeconds":    session.TotalOfflineSeconds,
		"lastKnownOnlineSeconds": session.LastKnownOnlineSeconds,
		"currentLecture":         lecture,
		"events":                 events,
		"syncTimestamp":          m.clk.Now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync payload: %w", err)
	}

	resp, err := m.post(ctx, "/api/attendance/sync-offline", payload)
	if err != nil {
		return nil, fmt.Errorf("offline sync failed: %w", err)
	}

	if err := m.store.ClearSynced(ctx, maxSeq); err != nil {
		return nil, fmt.Errorf("sync acknowledged but local clear failed: %w", err)
	}

	m.logger.Info("offline session synced",
		"acceptedSeconds", resp.AcceptedSeconds,
		"totalOfflineSeconds", session.TotalOfflineSeconds,
		"events", len(events))

	return &SyncResult{
		AcceptedSeconds:     resp.AcceptedSeconds,
		TotalOfflineSeconds: session.TotalOfflineSeconds,
		SyncedEvents:        len(events),
	}, nil
}

// HasPendingSync reports whether an offline payload awaits reconciliation.
func (m *Manager) HasPendingSync(ctx context.Context) bool {
	session, err := m.store.PendingSession(ctx)
	if err != nil {
		m.logger.Error("pending sync check failed", "err", err)
		return false
	}
	return session != nil
}

// IsOffline reports whether an offline window is open.
func (m *Manager) IsOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline != nil
}

// Status summarizes the offline window and queue depth.
func (m *Manager) Status(ctx context.Context) OfflineStatus {
	status := OfflineStatus{}

	m.mu.Lock()
	if m.offline != nil {
		status.IsOffline = true
		status.OfflineStartTime = m.offline.StartTime
		status.OfflineDurationSeconds = int(m.clk.Now().Sub(time.UnixMilli(m.offline.StartTime)) / time.Second)
	}
	m.mu.Unlock()

	entries, err := m.store.Unsynced(ctx)
	if err == nil {
		status.PendingEntries = len(entries)
	}
	return status
}

// Reset wipes all offline data. Emergency use only.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.ClearAll(ctx); err != nil {
		return err
	}
	m.offline = nil
	m.logger.Warn("all offline data cleared")
	return nil
}

// post sends JSON and decodes the standard {success} envelope.
func (m *Manager) post(ctx context.Context, path string, payload []byte) (*serverResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.headers {
		req.Header.Set(key, value)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed serverResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("server rejected request: %s", parsed.Error)
	}
	return &parsed, nil
}

func (m *Manager) postRaw(ctx context.Context, path string, payload []byte) error {
	_, err := m.post(ctx, path, payload)
	return err
}
