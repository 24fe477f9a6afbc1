package model

// Phase is the attendance timer's lifecycle state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhasePaused  Phase = "paused"
)

// PauseReason records why a running timer was paused.
type PauseReason string

const (
	PauseNone         PauseReason = "none"
	PauseDisconnected PauseReason = "wifi_disconnected"
	PauseWrongBSSID   PauseReason = "wrong_bssid"
	PauseGraceExpired PauseReason = "grace_period_expired"
)

// TimerState is the state of record for one student session's attendance
// timer. Exactly one instance exists per active lecture; only the timer
// coordinator mutates it.
type TimerState struct {
	Phase              Phase       `json:"phase"`
	PauseReason        PauseReason `json:"pauseReason"`
	AccumulatedSeconds int         `json:"accumulatedSeconds"`
	LectureID          string      `json:"lectureId,omitempty"`
}

// LectureSnapshot captures the lecture a session is attending, in the shape
// the attendance server expects alongside every reported event.
type LectureSnapshot struct {
	ID        string `json:"id,omitempty"`
	Subject   string `json:"subject"`
	Room      string `json:"room"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Teacher   string `json:"teacher,omitempty"`
}
