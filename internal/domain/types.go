package domain

import (
	"fmt"
	"time"
)

// SessionState models the screen-sharing lifecycle.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateCapturing SessionState = "capturing"
	SessionStateStopping  SessionState = "stopping"
	SessionStateStopped   SessionState = "stopped"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonSharingStarted  SessionStateReason = "sharing_started"
	SessionReasonSharingStopping SessionStateReason = "sharing_stopping"
	SessionReasonSummaryReady    SessionStateReason = "summary_ready"
	SessionReasonSummaryFailed   SessionStateReason = "summary_failed"
	SessionReasonAudioStarted    SessionStateReason = "audio_started"
	SessionReasonAudioStopped    SessionStateReason = "audio_stopped"
)

// ErrorCode identifies the recoverable failures surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeCaptureUnavailable    ErrorCode = "capture_unavailable"
	ErrorCodeTransportClosed       ErrorCode = "transport_closed"
	ErrorCodeMalformedMessage      ErrorCode = "malformed_message"
	ErrorCodeFallbackRequestFailed ErrorCode = "fallback_request_failed"
	ErrorCodeBackend               ErrorCode = "backend_error"
	ErrorCodeAudioStream           ErrorCode = "audio_stream"
	ErrorCodeStartup               ErrorCode = "startup"
)

// Session is the lifecycle record of one start-to-stop cycle.
type Session struct {
	ID        string       `json:"id"`
	State     SessionState `json:"state"`
	StartedAt time.Time    `json:"startedAt"`
	EndedAt   time.Time    `json:"endedAt"`
	Duration  string       `json:"duration"`
}

// TranscriptEntry is one piece of recognized speech.
type TranscriptEntry struct {
	ID        uint64    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Question is a question detected by the backend.
type Question struct {
	ID        uint64    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Answer pairs a question label with its answer.
type Answer struct {
	ID        uint64    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// VisionObservation accumulates text and UI labels extracted from processed frames.
type VisionObservation struct {
	Texts      []string `json:"texts"`
	UIElements []string `json:"uiElements"`
}

// Summary is produced once per session when sharing stops.
type Summary struct {
	Text  string   `json:"text"`
	Tasks []string `json:"tasks"`
}

// Snapshot is a point-in-time copy of the session for consumers.
type Snapshot struct {
	Session        Session           `json:"session"`
	AudioActive    bool              `json:"audioActive"`
	TransportReady bool              `json:"transportReady"`
	Transcripts    []TranscriptEntry `json:"transcripts"`
	Questions      []Question        `json:"questions"`
	Answers        []Answer          `json:"answers"`
	Vision         VisionObservation `json:"vision"`
	Summary        Summary           `json:"summary"`
	SummaryReady   bool              `json:"summaryReady"`
}

// FormatDuration renders an elapsed wall-clock delta as MM:SS, truncated to whole seconds.
func FormatDuration(elapsed time.Duration) string {
	if elapsed < 0 {
		elapsed = 0
	}
	seconds := int64(elapsed / time.Second)
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
