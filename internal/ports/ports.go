package ports

import (
	"context"
	"io"

	"livemeet/internal/domain"
	"livemeet/internal/protocol"
)

// ScreenConfig describes how the shared screen should be sampled.
type ScreenConfig struct {
	InputFormat string
	InputDevice string
	Width       int
	Height      int
	Quality     int
}

// ScreenSession is an acquired screen source that yields JPEG samples on demand.
type ScreenSession interface {
	Grab(ctx context.Context) ([]byte, error)
	Stop() error
}

// ScreenCapture acquires screen sources.
type ScreenCapture interface {
	Start(ctx context.Context, cfg ScreenConfig) (ScreenSession, error)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate       int
	Channels         int
	InputFormat      string
	InputDevice      string
	NoiseSuppression bool
}

// AudioSession is a live capture session producing signed 16-bit little-endian PCM.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioEncoder turns a batch of PCM into one outbound audio unit.
type AudioEncoder interface {
	Name() string
	Encode(pcm []byte) ([]byte, error)
}

// Sender is the outbound half of the backend channel.
type Sender interface {
	Ready() bool
	Send(msg protocol.Outbound) error
}

// Transport is the persistent bidirectional backend channel.
type Transport interface {
	Sender
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Inbound() <-chan protocol.Inbound
	Close() error
}

// LiveAnswerRequest asks the answer service about the current screen context.
type LiveAnswerRequest struct {
	Text      []string
	UI        []string
	AudioMeta string
}

// SummarizeRequest asks the summary service to condense a finished session.
type SummarizeRequest struct {
	FullTranscript string
	Highlights     []string
}

// SummarizeResponse is the summary service result.
type SummarizeResponse struct {
	Summary string
	Tasks   []string
}

// Fallback issues synchronous request/response calls outside the websocket.
type Fallback interface {
	LiveAnswer(ctx context.Context, req LiveAnswerRequest) (string, error)
	Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResponse, error)
}

// EventSink emits session state and appended records to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	TranscriptAppended(entry domain.TranscriptEntry)
	QuestionsAppended(questions []domain.Question)
	AnswerAppended(answer domain.Answer)
	VisionObserved(texts []string, uiElements []string)
	SummaryReady(summary domain.Summary)
	SessionError(code domain.ErrorCode, detail string)
}
