package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"livemeet/internal/bootstrap"
	"livemeet/internal/domain"
	"livemeet/internal/usecase"
)

const (
	eventSession    = "livemeet:session"
	eventTranscript = "livemeet:transcript"
	eventQuestion   = "livemeet:question"
	eventAnswer     = "livemeet:answer"
	eventVision     = "livemeet:vision"
	eventSummary    = "livemeet:summary"
	eventError      = "livemeet:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services bootstrap.Services
	bootErr  error

	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.SessionStateChanged(domain.SessionStateIdle, "")
}

func (a *App) shutdown(context.Context) {
	if err := a.services.Close(); err != nil {
		a.services.Logger.Warn().Err(err).Msg("shutdown was not clean")
	}
}

// StartSharing begins a new screen sharing session.
func (a *App) StartSharing() (domain.Snapshot, error) {
	controller, err := a.requireReady()
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := controller.StartSharing(a.ctx); err != nil {
		return controller.Snapshot(), err
	}
	return controller.Snapshot(), nil
}

// StopSharing ends the session and waits for its summary.
func (a *App) StopSharing() (domain.Snapshot, error) {
	controller, err := a.requireReady()
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := controller.StopSharing(a.ctx); err != nil {
		return controller.Snapshot(), err
	}
	return controller.Snapshot(), nil
}

// ToggleAudioCapture flips microphone capture and reports whether it is on.
func (a *App) ToggleAudioCapture() (bool, error) {
	controller, err := a.requireReady()
	if err != nil {
		return false, err
	}
	return controller.ToggleAudioCapture(a.ctx)
}

// AskFallback asks the answer service about the current screen.
func (a *App) AskFallback(question string) (domain.Answer, error) {
	controller, err := a.requireReady()
	if err != nil {
		return domain.Answer{}, err
	}
	answer, err := controller.AskFallback(a.ctx, question)
	if errors.Is(err, usecase.ErrEmptyQuestion) {
		return domain.Answer{}, nil
	}
	return answer, err
}

// GetSnapshot returns the current session for rendering.
func (a *App) GetSnapshot() domain.Snapshot {
	if a.services.Controller == nil {
		return domain.Snapshot{
			Session:     domain.Session{State: domain.SessionStateIdle},
			Transcripts: []domain.TranscriptEntry{},
			Questions:   []domain.Question{},
			Answers:     []domain.Answer{},
			Vision:      domain.VisionObservation{Texts: []string{}, UIElements: []string{}},
			Summary:     domain.Summary{Tasks: []string{}},
		}
	}
	return a.services.Controller.Snapshot()
}

// GetRuntimeInfo returns non-sensitive config and capture counters for the UI.
func (a *App) GetRuntimeInfo() map[string]any {
	if a.bootErr != nil {
		return map[string]any{"error": a.bootErr.Error()}
	}
	if a.services.Controller == nil {
		return map[string]any{}
	}

	cfg := a.services.Config
	return map[string]any{
		"backendUrl":    cfg.Transport.URL,
		"liveAnswerUrl": cfg.Fallback.LiveAnswerURL,
		"summaryUrl":    cfg.Fallback.SummaryURL,
		"frameInterval": cfg.Capture.FrameInterval().String(),
		"audioBackend":  cfg.Audio.Backend,
		"audioEncoding": cfg.Audio.Encoding,
		"audioInput":    cfg.Audio.InputDevice,
		"screenInput":   cfg.Screen.InputDevice,
		"settingsFile":  cfg.SettingsPath,
		"stats":         a.services.Capture.Stats(),
	}
}

func (a *App) requireReady() (*usecase.SessionController, error) {
	if a.bootErr != nil {
		return nil, a.bootErr
	}
	if a.services.Controller == nil {
		return nil, fmt.Errorf("application is not initialized")
	}
	return a.services.Controller, nil
}

func (a *App) send(name string, data any) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.send(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// TranscriptAppended emits one recognized utterance.
func (a *App) TranscriptAppended(entry domain.TranscriptEntry) {
	a.send(eventTranscript, entry)
}

// QuestionsAppended emits the questions detected in one backend message.
func (a *App) QuestionsAppended(questions []domain.Question) {
	a.send(eventQuestion, questions)
}

func (a *App) AnswerAppended(answer domain.Answer) {
	a.send(eventAnswer, answer)
}

func (a *App) VisionObserved(texts []string, uiElements []string) {
	a.send(eventVision, domain.VisionObservation{Texts: texts, UIElements: uiElements})
}

func (a *App) SummaryReady(summary domain.Summary) {
	a.send(eventSummary, summary)
}

// SessionError emits recoverable failures to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonSharingStarted:
		return "Sharing started"
	case domain.SessionReasonSharingStopping:
		return "Sharing stopped. Summarizing..."
	case domain.SessionReasonSummaryReady:
		return "Summary ready"
	case domain.SessionReasonSummaryFailed:
		return "Summary unavailable"
	case domain.SessionReasonAudioStarted:
		return "Microphone on"
	case domain.SessionReasonAudioStopped:
		return "Microphone off"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCaptureUnavailable:
		return "Capture unavailable"
	case domain.ErrorCodeTransportClosed:
		return "Backend connection closed"
	case domain.ErrorCodeMalformedMessage:
		return "Malformed backend message"
	case domain.ErrorCodeFallbackRequestFailed:
		return "Answer service request failed"
	case domain.ErrorCodeBackend:
		return "Backend error"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
