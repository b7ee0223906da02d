package usecase

import (
	"slices"

	"livemeet/internal/domain"
	"livemeet/internal/ingest"
)

// sessionState is owned by the controller's run goroutine. Nothing else may
// read or write it.
type sessionState struct {
	session      domain.Session
	audioActive  bool
	inbound      ingest.State
	summary      domain.Summary
	summaryReady bool
}

func newSessionState() sessionState {
	return sessionState{
		session: domain.Session{State: domain.SessionStateIdle},
		summary: domain.Summary{Tasks: []string{}},
	}
}

func (s *sessionState) snapshot() domain.Snapshot {
	return domain.Snapshot{
		Session:      s.session,
		AudioActive:  s.audioActive,
		Transcripts:  cloneOrEmpty(s.inbound.Transcripts),
		Questions:    cloneOrEmpty(s.inbound.Questions),
		Answers:      cloneOrEmpty(s.inbound.Answers),
		Vision:       domain.VisionObservation{Texts: cloneOrEmpty(s.inbound.Vision.Texts), UIElements: cloneOrEmpty(s.inbound.Vision.UIElements)},
		Summary:      domain.Summary{Text: s.summary.Text, Tasks: cloneOrEmpty(s.summary.Tasks)},
		SummaryReady: s.summaryReady,
	}
}

func cloneOrEmpty[T any](items []T) []T {
	if len(items) == 0 {
		return []T{}
	}
	return slices.Clone(items)
}
