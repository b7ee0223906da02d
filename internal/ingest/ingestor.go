// Package ingest folds inbound backend messages into session state.
package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"livemeet/internal/domain"
	"livemeet/internal/protocol"
)

const (
	DefaultAnswerLabel       = "What is this section about?"
	DefaultAutoAnalysisLabel = "Automatic screen analysis"
)

// ErrUnrecognizedType is returned for message types the ingestor does not handle.
var ErrUnrecognizedType = errors.New("unrecognized message type")

// BackendError is a backend-reported error message.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return "backend reported an error"
	}
	return "backend reported an error: " + e.Message
}

// State is the accumulated inbound state of one session.
type State struct {
	Transcripts []domain.TranscriptEntry
	Questions   []domain.Question
	Answers     []domain.Answer
	Vision      domain.VisionObservation

	// PendingQuestion labels the next "answer" message. It is the last
	// question of the most recent questions batch and is consumed by the answer.
	PendingQuestion string

	// NextID is the session-scoped monotonic id counter.
	NextID uint64
}

// Ingestor applies inbound messages to State. It holds no mutable state.
type Ingestor struct {
	AnswerLabel       string
	AutoAnalysisLabel string
	// MaxVisionItems caps each vision sequence, keeping the newest items. Zero means unbounded.
	MaxVisionItems int
}

func New(maxVisionItems int) Ingestor {
	return Ingestor{
		AnswerLabel:       DefaultAnswerLabel,
		AutoAnalysisLabel: DefaultAutoAnalysisLabel,
		MaxVisionItems:    maxVisionItems,
	}
}

// Apply folds msg into state, stamping new records with at. On error the
// returned state equals the input state. Apply appends to the slices of the
// state it is given, so callers keep a single current State and fold into it.
func (i Ingestor) Apply(state State, msg protocol.Inbound, at time.Time) (State, error) {
	switch msg.Type {
	case protocol.MsgFrameProcessed:
		var payload protocol.FrameProcessed
		if err := msg.DecodeData(&payload); err != nil {
			return state, err
		}
		state.Vision = domain.VisionObservation{
			Texts:      capTail(append(state.Vision.Texts, payload.Text...), i.MaxVisionItems),
			UIElements: capTail(append(state.Vision.UIElements, payload.UIElements...), i.MaxVisionItems),
		}
		return state, nil

	case protocol.MsgTranscript:
		var text string
		if err := msg.DecodeData(&text); err != nil {
			return state, err
		}
		state.NextID++
		state.Transcripts = append(state.Transcripts, domain.TranscriptEntry{ID: state.NextID, Text: text, Timestamp: at})
		return state, nil

	case protocol.MsgQuestions:
		var texts []string
		if err := msg.DecodeData(&texts); err != nil {
			return state, err
		}
		for _, text := range texts {
			state.NextID++
			state.Questions = append(state.Questions, domain.Question{ID: state.NextID, Text: text, Timestamp: at})
		}
		if len(texts) > 0 {
			state.PendingQuestion = texts[len(texts)-1]
		}
		return state, nil

	case protocol.MsgAnswer:
		var answer string
		if err := msg.DecodeData(&answer); err != nil {
			return state, err
		}
		label := state.PendingQuestion
		if strings.TrimSpace(label) == "" {
			label = i.answerLabel()
		}
		state.PendingQuestion = ""
		return i.AppendAnswer(state, label, answer, at), nil

	case protocol.MsgAutoAnalysis:
		var payload protocol.AutoAnalysis
		if err := msg.DecodeData(&payload); err != nil {
			return state, err
		}
		return i.AppendAnswer(state, i.autoAnalysisLabel(), payload.Answer, at), nil

	case protocol.MsgError:
		return state, &BackendError{Message: msg.Message}

	default:
		return state, fmt.Errorf("%w: %q", ErrUnrecognizedType, msg.Type)
	}
}

// AppendAnswer records an answer under the given question label.
func (i Ingestor) AppendAnswer(state State, question string, answer string, at time.Time) State {
	state.NextID++
	state.Answers = append(state.Answers, domain.Answer{ID: state.NextID, Question: question, Answer: answer, Timestamp: at})
	return state
}

func (i Ingestor) answerLabel() string {
	if i.AnswerLabel == "" {
		return DefaultAnswerLabel
	}
	return i.AnswerLabel
}

func (i Ingestor) autoAnalysisLabel() string {
	if i.AutoAnalysisLabel == "" {
		return DefaultAutoAnalysisLabel
	}
	return i.AutoAnalysisLabel
}

func capTail(items []string, limit int) []string {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	out := make([]string, limit)
	copy(out, items[len(items)-limit:])
	return out
}
