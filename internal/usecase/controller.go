package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"livemeet/internal/domain"
	"livemeet/internal/ingest"
	"livemeet/internal/ports"
	"livemeet/internal/protocol"
)

var (
	ErrAlreadyCapturing = errors.New("session is already capturing")
	ErrNotCapturing     = errors.New("session is not capturing")
	ErrEmptyQuestion    = errors.New("question is empty")
	ErrControllerClosed = errors.New("session controller is closed")
)

// CaptureDriver is the capture surface the controller drives.
type CaptureDriver interface {
	StartScreen(ctx context.Context) error
	StopScreen() error
	StartAudio(ctx context.Context) error
	StopAudio() error
	OnAudioError(fn func(error))
}

// Config controls session lifecycle behavior.
type Config struct {
	SummaryTimeout time.Duration
	Reconnect      bool
	VisionMaxItems int

	Now   func() time.Time
	NewID func() string
}

// SessionController runs the sharing lifecycle. Every mutation of session
// state happens on a single goroutine that drains one queue; commands,
// inbound backend messages and capture callbacks are producers.
type SessionController struct {
	capture   CaptureDriver
	transport ports.Transport
	fallback  ports.Fallback
	events    ports.EventSink
	ingestor  ingest.Ingestor
	logger    zerolog.Logger
	cfg       Config

	// cmdMu serializes lifecycle commands so device work outside the queue
	// cannot interleave.
	cmdMu sync.Mutex

	queue chan func()
	quit  chan struct{}
	done  chan struct{}

	bgMu       sync.Mutex
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	background sync.WaitGroup
	pumpDone   chan struct{}

	reconnecting atomic.Bool
	closeOnce    sync.Once

	state sessionState
}

func NewSessionController(
	capture CaptureDriver,
	transport ports.Transport,
	fallback ports.Fallback,
	events ports.EventSink,
	logger zerolog.Logger,
	cfg Config,
) *SessionController {
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 20 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	c := &SessionController{
		capture:    capture,
		transport:  transport,
		fallback:   fallback,
		events:     events,
		ingestor:   ingest.New(cfg.VisionMaxItems),
		logger:     logger.With().Str("component", "session").Logger(),
		cfg:        cfg,
		queue:      make(chan func(), 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		pumpDone:   make(chan struct{}),
		state:      newSessionState(),
	}

	capture.OnAudioError(c.handleAudioError)

	go c.run()
	go c.pumpInbound()
	return c
}

func (c *SessionController) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.quit:
			return
		}
	}
}

// do runs fn on the state goroutine and waits for it.
func (c *SessionController) do(fn func(s *sessionState)) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn(&c.state)
	}

	select {
	case c.queue <- task:
	case <-c.quit:
		return ErrControllerClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrControllerClosed
	}
}

// post enqueues fn without waiting for it to run.
func (c *SessionController) post(fn func(s *sessionState)) {
	select {
	case c.queue <- func() { fn(&c.state) }:
	case <-c.quit:
	}
}

func (c *SessionController) pumpInbound() {
	defer close(c.pumpDone)
	for msg := range c.transport.Inbound() {
		at := c.cfg.Now()
		c.post(func(s *sessionState) {
			c.ingest(s, msg, at)
		})
	}
}

// StartSharing acquires the screen and begins a new session.
func (c *SessionController) StartSharing(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	var current domain.SessionState
	if err := c.do(func(s *sessionState) { current = s.session.State }); err != nil {
		return err
	}
	if current == domain.SessionStateCapturing || current == domain.SessionStateStopping {
		return ErrAlreadyCapturing
	}

	if err := c.capture.StartScreen(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("screen capture unavailable")
		c.post(func(*sessionState) {
			c.events.SessionError(domain.ErrorCodeCaptureUnavailable, err.Error())
		})
		return err
	}

	id := c.cfg.NewID()
	startedAt := c.cfg.Now()
	if err := c.do(func(s *sessionState) {
		*s = newSessionState()
		s.session = domain.Session{ID: id, State: domain.SessionStateCapturing, StartedAt: startedAt}
		c.events.SessionStateChanged(domain.SessionStateCapturing, domain.SessionReasonSharingStarted)
	}); err != nil {
		_ = c.capture.StopScreen()
		return err
	}
	c.logger.Info().Str("session_id", id).Msg("sharing started")

	if !c.transport.Ready() {
		if err := c.transport.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("backend connection failed")
			c.post(func(*sessionState) {
				c.events.SessionError(domain.ErrorCodeTransportClosed, err.Error())
			})
			c.startReconnect()
		}
	}
	return nil
}

// StopSharing halts capture and requests the session summary. A failed
// summary still ends the session; the snapshot then carries an empty summary.
func (c *SessionController) StopSharing(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	var (
		notCapturing bool
		req          ports.SummarizeRequest
		sessionID    string
	)
	if err := c.do(func(s *sessionState) {
		if s.session.State != domain.SessionStateCapturing {
			notCapturing = true
			return
		}
		endedAt := c.cfg.Now()
		s.session.State = domain.SessionStateStopping
		s.session.EndedAt = endedAt
		s.session.Duration = domain.FormatDuration(endedAt.Sub(s.session.StartedAt))
		sessionID = s.session.ID

		if s.audioActive {
			s.audioActive = false
			c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonAudioStopped)
		}
		c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonSharingStopping)

		req = summarizeRequest(s.inbound)
	}); err != nil {
		return err
	}
	if notCapturing {
		return ErrNotCapturing
	}

	if err := c.capture.StopScreen(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to release screen capture cleanly")
	}
	if err := c.capture.StopAudio(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to stop audio capture cleanly")
	}

	summaryCtx, cancel := context.WithTimeout(ctx, c.cfg.SummaryTimeout)
	resp, err := c.fallback.Summarize(summaryCtx, req)
	cancel()
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("summary request failed")
	}

	return c.do(func(s *sessionState) {
		s.session.State = domain.SessionStateStopped
		if err != nil {
			s.summary = domain.Summary{Tasks: []string{}}
			s.summaryReady = false
			c.events.SessionError(domain.ErrorCodeFallbackRequestFailed, fmt.Sprintf("summary unavailable: %v", err))
			c.events.SessionStateChanged(domain.SessionStateStopped, domain.SessionReasonSummaryFailed)
			return
		}

		s.summary = domain.Summary{Text: resp.Summary, Tasks: cloneOrEmpty(resp.Tasks)}
		s.summaryReady = true
		c.events.SummaryReady(domain.Summary{Text: s.summary.Text, Tasks: cloneOrEmpty(s.summary.Tasks)})
		c.events.SessionStateChanged(domain.SessionStateStopped, domain.SessionReasonSummaryReady)
	})
}

func summarizeRequest(state ingest.State) ports.SummarizeRequest {
	texts := lo.Map(state.Transcripts, func(entry domain.TranscriptEntry, _ int) string {
		return entry.Text
	})
	highlights := lo.Map(state.Questions, func(q domain.Question, _ int) string {
		return q.Text
	})
	return ports.SummarizeRequest{
		FullTranscript: strings.Join(texts, " "),
		Highlights:     highlights,
	}
}

// ToggleAudioCapture flips microphone capture and reports whether it is now on.
func (c *SessionController) ToggleAudioCapture(ctx context.Context) (bool, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	var state domain.SessionState
	var active bool
	if err := c.do(func(s *sessionState) {
		state = s.session.State
		active = s.audioActive
	}); err != nil {
		return false, err
	}
	if state != domain.SessionStateCapturing {
		return false, ErrNotCapturing
	}

	if active {
		if err := c.capture.StopAudio(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to stop audio capture cleanly")
		}
		return false, c.do(func(s *sessionState) {
			s.audioActive = false
			c.events.SessionStateChanged(s.session.State, domain.SessionReasonAudioStopped)
		})
	}

	if err := c.capture.StartAudio(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("audio capture unavailable")
		c.post(func(*sessionState) {
			c.events.SessionError(domain.ErrorCodeCaptureUnavailable, err.Error())
		})
		return false, err
	}

	return true, c.do(func(s *sessionState) {
		s.audioActive = true
		c.events.SessionStateChanged(s.session.State, domain.SessionReasonAudioStarted)
	})
}

func (c *SessionController) handleAudioError(err error) {
	c.post(func(s *sessionState) {
		if !s.audioActive {
			return
		}
		s.audioActive = false
		c.events.SessionError(domain.ErrorCodeAudioStream, err.Error())
		c.events.SessionStateChanged(s.session.State, domain.SessionReasonAudioStopped)
	})
}

// AskFallback asks the answer service about the current screen. It works in
// any state and never changes the lifecycle.
func (c *SessionController) AskFallback(ctx context.Context, question string) (domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, ErrEmptyQuestion
	}

	var texts, ui []string
	if err := c.do(func(s *sessionState) {
		texts = cloneOrEmpty(s.inbound.Vision.Texts)
		ui = cloneOrEmpty(s.inbound.Vision.UIElements)
	}); err != nil {
		return domain.Answer{}, err
	}

	answer, err := c.fallback.LiveAnswer(ctx, ports.LiveAnswerRequest{
		Text:      append(texts, question),
		UI:        ui,
		AudioMeta: question,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("live answer request failed")
		c.post(func(*sessionState) {
			c.events.SessionError(domain.ErrorCodeFallbackRequestFailed, err.Error())
		})
		return domain.Answer{}, err
	}
	if strings.TrimSpace(answer) == "" {
		return domain.Answer{}, nil
	}

	at := c.cfg.Now()
	var appended domain.Answer
	err = c.do(func(s *sessionState) {
		s.inbound = c.ingestor.AppendAnswer(s.inbound, question, answer, at)
		appended = s.inbound.Answers[len(s.inbound.Answers)-1]
		c.events.AnswerAppended(appended)
	})
	return appended, err
}

// Snapshot returns a deep copy of the session.
func (c *SessionController) Snapshot() domain.Snapshot {
	var snap domain.Snapshot
	if err := c.do(func(s *sessionState) { snap = s.snapshot() }); err != nil {
		fresh := newSessionState()
		snap = fresh.snapshot()
	}
	snap.TransportReady = c.transport.Ready()
	return snap
}

// HandleTransportState reacts to the backend connection opening or closing.
func (c *SessionController) HandleTransportState(ready bool) {
	if ready || c.lifeCtx.Err() != nil {
		return
	}
	c.post(func(s *sessionState) {
		if s.session.State != domain.SessionStateCapturing {
			return
		}
		c.logger.Warn().Msg("backend connection lost while capturing")
		c.events.SessionError(domain.ErrorCodeTransportClosed, "backend connection closed")
		c.startReconnect()
	})
}

func (c *SessionController) startReconnect() {
	if !c.cfg.Reconnect {
		return
	}

	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.lifeCtx.Err() != nil {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		defer c.reconnecting.Store(false)
		if err := c.transport.Reconnect(c.lifeCtx); err != nil {
			if c.lifeCtx.Err() == nil {
				c.logger.Error().Err(err).Msg("backend reconnect gave up")
			}
			return
		}
		c.logger.Info().Msg("backend reconnected")
	}()
}

func (c *SessionController) ingest(s *sessionState, msg protocol.Inbound, at time.Time) {
	before := s.inbound
	next, err := c.ingestor.Apply(s.inbound, msg, at)
	if err != nil {
		var backendErr *ingest.BackendError
		switch {
		case errors.As(err, &backendErr):
			c.logger.Warn().Str("message", backendErr.Message).Msg("backend reported an error")
			c.events.SessionError(domain.ErrorCodeBackend, backendErr.Message)
		case errors.Is(err, protocol.ErrMalformedMessage):
			c.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("discarding malformed message")
			c.events.SessionError(domain.ErrorCodeMalformedMessage, err.Error())
		default:
			c.logger.Warn().Err(err).Msg("ignoring inbound message")
		}
		return
	}
	s.inbound = next

	for _, entry := range next.Transcripts[len(before.Transcripts):] {
		c.events.TranscriptAppended(entry)
	}
	if added := next.Questions[len(before.Questions):]; len(added) > 0 {
		c.events.QuestionsAppended(cloneOrEmpty(added))
	}
	for _, answer := range next.Answers[len(before.Answers):] {
		c.events.AnswerAppended(answer)
	}
	if msg.Type == protocol.MsgFrameProcessed {
		c.events.VisionObserved(cloneOrEmpty(next.Vision.Texts), cloneOrEmpty(next.Vision.UIElements))
	}
}

// Close stops capture, closes the backend channel and ends the state loop.
func (c *SessionController) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cmdMu.Lock()
		defer c.cmdMu.Unlock()

		c.bgMu.Lock()
		c.lifeCancel()
		c.bgMu.Unlock()

		_ = c.capture.StopScreen()
		_ = c.capture.StopAudio()
		err = c.transport.Close()

		<-c.pumpDone
		c.background.Wait()
		close(c.quit)
		<-c.done
	})
	return err
}
