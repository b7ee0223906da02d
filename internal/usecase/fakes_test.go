package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livemeet/internal/domain"
	"livemeet/internal/ports"
	"livemeet/internal/protocol"
)

type fakeCapture struct {
	mu sync.Mutex

	startScreenErr error
	startAudioErr  error

	screenStarts int
	screenStops  int
	audioStarts  int
	audioStops   int
	onAudioError func(error)
}

func (f *fakeCapture) StartScreen(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startScreenErr != nil {
		return f.startScreenErr
	}
	f.screenStarts++
	return nil
}

func (f *fakeCapture) StopScreen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenStops++
	return nil
}

func (f *fakeCapture) StartAudio(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startAudioErr != nil {
		return f.startAudioErr
	}
	f.audioStarts++
	return nil
}

func (f *fakeCapture) StopAudio() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioStops++
	return nil
}

func (f *fakeCapture) OnAudioError(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAudioError = fn
}

func (f *fakeCapture) setStartScreenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startScreenErr = err
}

func (f *fakeCapture) counts() (screenStarts, screenStops, audioStarts, audioStops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screenStarts, f.screenStops, f.audioStarts, f.audioStops
}

func (f *fakeCapture) failAudio(err error) {
	f.mu.Lock()
	fn := f.onAudioError
	f.mu.Unlock()
	fn(err)
}

type fakeTransport struct {
	ready      atomic.Bool
	connectErr error
	connects   atomic.Int32
	reconnects atomic.Int32

	inbound   chan protocol.Inbound
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan protocol.Inbound, 16)}
}

func (f *fakeTransport) Ready() bool { return f.ready.Load() }

func (f *fakeTransport) Send(protocol.Outbound) error { return nil }

func (f *fakeTransport) Connect(context.Context) error {
	f.connects.Add(1)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.ready.Store(true)
	return nil
}

func (f *fakeTransport) Reconnect(context.Context) error {
	f.reconnects.Add(1)
	return f.connectErr
}

func (f *fakeTransport) Inbound() <-chan protocol.Inbound { return f.inbound }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.inbound) })
	return nil
}

type fakeFallback struct {
	mu sync.Mutex

	summary      ports.SummarizeResponse
	summarizeErr error
	blockSummary bool
	answer       string
	answerErr    error

	summarizeReqs []ports.SummarizeRequest
	answerReqs    []ports.LiveAnswerRequest
}

func (f *fakeFallback) Summarize(ctx context.Context, req ports.SummarizeRequest) (ports.SummarizeResponse, error) {
	f.mu.Lock()
	f.summarizeReqs = append(f.summarizeReqs, req)
	block := f.blockSummary
	resp, err := f.summary, f.summarizeErr
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ports.SummarizeResponse{}, ctx.Err()
	}
	return resp, err
}

func (f *fakeFallback) LiveAnswer(_ context.Context, req ports.LiveAnswerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerReqs = append(f.answerReqs, req)
	return f.answer, f.answerErr
}

func (f *fakeFallback) lastSummarize() ports.SummarizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summarizeReqs[len(f.summarizeReqs)-1]
}

func (f *fakeFallback) lastAnswerRequest() ports.LiveAnswerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answerReqs[len(f.answerReqs)-1]
}

type fakeEventSink struct {
	mu sync.Mutex

	states      []stateEvent
	errors      []errEvent
	transcripts []domain.TranscriptEntry
	questions   [][]domain.Question
	answers     []domain.Answer
	visions     int
	summaries   []domain.Summary
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptAppended(entry domain.TranscriptEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, entry)
}

func (f *fakeEventSink) QuestionsAppended(questions []domain.Question) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, questions)
}

func (f *fakeEventSink) AnswerAppended(answer domain.Answer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer)
}

func (f *fakeEventSink) VisionObserved([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visions++
}

func (f *fakeEventSink) SummaryReady(summary domain.Summary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	for _, e := range f.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}
