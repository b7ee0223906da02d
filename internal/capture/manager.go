// Package capture samples the shared screen and microphone and pushes them to the backend.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livemeet/internal/ports"
	"livemeet/internal/protocol"
)

// ErrCaptureUnavailable wraps failures to acquire a screen or microphone source.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// Config controls sampling cadence and batching.
type Config struct {
	FrameInterval    time.Duration
	AudioChunk       time.Duration
	AudioFlushChunks int

	SimilarityThreshold float64
	FullRefreshFrames   int

	Screen ports.ScreenConfig
	Audio  ports.AudioConfig
}

// Stats counts what the capture loops did with their samples.
type Stats struct {
	FramesSent          uint64 `json:"framesSent"`
	FramesDropped       uint64 `json:"framesDropped"`
	FramesSkipped       uint64 `json:"framesSkipped"`
	AudioBatchesSent    uint64 `json:"audioBatchesSent"`
	AudioBatchesDropped uint64 `json:"audioBatchesDropped"`
}

// Manager owns the screen sampling loop and the audio batching loop.
type Manager struct {
	screen  ports.ScreenCapture
	audio   ports.AudioCapture
	encoder ports.AudioEncoder
	sender  ports.Sender
	logger  zerolog.Logger
	cfg     Config

	mu           sync.Mutex
	screenLoop   *loop
	audioLoop    *loop
	onAudioError func(error)

	framesSent          atomic.Uint64
	framesDropped       atomic.Uint64
	framesSkipped       atomic.Uint64
	audioBatchesSent    atomic.Uint64
	audioBatchesDropped atomic.Uint64
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
	stop   func() error
}

func NewManager(
	screen ports.ScreenCapture,
	audio ports.AudioCapture,
	encoder ports.AudioEncoder,
	sender ports.Sender,
	logger zerolog.Logger,
	cfg Config,
) *Manager {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 3 * time.Second
	}
	if cfg.AudioChunk <= 0 {
		cfg.AudioChunk = 2 * time.Second
	}
	if cfg.AudioFlushChunks <= 0 {
		cfg.AudioFlushChunks = 3
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if encoder == nil {
		encoder = NewFLACEncoder(cfg.Audio.SampleRate, cfg.Audio.Channels)
	}

	return &Manager{
		screen:  screen,
		audio:   audio,
		encoder: encoder,
		sender:  sender,
		logger:  logger.With().Str("component", "capture").Logger(),
		cfg:     cfg,
	}
}

// OnAudioError registers a callback for audio streams that end on their own.
func (m *Manager) OnAudioError(fn func(error)) {
	m.mu.Lock()
	m.onAudioError = fn
	m.mu.Unlock()
}

// StartScreen acquires the screen source and starts the frame loop. It is a
// no-op when the loop is already running.
func (m *Manager) StartScreen(ctx context.Context) error {
	m.mu.Lock()
	running := m.screenLoop != nil
	m.mu.Unlock()
	if running {
		return nil
	}

	session, err := m.screen.Start(ctx, m.cfg.Screen)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{}), stop: session.Stop}

	m.mu.Lock()
	if m.screenLoop != nil {
		m.mu.Unlock()
		cancel()
		_ = session.Stop()
		return nil
	}
	m.screenLoop = l
	m.mu.Unlock()

	go m.runFrames(loopCtx, session, l.done)
	m.logger.Info().Dur("interval", m.cfg.FrameInterval).Msg("screen capture started")
	return nil
}

// StopScreen halts the frame loop and releases the screen source. The loop
// has exited when StopScreen returns.
func (m *Manager) StopScreen() error {
	m.mu.Lock()
	l := m.screenLoop
	m.screenLoop = nil
	m.mu.Unlock()
	if l == nil {
		return nil
	}

	l.cancel()
	<-l.done
	err := l.stop()
	m.logger.Info().Msg("screen capture stopped")
	return err
}

func (m *Manager) ScreenActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenLoop != nil
}

// StartAudio acquires the microphone and starts the batching loop.
func (m *Manager) StartAudio(ctx context.Context) error {
	m.mu.Lock()
	running := m.audioLoop != nil
	m.mu.Unlock()
	if running {
		return nil
	}

	session, err := m.audio.Start(ctx, m.cfg.Audio)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{}), stop: session.Stop}

	m.mu.Lock()
	if m.audioLoop != nil {
		m.mu.Unlock()
		cancel()
		_ = session.Stop()
		return nil
	}
	m.audioLoop = l
	m.mu.Unlock()

	go m.runAudio(loopCtx, session, l)
	m.logger.Info().
		Int("sample_rate", m.cfg.Audio.SampleRate).
		Str("encoding", m.encoder.Name()).
		Msg("audio capture started")
	return nil
}

// StopAudio stops the microphone and waits for the batching loop. A partially
// filled batch is discarded.
func (m *Manager) StopAudio() error {
	m.mu.Lock()
	l := m.audioLoop
	m.audioLoop = nil
	m.mu.Unlock()
	if l == nil {
		return nil
	}

	l.cancel()
	err := l.stop()
	<-l.done
	m.logger.Info().Msg("audio capture stopped")
	return err
}

func (m *Manager) AudioActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioLoop != nil
}

func (m *Manager) Stats() Stats {
	return Stats{
		FramesSent:          m.framesSent.Load(),
		FramesDropped:       m.framesDropped.Load(),
		FramesSkipped:       m.framesSkipped.Load(),
		AudioBatchesSent:    m.audioBatchesSent.Load(),
		AudioBatchesDropped: m.audioBatchesDropped.Load(),
	}
}

func (m *Manager) runFrames(ctx context.Context, session ports.ScreenSession, done chan struct{}) {
	defer close(done)

	gate := NewFrameGate(m.cfg.SimilarityThreshold, m.cfg.FullRefreshFrames)
	ticker := time.NewTicker(m.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleFrame(ctx, session, gate)
		}
	}
}

func (m *Manager) sampleFrame(ctx context.Context, session ports.ScreenSession, gate *FrameGate) {
	if !m.sender.Ready() {
		m.framesDropped.Add(1)
		return
	}

	shot, err := session.Grab(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.framesDropped.Add(1)
		m.logger.Warn().Err(err).Msg("screen grab failed")
		return
	}

	if !gate.Admit(shot) {
		m.framesSkipped.Add(1)
		return
	}

	if err := m.sender.Send(protocol.FrameMessage(shot)); err != nil {
		m.framesDropped.Add(1)
		m.logger.Debug().Err(err).Msg("frame dropped")
		return
	}
	m.framesSent.Add(1)
}

func (m *Manager) chunkBytes() int {
	samples := m.cfg.Audio.SampleRate * int(m.cfg.AudioChunk/time.Millisecond) / 1000
	if samples <= 0 {
		samples = 1
	}
	return samples * m.cfg.Audio.Channels * 2
}

func (m *Manager) runAudio(ctx context.Context, session ports.AudioSession, l *loop) {
	defer close(l.done)

	chunk := make([]byte, m.chunkBytes())
	var batch bytes.Buffer
	buffered := 0

	for {
		if _, err := io.ReadFull(session, chunk); err != nil {
			if ctx.Err() == nil {
				m.audioEnded(session, l, err)
			}
			return
		}

		batch.Write(chunk)
		buffered++
		if buffered < m.cfg.AudioFlushChunks {
			continue
		}

		m.flushAudio(batch.Bytes())
		batch.Reset()
		buffered = 0
	}
}

func (m *Manager) flushAudio(pcm []byte) {
	encoded, err := m.encoder.Encode(pcm)
	if err != nil {
		m.audioBatchesDropped.Add(1)
		m.logger.Warn().Err(err).Msg("audio encode failed")
		return
	}
	if err := m.sender.Send(protocol.AudioMessage(encoded)); err != nil {
		m.audioBatchesDropped.Add(1)
		m.logger.Debug().Err(err).Msg("audio batch dropped")
		return
	}
	m.audioBatchesSent.Add(1)
}

// audioEnded handles a stream that ended without StopAudio being called.
func (m *Manager) audioEnded(session ports.AudioSession, l *loop, err error) {
	l.cancel()
	_ = session.Stop()

	m.mu.Lock()
	if m.audioLoop == l {
		m.audioLoop = nil
	}
	notify := m.onAudioError
	m.mu.Unlock()

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = errors.New("audio stream ended")
	}
	m.logger.Warn().Err(err).Msg("audio capture ended unexpectedly")
	if notify != nil {
		notify(err)
	}
}
