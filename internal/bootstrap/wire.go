package bootstrap

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"livemeet/internal/capture"
	"livemeet/internal/config"
	"livemeet/internal/fallback"
	"livemeet/internal/logging"
	"livemeet/internal/ports"
	"livemeet/internal/transport"
	"livemeet/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Capture    *capture.Manager
	Config     config.Config
	Logger     zerolog.Logger

	logCloser io.Closer
}

// Close tears down the controller and flushes the log file.
func (s Services) Close() error {
	var err error
	if s.Controller != nil {
		err = s.Controller.Close()
	}
	if s.logCloser != nil {
		if closeErr := s.logCloser.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, logCloser, err := logging.New(logging.Config{Level: cfg.Log.Level, Dir: cfg.Log.Dir})
	if err != nil {
		return Services{}, err
	}

	services, err := BuildWith(cfg, eventSink, logger)
	if err != nil {
		_ = logCloser.Close()
		return Services{}, err
	}
	services.logCloser = logCloser
	return services, nil
}

// BuildWith wires the runtime graph from an already loaded configuration.
func BuildWith(cfg config.Config, eventSink ports.EventSink, logger zerolog.Logger) (Services, error) {
	audioSource, err := newAudioCapture(cfg.Audio)
	if err != nil {
		return Services{}, err
	}
	encoder, err := newAudioEncoder(cfg.Audio)
	if err != nil {
		return Services{}, err
	}

	channel := transport.New(transport.Config{
		URL:          cfg.Transport.URL,
		PingInterval: cfg.Transport.PingInterval,
		PongTimeout:  cfg.Transport.PongTimeout,
		WriteTimeout: cfg.Transport.WriteTimeout,
		SendBuffer:   cfg.Transport.SendBuffer,
		Reconnect: transport.ReconnectConfig{
			MaxRetries: cfg.Transport.Reconnect.MaxRetries,
			BaseDelay:  cfg.Transport.Reconnect.BaseDelay,
			MaxDelay:   cfg.Transport.Reconnect.MaxDelay,
		},
	}, logger)

	manager := capture.NewManager(
		capture.NewFFmpegScreen(cfg.Screen.Command),
		audioSource,
		encoder,
		channel,
		logger,
		capture.Config{
			FrameInterval:       cfg.Capture.FrameInterval(),
			AudioChunk:          cfg.Capture.AudioChunk(),
			AudioFlushChunks:    cfg.Capture.AudioFlushChunks,
			SimilarityThreshold: cfg.Capture.SimilarityThreshold,
			FullRefreshFrames:   cfg.Capture.FullRefreshFrames,
			Screen: ports.ScreenConfig{
				InputFormat: cfg.Screen.InputFormat,
				InputDevice: cfg.Screen.InputDevice,
				Width:       cfg.Screen.Width,
				Height:      cfg.Screen.Height,
				Quality:     cfg.Screen.Quality,
			},
			Audio: ports.AudioConfig{
				SampleRate:       cfg.Audio.SampleRate,
				Channels:         cfg.Audio.Channels,
				InputFormat:      cfg.Audio.InputFormat,
				InputDevice:      cfg.Audio.InputDevice,
				NoiseSuppression: cfg.Audio.NoiseSuppression,
			},
		},
	)

	fallbackClient := fallback.NewClient(fallback.Config{
		LiveAnswerURL: cfg.Fallback.LiveAnswerURL,
		SummaryURL:    cfg.Fallback.SummaryURL,
		Timeout:       cfg.Fallback.RequestTimeout,
	}, logger)

	controller := usecase.NewSessionController(
		manager,
		channel,
		fallbackClient,
		eventSink,
		logger,
		usecase.Config{
			SummaryTimeout: cfg.Fallback.SummaryTimeout,
			Reconnect:      cfg.Transport.Reconnect.Enabled,
			VisionMaxItems: cfg.Vision.MaxItems,
		},
	)
	channel.OnStateChange(controller.HandleTransportState)

	logger.Info().
		Str("backend", cfg.Transport.URL).
		Str("audio_backend", cfg.Audio.Backend).
		Str("audio_encoding", encoder.Name()).
		Str("settings", cfg.SettingsPath).
		Msg("services wired")

	return Services{Controller: controller, Capture: manager, Config: cfg, Logger: logger}, nil
}

func newAudioCapture(cfg config.AudioConfig) (ports.AudioCapture, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "ffmpeg":
		return capture.NewFFmpegAudio(cfg.RecorderCommand), nil
	case "pulse":
		return capture.NewPulseAudio(), nil
	default:
		return nil, fmt.Errorf("unsupported audio backend %q", cfg.Backend)
	}
}

func newAudioEncoder(cfg config.AudioConfig) (ports.AudioEncoder, error) {
	switch strings.ToLower(cfg.Encoding) {
	case "", "flac":
		return capture.NewFLACEncoder(cfg.SampleRate, cfg.Channels), nil
	case "pcm":
		return capture.PCMEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported audio encoding %q", cfg.Encoding)
	}
}
