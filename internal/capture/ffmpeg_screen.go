package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync/atomic"

	"livemeet/internal/ports"
)

var errScreenStopped = errors.New("screen source has been released")

// FFmpegScreen samples the display by running a single-frame ffmpeg grab per sample.
type FFmpegScreen struct {
	command string
}

func NewFFmpegScreen(command string) *FFmpegScreen {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegScreen{command: command}
}

// Start validates the source with one probe grab.
func (c *FFmpegScreen) Start(ctx context.Context, cfg ports.ScreenConfig) (ports.ScreenSession, error) {
	session := &ffmpegScreenSession{command: c.command, args: screenArgs(cfg)}
	if _, err := session.Grab(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

func screenArgs(cfg ports.ScreenConfig) []string {
	if cfg.InputFormat == "" {
		cfg.InputFormat = "x11grab"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = ":0.0"
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 640, 360
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 80
	}

	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", cfg.Width, cfg.Height),
		"-q:v", strconv.Itoa(mjpegScale(cfg.Quality)),
		"-f", "mjpeg",
		"-",
	}
}

// mjpegScale maps a 1-100 quality to ffmpeg's 2-31 qscale, where lower is better.
func mjpegScale(quality int) int {
	return 2 + (100-quality)*29/100
}

type ffmpegScreenSession struct {
	command string
	args    []string
	stopped atomic.Bool
}

func (s *ffmpegScreenSession) Grab(ctx context.Context) ([]byte, error) {
	if s.stopped.Load() {
		return nil, errScreenStopped
	}

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screen grab failed: %w: %s", err, trimOutput(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("screen grab produced no image")
	}
	return stdout.Bytes(), nil
}

func (s *ffmpegScreenSession) Stop() error {
	s.stopped.Store(true)
	return nil
}
