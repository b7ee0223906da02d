//go:build !linux

package capture

import (
	"context"
	"errors"

	"livemeet/internal/ports"
)

// PulseAudio is only available on linux.
type PulseAudio struct{}

func NewPulseAudio() *PulseAudio {
	return &PulseAudio{}
}

func (p *PulseAudio) Start(context.Context, ports.AudioConfig) (ports.AudioSession, error) {
	return nil, errors.New("pulse audio capture is only supported on linux")
}
