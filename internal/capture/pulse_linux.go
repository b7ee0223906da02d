//go:build linux

package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/jfreymuth/pulse"

	"livemeet/internal/ports"
)

// PulseAudio records the microphone through the PulseAudio native protocol.
// Noise suppression is left to the server's source configuration.
type PulseAudio struct{}

func NewPulseAudio() *PulseAudio {
	return &PulseAudio{}
}

func (p *PulseAudio) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}

	client, err := pulse.NewClient(pulse.ClientApplicationName("livemeet"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}

	reader, writer := io.Pipe()
	sink := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		data := make([]byte, len(buf)*2)
		for i, s := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
		if _, err := writer.Write(data); err != nil {
			return 0, err
		}
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordSampleRate(cfg.SampleRate),
		pulse.RecordLatency(0.05),
	}
	if cfg.Channels == 2 {
		opts = append(opts, pulse.RecordStereo)
	} else {
		opts = append(opts, pulse.RecordMono)
	}
	if cfg.InputDevice != "" && cfg.InputDevice != "default" {
		source, err := client.SourceByID(cfg.InputDevice)
		if err == nil && source != nil {
			opts = append(opts, pulse.RecordSource(source))
		}
	}

	stream, err := client.NewRecord(sink, opts...)
	if err != nil {
		client.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("pulse record: %w", err)
	}
	stream.Start()

	return &pulseSession{client: client, stream: stream, reader: reader, writer: writer}, nil
}

type pulseSession struct {
	client *pulse.Client
	stream *pulse.RecordStream
	reader *io.PipeReader
	writer *io.PipeWriter

	stopOnce sync.Once
}

func (s *pulseSession) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *pulseSession) Close() error {
	return s.Stop()
}

func (s *pulseSession) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.writer.CloseWithError(io.EOF)
		s.stream.Stop()
		s.stream.Close()
		s.client.Close()
		_ = s.reader.Close()
	})
	return nil
}
