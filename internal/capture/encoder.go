package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	flacBlockSize     = 4096
	flacBitsPerSample = 16
)

// FLACEncoder packs a batch of s16le PCM into a self-contained FLAC stream.
type FLACEncoder struct {
	sampleRate int
	channels   int
}

func NewFLACEncoder(sampleRate int, channels int) *FLACEncoder {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels != 2 {
		channels = 1
	}
	return &FLACEncoder{sampleRate: sampleRate, channels: channels}
}

func (e *FLACEncoder) Name() string {
	return "flac"
}

func (e *FLACEncoder) Encode(pcm []byte) ([]byte, error) {
	planes := deinterleave(pcm, e.channels)

	var buf bytes.Buffer
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(e.sampleRate),
		NChannels:     uint8(e.channels),
		BitsPerSample: flacBitsPerSample,
		NSamples:      uint64(len(planes[0])),
	}
	enc, err := flac.NewEncoder(&buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)

	layout := frame.ChannelsMono
	if e.channels == 2 {
		layout = frame.ChannelsLR
	}

	total := len(planes[0])
	for start := 0; start < total; start += flacBlockSize {
		end := min(start+flacBlockSize, total)

		subframes := make([]*frame.Subframe, 0, e.channels)
		for _, plane := range planes {
			subframes = append(subframes, &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   plane[start:end],
				NSamples:  end - start,
			})
		}

		f := &frame.Frame{
			Header: frame.Header{
				BlockSize:     uint16(end - start),
				SampleRate:    uint32(e.sampleRate),
				Channels:      layout,
				BitsPerSample: flacBitsPerSample,
			},
			Subframes: subframes,
		}
		if err := enc.WriteFrame(f); err != nil {
			return nil, fmt.Errorf("writing flac frame: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing flac encoder: %w", err)
	}
	return buf.Bytes(), nil
}

// deinterleave splits s16le PCM into one int32 plane per channel. A trailing
// partial sample frame is dropped.
func deinterleave(pcm []byte, channels int) [][]int32 {
	frameBytes := 2 * channels
	n := len(pcm) / frameBytes

	planes := make([][]int32, channels)
	for ch := range planes {
		planes[ch] = make([]int32, n)
	}
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			offset := i*frameBytes + ch*2
			planes[ch][i] = int32(int16(binary.LittleEndian.Uint16(pcm[offset:])))
		}
	}
	return planes
}

// PCMEncoder forwards the batch as raw s16le.
type PCMEncoder struct{}

func (PCMEncoder) Name() string {
	return "pcm"
}

func (PCMEncoder) Encode(pcm []byte) ([]byte, error) {
	return append([]byte(nil), pcm...), nil
}
