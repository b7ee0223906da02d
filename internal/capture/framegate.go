package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"math"

	"github.com/nfnt/resize"
)

const (
	thumbWidth  = 32
	thumbHeight = 18
)

// FrameGate suppresses frames that look the same as the last frame sent.
// It is not safe for concurrent use; the frame loop owns it.
type FrameGate struct {
	threshold   float64
	fullRefresh int

	last    []float64
	skipped int
}

// NewFrameGate returns nil when threshold is not positive, which admits every frame.
func NewFrameGate(threshold float64, fullRefresh int) *FrameGate {
	if threshold <= 0 {
		return nil
	}
	return &FrameGate{threshold: math.Min(threshold, 1), fullRefresh: fullRefresh}
}

// Admit reports whether the JPEG should be sent. Frames that cannot be decoded are admitted.
func (g *FrameGate) Admit(data []byte) bool {
	if g == nil {
		return true
	}

	thumb, err := thumbnail(data)
	if err != nil {
		return true
	}

	if g.last != nil && similarity(g.last, thumb) >= g.threshold {
		g.skipped++
		if g.fullRefresh <= 0 || g.skipped < g.fullRefresh {
			return false
		}
	}

	g.last = thumb
	g.skipped = 0
	return true
}

func thumbnail(data []byte) ([]float64, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return grayscale(resize.Resize(thumbWidth, thumbHeight, img, resize.Bilinear)), nil
}

func grayscale(img image.Image) []float64 {
	bounds := img.Bounds()
	out := make([]float64, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out = append(out, (0.299*float64(r)+0.587*float64(g)+0.114*float64(b))/0xffff)
		}
	}
	return out
}

// similarity is 1 minus the mean absolute luminance difference.
func similarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var diff float64
	for i := range a {
		diff += math.Abs(a[i] - b[i])
	}
	return 1 - diff/float64(len(a))
}
