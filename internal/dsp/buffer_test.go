package dsp

import (
	"math"
	"testing"
)

// makeSine fills an interleaved buffer with a sine wave at the given
// amplitude, identical on every channel.
func makeSine(channels, frames int, amplitude float64) Buffer {
	data := make([]float32, channels*frames)
	for fr := 0; fr < frames; fr++ {
		s := float32(amplitude * math.Sin(2*math.Pi*440*float64(fr)/48000))
		for ch := 0; ch < channels; ch++ {
			data[fr*channels+ch] = s
		}
	}
	return NewInterleaved(data, channels)
}

// makePlanar builds a planar buffer from per-channel constants.
func makePlanar(frames int, values ...float32) Buffer {
	chans := make([][]float32, len(values))
	for ch, v := range values {
		chans[ch] = make([]float32, frames)
		for i := range chans[ch] {
			chans[ch][i] = v
		}
	}
	return NewPlanar(chans)
}

func TestPeakEmpty(t *testing.T) {
	if p := Peak(Buffer{}); p != 0 {
		t.Errorf("peak of empty view: got %f, want 0", p)
	}
	if p := Peak(NewInterleaved(nil, 2)); p != 0 {
		t.Errorf("peak of zero-frame view: got %f, want 0", p)
	}
}

func TestPeakInterleaved(t *testing.T) {
	b := NewInterleaved([]float32{0.1, -0.9, 0.5, 0.2}, 2)
	if p := Peak(b); p != 0.9 {
		t.Errorf("peak: got %f, want 0.9", p)
	}
}

func TestPeakPlanar(t *testing.T) {
	b := makePlanar(4, 0.25, -0.75)
	if p := Peak(b); p != 0.75 {
		t.Errorf("peak: got %f, want 0.75", p)
	}
}

func TestHasSignal(t *testing.T) {
	b := NewInterleaved(make([]float32, 8), 2)
	if HasSignal(b) {
		t.Error("silent buffer reported signal")
	}
	b.Data[0][5] = 1e-9
	if !HasSignal(b) {
		t.Error("nonzero sample not detected")
	}
}

func TestZero(t *testing.T) {
	b := makeSine(2, 64, 0.8)
	Zero(b)
	if Peak(b) != 0 {
		t.Error("buffer not silent after Zero")
	}

	p := makePlanar(16, 0.5, 0.5, 0.5)
	Zero(p)
	if Peak(p) != 0 {
		t.Error("planar buffer not silent after Zero")
	}
}

func TestCopySameLayout(t *testing.T) {
	src := makeSine(2, 32, 0.5)
	dst := NewInterleaved(make([]float32, 64), 2)
	Copy(dst, src)
	for i := range src.Data[0] {
		if dst.Data[0][i] != src.Data[0][i] {
			t.Fatalf("sample %d: got %f, want %f", i, dst.Data[0][i], src.Data[0][i])
		}
	}
}

func TestCopyCrossLayout(t *testing.T) {
	src := makePlanar(8, 0.25, -0.5)
	dst := NewInterleaved(make([]float32, 16), 2)
	Copy(dst, src)
	for fr := 0; fr < 8; fr++ {
		if dst.Sample(0, fr) != 0.25 || dst.Sample(1, fr) != -0.5 {
			t.Fatalf("frame %d: got (%f, %f)", fr, dst.Sample(0, fr), dst.Sample(1, fr))
		}
	}
}

func TestCopySizeMismatch(t *testing.T) {
	src := NewInterleaved([]float32{1, 1, 1, 1}, 2) // 2 frames
	dst := NewInterleaved(make([]float32, 8), 2)    // 4 frames
	for i := range dst.Data[0] {
		dst.Data[0][i] = 9
	}
	Copy(dst, src)
	for i := 0; i < 4; i++ {
		if dst.Data[0][i] != 1 {
			t.Errorf("overlap sample %d not copied", i)
		}
	}
	// Trailing samples are unspecified but must not have been read from
	// out-of-range source memory; here they keep their sentinel.
	for i := 4; i < 8; i++ {
		if dst.Data[0][i] != 9 {
			t.Errorf("trailing sample %d overwritten", i)
		}
	}
}

func TestValidGeometry(t *testing.T) {
	if (Buffer{}).Valid() {
		t.Error("zero value reported valid")
	}
	if !makeSine(2, 4, 0.1).Valid() {
		t.Error("interleaved buffer reported invalid")
	}
	short := Buffer{Data: [][]float32{make([]float32, 2)}, Channels: 2, Frames: 4, Interleaved: true}
	if short.Valid() {
		t.Error("undersized interleaved buffer reported valid")
	}
}
