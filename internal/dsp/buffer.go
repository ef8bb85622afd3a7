// Package dsp implements the real-time audio kernels: peak detection,
// copy/zero, gain with per-sample ramping, a soft limiter, and a peaking
// biquad cascade. The kernels run on the audio callback thread, so none
// of them allocate, lock, or call out; constructors and MagnitudeAt are
// control-side.
//
// Kernels operate on Buffer views. A view is either interleaved (one
// contiguous float32 slice holding channels × frames samples) or planar
// (one slice per channel). Both layouts are produced by real capture
// primitives, so every kernel supports both.
package dsp

// Buffer is a view over float32 PCM audio. It does not own the sample
// memory; the capture primitive does.
type Buffer struct {
	// Data holds the channel slices. For an interleaved buffer Data has
	// exactly one entry of Channels*Frames samples; for a planar buffer it
	// has Channels entries of Frames samples each.
	Data [][]float32

	Channels    int
	Frames      int
	Interleaved bool
}

// NewInterleaved wraps a contiguous slice of channels*frames samples.
// frames is derived from the slice length.
func NewInterleaved(data []float32, channels int) Buffer {
	frames := 0
	if channels > 0 {
		frames = len(data) / channels
	}
	return Buffer{
		Data:        [][]float32{data},
		Channels:    channels,
		Frames:      frames,
		Interleaved: true,
	}
}

// NewPlanar wraps per-channel slices. All channels are assumed to have the
// length of the shortest one.
func NewPlanar(chans [][]float32) Buffer {
	frames := 0
	for i, ch := range chans {
		if i == 0 || len(ch) < frames {
			frames = len(ch)
		}
	}
	return Buffer{
		Data:        chans,
		Channels:    len(chans),
		Frames:      frames,
		Interleaved: false,
	}
}

// Valid reports whether the view describes readable sample memory.
func (b Buffer) Valid() bool {
	if b.Channels <= 0 || b.Frames < 0 || len(b.Data) == 0 {
		return false
	}
	if b.Interleaved {
		return len(b.Data) == 1 && len(b.Data[0]) >= b.Channels*b.Frames
	}
	if len(b.Data) < b.Channels {
		return false
	}
	for ch := 0; ch < b.Channels; ch++ {
		if len(b.Data[ch]) < b.Frames {
			return false
		}
	}
	return true
}

// Samples returns the total sample count across all channels.
func (b Buffer) Samples() int {
	return b.Channels * b.Frames
}

// Sample returns the sample for (channel, frame). It is a convenience for
// tests and diagnostics, not for kernel inner loops.
func (b Buffer) Sample(ch, frame int) float32 {
	if b.Interleaved {
		return b.Data[0][frame*b.Channels+ch]
	}
	return b.Data[ch][frame]
}

// SetSample stores a sample at (channel, frame). Test/diagnostic helper.
func (b Buffer) SetSample(ch, frame int, v float32) {
	if b.Interleaved {
		b.Data[0][frame*b.Channels+ch] = v
	} else {
		b.Data[ch][frame] = v
	}
}

// Peak returns the maximum absolute sample value over all channels.
// Returns 0 for an empty or invalid view.
func Peak(b Buffer) float32 {
	if !b.Valid() {
		return 0
	}
	var peak float32
	if b.Interleaved {
		for _, s := range b.Data[0][:b.Channels*b.Frames] {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
		return peak
	}
	for ch := 0; ch < b.Channels; ch++ {
		for _, s := range b.Data[ch][:b.Frames] {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
	}
	return peak
}

// HasSignal reports whether any sample is nonzero. Cheaper than Peak when
// only presence matters; bails on the first hit.
func HasSignal(b Buffer) bool {
	if !b.Valid() {
		return false
	}
	if b.Interleaved {
		for _, s := range b.Data[0][:b.Channels*b.Frames] {
			if s != 0 {
				return true
			}
		}
		return false
	}
	for ch := 0; ch < b.Channels; ch++ {
		for _, s := range b.Data[ch][:b.Frames] {
			if s != 0 {
				return true
			}
		}
	}
	return false
}

// Zero writes silence to every sample of the view.
func Zero(b Buffer) {
	if !b.Valid() {
		return
	}
	if b.Interleaved {
		s := b.Data[0][:b.Channels*b.Frames]
		for i := range s {
			s[i] = 0
		}
		return
	}
	for ch := 0; ch < b.Channels; ch++ {
		s := b.Data[ch][:b.Frames]
		for i := range s {
			s[i] = 0
		}
	}
}

// Copy copies src into dst sample-wise, matching channels by index. On a
// size mismatch it copies the overlapping region and leaves trailing dst
// samples untouched; callers that need silence there zero dst first.
func Copy(dst, src Buffer) {
	if !dst.Valid() || !src.Valid() {
		return
	}
	frames := src.Frames
	if dst.Frames < frames {
		frames = dst.Frames
	}
	chans := src.Channels
	if dst.Channels < chans {
		chans = dst.Channels
	}

	// Fast path: same layout and channel count lets us copy linearly.
	if dst.Interleaved && src.Interleaved && dst.Channels == src.Channels {
		copy(dst.Data[0][:frames*chans], src.Data[0][:frames*chans])
		return
	}
	if !dst.Interleaved && !src.Interleaved {
		for ch := 0; ch < chans; ch++ {
			copy(dst.Data[ch][:frames], src.Data[ch][:frames])
		}
		return
	}

	for fr := 0; fr < frames; fr++ {
		for ch := 0; ch < chans; ch++ {
			dst.SetSample(ch, fr, src.Sample(ch, fr))
		}
	}
}
