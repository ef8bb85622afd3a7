package dsp

import "math"

// BiquadCoeffs is one normalized biquad section: b0, b1, b2, a1, a2 with
// a0 already divided out.
type BiquadCoeffs struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Identity reports whether the section passes audio through unchanged.
func (c BiquadCoeffs) Identity() bool {
	return c.B0 == 1 && c.B1 == 0 && c.B2 == 0 && c.A1 == 0 && c.A2 == 0
}

// IdentityCoeffs is a passthrough section.
var IdentityCoeffs = BiquadCoeffs{B0: 1}

// MagnitudeAt evaluates the combined magnitude response of a section
// chain at one frequency. Control-side only (diagnostics and tests);
// the RT path never needs it.
func MagnitudeAt(coeffs []BiquadCoeffs, freq, sampleRate float64) float64 {
	if sampleRate <= 0 {
		return 1
	}
	w := 2 * math.Pi * freq / sampleRate
	re1, im1 := math.Cos(-w), math.Sin(-w)
	re2, im2 := math.Cos(-2*w), math.Sin(-2*w)

	mag := 1.0
	for _, c := range coeffs {
		numRe := c.B0 + c.B1*re1 + c.B2*re2
		numIm := c.B1*im1 + c.B2*im2
		denRe := 1 + c.A1*re1 + c.A2*re2
		denIm := c.A1*im1 + c.A2*im2
		den := math.Hypot(denRe, denIm)
		if den == 0 {
			return math.Inf(1)
		}
		mag *= math.Hypot(numRe, numIm) / den
	}
	return mag
}

// Cascade applies a fixed number of biquad sections in series, per
// channel, using transposed direct form II. Filter state is preallocated
// at construction so Process never allocates; SetCoeffs copies the new
// coefficients in place, which keeps it safe to call from the audio
// thread after an atomic pointer load on the control-side block.
type Cascade struct {
	coeffs   []BiquadCoeffs
	sections int
	channels int
	// z holds the two delay elements for (section, channel), indexed
	// section*channels + channel.
	z [][2]float64
}

// NewCascade returns a passthrough cascade for the given geometry.
func NewCascade(sections, channels int) *Cascade {
	if sections < 1 {
		sections = 1
	}
	if channels < 1 {
		channels = 1
	}
	c := &Cascade{
		coeffs:   make([]BiquadCoeffs, sections),
		sections: sections,
		channels: channels,
		z:        make([][2]float64, sections*channels),
	}
	for i := range c.coeffs {
		c.coeffs[i] = IdentityCoeffs
	}
	return c
}

// Channels returns the channel count the cascade was built for.
func (c *Cascade) Channels() int { return c.channels }

// SetCoeffs copies up to len(c.coeffs) sections from coeffs. Extra
// incoming sections are ignored; missing ones become passthrough. Filter
// state is preserved so coefficient updates do not click.
func (c *Cascade) SetCoeffs(coeffs []BiquadCoeffs) {
	for i := range c.coeffs {
		if i < len(coeffs) {
			c.coeffs[i] = coeffs[i]
		} else {
			c.coeffs[i] = IdentityCoeffs
		}
	}
}

// Reset clears the filter memory. Used when a stream (re)starts so stale
// state from a previous device does not ring into the new one.
func (c *Cascade) Reset() {
	for i := range c.z {
		c.z[i] = [2]float64{}
	}
}

// Process filters buf in place. Channel count must match the cascade; the
// caller checks geometry beforehand (the tap controller counts a bypass
// otherwise), so a mismatch here is simply ignored.
func (c *Cascade) Process(buf Buffer) {
	if !buf.Valid() || buf.Channels != c.channels {
		return
	}
	if buf.Interleaved {
		data := buf.Data[0]
		for ch := 0; ch < c.channels; ch++ {
			for s := 0; s < c.sections; s++ {
				co := c.coeffs[s]
				if co.Identity() {
					continue
				}
				st := &c.z[s*c.channels+ch]
				idx := ch
				for fr := 0; fr < buf.Frames; fr++ {
					x := float64(data[idx])
					y := co.B0*x + st[0]
					st[0] = co.B1*x - co.A1*y + st[1]
					st[1] = co.B2*x - co.A2*y
					data[idx] = float32(y)
					idx += buf.Channels
				}
			}
		}
		return
	}
	for ch := 0; ch < c.channels; ch++ {
		data := buf.Data[ch][:buf.Frames]
		for s := 0; s < c.sections; s++ {
			co := c.coeffs[s]
			if co.Identity() {
				continue
			}
			st := &c.z[s*c.channels+ch]
			for i, v := range data {
				x := float64(v)
				y := co.B0*x + st[0]
				st[0] = co.B1*x - co.A1*y + st[1]
				st[1] = co.B2*x - co.A2*y
				data[i] = float32(y)
			}
		}
	}
}
