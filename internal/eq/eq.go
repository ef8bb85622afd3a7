// Package eq implements the 10-band parametric equalizer model: peaking
// coefficient math, the built-in preset catalog, and custom preset
// validation. The real-time cascade that consumes these coefficients
// lives in internal/dsp.
package eq

import (
	"math"

	"finetune/internal/dsp"
)

// BandCount is the number of peaking sections in the graphic EQ.
const BandCount = 10

const (
	// MinGainDB and MaxGainDB bound every band gain.
	MinGainDB = -18.0
	MaxGainDB = 18.0
)

// BandFrequencies are the fixed center frequencies in Hz, one octave
// apart from 31.25 Hz to 16 kHz.
var BandFrequencies = [BandCount]float64{
	31.25, 62.5, 125, 250, 500, 1000, 2000, 4000, 8000, 16000,
}

// Bands holds one gain in dB per band.
type Bands [BandCount]float64

// Clamped returns a copy with every gain bounded to [MinGainDB, MaxGainDB]
// and non-finite values zeroed.
func (b Bands) Clamped() Bands {
	for i, g := range b {
		switch {
		case math.IsNaN(g) || math.IsInf(g, 0):
			b[i] = 0
		case g < MinGainDB:
			b[i] = MinGainDB
		case g > MaxGainDB:
			b[i] = MaxGainDB
		}
	}
	return b
}

// IsFlat reports whether every band is at 0 dB.
func (b Bands) IsFlat() bool {
	for _, g := range b {
		if g != 0 {
			return false
		}
	}
	return true
}

// Settings is the per-app EQ state.
type Settings struct {
	BandGains Bands `json:"bandGains"`
	Enabled   bool  `json:"isEnabled"`
}

// AdaptiveQ returns the filter Q for a band gain. Larger boosts and cuts
// narrow slightly so adjacent bands overlap less as curves get extreme:
//
//	Q(g) = max(0.9, 1.2 − 0.025·|g|)
func AdaptiveQ(gainDB float64) float64 {
	q := 1.2 - 0.025*math.Abs(gainDB)
	if q < 0.9 {
		q = 0.9
	}
	return q
}

// PeakingCoefficients computes one normalized peaking section from the
// Audio EQ Cookbook. The result is (b0, b1, b2, a1, a2) with a0 divided
// out. Frequencies at or above Nyquist, or degenerate Q/rate inputs,
// yield a passthrough section rather than an unstable filter.
func PeakingCoefficients(freq, gainDB, q, sampleRate float64) dsp.BiquadCoeffs {
	if sampleRate <= 0 || freq <= 0 || freq >= sampleRate/2 || q <= 0 {
		return dsp.IdentityCoeffs
	}
	if gainDB == 0 {
		return dsp.IdentityCoeffs
	}

	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	a0 := 1 + alpha/a
	return dsp.BiquadCoeffs{
		B0: (1 + alpha*a) / a0,
		B1: (-2 * cosw0) / a0,
		B2: (1 - alpha*a) / a0,
		A1: (-2 * cosw0) / a0,
		A2: (1 - alpha/a) / a0,
	}
}

// CascadeCoefficients computes the full 10-section coefficient set for a
// band configuration at the given sample rate, with the adaptive Q
// applied per band. Flat bands come back as passthrough sections, so a
// mostly-flat curve costs almost nothing at runtime.
func CascadeCoefficients(bands Bands, sampleRate float64) []dsp.BiquadCoeffs {
	bands = bands.Clamped()
	out := make([]dsp.BiquadCoeffs, BandCount)
	for i, g := range bands {
		out[i] = PeakingCoefficients(BandFrequencies[i], g, AdaptiveQ(g), sampleRate)
	}
	return out
}
