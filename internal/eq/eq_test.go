package eq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAdaptiveQ(t *testing.T) {
	assert.InDelta(t, 1.2, AdaptiveQ(0), 1e-9)
	assert.InDelta(t, 1.05, AdaptiveQ(6), 1e-9)
	assert.InDelta(t, 1.05, AdaptiveQ(-6), 1e-9)
	// Floors at 0.9 for extreme gains.
	assert.InDelta(t, 0.9, AdaptiveQ(18), 1e-9)
	assert.InDelta(t, 0.9, AdaptiveQ(-18), 1e-9)
}

func TestPeakingZeroGainIsIdentity(t *testing.T) {
	c := PeakingCoefficients(1000, 0, 1.0, 48000)
	assert.True(t, c.Identity())
}

func TestPeakingGuards(t *testing.T) {
	assert.True(t, PeakingCoefficients(24000, 6, 1, 48000).Identity(), "at Nyquist")
	assert.True(t, PeakingCoefficients(30000, 6, 1, 48000).Identity(), "above Nyquist")
	assert.True(t, PeakingCoefficients(1000, 6, 0, 48000).Identity(), "zero Q")
	assert.True(t, PeakingCoefficients(1000, 6, 1, 0).Identity(), "zero rate")
}

func TestPeakingCoefficientsFinite(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rate := rapid.Float64Range(8000, 192000).Draw(rt, "rate")
		freq := rapid.Float64Range(10, rate/2-1).Draw(rt, "freq")
		gain := rapid.Float64Range(-18, 18).Draw(rt, "gain")
		q := rapid.Float64Range(0.5, 10).Draw(rt, "q")

		c := PeakingCoefficients(freq, gain, q, rate)
		for _, v := range []float64{c.B0, c.B1, c.B2, c.A1, c.A2} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				rt.Fatalf("non-finite coefficient for f=%f g=%f q=%f rate=%f: %+v",
					freq, gain, q, rate, c)
			}
		}
	})
}

func TestPeakingDCGainNearUnity(t *testing.T) {
	// A peaking filter leaves DC untouched: H(1) = (b0+b1+b2)/(1+a1+a2).
	c := PeakingCoefficients(1000, 12, 1.0, 48000)
	h := (c.B0 + c.B1 + c.B2) / (1 + c.A1 + c.A2)
	assert.InDelta(t, 1.0, h, 1e-6)
}

func TestCascadeCoefficients(t *testing.T) {
	var bands Bands
	bands[3] = 6
	bands[7] = -30 // clamps to -18

	coeffs := CascadeCoefficients(bands, 48000)
	require.Len(t, coeffs, BandCount)
	for i, c := range coeffs {
		if i == 3 || i == 7 {
			assert.False(t, c.Identity(), "band %d should be active", i)
		} else {
			assert.True(t, c.Identity(), "band %d should pass through", i)
		}
	}
}

func TestBandsClamped(t *testing.T) {
	b := Bands{25, -25, math.NaN(), math.Inf(1), 3}
	c := b.Clamped()
	assert.Equal(t, MaxGainDB, c[0])
	assert.Equal(t, MinGainDB, c[1])
	assert.Zero(t, c[2])
	assert.Zero(t, c[3])
	assert.Equal(t, 3.0, c[4])
}

func TestBandsIsFlat(t *testing.T) {
	assert.True(t, Bands{}.IsFlat())
	assert.False(t, Bands{0, 0, 0.1}.IsFlat())
}
