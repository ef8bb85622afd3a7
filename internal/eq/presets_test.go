package eq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finetune/internal/dsp"
)

func TestBuiltinCatalogShape(t *testing.T) {
	general := 0
	headphone := 0
	for _, p := range BuiltinPresets {
		if p.Category == CategoryHeadphone {
			headphone++
		} else {
			general++
		}
	}
	assert.Equal(t, 20, general, "general preset count")
	assert.Equal(t, 3, headphone, "headphone profile count")
}

func TestBuiltinGainsInRange(t *testing.T) {
	for _, p := range BuiltinPresets {
		for i, g := range p.Bands {
			assert.GreaterOrEqual(t, g, MinGainDB, "%s band %d", p.Name, i)
			assert.LessOrEqual(t, g, MaxGainDB, "%s band %d", p.Name, i)
		}
	}
}

func TestBuiltinNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range BuiltinPresets {
		assert.False(t, seen[FoldName(p.Name)], "duplicate preset name %q", p.Name)
		seen[FoldName(p.Name)] = true
	}
}

// The headphone trio must sweep bass down and presence up in order, so
// A/B comparisons change one perceptual axis at a time.
func TestHeadphoneProfileProgression(t *testing.T) {
	var trio []Preset
	for _, name := range HeadphoneProfileNames {
		p, ok := PresetByName(name)
		require.True(t, ok, "missing headphone profile %q", name)
		require.Equal(t, CategoryHeadphone, p.Category)
		trio = append(trio, p)
	}

	bassBands := []int{0, 1}     // 31 Hz, 62 Hz
	presenceBands := []int{6, 7} // 2 kHz, 4 kHz
	for i := 1; i < len(trio); i++ {
		for _, b := range bassBands {
			assert.Less(t, trio[i].Bands[b], trio[i-1].Bands[b],
				"bass band %d must decrease from %s to %s", b, trio[i-1].Name, trio[i].Name)
		}
		for _, b := range presenceBands {
			assert.Greater(t, trio[i].Bands[b], trio[i-1].Bands[b],
				"presence band %d must increase from %s to %s", b, trio[i-1].Name, trio[i].Name)
		}
	}
}

// Every built-in curve must produce a stable, finite filter at the
// common sample rates, and its response at each band center must move
// in the direction of that band's gain.
func TestBuiltinPresetResponses(t *testing.T) {
	for _, rate := range []float64{44100, 48000, 96000} {
		for _, p := range BuiltinPresets {
			coeffs := CascadeCoefficients(p.Bands, rate)
			for i, g := range p.Bands {
				freq := BandFrequencies[i]
				if freq >= rate/2 {
					continue
				}
				mag := dsp.MagnitudeAt(coeffs, freq, rate)
				if math.IsNaN(mag) || math.IsInf(mag, 0) {
					t.Fatalf("%s @ %.0f Hz (rate %.0f): non-finite response", p.Name, freq, rate)
				}
				db := 20 * math.Log10(mag)
				// Neighbouring bands interact, so only direction is
				// checked, and only where this band dominates.
				if g >= 3 && db < 0.5 {
					t.Errorf("%s band %d (+%.0f dB): response %.2f dB", p.Name, i, g, db)
				}
				if g <= -3 && db > -0.5 {
					t.Errorf("%s band %d (%.0f dB): response %.2f dB", p.Name, i, g, db)
				}
			}
		}
	}
}

func TestHeadphoneProfileResponsesSweep(t *testing.T) {
	const rate = 48000.0
	var bass, presence []float64
	for _, name := range HeadphoneProfileNames {
		p, ok := PresetByName(name)
		require.True(t, ok)
		coeffs := CascadeCoefficients(p.Bands, rate)
		bass = append(bass, dsp.MagnitudeAt(coeffs, 40, rate))
		presence = append(presence, dsp.MagnitudeAt(coeffs, 3000, rate))
	}
	for i := 1; i < len(bass); i++ {
		assert.Less(t, bass[i], bass[i-1], "bass response must fall across the trio")
		assert.Greater(t, presence[i], presence[i-1], "presence response must rise across the trio")
	}
}

func TestPresetByName(t *testing.T) {
	p, ok := PresetByName("Flat")
	require.True(t, ok)
	assert.True(t, p.Bands.IsFlat())

	_, ok = PresetByName("No Such Preset")
	assert.False(t, ok)
}
