// Package volume converts between UI slider positions and linear gain.
//
// The slider is logarithmic: the lower half covers a wide perceptual
// range up to unity, the upper half a modest boost. Unity gain sits at
// exactly the midpoint, so the "no change" position is findable by feel.
package volume

import "math"

const (
	// BoostDB is the gain at slider position 1.0.
	BoostDB = 6.0
	// CutRangeDB is the span covered by the lower half of the slider.
	// -60 dB at the bottom of the travel is effectively silence.
	CutRangeDB = 60.0
)

// MaxGain is the linear gain at slider position 1.0 (+6 dB ≈ 1.995).
var MaxGain = math.Pow(10, BoostDB/20)

// SliderToGain maps a slider position in [0, 1] to linear gain.
// Position 0 is mute (gain 0), 0.5 is unity, 1 is MaxGain.
func SliderToGain(s float64) float64 {
	if s <= 0 {
		return 0
	}
	if s > 1 {
		s = 1
	}
	var db float64
	if s >= 0.5 {
		db = (s - 0.5) / 0.5 * BoostDB
	} else {
		db = (s - 0.5) / 0.5 * CutRangeDB
	}
	return math.Pow(10, db/20)
}

// GainToSlider maps a linear gain in [0, MaxGain] back to a slider
// position. Gains at or below zero clamp to 0; gains below the bottom of
// the slider's range also clamp to 0.
func GainToSlider(g float64) float64 {
	if g <= 0 {
		return 0
	}
	if g > MaxGain {
		g = MaxGain
	}
	db := 20 * math.Log10(g)
	var s float64
	if db >= 0 {
		s = 0.5 + db/BoostDB*0.5
	} else {
		s = 0.5 + db/CutRangeDB*0.5
	}
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// ClampGain bounds a stored gain to [0, ceiling], guarding against bad
// persisted values. A non-positive ceiling falls back to MaxGain.
func ClampGain(g, ceiling float64) float64 {
	if ceiling <= 0 {
		ceiling = MaxGain
	}
	if g < 0 || math.IsNaN(g) {
		return 0
	}
	if g > ceiling {
		return ceiling
	}
	return g
}
