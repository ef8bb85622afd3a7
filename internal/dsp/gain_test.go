package dsp

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestRampCoefficient(t *testing.T) {
	a := RampCoefficient(48000, DefaultRampTau)
	if a <= 0 || a >= 1 {
		t.Fatalf("coefficient out of (0,1): %f", a)
	}
	// Degenerate inputs fall back to an instant ramp.
	if RampCoefficient(0, DefaultRampTau) != 1 {
		t.Error("zero sample rate should yield instant ramp")
	}
	if RampCoefficient(48000, 0) != 1 {
		t.Error("zero tau should yield instant ramp")
	}
}

func TestApplyGainRampConverges(t *testing.T) {
	const frames = 48000 // 1 s at 48 kHz, tau = 30 ms
	in := NewInterleaved(make([]float32, frames), 1)
	out := NewInterleaved(make([]float32, frames), 1)
	for i := range in.Data[0] {
		in.Data[0][i] = 1
	}
	p := GainParams{
		Target:       0.5,
		RampCoeff:    RampCoefficient(48000, DefaultRampTau),
		Crossfade:    1,
		Compensation: 1,
	}
	g := ApplyGain(in, out, 0, p)
	if math.Abs(float64(g-0.5)) > 1e-3 {
		t.Errorf("ramp did not converge: got %f, want 0.5", g)
	}
	// Output at the tail reflects the converged gain.
	tail := out.Data[0][frames-1]
	if math.Abs(float64(tail-0.5)) > 1e-3 {
		t.Errorf("tail sample: got %f, want 0.5", tail)
	}
}

func TestApplyGainNeverOvershoots(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		start := rapid.Float32Range(0, 2).Draw(rt, "start")
		target := rapid.Float32Range(0, 2).Draw(rt, "target")
		alpha := rapid.Float32Range(1e-6, 1).Draw(rt, "alpha")
		frames := rapid.IntRange(1, 512).Draw(rt, "frames")

		in := NewInterleaved(make([]float32, frames), 1)
		out := NewInterleaved(make([]float32, frames), 1)
		g := ApplyGain(in, out, start, GainParams{
			Target: target, RampCoeff: alpha, Crossfade: 1, Compensation: 1,
		})

		lo, hi := start, target
		if lo > hi {
			lo, hi = hi, lo
		}
		if g < lo-1e-6 || g > hi+1e-6 {
			rt.Fatalf("gain %f left [%f, %f]", g, lo, hi)
		}
	})
}

func TestApplyGainCrossfadeMultiplier(t *testing.T) {
	in := NewInterleaved([]float32{1, 1, 1, 1}, 1)
	out := NewInterleaved(make([]float32, 4), 1)
	// Instant ramp at unity gain: output is exactly the multiplier product.
	ApplyGain(in, out, 1, GainParams{Target: 1, RampCoeff: 1, Crossfade: 0.5, Compensation: 0.8})
	want := float32(0.4)
	for i, s := range out.Data[0] {
		if math.Abs(float64(s-want)) > 1e-6 {
			t.Fatalf("sample %d: got %f, want %f", i, s, want)
		}
	}
}

func TestApplyGainInPlace(t *testing.T) {
	buf := NewInterleaved([]float32{0.5, 0.5}, 1)
	ApplyGain(buf, buf, 1, GainParams{Target: 1, RampCoeff: 1, Crossfade: 2, Compensation: 1})
	if buf.Data[0][0] != 1.0 {
		t.Errorf("in-place gain: got %f, want 1.0", buf.Data[0][0])
	}
}

func TestApplyGainLimitsBoostedSignal(t *testing.T) {
	const frames = 256
	in := NewInterleaved(make([]float32, frames), 1)
	out := NewInterleaved(make([]float32, frames), 1)
	for i := range in.Data[0] {
		in.Data[0][i] = 0.9
	}
	// Target 2.0 would produce 1.8 without the limiter.
	ApplyGain(in, out, 2, GainParams{Target: 2, RampCoeff: 1, Crossfade: 1, Compensation: 1})
	for i, s := range out.Data[0] {
		if s > LimitCeiling {
			t.Fatalf("sample %d exceeds ceiling: %f", i, s)
		}
		if s <= LimitThreshold {
			t.Fatalf("sample %d not boosted into the knee: %f", i, s)
		}
	}
}

func TestSoftLimitIdentityBelowThreshold(t *testing.T) {
	for _, x := range []float32{0, 0.1, -0.5, 0.95, -0.95} {
		if y := SoftLimit(x); y != x {
			t.Errorf("SoftLimit(%f) = %f, want identity", x, y)
		}
	}
}

func TestSoftLimitProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		x := rapid.Float32Range(-100, 100).Draw(rt, "x")
		y := SoftLimit(x)

		// Bounded by the ceiling.
		if y > LimitCeiling || y < -LimitCeiling {
			rt.Fatalf("SoftLimit(%f) = %f exceeds ceiling", x, y)
		}
		// Sign symmetric.
		if neg := SoftLimit(-x); neg != -y {
			rt.Fatalf("asymmetric: SoftLimit(%f)=%f, SoftLimit(%f)=%f", x, y, -x, neg)
		}
		// Monotonic.
		x2 := rapid.Float32Range(-100, 100).Draw(rt, "x2")
		y2 := SoftLimit(x2)
		if (x < x2 && y > y2) || (x > x2 && y < y2) {
			rt.Fatalf("not monotonic: f(%f)=%f, f(%f)=%f", x, y, x2, y2)
		}
	})
}

func TestSoftLimitContinuousAtThreshold(t *testing.T) {
	below := SoftLimit(LimitThreshold - 1e-4)
	above := SoftLimit(LimitThreshold + 1e-4)
	if math.Abs(float64(above-below)) > 1e-3 {
		t.Errorf("discontinuity at threshold: %f vs %f", below, above)
	}
}
