package dsp

import "math"

const (
	// DefaultRampTau is the time constant of the per-sample volume ramp.
	// 30 ms is short enough to feel immediate and long enough to avoid
	// zipper noise on coarse slider moves.
	DefaultRampTau = 0.030

	// LimitThreshold is where the soft limiter starts compressing.
	LimitThreshold = 0.95
	// LimitCeiling is the asymptotic maximum output magnitude.
	LimitCeiling = 1.0
)

// RampCoefficient returns the one-pole smoothing coefficient for the gain
// ramp at the given sample rate and time constant. The result is in (0, 1);
// degenerate inputs fall back to an instant ramp.
func RampCoefficient(sampleRate, tau float64) float32 {
	if sampleRate <= 0 || tau <= 0 {
		return 1
	}
	return float32(1 - math.Exp(-1/(sampleRate*tau)))
}

// GainParams carries the per-callback gain inputs. Target is the user's
// chosen linear gain; Crossfade and Compensation are multipliers applied
// after the ramp (crossfade curve position and any device-level makeup).
type GainParams struct {
	Target       float32
	RampCoeff    float32
	Crossfade    float32
	Compensation float32
}

// SoftLimit compresses magnitudes above LimitThreshold onto
// (LimitThreshold, LimitCeiling). Below the threshold it is the identity;
// above, the curve is continuous, monotonic, sign-symmetric, and
// asymptotic to the ceiling.
func SoftLimit(x float32) float32 {
	mag := x
	if mag < 0 {
		mag = -mag
	}
	if mag <= LimitThreshold {
		return x
	}
	const knee = LimitCeiling - LimitThreshold
	over := mag - LimitThreshold
	y := LimitThreshold + knee*over/(over+knee)
	if x < 0 {
		return -y
	}
	return y
}

// ApplyGain writes in × ramped-gain × crossfade × compensation into out and
// returns the updated ramp state. The ramp advances once per frame:
//
//	g ← g + α·(target − g)
//
// which converges on the target without overshoot for any α in (0, 1].
// When the target exceeds unity the output passes through the soft
// limiter, since a boosted float stream can leave (-1, 1).
//
// in and out may alias (in-place processing). On channel-count or frame
// mismatch only the overlapping region is written; the caller zeroes out
// first if it needs defined trailing samples.
func ApplyGain(in, out Buffer, current float32, p GainParams) float32 {
	if !in.Valid() || !out.Valid() {
		return current
	}

	alpha := p.RampCoeff
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	limit := p.Target > 1.0

	frames := in.Frames
	if out.Frames < frames {
		frames = out.Frames
	}
	chans := in.Channels
	if out.Channels < chans {
		chans = out.Channels
	}
	post := p.Crossfade * p.Compensation

	g := current
	if in.Interleaved && out.Interleaved && in.Channels == out.Channels {
		src := in.Data[0]
		dst := out.Data[0]
		idx := 0
		for fr := 0; fr < frames; fr++ {
			g += alpha * (p.Target - g)
			m := g * post
			for ch := 0; ch < chans; ch++ {
				y := src[idx] * m
				if limit {
					y = SoftLimit(y)
				}
				dst[idx] = y
				idx++
			}
		}
		return g
	}

	for fr := 0; fr < frames; fr++ {
		g += alpha * (p.Target - g)
		m := g * post
		for ch := 0; ch < chans; ch++ {
			y := in.Sample(ch, fr) * m
			if limit {
				y = SoftLimit(y)
			}
			out.SetSample(ch, fr, y)
		}
	}
	return g
}
