package dsp

import (
	"math"
	"testing"
)

// peakingSection computes an RBJ peaking section directly, so the cascade
// runtime is exercised against independently derived coefficients.
func peakingSection(freq, gainDB, q, rate float64) BiquadCoeffs {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / rate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	a0 := 1 + alpha/a
	return BiquadCoeffs{
		B0: (1 + alpha*a) / a0,
		B1: (-2 * cosw0) / a0,
		B2: (1 - alpha*a) / a0,
		A1: (-2 * cosw0) / a0,
		A2: (1 - alpha/a) / a0,
	}
}

// sineRMSThrough runs a steady sine through the cascade and returns the
// output RMS over the second half, past the filter transient.
func sineRMSThrough(c *Cascade, freq, rate float64, frames int) float64 {
	data := make([]float32, frames)
	for i := range data {
		data[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	buf := NewInterleaved(data, 1)
	c.Process(buf)
	var sum float64
	half := frames / 2
	for _, s := range data[half:] {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(half))
}

func TestCascadePassthrough(t *testing.T) {
	c := NewCascade(10, 2)
	orig := makeSine(2, 128, 0.7)
	processed := makeSine(2, 128, 0.7)
	c.Process(processed)
	for i := range orig.Data[0] {
		if processed.Data[0][i] != orig.Data[0][i] {
			t.Fatalf("identity cascade changed sample %d", i)
		}
	}
}

func TestCascadeBoostAtCenter(t *testing.T) {
	const (
		rate   = 48000.0
		center = 1000.0
		gainDB = 6.0
	)
	c := NewCascade(1, 1)
	c.SetCoeffs([]BiquadCoeffs{peakingSection(center, gainDB, 1.0, rate)})

	inRMS := 0.5 / math.Sqrt2
	outRMS := sineRMSThrough(c, center, rate, 48000)
	gotDB := 20 * math.Log10(outRMS/inRMS)
	if math.Abs(gotDB-gainDB) > 0.2 {
		t.Errorf("gain at center: got %.2f dB, want %.2f dB", gotDB, gainDB)
	}
}

func TestCascadeCutFarFromCenter(t *testing.T) {
	const rate = 48000.0
	c := NewCascade(1, 1)
	c.SetCoeffs([]BiquadCoeffs{peakingSection(8000, -12, 1.0, rate)})

	// A 100 Hz tone is far outside the 8 kHz band: response stays ~unity.
	inRMS := 0.5 / math.Sqrt2
	outRMS := sineRMSThrough(c, 100, rate, 48000)
	gotDB := 20 * math.Log10(outRMS/inRMS)
	if math.Abs(gotDB) > 0.5 {
		t.Errorf("out-of-band response: got %.2f dB, want ~0 dB", gotDB)
	}
}

func TestMagnitudeAtMatchesMeasuredResponse(t *testing.T) {
	const rate = 48000.0
	co := []BiquadCoeffs{peakingSection(1000, 6, 1.0, rate)}

	predicted := MagnitudeAt(co, 1000, rate)
	c := NewCascade(1, 1)
	c.SetCoeffs(co)
	inRMS := 0.5 / math.Sqrt2
	measured := sineRMSThrough(c, 1000, rate, 48000) / inRMS

	if math.Abs(20*math.Log10(predicted)-20*math.Log10(measured)) > 0.3 {
		t.Errorf("predicted %.3f vs measured %.3f", predicted, measured)
	}
}

func TestMagnitudeAtIdentity(t *testing.T) {
	co := []BiquadCoeffs{IdentityCoeffs, IdentityCoeffs}
	for _, f := range []float64{20, 1000, 20000} {
		if m := MagnitudeAt(co, f, 48000); math.Abs(m-1) > 1e-12 {
			t.Errorf("identity response at %.0f Hz: %f", f, m)
		}
	}
}

func TestCascadeChannelMismatchIgnored(t *testing.T) {
	c := NewCascade(1, 2)
	c.SetCoeffs([]BiquadCoeffs{peakingSection(1000, 12, 1.0, 48000)})
	mono := makeSine(1, 64, 0.5)
	before := append([]float32(nil), mono.Data[0]...)
	c.Process(mono)
	for i := range before {
		if mono.Data[0][i] != before[i] {
			t.Fatal("cascade processed a buffer with the wrong channel count")
		}
	}
}

func TestCascadeReset(t *testing.T) {
	c := NewCascade(1, 1)
	c.SetCoeffs([]BiquadCoeffs{peakingSection(1000, 18, 0.9, 48000)})
	_ = sineRMSThrough(c, 1000, 48000, 4096)

	c.Reset()
	for _, st := range c.z {
		if st[0] != 0 || st[1] != 0 {
			t.Fatal("filter state not cleared by Reset")
		}
	}
}

func TestCascadePlanarMatchesInterleaved(t *testing.T) {
	co := []BiquadCoeffs{peakingSection(2000, 6, 1.0, 48000)}

	inter := makeSine(2, 256, 0.4)
	ci := NewCascade(1, 2)
	ci.SetCoeffs(co)
	ci.Process(inter)

	left := make([]float32, 256)
	right := make([]float32, 256)
	ref := makeSine(2, 256, 0.4)
	for fr := 0; fr < 256; fr++ {
		left[fr] = ref.Sample(0, fr)
		right[fr] = ref.Sample(1, fr)
	}
	planar := NewPlanar([][]float32{left, right})
	cp := NewCascade(1, 2)
	cp.SetCoeffs(co)
	cp.Process(planar)

	for fr := 0; fr < 256; fr++ {
		if math.Abs(float64(planar.Sample(0, fr)-inter.Sample(0, fr))) > 1e-6 {
			t.Fatalf("layout divergence at frame %d", fr)
		}
	}
}
