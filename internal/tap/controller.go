package tap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"finetune/internal/capture"
	"finetune/internal/crossfade"
	"finetune/internal/dsp"
	"finetune/internal/eq"
)

// Stream roles. A stream opens as secondary during a crossfade and is
// promoted to primary when the blend completes; the initial stream opens
// directly as primary.
const (
	rolePrimary int32 = iota
	roleSecondary
)

// eqState is the control-side EQ block the RT thread reads through an
// atomic pointer. A new block is allocated on every change; streams
// compare generations and copy coefficients into their preallocated
// cascades, so the RT side never holds a reference past the callback.
type eqState struct {
	coeffs  []dsp.BiquadCoeffs
	enabled bool
	gen     uint64
}

// stream is one open capture primitive plus its RT-only DSP state.
type stream struct {
	prim capture.Primitive
	role atomic.Int32

	// gain is the attained ramp state. Only the RT callback writes it;
	// it is atomic so Diagnostics can read it without tearing.
	gain atomicFloat32

	// RT-only: the per-stream cascade and the generation of the
	// coefficients currently loaded into it.
	cascade   *dsp.Cascade
	rampCoeff float32
	eqGen     uint64

	// resetGain makes the next callback restart the ramp from zero,
	// used for the fade-in after a destructive switch.
	resetGain atomic.Bool
}

// Config configures a Controller.
type Config struct {
	MuteBehavior capture.MuteBehavior
	// UseBundleID selects the per-bundle tap family when the process has
	// a bundle identifier (§ capture.TapDescriptor).
	UseBundleID bool
	// GainCeiling bounds SetVolume. Zero means DefaultGainCeiling.
	GainCeiling float64
	Logger      *log.Logger
}

// DefaultGainCeiling is the maximum settable linear gain.
const DefaultGainCeiling = 2.0

// Controller owns the capture primitives and DSP chain for one tapped
// process. The engine is its only owner; all control-side methods are
// safe for concurrent use, and the RT callback communicates with them
// exclusively through atomics.
type Controller struct {
	log     *log.Logger
	factory capture.TapFactory
	proc    capture.ProcessInfo
	cfg     Config

	// switchMu serializes SwitchDevice bodies: a superseded switch must
	// finish releasing its resources before the superseding one touches
	// the stream slots. Held across suspension points, so never acquire
	// it from mu's critical sections.
	switchMu sync.Mutex

	mu        sync.Mutex // guards primary, secondary, targetUID
	primary   *stream
	secondary *stream
	targetUID string

	targetGain   atomicFloat64
	muted        atomic.Bool
	forceSilence atomic.Bool
	eqBlock      atomic.Pointer[eqState]
	eqGen        atomic.Uint64
	eqSettings   atomic.Pointer[eq.Settings]

	format atomic.Pointer[capture.Format]
	xfade  crossfade.Machine
	ctrs   counters
}

// New returns a controller for proc. It does not open any capture; call
// Start with the initial device.
func New(factory capture.TapFactory, proc capture.ProcessInfo, cfg Config) *Controller {
	if cfg.GainCeiling <= 0 {
		cfg.GainCeiling = DefaultGainCeiling
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	c := &Controller{
		log:     logger.WithPrefix("tap").With("app", proc.Key()),
		factory: factory,
		proc:    proc,
		cfg:     cfg,
	}
	c.targetGain.Store(1.0)
	flat := &eq.Settings{}
	c.eqSettings.Store(flat)
	return c
}

// Process returns the process this controller taps.
func (c *Controller) Process() capture.ProcessInfo { return c.proc }

// DeviceUID returns the current target device.
func (c *Controller) DeviceUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetUID
}

// Start opens the primary capture on the given device and starts it.
func (c *Controller) Start(deviceUID string) error {
	c.mu.Lock()
	if c.primary != nil {
		c.mu.Unlock()
		return fmt.Errorf("tap already started")
	}
	c.mu.Unlock()

	s, err := c.openStream(deviceUID, rolePrimary)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.primary = s
	c.targetUID = deviceUID
	c.mu.Unlock()
	c.log.Debug("tap started", "device", deviceUID)
	return nil
}

// Stop destroys every capture primitive. The controller cannot be
// restarted afterwards; the engine replaces it instead.
func (c *Controller) Stop() {
	// Wait out any in-flight switch; the engine cancels its token first,
	// so this resolves within one poll interval.
	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	c.mu.Lock()
	primary, secondary := c.primary, c.secondary
	c.primary, c.secondary = nil, nil
	c.mu.Unlock()

	c.xfade.Complete()
	if secondary != nil {
		secondary.destroy()
	}
	if primary != nil {
		primary.destroy()
	}
	c.log.Debug("tap stopped")
}

// SetVolume stores the target linear gain, clamped to [0, ceiling]. The
// RT ramp smooths the transition. Volume zero is audibly mute but kept
// distinct from the mute flag so unmuting restores the chosen level.
func (c *Controller) SetVolume(gain float64) {
	if gain < 0 {
		gain = 0
	}
	if gain > c.cfg.GainCeiling {
		gain = c.cfg.GainCeiling
	}
	c.targetGain.Store(gain)
}

// Volume returns the target gain.
func (c *Controller) Volume() float64 { return c.targetGain.Load() }

// SetMute stores the mute flag.
func (c *Controller) SetMute(muted bool) { c.muted.Store(muted) }

// Muted returns the mute flag.
func (c *Controller) Muted() bool { return c.muted.Load() }

// SetEQ installs new EQ settings. Coefficients are computed for the
// captured sample rate (48 kHz until the first capture reveals one) and
// published to the RT thread by atomic pointer swap.
func (c *Controller) SetEQ(settings eq.Settings) {
	s := settings
	s.BandGains = s.BandGains.Clamped()
	c.eqSettings.Store(&s)
	c.publishEQ(&s)
}

// EQ returns the current EQ settings.
func (c *Controller) EQ() eq.Settings {
	return *c.eqSettings.Load()
}

func (c *Controller) publishEQ(s *eq.Settings) {
	rate := 48000.0
	if f := c.format.Load(); f != nil && f.SampleRate > 0 {
		rate = f.SampleRate
	}
	block := &eqState{
		enabled: s.Enabled && !s.BandGains.IsFlat(),
		gen:     c.eqGen.Add(1),
	}
	if block.enabled {
		block.coeffs = eq.CascadeCoefficients(s.BandGains, rate)
	}
	c.eqBlock.Store(block)
}

// Diagnostics returns an atomic snapshot of the RT counters and the
// control state the health predicates need.
func (c *Controller) Diagnostics() Snapshot {
	snap := Snapshot{
		Callbacks:       c.ctrs.callbacks.Load(),
		InputHasData:    c.ctrs.inputHasData.Load(),
		OutputWritten:   c.ctrs.outputWritten.Load(),
		SilencedForced:  c.ctrs.silencedForced.Load(),
		SilencedMuted:   c.ctrs.silencedMuted.Load(),
		ConverterUsed:   c.ctrs.converterUsed.Load(),
		ConverterFailed: c.ctrs.converterFailed.Load(),
		EmptyInput:      c.ctrs.emptyInput.Load(),
		EQApplied:       c.ctrs.eqApplied.Load(),
		EQBypassed:      make(map[BypassReason]uint64, int(bypassReasonCount)),
		LastInputPeak:   c.ctrs.lastInputPeak.Load(),
		LastOutputPeak:  c.ctrs.lastOutputPeak.Load(),
		TargetVolume:    c.targetGain.Load(),
		Muted:           c.muted.Load(),
		CrossfadeActive: c.xfade.Active(),
	}
	for r := BypassReason(0); r < bypassReasonCount; r++ {
		if n := c.ctrs.eqBypassed[r].Load(); n > 0 {
			snap.EQBypassed[r] = n
		}
	}
	if f := c.format.Load(); f != nil {
		snap.Format = *f
		snap.FormatKnown = true
	}
	c.mu.Lock()
	if c.primary != nil {
		snap.CurrentVolume = c.primary.gain.Load()
	}
	c.mu.Unlock()
	return snap
}

// openStream opens and starts a capture primitive on the device, wiring
// its IO callback to this controller.
func (c *Controller) openStream(deviceUID string, role int32) (*stream, error) {
	s := &stream{}
	s.role.Store(role)

	desc := capture.TapDescriptor{
		Process:     c.proc,
		DeviceUID:   deviceUID,
		Mute:        c.cfg.MuteBehavior,
		UseBundleID: c.cfg.UseBundleID && c.proc.BundleID != "",
	}
	prim, err := c.factory.OpenTap(desc, func(in, out dsp.Buffer, inTS, outTS uint64) {
		c.process(s, in, out)
	})
	if err != nil {
		return nil, fmt.Errorf("open tap for %s on %s: %w", c.proc.Key(), deviceUID, err)
	}
	s.prim = prim

	f := prim.Format()
	s.cascade = dsp.NewCascade(eq.BandCount, f.Channels)
	s.rampCoeff = dsp.RampCoefficient(f.SampleRate, dsp.DefaultRampTau)
	s.gain.Store(float32(c.targetGain.Load()))

	// The format is known at open time (the descriptor negotiates it);
	// publish it and recompute EQ coefficients for the real sample rate.
	if c.format.Load() == nil {
		c.format.Store(&f)
		c.publishEQ(c.eqSettings.Load())
	}

	if err := prim.Start(); err != nil {
		_ = prim.Destroy()
		return nil, fmt.Errorf("start tap for %s on %s: %w", c.proc.Key(), deviceUID, err)
	}
	return s, nil
}

// destroy stops and tears down the stream's primitive. The primitive's
// Destroy performs the ordered teardown (stop IO, destroy IO, destroy
// aggregate, destroy tap); reversing that order leaks kernel resources.
func (s *stream) destroy() {
	if s.prim == nil {
		return
	}
	_ = s.prim.Stop()
	_ = s.prim.Destroy()
}

// process is the RT callback body. It must not allocate, lock, block, or
// call into user code.
func (c *Controller) process(s *stream, in, out dsp.Buffer) {
	c.ctrs.callbacks.Add(1)

	f := c.format.Load()
	if f == nil {
		nf := s.prim.Format()
		c.format.Store(&nf)
		f = &nf
	}

	if !out.Valid() {
		c.ctrs.converterFailed.Add(1)
		if block := c.eqBlock.Load(); block != nil && block.enabled {
			c.ctrs.bypass(BypassNoOutput)
		}
		return
	}
	if !in.Valid() || in.Frames == 0 {
		c.ctrs.emptyInput.Add(1)
		dsp.Zero(out)
		return
	}
	if dsp.HasSignal(in) {
		c.ctrs.inputHasData.Add(1)
	}

	// A warming or crossfading secondary advances the blend timeline
	// regardless of what the chain below does with the samples.
	if s.role.Load() == roleSecondary {
		c.xfade.Update(in.Frames)
	}

	if c.forceSilence.Load() {
		dsp.Zero(out)
		c.ctrs.silencedForced.Add(1)
		return
	}
	if c.muted.Load() {
		dsp.Zero(out)
		c.ctrs.silencedMuted.Add(1)
		return
	}
	if !f.Float {
		// Non-float stream: degrade to copy-through, no gain, no EQ.
		dsp.Zero(out)
		dsp.Copy(out, in)
		c.ctrs.converterUsed.Add(1)
		if block := c.eqBlock.Load(); block != nil && block.enabled {
			c.ctrs.bypass(BypassNonFloat)
		}
		return
	}

	target := float32(c.targetGain.Load())
	gain := s.gain.Load()
	if s.resetGain.Swap(false) {
		gain = 0
	}
	if target <= 0.0001 && gain <= 0.0001 {
		// Both target and attained gain indicate silence; skip the chain.
		s.gain.Store(gain)
		dsp.Zero(out)
		return
	}

	c.runEQ(s, in)

	primaryMul, secondaryMul := c.xfade.Multipliers()
	mul := primaryMul
	if s.role.Load() == roleSecondary {
		mul = secondaryMul
	}
	s.gain.Store(dsp.ApplyGain(in, out, gain, dsp.GainParams{
		Target:       target,
		RampCoeff:    s.rampCoeff,
		Crossfade:    mul,
		Compensation: 1,
	}))

	inPeak := dsp.Peak(in)
	outPeak := dsp.Peak(out)
	c.ctrs.lastInputPeak.Store(inPeak)
	c.ctrs.lastOutputPeak.Store(outPeak)
	if outPeak > 0 {
		c.ctrs.outputWritten.Add(1)
	}
}

// runEQ applies the biquad cascade in place on the input view, or counts
// the applicable bypass reason.
func (c *Controller) runEQ(s *stream, in dsp.Buffer) {
	block := c.eqBlock.Load()
	if block == nil || !block.enabled {
		return
	}
	switch {
	case c.xfade.Active():
		c.ctrs.bypass(BypassCrossfadeActive)
		return
	case in.Channels != s.cascade.Channels():
		c.ctrs.bypass(BypassChannelMismatch)
		return
	case len(in.Data) == 0 || (!in.Interleaved && len(in.Data) < in.Channels):
		c.ctrs.bypass(BypassBufferMismatch)
		return
	}
	if block.gen != s.eqGen {
		s.cascade.SetCoeffs(block.coeffs)
		s.eqGen = block.gen
	}
	s.cascade.Process(in)
	c.ctrs.eqApplied.Add(1)
}
