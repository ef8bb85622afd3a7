// Package crossfade implements the state machine that migrates a tapped
// process from one output device to another without gaps or double audio.
//
// The machine has three states. WarmingUp keeps the old (primary) stream
// at full gain while the new (secondary) capture spins up: wireless
// devices can take hundreds of milliseconds to produce their first
// buffer, and fading against silence would be an audible dropout. Only
// once the secondary has actually produced WarmupSampleThreshold samples
// does Crossfading start the equal-power blend, timed in samples so it
// tracks the device clock rather than wall time.
//
// State transitions happen on the control goroutine; Update and the
// multiplier reads happen on audio callbacks. All fields are atomics so
// neither side ever takes a lock.
package crossfade

import (
	"math"
	"sync/atomic"
	"time"
)

// State is the crossfade phase tag.
type State int32

const (
	// Idle means no switch is in flight; a single primary stream plays.
	Idle State = iota
	// WarmingUp means the secondary capture is open but has not yet
	// produced enough samples to blend against.
	WarmingUp
	// Crossfading means both streams are audible under the equal-power
	// curve.
	Crossfading
)

func (s State) String() string {
	switch s {
	case WarmingUp:
		return "warming-up"
	case Crossfading:
		return "crossfading"
	default:
		return "idle"
	}
}

const (
	// WarmupSampleThreshold is how many samples the secondary must produce
	// before the blend starts. 2048 samples (~43 ms at 48 kHz) is enough
	// to know the stream is really flowing.
	WarmupSampleThreshold = 2048

	// Duration is the length of the equal-power blend.
	Duration = 50 * time.Millisecond
)

// TotalSamples converts Duration to a sample count at the given rate.
func TotalSamples(sampleRate float64) uint64 {
	if sampleRate <= 0 {
		return 0
	}
	return uint64(math.Ceil(sampleRate * Duration.Seconds()))
}

// Multipliers computes the (primary, secondary) gain multipliers for a
// state and progress. It is a pure function; Machine wraps it with the
// atomic storage.
//
// Idle returns (1, 1): after a completed switch the promoted stream must
// play at full gain no matter which slot the callback thinks it is in.
// The exception is the dead zone (progress has reached 1 but Complete
// has not yet run), where the primary returns 0 so the instant before
// promotion never sums both streams at full level.
func Multipliers(s State, progress float64) (primary, secondary float32) {
	switch s {
	case WarmingUp:
		return 1, 0
	case Crossfading:
		if progress < 0 {
			progress = 0
		}
		if progress >= 1 {
			// Dead zone: the blend is done but Complete has not run. An
			// exact zero (cos(π/2) is merely ~1e-17) keeps the retiring
			// primary fully silent until promotion.
			return 0, 1
		}
		return float32(math.Cos(progress * math.Pi / 2)),
			float32(math.Sin(progress * math.Pi / 2))
	default:
		if progress >= 1 {
			return 0, 1
		}
		return 1, 1
	}
}

// Machine is the lock-free crossfade state holder owned by one tap
// controller. The zero value is an Idle machine.
type Machine struct {
	state            atomic.Int32
	progressBits     atomic.Uint64 // float64 bits
	samplesObserved  atomic.Uint64 // advances in WarmingUp and Crossfading
	secondarySamples atomic.Uint64 // advances in Crossfading only
	totalSamples     atomic.Uint64
}

// Begin enters WarmingUp for a crossfade timed at the given sample rate,
// resetting all counters. Calling it from any state restarts cleanly.
func (m *Machine) Begin(sampleRate float64) {
	m.progressBits.Store(0)
	m.samplesObserved.Store(0)
	m.secondarySamples.Store(0)
	m.totalSamples.Store(TotalSamples(sampleRate))
	m.state.Store(int32(WarmingUp))
}

// BeginCrossfading moves WarmingUp → Crossfading. The counters reset so
// the blend timeline starts at zero the moment both streams are audible.
func (m *Machine) BeginCrossfading() {
	m.progressBits.Store(0)
	m.samplesObserved.Store(0)
	m.secondarySamples.Store(0)
	m.state.Store(int32(Crossfading))
}

// Complete returns to Idle and resets every counter. After Complete both
// multipliers are 1.
func (m *Machine) Complete() {
	m.state.Store(int32(Idle))
	m.progressBits.Store(0)
	m.samplesObserved.Store(0)
	m.secondarySamples.Store(0)
	m.totalSamples.Store(0)
}

// Update records samples produced by the secondary stream and returns the
// new progress. The observed counter advances in both WarmingUp and
// Crossfading; progress only advances while Crossfading.
func (m *Machine) Update(samples int) float64 {
	if samples <= 0 {
		return m.Progress()
	}
	s := State(m.state.Load())
	if s != WarmingUp && s != Crossfading {
		return m.Progress()
	}
	m.samplesObserved.Add(uint64(samples))
	if s != Crossfading {
		return m.Progress()
	}
	sec := m.secondarySamples.Add(uint64(samples))
	total := m.totalSamples.Load()
	p := 1.0
	if total > 0 {
		p = float64(sec) / float64(total)
		if p > 1 {
			p = 1
		}
	}
	m.progressBits.Store(math.Float64bits(p))
	return p
}

// State returns the current phase tag.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Active reports whether a crossfade is in flight (not Idle).
func (m *Machine) Active() bool {
	return m.State() != Idle
}

// Progress returns the blend position in [0, 1].
func (m *Machine) Progress() float64 {
	return math.Float64frombits(m.progressBits.Load())
}

// SamplesObserved returns how many secondary samples have been seen since
// the last Begin or BeginCrossfading.
func (m *Machine) SamplesObserved() uint64 {
	return m.samplesObserved.Load()
}

// WarmupComplete reports whether the secondary has produced enough
// samples to start the blend.
func (m *Machine) WarmupComplete() bool {
	return m.samplesObserved.Load() >= WarmupSampleThreshold
}

// CrossfadeComplete reports whether the blend has reached the end.
func (m *Machine) CrossfadeComplete() bool {
	return m.Progress() >= 1.0
}

// Multipliers returns the (primary, secondary) gains for the current
// state and progress.
func (m *Machine) Multipliers() (primary, secondary float32) {
	// Load order matters: reading progress first could pair a stale
	// progress with a newer state, but state-then-progress at worst pairs
	// a newer progress with an older state, and every (state, progress)
	// pair that can produce is a value the machine actually passed
	// through.
	s := State(m.state.Load())
	return Multipliers(s, m.Progress())
}
