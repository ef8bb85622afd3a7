// Package tap implements the per-process tap controller: it owns the
// capture primitives for one tapped process, runs the real-time DSP
// chain in the IO callback, and performs crossfade and destructive
// device switches.
package tap

import (
	"math"
	"sync/atomic"
)

// BypassReason explains why the EQ stage was skipped for a callback.
type BypassReason int

const (
	BypassNonFloat BypassReason = iota
	BypassChannelMismatch
	BypassBufferMismatch
	BypassNoOutput
	BypassCrossfadeActive
	bypassReasonCount
)

func (r BypassReason) String() string {
	switch r {
	case BypassNonFloat:
		return "non-float"
	case BypassChannelMismatch:
		return "channel-mismatch"
	case BypassBufferMismatch:
		return "buffer-mismatch"
	case BypassNoOutput:
		return "no-output"
	case BypassCrossfadeActive:
		return "crossfade-active"
	default:
		return "unknown"
	}
}

// atomicFloat32 stores a float32 in an atomic.Uint32, the same trick the
// input-level meter uses: the RT thread writes bits, readers reassemble.
type atomicFloat32 struct {
	bits atomic.Uint32
}

func (a *atomicFloat32) Store(v float32) { a.bits.Store(math.Float32bits(v)) }
func (a *atomicFloat32) Load() float32   { return math.Float32frombits(a.bits.Load()) }

// atomicFloat64 is the float64 variant, used for the target gain.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (a *atomicFloat64) Store(v float64) { a.bits.Store(math.Float64bits(v)) }
func (a *atomicFloat64) Load() float64   { return math.Float64frombits(a.bits.Load()) }

// counters is the RT-safe diagnostic state. Every count is monotonic for
// the lifetime of the controller; none are reset except by controller
// replacement. The RT callback only ever adds to the counts and
// overwrites the last-peak fields; readers snapshot.
type counters struct {
	callbacks      atomic.Uint64
	inputHasData   atomic.Uint64
	outputWritten  atomic.Uint64
	silencedForced atomic.Uint64
	silencedMuted  atomic.Uint64
	converterUsed  atomic.Uint64
	converterFailed atomic.Uint64
	emptyInput     atomic.Uint64
	eqApplied      atomic.Uint64
	eqBypassed     [bypassReasonCount]atomic.Uint64

	lastInputPeak  atomicFloat32
	lastOutputPeak atomicFloat32
}

func (c *counters) bypass(reason BypassReason) {
	if reason >= 0 && reason < bypassReasonCount {
		c.eqBypassed[reason].Add(1)
	}
}

func (c *counters) totalBypassed() uint64 {
	var total uint64
	for i := range c.eqBypassed {
		total += c.eqBypassed[i].Load()
	}
	return total
}
