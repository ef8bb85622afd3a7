package tap

import "finetune/internal/capture"

// Snapshot is a point-in-time copy of every RT counter plus the control
// state the health predicates need. It holds plain values, never the
// live atomics, so callers can hand it around freely.
type Snapshot struct {
	Callbacks       uint64
	InputHasData    uint64
	OutputWritten   uint64
	SilencedForced  uint64
	SilencedMuted   uint64
	ConverterUsed   uint64
	ConverterFailed uint64
	EmptyInput      uint64
	EQApplied       uint64
	EQBypassed      map[BypassReason]uint64

	LastInputPeak  float32
	LastOutputPeak float32

	TargetVolume  float64
	CurrentVolume float32
	Muted         bool

	Format          capture.Format
	FormatKnown     bool
	CrossfadeActive bool
}

// TotalEQBypassed sums the per-reason bypass counts.
func (s Snapshot) TotalEQBypassed() uint64 {
	var total uint64
	for _, n := range s.EQBypassed {
		total += n
	}
	return total
}

// minHealthyCallbacks is how many callbacks must have run before the
// health predicates say anything; below this the tap is still warming.
const minHealthyCallbacks = 10

// ConfirmedWorking reports whether the capture path demonstrably moved
// audio: callbacks ran, output was written, input carried signal, and,
// unless the user has the volume effectively at zero, output had level.
// The volume bypass keeps a deliberately silenced session from being
// classified as broken.
func (s Snapshot) ConfirmedWorking() bool {
	if s.Callbacks <= minHealthyCallbacks || s.OutputWritten == 0 {
		return false
	}
	if s.InputHasData == 0 && s.LastInputPeak <= 0 {
		return false
	}
	if s.TargetVolume <= 0.01 {
		return true
	}
	return s.LastOutputPeak > 0.0001
}

// HasDeadOutput detects the bundle-tap failure signature: callbacks run
// and output is nominally written, but the output peak never moves.
func (s Snapshot) HasDeadOutput() bool {
	return s.Callbacks > minHealthyCallbacks &&
		s.OutputWritten > 0 &&
		s.LastOutputPeak == 0
}

// HasDeadInput detects the per-process-tap failure signature: callbacks
// run but no input sample ever carried signal.
func (s Snapshot) HasDeadInput() bool {
	return s.Callbacks > minHealthyCallbacks &&
		s.InputHasData == 0 &&
		s.LastInputPeak == 0
}
