// Package capture defines the narrow interface between the engine and
// the host OS audio layer: process taps, device enumeration, process
// enumeration, and default-output notifications.
//
// The engine and tap controllers only ever see these interfaces. The
// real host adapter wraps the OS tap primitives; FakeHost drives the
// same surface from tests; the PortAudio enumerator backs device listing
// where no tap API is needed.
package capture

import (
	"errors"

	"finetune/internal/dsp"
)

// Host-boundary errors. Wrapped host failures are matched with errors.Is.
var (
	ErrDeviceUnavailable      = errors.New("device not available")
	ErrCaptureCreationFailed  = errors.New("capture creation failed")
	ErrAggregateCreationFailed = errors.New("aggregate device creation failed")
	ErrIORegistrationFailed   = errors.New("io callback registration failed")
)

// DeviceKind classifies an enumerated device.
type DeviceKind int

const (
	DeviceReal DeviceKind = iota
	DeviceVirtual
	DeviceAggregate
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceVirtual:
		return "virtual"
	case DeviceAggregate:
		return "aggregate"
	default:
		return "real"
	}
}

// Device is one enumerated audio device. UID is stable across reconnects
// of the same physical device; ID is transient for the current boot.
type Device struct {
	ID       int
	UID      string
	Name     string
	Kind     DeviceKind
	Wireless bool
}

// ProcessInfo identifies a running process that emits audio. ObjectID
// and PID are the runtime identity; PersistenceID is the durable key
// under which settings are stored.
type ProcessInfo struct {
	ObjectID      uint32
	PID           int
	DisplayName   string
	Icon          []byte
	BundleID      string
	PersistenceID string
}

// Key returns the durable settings key for the process: the persistence
// ID when the host provides one, else the bundle ID.
func (p ProcessInfo) Key() string {
	if p.PersistenceID != "" {
		return p.PersistenceID
	}
	return p.BundleID
}

// MuteBehavior controls whether the host mutes the process's original
// output path while it is tapped.
type MuteBehavior int

const (
	Unmuted MuteBehavior = iota
	MutedWhenTapped
)

// TapDescriptor configures one capture primitive.
type TapDescriptor struct {
	Process     ProcessInfo
	DeviceUID   string
	Mute        MuteBehavior
	StreamIndex *int
	// UseBundleID selects the per-bundle tap family, which re-binds to
	// the same logical app across process restarts. Requires a nonempty
	// BundleID; per-process otherwise.
	UseBundleID bool
}

// Format describes the stream a primitive captured.
type Format struct {
	Channels    int
	Float       bool
	Interleaved bool
	SampleRate  float64
}

// IOProc is the real-time callback. It runs on the capture thread with
// input and output views valid only for the duration of the call, plus
// the host's sample-time stamps for each side.
type IOProc func(in, out dsp.Buffer, inSampleTime, outSampleTime uint64)

// Primitive is one open capture handle. Destroy tears down the IO
// callback, the aggregate, and the tap in that order; it is safe to call
// after Stop and exactly once.
type Primitive interface {
	Start() error
	Stop() error
	Destroy() error
	Format() Format
}

// TapFactory opens capture primitives.
type TapFactory interface {
	OpenTap(desc TapDescriptor, io IOProc) (Primitive, error)
}

// DeviceEnumerator lists output devices.
type DeviceEnumerator interface {
	Devices() ([]Device, error)
	DefaultOutput() (Device, error)
}

// ProcessEnumerator lists processes currently emitting (or able to emit)
// audio.
type ProcessEnumerator interface {
	Processes() ([]ProcessInfo, error)
}

// DefaultOutputNotifier delivers host default-output changes. The
// returned cancel unsubscribes.
type DefaultOutputNotifier interface {
	OnDefaultOutputChanged(fn func(uid string, virtual bool)) (cancel func())
}

// Host aggregates everything the engine needs from the OS audio layer.
type Host interface {
	TapFactory
	DeviceEnumerator
	ProcessEnumerator
	DefaultOutputNotifier
}

// DeviceByUID is a lookup helper over an enumeration result.
func DeviceByUID(devices []Device, uid string) (Device, bool) {
	for _, d := range devices {
		if d.UID == uid {
			return d, true
		}
	}
	return Device{}, false
}
