package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"finetune/internal/dsp"
)

// FakeHost implements Host entirely in memory. Tap and engine tests
// drive it the way audio tests drive a mock stream: open taps record
// themselves, Produce invokes the installed IO callback with synthetic
// buffers, and failure/silence injection reproduces the host's
// characteristic failure modes.
type FakeHost struct {
	mu        sync.Mutex
	devices   []Device
	processes []ProcessInfo
	defaultD  Device

	// openErr fails OpenTap for a device UID with the given error.
	openErr map[string]error
	// silent marks device UIDs whose taps never invoke the IO callback,
	// reproducing a capture that opens fine but produces nothing.
	silent map[string]bool
	// formats overrides the reported capture format per device UID.
	formats map[string]Format

	// AutoProduceInterval, when nonzero, makes every started tap pump
	// synthetic buffers on its own goroutine, the way a real device does.
	AutoProduceInterval time.Duration
	// AutoProduceFrames is the frames per auto-produced callback.
	AutoProduceFrames int

	taps        []*FakeTap
	teardownLog []string

	subMu       sync.Mutex
	subscribers map[int]func(uid string, virtual bool)
	nextSubID   int
}

// NewFakeHost returns a host with the given devices; the first real
// device becomes the default output.
func NewFakeHost(devices ...Device) *FakeHost {
	h := &FakeHost{
		devices:           devices,
		openErr:           map[string]error{},
		silent:            map[string]bool{},
		formats:           map[string]Format{},
		subscribers:       map[int]func(string, bool){},
		AutoProduceFrames: 512,
	}
	for _, d := range devices {
		if d.Kind == DeviceReal {
			h.defaultD = d
			break
		}
	}
	return h
}

// SetDevices replaces the enumeration result.
func (h *FakeHost) SetDevices(devices ...Device) {
	h.mu.Lock()
	h.devices = devices
	h.mu.Unlock()
}

// SetProcesses replaces the process enumeration result.
func (h *FakeHost) SetProcesses(procs ...ProcessInfo) {
	h.mu.Lock()
	h.processes = procs
	h.mu.Unlock()
}

// SetDefaultOutput changes the default device without notifying.
func (h *FakeHost) SetDefaultOutput(d Device) {
	h.mu.Lock()
	h.defaultD = d
	h.mu.Unlock()
}

// FailOpen makes OpenTap on the device UID fail with err.
func (h *FakeHost) FailOpen(uid string, err error) {
	h.mu.Lock()
	h.openErr[uid] = err
	h.mu.Unlock()
}

// SetFormat overrides the capture format taps on the device UID report.
func (h *FakeHost) SetFormat(uid string, f Format) {
	h.mu.Lock()
	h.formats[uid] = f
	h.mu.Unlock()
}

// SilenceDevice makes taps on the device UID produce no callbacks.
func (h *FakeHost) SilenceDevice(uid string, silent bool) {
	h.mu.Lock()
	h.silent[uid] = silent
	h.mu.Unlock()
}

// Devices implements DeviceEnumerator.
func (h *FakeHost) Devices() ([]Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Device(nil), h.devices...), nil
}

// DefaultOutput implements DeviceEnumerator.
func (h *FakeHost) DefaultOutput() (Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.defaultD.UID == "" {
		return Device{}, ErrDeviceUnavailable
	}
	return h.defaultD, nil
}

// Processes implements ProcessEnumerator.
func (h *FakeHost) Processes() ([]ProcessInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ProcessInfo(nil), h.processes...), nil
}

// OnDefaultOutputChanged implements DefaultOutputNotifier.
func (h *FakeHost) OnDefaultOutputChanged(fn func(uid string, virtual bool)) (cancel func()) {
	h.subMu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = fn
	h.subMu.Unlock()
	return func() {
		h.subMu.Lock()
		delete(h.subscribers, id)
		h.subMu.Unlock()
	}
}

// NotifyDefaultOutput fires a default-output change to all subscribers.
func (h *FakeHost) NotifyDefaultOutput(uid string, virtual bool) {
	h.subMu.Lock()
	fns := make([]func(string, bool), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		fns = append(fns, fn)
	}
	h.subMu.Unlock()
	for _, fn := range fns {
		fn(uid, virtual)
	}
}

// OpenTap implements TapFactory.
func (h *FakeHost) OpenTap(desc TapDescriptor, io IOProc) (Primitive, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.openErr[desc.DeviceUID]; err != nil {
		return nil, err
	}
	if _, ok := DeviceByUID(h.devices, desc.DeviceUID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, desc.DeviceUID)
	}
	format, ok := h.formats[desc.DeviceUID]
	if !ok {
		format = Format{
			Channels:    2,
			Float:       true,
			Interleaved: true,
			SampleRate:  48000,
		}
	}
	t := &FakeTap{
		host:   h,
		Desc:   desc,
		io:     io,
		format: format,
		silent:         h.silent[desc.DeviceUID],
		stopPump:       make(chan struct{}),
		InputAmplitude: 0.5,
	}
	h.taps = append(h.taps, t)
	return t, nil
}

// Taps returns every tap opened so far, including destroyed ones.
func (h *FakeHost) Taps() []*FakeTap {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*FakeTap(nil), h.taps...)
}

// OpenTapCount returns how many taps were ever opened.
func (h *FakeHost) OpenTapCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.taps)
}

// LiveTaps returns taps that have not been destroyed.
func (h *FakeHost) LiveTaps() []*FakeTap {
	h.mu.Lock()
	defer h.mu.Unlock()
	var live []*FakeTap
	for _, t := range h.taps {
		if !t.destroyed.Load() {
			live = append(live, t)
		}
	}
	return live
}

// TeardownLog returns the recorded teardown steps in order.
func (h *FakeHost) TeardownLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.teardownLog...)
}

func (h *FakeHost) recordTeardown(step string) {
	h.mu.Lock()
	h.teardownLog = append(h.teardownLog, step)
	h.mu.Unlock()
}

// FakeTap is the primitive FakeHost hands out.
type FakeTap struct {
	host   *FakeHost
	Desc   TapDescriptor
	io     IOProc
	format Format
	silent bool

	started   atomic.Bool
	destroyed atomic.Bool
	stopPump  chan struct{}
	pumpOnce  sync.Once
	stopOnce  sync.Once

	// InputAmplitude is the synthetic input level Produce generates
	// (0.5 by default; 0 feeds silence).
	InputAmplitude float32

	produced   atomic.Uint64
	lastOutput []float32
	outMu      sync.Mutex
}

// Format implements Primitive.
func (t *FakeTap) Format() Format { return t.format }

// Started reports whether Start has run (and Stop has not).
func (t *FakeTap) Started() bool { return t.started.Load() }

// Destroyed reports whether Destroy has run.
func (t *FakeTap) Destroyed() bool { return t.destroyed.Load() }

// Start implements Primitive. With AutoProduceInterval set on the host
// and the device not silenced, it starts the pump goroutine.
func (t *FakeTap) Start() error {
	if t.destroyed.Load() {
		return fmt.Errorf("%w: start after destroy", ErrIORegistrationFailed)
	}
	t.started.Store(true)
	if t.host.AutoProduceInterval > 0 && !t.silent {
		t.pumpOnce.Do(func() {
			interval := t.host.AutoProduceInterval
			frames := t.host.AutoProduceFrames
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-t.stopPump:
						return
					case <-ticker.C:
						t.Produce(frames)
					}
				}
			}()
		})
	}
	return nil
}

// Stop implements Primitive.
func (t *FakeTap) Stop() error {
	t.started.Store(false)
	t.stopOnce.Do(func() { close(t.stopPump) })
	return nil
}

// Destroy implements Primitive, recording the spec'd teardown order.
func (t *FakeTap) Destroy() error {
	if t.destroyed.Swap(true) {
		return nil
	}
	t.started.Store(false)
	t.stopOnce.Do(func() { close(t.stopPump) })
	h := t.host
	uid := t.Desc.DeviceUID
	h.recordTeardown("stop-io:" + uid)
	h.recordTeardown("destroy-io:" + uid)
	h.recordTeardown("destroy-aggregate:" + uid)
	h.recordTeardown("destroy-tap:" + uid)
	return nil
}

// Produce synthesizes one IO callback of the given frame count. Returns
// false if the tap is not running or the device is silenced.
func (t *FakeTap) Produce(frames int) bool {
	if t.silent || !t.started.Load() || t.destroyed.Load() {
		return false
	}
	amp := t.InputAmplitude
	in := make([]float32, frames*t.format.Channels)
	for i := range in {
		in[i] = amp
	}
	out := make([]float32, frames*t.format.Channels)
	ts := t.produced.Add(uint64(frames))
	t.io(
		dsp.NewInterleaved(in, t.format.Channels),
		dsp.NewInterleaved(out, t.format.Channels),
		ts, ts,
	)
	t.outMu.Lock()
	t.lastOutput = out
	t.outMu.Unlock()
	return true
}

// ProduceSilence feeds one callback of all-zero input.
func (t *FakeTap) ProduceSilence(frames int) bool {
	if t.silent || !t.started.Load() || t.destroyed.Load() {
		return false
	}
	in := make([]float32, frames*t.format.Channels)
	out := make([]float32, frames*t.format.Channels)
	ts := t.produced.Add(uint64(frames))
	t.io(
		dsp.NewInterleaved(in, t.format.Channels),
		dsp.NewInterleaved(out, t.format.Channels),
		ts, ts,
	)
	t.outMu.Lock()
	t.lastOutput = out
	t.outMu.Unlock()
	return true
}

// LastOutput returns the output buffer from the most recent callback.
func (t *FakeTap) LastOutput() []float32 {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	return append([]float32(nil), t.lastOutput...)
}

// ProducedSamples returns the total frames delivered so far.
func (t *FakeTap) ProducedSamples() uint64 { return t.produced.Load() }
