package main

import (
	"fmt"
	"sync"
	"time"

	"finetune/internal/capture"
)

// defaultOutputPollInterval is how often the CLI host compares the
// current default output against the last one it reported.
const defaultOutputPollInterval = 2 * time.Second

// cliHost is the capture.Host this build runs against: device
// enumeration and default-output change detection come from PortAudio;
// process taps are an OS tap-API primitive PortAudio cannot provide, so
// OpenTap reports capture creation failure and the engine keeps per-app
// state persisted without a live tap. The platform host that owns the
// real tap primitives satisfies the same interface.
type cliHost struct {
	enum *capture.PortAudioEnumerator

	mu          sync.Mutex
	subscribers map[int]func(uid string, virtual bool)
	nextSubID   int
	pollStop    chan struct{}
	pollOnce    sync.Once
	closeOnce   sync.Once
	lastDefault string
}

func newCLIHost() (*cliHost, error) {
	enum, err := capture.NewPortAudioEnumerator()
	if err != nil {
		return nil, err
	}
	return &cliHost{
		enum:        enum,
		subscribers: map[int]func(string, bool){},
		pollStop:    make(chan struct{}),
	}, nil
}

func (h *cliHost) Close() error {
	h.closeOnce.Do(func() { close(h.pollStop) })
	return h.enum.Close()
}

func (h *cliHost) Devices() ([]capture.Device, error) {
	return h.enum.Devices()
}

func (h *cliHost) DefaultOutput() (capture.Device, error) {
	return h.enum.DefaultOutput()
}

func (h *cliHost) Processes() ([]capture.ProcessInfo, error) {
	return nil, nil
}

func (h *cliHost) OpenTap(desc capture.TapDescriptor, io capture.IOProc) (capture.Primitive, error) {
	return nil, fmt.Errorf("%w: process taps need the platform host", capture.ErrCaptureCreationFailed)
}

// OnDefaultOutputChanged polls PortAudio's default output and notifies
// on change. PortAudio has no change callback, so polling stands in for
// the host notification.
func (h *cliHost) OnDefaultOutputChanged(fn func(uid string, virtual bool)) (cancel func()) {
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = fn
	h.mu.Unlock()

	h.pollOnce.Do(func() {
		if d, err := h.DefaultOutput(); err == nil {
			h.mu.Lock()
			h.lastDefault = d.UID
			h.mu.Unlock()
		}
		go h.pollDefaultOutput()
	})

	return func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
	}
}

func (h *cliHost) pollDefaultOutput() {
	ticker := time.NewTicker(defaultOutputPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.pollStop:
			return
		case <-ticker.C:
			d, err := h.DefaultOutput()
			if err != nil {
				continue
			}
			h.mu.Lock()
			changed := d.UID != h.lastDefault
			if changed {
				h.lastDefault = d.UID
			}
			fns := make([]func(string, bool), 0, len(h.subscribers))
			for _, fn := range h.subscribers {
				fns = append(fns, fn)
			}
			h.mu.Unlock()
			if !changed {
				continue
			}
			virtual := d.Kind == capture.DeviceVirtual
			for _, fn := range fns {
				fn(d.UID, virtual)
			}
		}
	}
}
