package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioEnumerator backs DeviceEnumerator with PortAudio. Process
// taps are an OS-specific primitive PortAudio does not expose, so this
// adapter only serves enumeration (the `devices` CLI verb and display
// resolution) while the tap factory comes from the platform host.
type PortAudioEnumerator struct {
	mu     sync.Mutex
	inited bool
}

// NewPortAudioEnumerator initializes PortAudio. Call Close when done;
// PortAudio keeps an initialization refcount.
func NewPortAudioEnumerator() (*PortAudioEnumerator, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &PortAudioEnumerator{inited: true}, nil
}

// Close terminates PortAudio.
func (e *PortAudioEnumerator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inited {
		return nil
	}
	e.inited = false
	return portaudio.Terminate()
}

// Devices implements DeviceEnumerator, listing output-capable devices.
func (e *PortAudioEnumerator) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	var out []Device
	for i, d := range infos {
		if d.MaxOutputChannels <= 0 {
			continue
		}
		out = append(out, deviceFromInfo(i, d))
	}
	return out, nil
}

// DefaultOutput implements DeviceEnumerator.
func (e *PortAudioEnumerator) DefaultOutput() (Device, error) {
	d, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return Device{}, fmt.Errorf("default output: %w", err)
	}
	return deviceFromInfo(d.Index, d), nil
}

func deviceFromInfo(index int, d *portaudio.DeviceInfo) Device {
	return Device{
		ID:       index,
		UID:      deviceUID(d),
		Name:     d.Name,
		Kind:     classifyDevice(d.Name),
		Wireless: looksWireless(d.Name),
	}
}

// deviceUID builds a stable identifier from the host API and device
// name. PortAudio has no persistent UID of its own; name + host API is
// stable across reconnects of the same physical device, which is all
// the routing layer needs.
func deviceUID(d *portaudio.DeviceInfo) string {
	api := "unknown"
	if d.HostApi != nil {
		api = strings.ToLower(strings.ReplaceAll(d.HostApi.Name, " ", "-"))
	}
	name := strings.ToLower(strings.ReplaceAll(d.Name, " ", "-"))
	return api + ":" + name
}

func classifyDevice(name string) DeviceKind {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "aggregate"):
		return DeviceAggregate
	case strings.Contains(lower, "virtual") || strings.Contains(lower, "loopback"):
		return DeviceVirtual
	default:
		return DeviceReal
	}
}

// looksWireless guesses the transport from the device name. The guess
// only widens the crossfade warmup ceiling, so a miss costs a fallback
// to the destructive switch, not a failure.
func looksWireless(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range []string{"bluetooth", "airpods", "wireless", "bt "} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
