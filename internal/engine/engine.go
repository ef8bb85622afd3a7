// Package engine implements the top-level coordinator: one tap
// controller per tapped process, serialized per-app device switches with
// cancellation, persisted-settings restore at startup, and the
// device-display resolution the UI rows use.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"finetune/internal/capture"
	"finetune/internal/config"
	"finetune/internal/eq"
	"finetune/internal/settings"
	"finetune/internal/tap"
	"finetune/internal/volume"
)

// SystemSoundsKey is the durable identity of the system-sound pseudo
// app. routeAllApps skips it while system sounds follow the default
// device.
const SystemSoundsKey = "com.apple.systemsounds"

// AppRow is one entry of the displayed-apps projection: the union of
// running processes and pinned apps.
type AppRow struct {
	Key         string
	DisplayName string
	Process     capture.ProcessInfo
	Running     bool
	Pinned      bool
}

// switchToken is the per-app cancellation token. A new one is installed
// at every SetDevice entry; the old one is cancelled so at most one
// switch per app runs to completion.
type switchToken struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Engine owns all tap controllers and the in-memory routing map. The
// in-memory map (keyed by runtime PID) records intent ("a tap should be
// active for this process on this device") while the settings store
// (keyed by durable identity) records the user's choice across restarts.
type Engine struct {
	log   *log.Logger
	host  capture.Host
	store *settings.Store
	flags config.Flags

	mu        sync.Mutex
	taps      map[int]*tap.Controller
	routing   map[int]string
	switches  map[int]*switchToken
	processes map[int]capture.ProcessInfo
	applied   map[string]bool
	defaultUID string

	cancelSub func()

	// OnDefaultDeviceChanged, if set, is called with the new default UID
	// after a non-virtual default-output change. The engine never routes
	// apps on its own in response; only explicit user action does.
	OnDefaultDeviceChanged func(uid string)
	// OnDisplayedAppsChanged, if set, receives the recomputed projection
	// whenever the active process list changes.
	OnDisplayedAppsChanged func(rows []AppRow)
}

// New returns an engine over the given host and settings store.
func New(host capture.Host, store *settings.Store, flags config.Flags, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		log:       logger.WithPrefix("engine"),
		host:      host,
		store:     store,
		flags:     flags,
		taps:      map[int]*tap.Controller{},
		routing:   map[int]string{},
		switches:  map[int]*switchToken{},
		processes: map[int]capture.ProcessInfo{},
		applied:   map[string]bool{},
	}
}

// Start subscribes to host notifications and records the current default
// output.
func (e *Engine) Start() {
	if d, err := e.host.DefaultOutput(); err == nil && d.Kind != capture.DeviceVirtual {
		e.mu.Lock()
		e.defaultUID = d.UID
		e.mu.Unlock()
	}
	e.cancelSub = e.host.OnDefaultOutputChanged(e.HandleDefaultDeviceChanged)
}

// Stop cancels all in-flight switches, destroys every tap, and flushes
// settings.
func (e *Engine) Stop() {
	if e.cancelSub != nil {
		e.cancelSub()
		e.cancelSub = nil
	}
	e.mu.Lock()
	taps := e.taps
	switches := e.switches
	e.taps = map[int]*tap.Controller{}
	e.routing = map[int]string{}
	e.switches = map[int]*switchToken{}
	e.mu.Unlock()

	for _, tok := range switches {
		tok.cancel()
	}
	for _, c := range taps {
		c.Stop()
	}
	if err := e.store.FlushSync(); err != nil {
		e.log.Error("settings flush on stop failed", "err", err)
	}
}

// DefaultDeviceUID returns the engine's notion of the host default.
func (e *Engine) DefaultDeviceUID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defaultUID
}

// Tap returns the controller for a runtime PID, if any.
func (e *Engine) Tap(pid int) (*tap.Controller, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.taps[pid]
	return c, ok
}

// SetVolume stores an app's gain and forwards it to the live tap if one
// exists. The gain is clamped to the configured boost ceiling.
func (e *Engine) SetVolume(app capture.ProcessInfo, gain float64) {
	gain = volume.ClampGain(gain, e.store.AppSettings().MaxVolumeBoost)
	e.store.SetVolume(app.Key(), gain)
	if c, ok := e.Tap(app.PID); ok {
		c.SetVolume(gain)
	}
}

// Volume returns the effective gain for an app: live tap state if
// present, else persisted, else the default-new-app volume.
func (e *Engine) Volume(app capture.ProcessInfo) float64 {
	if c, ok := e.Tap(app.PID); ok {
		return c.Volume()
	}
	if g, ok := e.store.Volume(app.Key()); ok {
		return g
	}
	return e.store.AppSettings().DefaultNewAppVolume
}

// SetMute stores an app's mute flag and forwards it to the live tap.
func (e *Engine) SetMute(app capture.ProcessInfo, muted bool) {
	e.store.SetMute(app.Key(), muted)
	if c, ok := e.Tap(app.PID); ok {
		c.SetMute(muted)
	}
}

// SetEQ stores an app's EQ settings and forwards them to the live tap.
func (e *Engine) SetEQ(app capture.ProcessInfo, s eq.Settings) {
	e.store.SetEQ(app.Key(), s)
	if c, ok := e.Tap(app.PID); ok {
		c.SetEQ(s)
	}
}

// SetSelectionMode switches an app's device row between single and
// multi selection. Dropping back to single collapses the selected list
// onto the current routing.
func (e *Engine) SetSelectionMode(app capture.ProcessInfo, mode settings.SelectionMode) {
	key := app.Key()
	e.store.SetSelectionMode(key, mode)
	if mode != settings.SelectionMulti {
		if uid, ok := e.store.Routing(key); ok {
			e.store.SetSelectedDeviceUIDs(key, []string{uid})
		}
	}
}

// SetSelectedDevices replaces an app's multi-selection list. The first
// entry becomes the routing target so the audible device always appears
// in the list.
func (e *Engine) SetSelectedDevices(app capture.ProcessInfo, uids []string) error {
	key := app.Key()
	e.store.SetSelectedDeviceUIDs(key, uids)
	if len(uids) == 0 {
		return nil
	}
	if uid, ok := e.store.Routing(key); ok && uid == uids[0] {
		return nil
	}
	return e.SetDevice(app, uids[0])
}

// PinApp pins an app so its row (and routing) survives process exit.
func (e *Engine) PinApp(app capture.ProcessInfo) {
	e.store.Pin(app.Key(), settings.PinnedAppInfo{
		DisplayName: app.DisplayName,
		BundleID:    app.BundleID,
	})
}

// UnpinApp removes an app from the pinned set.
func (e *Engine) UnpinApp(app capture.ProcessInfo) {
	e.store.Unpin(app.Key())
}

// SetDevice routes one app to a device. The new routing is written to
// both the in-memory map and the store before the switch runs, so a
// rapid A→B→C sequence can never leave the maps pointing at an
// intermediate value; on failure the previous routing is restored, and
// on cancellation the superseding switch owns correctness.
func (e *Engine) SetDevice(app capture.ProcessInfo, deviceUID string) error {
	key := app.Key()

	e.mu.Lock()
	if e.routing[app.PID] == deviceUID {
		e.mu.Unlock()
		return nil
	}
	if tok := e.switches[app.PID]; tok != nil {
		tok.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	tok := &switchToken{ctx: ctx, cancel: cancel}
	e.switches[app.PID] = tok

	prevMem, hadMem := e.routing[app.PID]
	e.routing[app.PID] = deviceUID
	ctrl := e.taps[app.PID]
	e.mu.Unlock()

	prevPersisted, hadPersisted := e.store.Routing(key)
	e.store.SetRouting(key, deviceUID)

	revert := func() {
		e.mu.Lock()
		owner := e.switches[app.PID] == tok
		if owner {
			if hadMem {
				e.routing[app.PID] = prevMem
			} else {
				delete(e.routing, app.PID)
			}
		}
		e.mu.Unlock()
		if !owner {
			// A newer switch superseded us mid-failure; it owns the maps.
			return
		}
		if hadPersisted {
			e.store.SetRouting(key, prevPersisted)
		} else {
			e.store.RemoveRouting(key)
		}
	}

	if ctrl != nil {
		err := ctrl.SwitchDevice(ctx, deviceUID, e.policyFor(deviceUID))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, tap.ErrSwitchCancelled):
			return err
		default:
			e.log.Warn("device switch failed", "app", key, "to", deviceUID, "err", err)
			revert()
			return err
		}
	}

	ctrl, err := e.createTap(app, deviceUID)
	if err != nil {
		e.log.Warn("tap creation failed", "app", key, "device", deviceUID, "err", err)
		revert()
		return err
	}
	e.mu.Lock()
	owner := e.switches[app.PID] == tok
	if owner {
		e.taps[app.PID] = ctrl
	}
	e.mu.Unlock()
	if !owner {
		// A newer switch took over while the tap was being created; its
		// routing stands and this tap must not shadow the one it makes.
		ctrl.Stop()
		return tap.ErrSwitchCancelled
	}
	return nil
}

// RouteAllApps switches every app, active or with persisted routing,
// to one device. The system-sound pseudo app is skipped while system
// sounds follow the host default.
func (e *Engine) RouteAllApps(deviceUID string) {
	skipSystem := e.store.SystemSoundsFollowsDefault()

	e.mu.Lock()
	active := make([]capture.ProcessInfo, 0, len(e.processes))
	for _, p := range e.processes {
		active = append(active, p)
	}
	e.mu.Unlock()

	seen := map[string]bool{}
	for _, app := range active {
		key := app.Key()
		seen[key] = true
		if skipSystem && key == SystemSoundsKey {
			continue
		}
		if err := e.SetDevice(app, deviceUID); err != nil && !errors.Is(err, tap.ErrSwitchCancelled) {
			e.log.Warn("route-all switch failed", "app", key, "err", err)
		}
	}

	// Keep inactive persisted entries in sync so pinned apps come back
	// on the right device.
	for _, key := range e.store.AppsWithRouting() {
		if seen[key] || (skipSystem && key == SystemSoundsKey) {
			continue
		}
		if uid, _ := e.store.Routing(key); uid != deviceUID {
			e.store.SetRouting(key, deviceUID)
		}
	}
}

// ApplyPersistedSettings restores per-app state at startup. Apps with no
// persisted customization are skipped entirely: creating a tap mutes
// the app's original audio path, so startup must not touch uncustomized
// apps.
func (e *Engine) ApplyPersistedSettings(apps []capture.ProcessInfo) {
	prefs := e.store.AppSettings()
	followDefault := prefs.StartupRoutingPolicy == settings.FollowSystemDefault

	for _, app := range apps {
		key := app.Key()
		e.mu.Lock()
		done := e.applied[key]
		_, hasTap := e.taps[app.PID]
		e.mu.Unlock()
		if done || hasTap {
			continue
		}
		if !e.store.HasCustomState(key) {
			continue
		}

		target := e.resolveStartupTarget(key, followDefault)
		if target == "" {
			e.log.Warn("no usable device for persisted app", "app", key)
			continue
		}

		e.mu.Lock()
		e.routing[app.PID] = target
		e.mu.Unlock()

		ctrl, err := e.createTap(app, target)
		if err != nil {
			e.log.Warn("startup tap creation failed", "app", key, "err", err)
			e.mu.Lock()
			delete(e.routing, app.PID)
			e.mu.Unlock()
			continue
		}
		e.mu.Lock()
		e.taps[app.PID] = ctrl
		e.applied[key] = true
		e.mu.Unlock()
	}
}

// resolveStartupTarget picks the device a restored app should land on:
// persisted routing (unless policy says follow the default), then the
// host default if it is a real device, then the first available real
// device.
func (e *Engine) resolveStartupTarget(key string, followDefault bool) string {
	if !followDefault {
		if uid, ok := e.store.Routing(key); ok {
			return uid
		}
	}
	e.mu.Lock()
	def := e.defaultUID
	e.mu.Unlock()

	devices, err := e.host.Devices()
	if err != nil {
		return ""
	}
	if def != "" {
		if d, ok := capture.DeviceByUID(devices, def); ok && d.Kind == capture.DeviceReal {
			return def
		}
	}
	for _, d := range devices {
		if d.Kind == capture.DeviceReal {
			return d.UID
		}
	}
	return ""
}

// HandleDefaultDeviceChanged reacts to a host default-output change.
// Virtual devices are ignored outright; otherwise the engine updates its
// notion of the default and notifies the UI. Apps are never re-routed
// automatically.
func (e *Engine) HandleDefaultDeviceChanged(uid string, virtual bool) {
	if virtual {
		e.log.Debug("ignoring virtual default device", "uid", uid)
		return
	}
	e.mu.Lock()
	e.defaultUID = uid
	e.mu.Unlock()
	e.log.Debug("default device changed", "uid", uid)

	// Re-assert the input-device lock on device-topology changes. The
	// capture interface has no input control yet, so this only records
	// intent; the platform host enforces it.
	if e.store.AppSettings().LockInputDevice {
		if locked, ok := e.store.LockedInputDeviceUID(); ok {
			e.log.Debug("re-asserting locked input device", "uid", locked)
		}
	}

	if e.OnDefaultDeviceChanged != nil {
		e.OnDefaultDeviceChanged(uid)
	}
}

// HandleActiveProcessesChanged reconciles tap lifetimes with the current
// process list, re-applies persisted state to restarted apps, and
// recomputes the displayed-apps projection.
func (e *Engine) HandleActiveProcessesChanged(apps []capture.ProcessInfo) {
	alive := map[int]bool{}
	for _, p := range apps {
		alive[p.PID] = true
	}

	e.mu.Lock()
	var stopped []*tap.Controller
	for pid, ctrl := range e.taps {
		if alive[pid] {
			continue
		}
		stopped = append(stopped, ctrl)
		delete(e.taps, pid)
		delete(e.routing, pid)
		if tok := e.switches[pid]; tok != nil {
			tok.cancel()
			delete(e.switches, pid)
		}
		// A restart of the process produces a new runtime identity with
		// the same durable identity; clear the applied mark so the next
		// process list re-restores it.
		delete(e.applied, ctrl.Process().Key())
	}
	e.processes = map[int]capture.ProcessInfo{}
	for _, p := range apps {
		e.processes[p.PID] = p
	}
	e.mu.Unlock()

	for _, ctrl := range stopped {
		ctrl.Stop()
	}

	e.ApplyPersistedSettings(apps)

	if e.OnDisplayedAppsChanged != nil {
		e.OnDisplayedAppsChanged(e.DisplayedApps())
	}
}

// DisplayedApps returns the UI projection: running processes plus pinned
// apps that are not running, sorted by display name.
func (e *Engine) DisplayedApps() []AppRow {
	e.mu.Lock()
	rows := make([]AppRow, 0, len(e.processes))
	seen := map[string]bool{}
	for _, p := range e.processes {
		key := p.Key()
		seen[key] = true
		rows = append(rows, AppRow{
			Key:         key,
			DisplayName: p.DisplayName,
			Process:     p,
			Running:     true,
			Pinned:      false,
		})
	}
	e.mu.Unlock()

	pinned := e.store.PinnedApps()
	for i := range rows {
		if _, ok := pinned[rows[i].Key]; ok {
			rows[i].Pinned = true
		}
	}
	for key, info := range pinned {
		if seen[key] {
			continue
		}
		rows = append(rows, AppRow{
			Key:         key,
			DisplayName: info.DisplayName,
			Process:     capture.ProcessInfo{BundleID: info.BundleID, PersistenceID: key},
			Running:     false,
			Pinned:      true,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DisplayName != rows[j].DisplayName {
			return rows[i].DisplayName < rows[j].DisplayName
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}

// ResolveDisplayDevice returns the device UID an app's UI row should
// show. In-memory and persisted routing are preferred even when the
// device has transiently left the available list, so a wireless device
// briefly reconnecting does not flip the row to the default and back.
func (e *Engine) ResolveDisplayDevice(app capture.ProcessInfo, available []capture.Device, defaultUID string) string {
	e.mu.Lock()
	mem, hasMem := e.routing[app.PID]
	e.mu.Unlock()
	persisted, hasPersisted := e.store.Routing(app.Key())

	if hasMem {
		if _, ok := capture.DeviceByUID(available, mem); ok {
			return mem
		}
	}
	if hasPersisted {
		if _, ok := capture.DeviceByUID(available, persisted); ok {
			return persisted
		}
	}
	if hasMem {
		return mem
	}
	if hasPersisted {
		return persisted
	}
	if _, ok := capture.DeviceByUID(available, defaultUID); ok {
		return defaultUID
	}
	if len(available) > 0 {
		return available[0].UID
	}
	return ""
}

// TapHealth returns the diagnostics snapshot for an app's tap. The
// second result is false when no tap exists.
func (e *Engine) TapHealth(app capture.ProcessInfo) (tap.Snapshot, bool) {
	c, ok := e.Tap(app.PID)
	if !ok {
		return tap.Snapshot{}, false
	}
	return c.Diagnostics(), true
}

// policyFor resolves the switch policy for a target device from the
// current enumeration; unknown devices default to wired.
func (e *Engine) policyFor(deviceUID string) tap.Policy {
	devices, err := e.host.Devices()
	if err != nil {
		return tap.Policy{}
	}
	if d, ok := capture.DeviceByUID(devices, deviceUID); ok {
		return tap.Policy{Wireless: d.Wireless}
	}
	return tap.Policy{}
}

// createTap builds, configures, and starts a controller for (app,
// device), applying the app's persisted volume/mute/EQ per the remember
// flags.
func (e *Engine) createTap(app capture.ProcessInfo, deviceUID string) (*tap.Controller, error) {
	prefs := e.store.AppSettings()
	ctrl := tap.New(e.host, app, tap.Config{
		MuteBehavior: capture.MutedWhenTapped,
		UseBundleID:  e.flags.UseBundleTaps(),
		GainCeiling:  prefs.MaxVolumeBoost,
		Logger:       e.log,
	})

	key := app.Key()
	if prefs.RememberVolumeMute {
		if g, ok := e.store.Volume(key); ok {
			ctrl.SetVolume(g)
		} else {
			ctrl.SetVolume(prefs.DefaultNewAppVolume)
		}
		if m, ok := e.store.Mute(key); ok {
			ctrl.SetMute(m)
		}
	} else {
		ctrl.SetVolume(prefs.DefaultNewAppVolume)
	}
	if prefs.RememberEQ {
		if s, ok := e.store.EQ(key); ok {
			ctrl.SetEQ(s)
		}
	}

	if err := ctrl.Start(deviceUID); err != nil {
		return nil, err
	}
	return ctrl, nil
}
