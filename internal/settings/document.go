// Package settings persists user preferences as a versioned JSON
// document: per-app volume/mute/EQ/routing keyed by durable app
// identity, pinned apps, custom EQ presets, and app-wide preferences.
// Writes are debounced and atomic; a corrupt file is backed up and
// replaced with defaults rather than ever aborting startup.
package settings

import "finetune/internal/eq"

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 3

// SelectionMode is how an app's device row behaves.
type SelectionMode string

const (
	SelectionSingle SelectionMode = "single"
	SelectionMulti  SelectionMode = "multi"
)

// RoutingPolicy controls what applyPersistedSettings does with stored
// routing at startup.
type RoutingPolicy string

const (
	// PreserveExplicitRouting restores the device each app was last
	// routed to.
	PreserveExplicitRouting RoutingPolicy = "preserveExplicitRouting"
	// FollowSystemDefault ignores stored routing and resolves targets
	// from the current default output.
	FollowSystemDefault RoutingPolicy = "followSystemDefault"
)

// PinnedAppInfo is the display data kept for a pinned app so its row
// survives the process exiting.
type PinnedAppInfo struct {
	DisplayName string `json:"displayName"`
	BundleID    string `json:"bundleID"`
}

// AppSettings is the app-wide preferences block.
type AppSettings struct {
	LaunchAtLogin              bool          `json:"launchAtLogin"`
	MenuBarIconStyle           string        `json:"menuBarIconStyle"`
	DefaultNewAppVolume        float64       `json:"defaultNewAppVolume"`
	MaxVolumeBoost             float64       `json:"maxVolumeBoost"`
	LockInputDevice            bool          `json:"lockInputDevice"`
	RememberVolumeMute         bool          `json:"rememberVolumeMute"`
	RememberEQ                 bool          `json:"rememberEQ"`
	StartupRoutingPolicy       RoutingPolicy `json:"startupRoutingPolicy"`
	ShowDeviceDisconnectAlerts bool          `json:"showDeviceDisconnectAlerts"`
	OnboardingCompleted        bool          `json:"onboardingCompleted"`
}

// DefaultAppSettings returns the documented defaults.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		LaunchAtLogin:              false,
		MenuBarIconStyle:           "default",
		DefaultNewAppVolume:        1.0,
		MaxVolumeBoost:             2.0,
		LockInputDevice:            false,
		RememberVolumeMute:         true,
		RememberEQ:                 true,
		StartupRoutingPolicy:       PreserveExplicitRouting,
		ShowDeviceDisconnectAlerts: true,
		OnboardingCompleted:        false,
	}
}

// Document is the whole on-disk settings schema. Per-app maps are keyed
// by the app's persistence identifier. Missing keys decode to the
// defaults from DefaultDocument; unknown keys are dropped on the next
// encode.
type Document struct {
	Version                    int                        `json:"version"`
	AppVolumes                 map[string]float64         `json:"appVolumes"`
	AppDeviceRouting           map[string]string          `json:"appDeviceRouting"`
	AppMutes                   map[string]bool            `json:"appMutes"`
	AppEQSettings              map[string]eq.Settings     `json:"appEQSettings"`
	CustomEQPresets            []eq.CustomPreset          `json:"customEQPresets"`
	AppDeviceSelectionMode     map[string]SelectionMode   `json:"appDeviceSelectionMode"`
	AppSelectedDeviceUIDs      map[string][]string        `json:"appSelectedDeviceUIDs"`
	PinnedApps                 []string                   `json:"pinnedApps"`
	PinnedAppInfo              map[string]PinnedAppInfo   `json:"pinnedAppInfo"`
	LockedInputDeviceUID       *string                    `json:"lockedInputDeviceUID"`
	SystemSoundsFollowsDefault bool                       `json:"systemSoundsFollowsDefault"`
	AppSettings                AppSettings                `json:"appSettings"`
}

// DefaultDocument returns an empty document with every default applied.
func DefaultDocument() Document {
	return Document{
		Version:                    CurrentVersion,
		AppVolumes:                 map[string]float64{},
		AppDeviceRouting:           map[string]string{},
		AppMutes:                   map[string]bool{},
		AppEQSettings:              map[string]eq.Settings{},
		CustomEQPresets:            []eq.CustomPreset{},
		AppDeviceSelectionMode:     map[string]SelectionMode{},
		AppSelectedDeviceUIDs:      map[string][]string{},
		PinnedApps:                 []string{},
		PinnedAppInfo:              map[string]PinnedAppInfo{},
		LockedInputDeviceUID:       nil,
		SystemSoundsFollowsDefault: true,
		AppSettings:                DefaultAppSettings(),
	}
}

// normalize repairs a freshly decoded document: nil maps become empty
// (a decoded file may omit whole keys), EQ band gains are clamped, and
// invalid preference values fall back to their defaults.
func (d *Document) normalize() {
	if d.Version == 0 {
		d.Version = CurrentVersion
	}
	if d.AppVolumes == nil {
		d.AppVolumes = map[string]float64{}
	}
	if d.AppDeviceRouting == nil {
		d.AppDeviceRouting = map[string]string{}
	}
	if d.AppMutes == nil {
		d.AppMutes = map[string]bool{}
	}
	if d.AppEQSettings == nil {
		d.AppEQSettings = map[string]eq.Settings{}
	}
	if d.CustomEQPresets == nil {
		d.CustomEQPresets = []eq.CustomPreset{}
	}
	if d.AppDeviceSelectionMode == nil {
		d.AppDeviceSelectionMode = map[string]SelectionMode{}
	}
	if d.AppSelectedDeviceUIDs == nil {
		d.AppSelectedDeviceUIDs = map[string][]string{}
	}
	if d.PinnedApps == nil {
		d.PinnedApps = []string{}
	}
	if d.PinnedAppInfo == nil {
		d.PinnedAppInfo = map[string]PinnedAppInfo{}
	}
	for app, s := range d.AppEQSettings {
		s.BandGains = s.BandGains.Clamped()
		d.AppEQSettings[app] = s
	}
	if d.AppSettings.MenuBarIconStyle == "" {
		d.AppSettings.MenuBarIconStyle = "default"
	}
	if d.AppSettings.StartupRoutingPolicy != FollowSystemDefault {
		d.AppSettings.StartupRoutingPolicy = PreserveExplicitRouting
	}
	if d.AppSettings.MaxVolumeBoost <= 0 {
		d.AppSettings.MaxVolumeBoost = DefaultAppSettings().MaxVolumeBoost
	}
	if d.AppSettings.DefaultNewAppVolume <= 0 {
		d.AppSettings.DefaultNewAppVolume = DefaultAppSettings().DefaultNewAppVolume
	}
}
