package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"finetune/internal/eq"
)

// SaveDebounce is how long mutations coalesce before hitting disk.
const SaveDebounce = 500 * time.Millisecond

// BackupName is the sibling file a corrupt settings file is copied to.
const BackupName = "settings.backup.json"

// DefaultPath returns <user-config>/FineTune/settings.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "FineTune", "settings.json"), nil
}

// Store owns the in-memory settings document and its on-disk file. All
// methods are safe for concurrent use; mutations mark the document dirty
// and schedule a debounced write. FlushSync forces the write immediately
// and is safe from any goroutine, including a termination handler.
type Store struct {
	mu        sync.Mutex
	doc       Document
	path      string
	log       *log.Logger
	debounced func(func())
	dirty     bool
}

// Open loads (or initializes) the store at path. A missing file yields
// defaults; an unreadable file is backed up to BackupName, logged, and
// replaced with defaults; startup never fails on corrupt settings.
func Open(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{
		path:      path,
		log:       logger.WithPrefix("settings"),
		debounced: debounce.New(SaveDebounce),
		doc:       DefaultDocument(),
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("settings unreadable, starting from defaults", "err", err)
		}
		return
	}
	doc := DefaultDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		s.backupCorrupt(data, err)
		return
	}
	doc.normalize()
	s.doc = doc
}

// backupCorrupt copies the unreadable file's bytes to the backup
// (replacing any previous backup) and keeps defaults in memory; the
// original file stays until the next write replaces it.
func (s *Store) backupCorrupt(data []byte, decodeErr error) {
	backup := filepath.Join(filepath.Dir(s.path), BackupName)
	_ = os.Remove(backup)
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		s.log.Error("could not write settings backup", "err", err)
	}
	s.log.Warn("settings file corrupt, backed up and reset",
		"backup", backup, "err", decodeErr)
}

// Path returns the on-disk location.
func (s *Store) Path() string { return s.path }

// Snapshot returns a deep copy of the document for read-only use on the
// UI side.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneDocument(s.doc)
}

func cloneDocument(d Document) Document {
	out := d
	out.AppVolumes = cloneMap(d.AppVolumes)
	out.AppDeviceRouting = cloneMap(d.AppDeviceRouting)
	out.AppMutes = cloneMap(d.AppMutes)
	out.AppEQSettings = cloneMap(d.AppEQSettings)
	out.AppDeviceSelectionMode = cloneMap(d.AppDeviceSelectionMode)
	out.PinnedAppInfo = cloneMap(d.PinnedAppInfo)
	out.CustomEQPresets = append([]eq.CustomPreset(nil), d.CustomEQPresets...)
	out.PinnedApps = append([]string(nil), d.PinnedApps...)
	out.AppSelectedDeviceUIDs = make(map[string][]string, len(d.AppSelectedDeviceUIDs))
	for k, v := range d.AppSelectedDeviceUIDs {
		out.AppSelectedDeviceUIDs[k] = append([]string(nil), v...)
	}
	if d.LockedInputDeviceUID != nil {
		uid := *d.LockedInputDeviceUID
		out.LockedInputDeviceUID = &uid
	}
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mutate runs fn under the lock, marks the document dirty, and schedules
// a debounced save.
func (s *Store) mutate(fn func(*Document)) {
	s.mu.Lock()
	fn(&s.doc)
	s.dirty = true
	s.mu.Unlock()
	s.debounced(s.saveIfDirty)
}

// ScheduleSave queues a debounced write without mutating anything.
func (s *Store) ScheduleSave() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	s.debounced(s.saveIfDirty)
}

// saveIfDirty is the debounce target. A flush that already ran clears
// the dirty flag, making a late debounce fire a no-op.
func (s *Store) saveIfDirty() {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	doc := cloneDocument(s.doc)
	s.mu.Unlock()
	if err := writeDocument(s.path, doc); err != nil {
		s.log.Error("settings save failed", "err", err)
	}
}

// FlushSync cancels any pending debounce work by clearing the dirty flag
// and writes the document immediately on the calling goroutine. Safe to
// call during termination from any thread.
func (s *Store) FlushSync() error {
	s.mu.Lock()
	s.dirty = false
	doc := cloneDocument(s.doc)
	s.mu.Unlock()
	if err := writeDocument(s.path, doc); err != nil {
		s.log.Error("settings flush failed", "err", err)
		return err
	}
	return nil
}

// writeDocument encodes the whole document and atomically replaces the
// target: directory ensure → temp file → rename.
func writeDocument(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// --- Per-app state ---

// Volume returns the persisted gain for an app.
func (s *Store) Volume(app string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.doc.AppVolumes[app]
	return g, ok
}

// SetVolume persists an app's gain.
func (s *Store) SetVolume(app string, gain float64) {
	s.mutate(func(d *Document) { d.AppVolumes[app] = gain })
}

// Routing returns the persisted device UID for an app.
func (s *Store) Routing(app string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.doc.AppDeviceRouting[app]
	return uid, ok
}

// SetRouting persists an app's device choice and, in single-selection
// mode, mirrors it into the selected-device list.
func (s *Store) SetRouting(app, deviceUID string) {
	s.mutate(func(d *Document) {
		d.AppDeviceRouting[app] = deviceUID
		if d.AppDeviceSelectionMode[app] != SelectionMulti {
			d.AppSelectedDeviceUIDs[app] = []string{deviceUID}
		}
	})
}

// RemoveRouting deletes an app's persisted routing.
func (s *Store) RemoveRouting(app string) {
	s.mutate(func(d *Document) {
		delete(d.AppDeviceRouting, app)
		delete(d.AppSelectedDeviceUIDs, app)
	})
}

// Mute returns the persisted mute flag for an app.
func (s *Store) Mute(app string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.doc.AppMutes[app]
	return m, ok
}

// SetMute persists an app's mute flag.
func (s *Store) SetMute(app string, muted bool) {
	s.mutate(func(d *Document) { d.AppMutes[app] = muted })
}

// EQ returns the persisted EQ settings for an app.
func (s *Store) EQ(app string) (eq.Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.AppEQSettings[app]
	return e, ok
}

// SetEQ persists an app's EQ settings.
func (s *Store) SetEQ(app string, settings eq.Settings) {
	settings.BandGains = settings.BandGains.Clamped()
	s.mutate(func(d *Document) { d.AppEQSettings[app] = settings })
}

// SelectionMode returns the app's device-selection mode.
func (s *Store) SelectionMode(app string) SelectionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.doc.AppDeviceSelectionMode[app]; ok {
		return m
	}
	return SelectionSingle
}

// SetSelectionMode persists the app's device-selection mode.
func (s *Store) SetSelectionMode(app string, mode SelectionMode) {
	if mode != SelectionMulti {
		mode = SelectionSingle
	}
	s.mutate(func(d *Document) { d.AppDeviceSelectionMode[app] = mode })
}

// SelectedDeviceUIDs returns the app's selected-device list.
func (s *Store) SelectedDeviceUIDs(app string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.doc.AppSelectedDeviceUIDs[app]...)
}

// SetSelectedDeviceUIDs persists the app's selected-device list.
func (s *Store) SetSelectedDeviceUIDs(app string, uids []string) {
	s.mutate(func(d *Document) {
		d.AppSelectedDeviceUIDs[app] = append([]string(nil), uids...)
	})
}

// HasCustomState reports whether the app has any persisted per-app
// customization (volume, mute, EQ, or routing). Startup restore skips
// apps without it so uncustomized apps never get a tap, since creating one
// mutes the app's original audio path.
func (s *Store) HasCustomState(app string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.AppVolumes[app]; ok {
		return true
	}
	if _, ok := s.doc.AppMutes[app]; ok {
		return true
	}
	if _, ok := s.doc.AppEQSettings[app]; ok {
		return true
	}
	_, ok := s.doc.AppDeviceRouting[app]
	return ok
}

// ResetApp removes every per-app customization (volume, mute, EQ,
// routing, selection state) for one durable identity. The pinned flag is
// left alone; reset means "back to defaults", not "forget the app".
func (s *Store) ResetApp(app string) {
	s.mutate(func(d *Document) {
		delete(d.AppVolumes, app)
		delete(d.AppMutes, app)
		delete(d.AppEQSettings, app)
		delete(d.AppDeviceRouting, app)
		delete(d.AppDeviceSelectionMode, app)
		delete(d.AppSelectedDeviceUIDs, app)
	})
}

// AppsWithRouting returns every app with persisted routing.
func (s *Store) AppsWithRouting() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	apps := make([]string, 0, len(s.doc.AppDeviceRouting))
	for app := range s.doc.AppDeviceRouting {
		apps = append(apps, app)
	}
	return apps
}

// --- Pinned apps ---

// Pin adds an app to the pinned set with its display info.
func (s *Store) Pin(app string, info PinnedAppInfo) {
	s.mutate(func(d *Document) {
		for _, p := range d.PinnedApps {
			if p == app {
				d.PinnedAppInfo[app] = info
				return
			}
		}
		d.PinnedApps = insertSorted(d.PinnedApps, app)
		d.PinnedAppInfo[app] = info
	})
}

// Unpin removes an app from the pinned set.
func (s *Store) Unpin(app string) {
	s.mutate(func(d *Document) {
		for i, p := range d.PinnedApps {
			if p == app {
				d.PinnedApps = append(d.PinnedApps[:i], d.PinnedApps[i+1:]...)
				break
			}
		}
		delete(d.PinnedAppInfo, app)
	})
}

// Pinned reports whether an app is pinned.
func (s *Store) Pinned(app string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.doc.PinnedApps {
		if p == app {
			return true
		}
	}
	return false
}

// PinnedApps returns the pinned set as a map from app to its display
// info; the map carries no order.
func (s *Store) PinnedApps() map[string]PinnedAppInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]PinnedAppInfo, len(s.doc.PinnedApps))
	for _, app := range s.doc.PinnedApps {
		out[app] = s.doc.PinnedAppInfo[app]
	}
	return out
}

func insertSorted(list []string, v string) []string {
	i := 0
	for i < len(list) && list[i] < v {
		i++
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

// --- Custom EQ presets ---

// CustomPresets returns the stored preset list.
func (s *Store) CustomPresets() []eq.CustomPreset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]eq.CustomPreset(nil), s.doc.CustomEQPresets...)
}

// SaveCustomPreset creates a new preset.
func (s *Store) SaveCustomPreset(name string, gains eq.Bands) (eq.CustomPreset, error) {
	s.mu.Lock()
	list, p, err := eq.SaveCustom(s.doc.CustomEQPresets, name, gains, time.Now())
	if err != nil {
		s.mu.Unlock()
		return eq.CustomPreset{}, err
	}
	s.doc.CustomEQPresets = list
	s.dirty = true
	s.mu.Unlock()
	s.debounced(s.saveIfDirty)
	return p, nil
}

// OverwriteCustomPreset replaces an existing preset's gains.
func (s *Store) OverwriteCustomPreset(id uuid.UUID, gains eq.Bands) error {
	return s.mutatePresets(func(list []eq.CustomPreset) ([]eq.CustomPreset, error) {
		return eq.OverwriteCustom(list, id, gains, time.Now())
	})
}

// RenameCustomPreset renames an existing preset.
func (s *Store) RenameCustomPreset(id uuid.UUID, name string) error {
	return s.mutatePresets(func(list []eq.CustomPreset) ([]eq.CustomPreset, error) {
		return eq.RenameCustom(list, id, name, time.Now())
	})
}

// DeleteCustomPreset removes a preset.
func (s *Store) DeleteCustomPreset(id uuid.UUID) error {
	return s.mutatePresets(func(list []eq.CustomPreset) ([]eq.CustomPreset, error) {
		return eq.DeleteCustom(list, id)
	})
}

func (s *Store) mutatePresets(fn func([]eq.CustomPreset) ([]eq.CustomPreset, error)) error {
	s.mu.Lock()
	list, err := fn(s.doc.CustomEQPresets)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.doc.CustomEQPresets = list
	s.dirty = true
	s.mu.Unlock()
	s.debounced(s.saveIfDirty)
	return nil
}

// --- App-wide state ---

// LockedInputDeviceUID returns the locked input device, if any.
func (s *Store) LockedInputDeviceUID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.LockedInputDeviceUID == nil {
		return "", false
	}
	return *s.doc.LockedInputDeviceUID, true
}

// SetLockedInputDeviceUID sets or clears (empty string) the locked
// input device.
func (s *Store) SetLockedInputDeviceUID(uid string) {
	s.mutate(func(d *Document) {
		if uid == "" {
			d.LockedInputDeviceUID = nil
			return
		}
		d.LockedInputDeviceUID = &uid
	})
}

// SystemSoundsFollowsDefault reports whether system sounds stay on the
// host default device.
func (s *Store) SystemSoundsFollowsDefault() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.SystemSoundsFollowsDefault
}

// SetSystemSoundsFollowsDefault persists the flag.
func (s *Store) SetSystemSoundsFollowsDefault(v bool) {
	s.mutate(func(d *Document) { d.SystemSoundsFollowsDefault = v })
}

// AppSettings returns the app-wide preferences block.
func (s *Store) AppSettings() AppSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.AppSettings
}

// SetAppSettings replaces the app-wide preferences block.
func (s *Store) SetAppSettings(a AppSettings) {
	s.mutate(func(d *Document) {
		d.AppSettings = a
		d.normalize()
	})
}
