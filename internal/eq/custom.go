package eq

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxCustomPresets is how many custom presets one settings store holds.
const MaxCustomPresets = 5

// MaxNameLength is the maximum preset name length in runes, after
// trimming surrounding whitespace.
const MaxNameLength = 32

// Custom preset errors, matched with errors.Is.
var (
	ErrNameRequired  = errors.New("preset name required")
	ErrNameTooLong   = errors.New("preset name too long")
	ErrDuplicateName = errors.New("preset name already in use")
	ErrLimitReached  = errors.New("custom preset limit reached")
	ErrNotFound      = errors.New("preset not found")
)

// CustomPreset is a user-saved EQ curve.
type CustomPreset struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	BandGains Bands     `json:"bandGains"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// foldTransformer strips combining marks after NFD decomposition, so
// "Café" and "Cafe" compare equal.
var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// FoldName normalizes a preset name for uniqueness comparison:
// case-insensitive and diacritic-insensitive.
func FoldName(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(folded)
}

// ValidateName trims name and checks it against the other presets in
// list, ignoring the entry with excludeID (so renaming a preset to a
// casing variant of itself succeeds). Returns the trimmed name.
func ValidateName(name string, list []CustomPreset, excludeID uuid.UUID) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrNameRequired
	}
	if len([]rune(trimmed)) > MaxNameLength {
		return "", ErrNameTooLong
	}
	folded := FoldName(trimmed)
	for _, p := range list {
		if p.ID != excludeID && FoldName(p.Name) == folded {
			return "", ErrDuplicateName
		}
	}
	return trimmed, nil
}

// SaveCustom appends a new preset and returns the updated list and the
// created entry. The gains are clamped; now stamps UpdatedAt.
func SaveCustom(list []CustomPreset, name string, gains Bands, now time.Time) ([]CustomPreset, CustomPreset, error) {
	if len(list) >= MaxCustomPresets {
		return list, CustomPreset{}, ErrLimitReached
	}
	trimmed, err := ValidateName(name, list, uuid.Nil)
	if err != nil {
		return list, CustomPreset{}, err
	}
	p := CustomPreset{
		ID:        uuid.New(),
		Name:      trimmed,
		BandGains: gains.Clamped(),
		UpdatedAt: now,
	}
	return append(append([]CustomPreset(nil), list...), p), p, nil
}

// OverwriteCustom replaces the gains of an existing preset.
func OverwriteCustom(list []CustomPreset, id uuid.UUID, gains Bands, now time.Time) ([]CustomPreset, error) {
	out := append([]CustomPreset(nil), list...)
	for i := range out {
		if out[i].ID == id {
			out[i].BandGains = gains.Clamped()
			out[i].UpdatedAt = now
			return out, nil
		}
	}
	return list, ErrNotFound
}

// RenameCustom changes a preset's display name.
func RenameCustom(list []CustomPreset, id uuid.UUID, name string, now time.Time) ([]CustomPreset, error) {
	trimmed, err := ValidateName(name, list, id)
	if err != nil {
		return list, err
	}
	out := append([]CustomPreset(nil), list...)
	for i := range out {
		if out[i].ID == id {
			out[i].Name = trimmed
			out[i].UpdatedAt = now
			return out, nil
		}
	}
	return list, ErrNotFound
}

// DeleteCustom removes a preset by ID.
func DeleteCustom(list []CustomPreset, id uuid.UUID) ([]CustomPreset, error) {
	for i := range list {
		if list[i].ID == id {
			out := append([]CustomPreset(nil), list[:i]...)
			return append(out, list[i+1:]...), nil
		}
	}
	return list, ErrNotFound
}

// FindCustom returns the preset with the given ID.
func FindCustom(list []CustomPreset, id uuid.UUID) (CustomPreset, bool) {
	for _, p := range list {
		if p.ID == id {
			return p, true
		}
	}
	return CustomPreset{}, false
}
