package eq

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestSaveCustom(t *testing.T) {
	list, p, err := SaveCustom(nil, "  My Curve  ", Bands{1, 2, 3}, testTime)
	require.NoError(t, err)
	assert.Equal(t, "My Curve", p.Name, "name should be trimmed")
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, testTime, p.UpdatedAt)
	require.Len(t, list, 1)
}

func TestSaveCustomClampsGains(t *testing.T) {
	_, p, err := SaveCustom(nil, "Hot", Bands{99, -99}, testTime)
	require.NoError(t, err)
	assert.Equal(t, MaxGainDB, p.BandGains[0])
	assert.Equal(t, MinGainDB, p.BandGains[1])
}

func TestSaveCustomNameErrors(t *testing.T) {
	_, _, err := SaveCustom(nil, "   ", Bands{}, testTime)
	assert.ErrorIs(t, err, ErrNameRequired)

	_, _, err = SaveCustom(nil, strings.Repeat("x", MaxNameLength+1), Bands{}, testTime)
	assert.ErrorIs(t, err, ErrNameTooLong)

	// Exactly at the limit is fine.
	_, _, err = SaveCustom(nil, strings.Repeat("x", MaxNameLength), Bands{}, testTime)
	assert.NoError(t, err)
}

func TestSaveCustomDuplicateCaseInsensitive(t *testing.T) {
	list, _, err := SaveCustom(nil, "Bassy", Bands{}, testTime)
	require.NoError(t, err)
	_, _, err = SaveCustom(list, "BASSY", Bands{}, testTime)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestSaveCustomDuplicateDiacriticInsensitive(t *testing.T) {
	list, _, err := SaveCustom(nil, "Café", Bands{}, testTime)
	require.NoError(t, err)
	_, _, err = SaveCustom(list, "cafe", Bands{}, testTime)
	assert.ErrorIs(t, err, ErrDuplicateName)
	_, _, err = SaveCustom(list, "CAFÉ", Bands{}, testTime)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestSaveCustomLimit(t *testing.T) {
	var list []CustomPreset
	var err error
	for i := 0; i < MaxCustomPresets; i++ {
		list, _, err = SaveCustom(list, "Preset "+string(rune('A'+i)), Bands{}, testTime)
		require.NoError(t, err)
	}
	_, _, err = SaveCustom(list, "One Too Many", Bands{}, testTime)
	assert.ErrorIs(t, err, ErrLimitReached)
}

func TestOverwriteCustom(t *testing.T) {
	list, p, err := SaveCustom(nil, "Target", Bands{}, testTime)
	require.NoError(t, err)

	later := testTime.Add(time.Hour)
	list, err = OverwriteCustom(list, p.ID, Bands{5}, later)
	require.NoError(t, err)
	got, ok := FindCustom(list, p.ID)
	require.True(t, ok)
	assert.Equal(t, 5.0, got.BandGains[0])
	assert.Equal(t, later, got.UpdatedAt)

	_, err = OverwriteCustom(list, uuid.New(), Bands{}, later)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameCustom(t *testing.T) {
	list, p, err := SaveCustom(nil, "Old Name", Bands{}, testTime)
	require.NoError(t, err)
	list, other, err := SaveCustom(list, "Other", Bands{}, testTime)
	require.NoError(t, err)
	_ = other

	list, err = RenameCustom(list, p.ID, "New Name", testTime)
	require.NoError(t, err)
	got, _ := FindCustom(list, p.ID)
	assert.Equal(t, "New Name", got.Name)

	// Renaming to another preset's name fails; renaming to a casing
	// variant of its own name succeeds.
	_, err = RenameCustom(list, p.ID, "other", testTime)
	assert.ErrorIs(t, err, ErrDuplicateName)
	_, err = RenameCustom(list, p.ID, "NEW NAME", testTime)
	assert.NoError(t, err)

	_, err = RenameCustom(list, uuid.New(), "Whatever", testTime)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCustom(t *testing.T) {
	list, p, err := SaveCustom(nil, "Doomed", Bands{}, testTime)
	require.NoError(t, err)
	list, err = DeleteCustom(list, p.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = DeleteCustom(list, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutationsDoNotAliasInput(t *testing.T) {
	list, p, err := SaveCustom(nil, "A", Bands{}, testTime)
	require.NoError(t, err)
	list2, err := RenameCustom(list, p.ID, "B", testTime)
	require.NoError(t, err)
	assert.Equal(t, "A", list[0].Name, "input list mutated by rename")
	assert.Equal(t, "B", list2[0].Name)
}

func TestFoldName(t *testing.T) {
	assert.Equal(t, "cafe", FoldName("Café"))
	assert.Equal(t, "uber bass", FoldName("Über Bass"))
	assert.Equal(t, FoldName("naïve"), FoldName("NAIVE"))
}
