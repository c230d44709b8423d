package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moexbonds/moexbonds/pkg/models"
)

func openTemp(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs", "state.yaml")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s, path := openTemp(t)
	assert.Equal(t, path, s.Path())

	favs, err := s.Favorites()
	require.NoError(t, err)
	assert.Empty(t, favs)

	presets, err := s.Presets()
	require.NoError(t, err)
	assert.Empty(t, presets)

	_, ok, err := s.Macro()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing is written until the first change")
}

func TestFavoritesPersist(t *testing.T) {
	s, path := openTemp(t)
	mat := civil.Date{Year: 2028, Month: time.June, Day: 1}

	require.NoError(t, s.AddFavorite(models.Bond{SecID: "RU000A1", ShortName: "Первый", Yield: 18.5, MaturityDate: mat}))
	require.NoError(t, s.AddFavorite(models.Bond{SecID: "RU000A2"}))
	require.NoError(t, s.RemoveFavorite("RU000A2"))
	assert.ErrorIs(t, s.RemoveFavorite("RU000A2"), ErrNotFound)
	assert.Error(t, s.AddFavorite(models.Bond{}))

	reopened, err := Open(path)
	require.NoError(t, err)
	favs, err := reopened.Favorites()
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, "Первый", favs["RU000A1"].ShortName)
	assert.Equal(t, 18.5, favs["RU000A1"].Yield)
	assert.Equal(t, mat, favs["RU000A1"].MaturityDate)
}

func TestFavoritesReturnsCopy(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.AddFavorite(models.Bond{SecID: "X"}))

	favs, _ := s.Favorites()
	delete(favs, "X")

	again, _ := s.Favorites()
	assert.True(t, again.Has("X"))
}

func TestSetFavoritesReplaces(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, s.AddFavorite(models.Bond{SecID: "OLD"}))
	require.NoError(t, s.SetFavorites(models.Favorites{"NEW": {SecID: "NEW"}}))

	favs, _ := s.Favorites()
	assert.False(t, favs.Has("OLD"))
	assert.True(t, favs.Has("NEW"))
}

func TestPresetLifecycle(t *testing.T) {
	s, path := openTemp(t)
	s.now = func() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) }

	filters := models.DefaultFilterConfig()
	filters.MinYield = 15
	saved, err := s.SavePreset(models.Preset{Name: "Высокая доходность", Filters: filters, Sort: models.SortKey{Field: models.SortYield, Order: models.Desc}})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC), saved.CreatedAt)

	_, err = s.SavePreset(models.Preset{Name: "  "})
	assert.Error(t, err, "blank names are rejected")

	byName, err := s.Preset("высокая доходность")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, byName.ID)

	saved.Filters.MinYield = 17
	_, err = s.SavePreset(saved)
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	list, err := reopened.Presets()
	require.NoError(t, err)
	require.Len(t, list, 1, "saving an existing ID replaces it")
	assert.Equal(t, 17.0, list[0].Filters.MinYield)
	assert.Equal(t, models.SortYield, list[0].Sort.Field)

	require.NoError(t, reopened.DeletePreset(saved.ID))
	assert.ErrorIs(t, reopened.DeletePreset(saved.ID), ErrNotFound)
	_, err = reopened.Preset(saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMacroPersist(t *testing.T) {
	s, path := openTemp(t)
	m := models.MacroContext{KeyRate: 19, Inflation: 8.1, Date: civil.Date{Year: 2026, Month: time.September, Day: 12}, Source: "manual"}
	require.NoError(t, s.SaveMacro(m))

	reopened, err := Open(path)
	require.NoError(t, err)
	got, ok, err := reopened.Macro()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m, got)
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("favorites: [unclosed"), 0o644))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestFailedWriteKeepsState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub")
	s, err := Open(filepath.Join(dir, "state.yaml"))
	require.NoError(t, err)

	// A regular file where the state directory should be makes every write fail.
	require.NoError(t, os.WriteFile(dir, nil, 0o644))
	assert.Error(t, s.AddFavorite(models.Bond{SecID: "X"}))

	favs, _ := s.Favorites()
	assert.Empty(t, favs)
}
