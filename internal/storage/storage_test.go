package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/meteo-history/internal/station"
)

func sampleDirectory() *station.Directory {
	dir := station.NewDirectory(time.Date(2021, 1, 6, 0, 0, 0, 0, time.UTC))
	dir.Add(&station.Record{
		Name:       "Saint-Alban",
		ExternalID: "7016960",
		Link:       "http://example.test/sommaire.asp?cle=7016960&date_selection=2021-01-06",
		Latitude:   "46,72",
		Longitude:  "-72,08",
		Altitude:   "76",
		Label:      "Saint-Alban (Portneuf)",
	})
	dir.Add(&station.Record{
		Name:      "Sans Identifiant",
		Link:      "http://example.test/sommaire.asp?date_selection=2021-01-06",
		Latitude:  "45,00",
		Longitude: "-73,00",
		Altitude:  "",
	})
	return dir
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "stations.json"))
	require.NoError(t, err)
	return store
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	assert.False(t, store.Exists())

	_, err := store.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDirectoryNotFound)
}

func TestStore_SaveLoad(t *testing.T) {
	store := newTestStore(t)
	dir := sampleDirectory()

	require.NoError(t, store.Save(dir))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, "2021-01-06", loaded.CreatedAt)
	require.Equal(t, 2, loaded.Len())
	assert.Equal(t, dir.Stations["Saint-Alban"], loaded.Stations["Saint-Alban"])
	assert.Equal(t, "Sans Identifiant", loaded.Stations["Sans Identifiant"].Name)
	assert.Empty(t, loaded.Stations["Sans Identifiant"].ExternalID)
}

func TestStore_RoundTripIsByteIdentical(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(sampleDirectory()))

	first, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Save(loaded))

	second, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestStore_SaveOverwritesAndLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(sampleDirectory()))

	replacement := station.NewDirectory(time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC))
	replacement.Add(station.NewRecord("Amqui", "a?cle=1"))
	require.NoError(t, store.Save(replacement))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "2022-03-01", loaded.CreatedAt)
	assert.Equal(t, []string{"Amqui"}, loaded.Names())

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stations.json", entries[0].Name())
}

func TestStore_FileSchema(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(sampleDirectory()))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"createdAt": "2021-01-06",
		"stations": {
			"Saint-Alban": {
				"id": "7016960",
				"link": "http://example.test/sommaire.asp?cle=7016960&date_selection=2021-01-06",
				"lat": "46,72",
				"long": "-72,08",
				"alt": "76",
				"label": "Saint-Alban (Portneuf)"
			},
			"Sans Identifiant": {
				"id": "",
				"link": "http://example.test/sommaire.asp?date_selection=2021-01-06",
				"lat": "45,00",
				"long": "-73,00",
				"alt": ""
			}
		}
	}`, string(data))
}

func TestStore_LoadCorrupt(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0644))

	_, err := store.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDirectoryNotFound)
}

func TestStore_SaveNil(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Save(nil))
	assert.False(t, store.Exists())
}

func TestNew_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	store, err := New("~/meteo/stations.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "meteo", "stations.json"), store.Path())

	_, err = os.Stat(filepath.Join(home, "meteo"))
	assert.NoError(t, err)
}

func TestNew_EmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
