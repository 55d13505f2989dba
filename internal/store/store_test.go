package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glowctl/internal/lights"
)

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	s, err := Open(path)
	require.NoError(t, err)

	assert.Empty(t, s.GetDevices())
	assert.Empty(t, s.GetScenes())
	assert.Equal(t, 1000, s.GetSettings().PollIntervalMs)

	// Nothing was written just by opening.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glowctl", "config.json")

	s, err := Open(path)
	require.NoError(t, err)

	id := lights.NewDeviceID(lights.BrandLIFX, "d0:73:d5:01:02:03")
	devices := []lights.Device{{ID: id, Name: "Desk", Room: "Office"}}
	require.NoError(t, s.SetDevices(devices))

	kelvin := 4000
	scene := Scene{
		ID:      "scene-1",
		Name:    "Meeting",
		Trigger: "camera_on",
		Devices: map[lights.DeviceID]lights.DeviceState{
			id: {On: true, Brightness: 0.8, Kelvin: &kelvin},
		},
	}
	require.NoError(t, s.UpsertScene(scene))
	require.NoError(t, s.SetSettings(Settings{PollIntervalMs: 250}))
	require.NoError(t, s.SetCredentials([]BridgeCredential{
		{ID: "b1", IP: "192.168.1.2", Token: "secret"},
	}))

	// A fresh handle sees everything back, including the struct map key.
	reopened, err := Open(path)
	require.NoError(t, err)

	gotDevices := reopened.GetDevices()
	require.Len(t, gotDevices, 1)
	assert.Equal(t, "Office", gotDevices[0].Room)
	assert.Equal(t, id, gotDevices[0].ID)

	gotScenes := reopened.GetScenes()
	require.Len(t, gotScenes, 1)
	require.Contains(t, gotScenes[0].Devices, id)
	assert.Equal(t, 4000, *gotScenes[0].Devices[id].Kelvin)

	assert.Equal(t, 250, reopened.GetSettings().PollIntervalMs)

	creds := reopened.GetCredentials()
	require.Len(t, creds, 1)
	assert.Equal(t, "secret", creds[0].Token)
}

func TestUpsertSceneReplacesByID(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.NoError(t, s.UpsertScene(Scene{ID: "x", Name: "Before"}))
	require.NoError(t, s.UpsertScene(Scene{ID: "x", Name: "After"}))

	scenes := s.GetScenes()
	require.Len(t, scenes, 1)
	assert.Equal(t, "After", scenes[0].Name)
}

func TestDeleteScene(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.NoError(t, s.UpsertScene(Scene{ID: "x"}))
	require.NoError(t, s.UpsertScene(Scene{ID: "y"}))

	require.NoError(t, s.DeleteScene("x"))
	scenes := s.GetScenes()
	require.Len(t, scenes, 1)
	assert.Equal(t, "y", scenes[0].ID)

	// Deleting an absent ID is harmless.
	require.NoError(t, s.DeleteScene("x"))
}

func TestPartialConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"devices":[]}`), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, s.GetSettings().PollIntervalMs, "missing settings keep the default")
}

func TestAccessorsReturnCopies(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	require.NoError(t, s.SetDevices([]lights.Device{
		{ID: lights.NewDeviceID(lights.BrandHue, "abc"), Name: "Lamp"},
	}))

	got := s.GetDevices()
	got[0].Name = "mutated"
	assert.Equal(t, "Lamp", s.GetDevices()[0].Name)
}
