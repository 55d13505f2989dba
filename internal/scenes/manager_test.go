package scenes_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glowctl/internal/lights"
	"glowctl/internal/scenes"
	"glowctl/internal/store"
)

type memStore struct {
	mu     sync.Mutex
	scenes []store.Scene
}

func (m *memStore) GetScenes() []store.Scene {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Scene(nil), m.scenes...)
}

func (m *memStore) UpsertScene(scene store.Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sc := range m.scenes {
		if sc.ID == scene.ID {
			m.scenes[i] = scene
			return nil
		}
	}
	m.scenes = append(m.scenes, scene)
	return nil
}

func (m *memStore) DeleteScene(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sc := range m.scenes {
		if sc.ID == id {
			m.scenes = append(m.scenes[:i], m.scenes[i+1:]...)
			break
		}
	}
	return nil
}

type recordingSetter struct {
	mu     sync.Mutex
	calls  []lights.DeviceID
	failOn map[lights.DeviceID]error
	onCall func()
}

func (r *recordingSetter) SetDeviceState(ctx context.Context, id lights.DeviceID, state lights.DeviceState) error {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	cb := r.onCall
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
	if err, ok := r.failOn[id]; ok {
		return err
	}
	return nil
}

func newTestManager(s scenes.Store, d scenes.DeviceSetter) *scenes.Manager {
	return scenes.NewManager(log.New(io.Discard), s, d)
}

func TestTriggerExclusivity(t *testing.T) {
	m := newTestManager(&memStore{}, &recordingSetter{})

	_, err := m.CreateScene("Meeting", scenes.TriggerCameraOn, nil, nil, nil)
	require.NoError(t, err)

	_, err = m.CreateScene("Other Meeting", scenes.TriggerCameraOn, nil, nil, nil)
	assert.ErrorIs(t, err, scenes.ErrTriggerConflict)

	// The opposite trigger is still free.
	_, err = m.CreateScene("Relax", scenes.TriggerCameraOff, nil, nil, nil)
	require.NoError(t, err)

	// Untriggered scenes are unrestricted.
	for _, name := range []string{"Reading", "Movie", "Party"} {
		_, err = m.CreateScene(name, scenes.TriggerNone, nil, nil, nil)
		require.NoError(t, err)
	}
}

func TestUpdateSceneKeepsOwnTrigger(t *testing.T) {
	m := newTestManager(&memStore{}, &recordingSetter{})

	scene, err := m.CreateScene("Meeting", scenes.TriggerCameraOn, nil, nil, nil)
	require.NoError(t, err)

	// Re-saving the same scene with its own trigger is not a conflict.
	scene.Name = "Meeting v2"
	require.NoError(t, m.UpdateScene(scene))

	// But stealing a trigger claimed by someone else is.
	other, err := m.CreateScene("Relax", scenes.TriggerCameraOff, nil, nil, nil)
	require.NoError(t, err)
	other.Trigger = scenes.TriggerCameraOn
	assert.ErrorIs(t, m.UpdateScene(other), scenes.ErrTriggerConflict)
}

func TestCreateSceneInvalidTrigger(t *testing.T) {
	m := newTestManager(&memStore{}, &recordingSetter{})
	_, err := m.CreateScene("Broken", "door_open", nil, nil, nil)
	assert.ErrorIs(t, err, scenes.ErrInvalidTrigger)
}

func TestActivateUnknownScene(t *testing.T) {
	m := newTestManager(&memStore{}, &recordingSetter{})

	notified := false
	m.OnChange(func(store.Scene) { notified = true })

	err := m.ActivateScene(context.Background(), "no-such-scene")
	assert.ErrorIs(t, err, scenes.ErrNotFound)
	assert.False(t, notified, "no activation notification for an unknown scene")
	assert.Empty(t, m.GetActiveScene())
}

func TestActivateNotifiesBeforeApplying(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	setter := &recordingSetter{}
	setter.onCall = func() {
		mu.Lock()
		order = append(order, "apply")
		mu.Unlock()
	}

	m := newTestManager(&memStore{}, setter)
	m.OnChange(func(store.Scene) {
		mu.Lock()
		order = append(order, "notify")
		mu.Unlock()
	})

	scene, err := m.CreateScene("Meeting", scenes.TriggerNone, map[lights.DeviceID]lights.DeviceState{
		lights.NewDeviceID(lights.BrandElgato, "192.168.1.40"): {On: true, Brightness: 1},
	}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.ActivateScene(context.Background(), scene.ID))
	require.NotEmpty(t, order)
	assert.Equal(t, "notify", order[0], "subscribers hear about activation before device commands")
	assert.Equal(t, scene.ID, m.GetActiveScene())
}

func TestActivatePartialFailureStillApplied(t *testing.T) {
	bad := lights.NewDeviceID(lights.BrandLIFX, "broken")
	good1 := lights.NewDeviceID(lights.BrandElgato, "192.168.1.40")
	good2 := lights.NewDeviceID(lights.BrandHue, "abc")

	setter := &recordingSetter{failOn: map[lights.DeviceID]error{
		bad: errors.New("device unreachable"),
	}}
	m := newTestManager(&memStore{}, setter)

	scene, err := m.CreateScene("Meeting", scenes.TriggerNone, map[lights.DeviceID]lights.DeviceState{
		bad:   {On: true},
		good1: {On: true},
		good2: {On: true},
	}, nil, nil)
	require.NoError(t, err)

	// Per-device failures are skipped; the activation itself succeeds.
	require.NoError(t, m.ActivateScene(context.Background(), scene.ID))
	assert.Len(t, setter.calls, 3, "every entry is attempted")
}

func TestCameraStateChangeActivatesMatchingScene(t *testing.T) {
	setter := &recordingSetter{}
	m := newTestManager(&memStore{}, setter)

	onScene, err := m.CreateScene("Meeting", scenes.TriggerCameraOn, nil, nil, nil)
	require.NoError(t, err)
	offScene, err := m.CreateScene("Relax", scenes.TriggerCameraOff, nil, nil, nil)
	require.NoError(t, err)

	m.OnCameraStateChange(context.Background(), true)
	assert.Equal(t, onScene.ID, m.GetActiveScene())

	m.OnCameraStateChange(context.Background(), false)
	assert.Equal(t, offScene.ID, m.GetActiveScene())
}

func TestCameraStateChangeNoMatchIsNoOp(t *testing.T) {
	m := newTestManager(&memStore{}, &recordingSetter{})
	_, err := m.CreateScene("Manual only", scenes.TriggerNone, nil, nil, nil)
	require.NoError(t, err)

	m.OnCameraStateChange(context.Background(), true)
	assert.Empty(t, m.GetActiveScene())
}

func TestDeleteScene(t *testing.T) {
	m := newTestManager(&memStore{}, &recordingSetter{})

	scene, err := m.CreateScene("Meeting", scenes.TriggerNone, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.DeleteScene(scene.ID))
	assert.Empty(t, m.GetScenes())

	assert.ErrorIs(t, m.DeleteScene(scene.ID), scenes.ErrNotFound)
}
