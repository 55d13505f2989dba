package scenes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"glowctl/internal/lights"
	"glowctl/internal/store"
)

// Triggers a scene can claim. At most one stored scene may hold each
// non-empty trigger; untriggered (manual) scenes are unrestricted.
const (
	TriggerCameraOn  = "camera_on"
	TriggerCameraOff = "camera_off"
	TriggerNone      = ""
)

var (
	ErrNotFound        = errors.New("scene not found")
	ErrTriggerConflict = errors.New("trigger already claimed by another scene")
	ErrInvalidTrigger  = errors.New("invalid trigger")
)

// activateTimeout bounds a whole activation fan-out so one unresponsive
// device cannot stall scene switching.
const activateTimeout = 10 * time.Second

// Store is the slice of persistence the scene manager needs.
type Store interface {
	GetScenes() []store.Scene
	UpsertScene(store.Scene) error
	DeleteScene(id string) error
}

// DeviceSetter is the slice of the device manager the activation fan-out
// needs.
type DeviceSetter interface {
	SetDeviceState(ctx context.Context, id lights.DeviceID, state lights.DeviceState) error
}

type Manager struct {
	mu       sync.RWMutex
	logger   *log.Logger
	store    Store
	devices  DeviceSetter
	active   string
	onChange func(scene store.Scene)
}

func NewManager(logger *log.Logger, s Store, devices DeviceSetter) *Manager {
	return &Manager{
		logger:  logger.WithPrefix("scenes"),
		store:   s,
		devices: devices,
	}
}

// OnChange registers the activation subscriber. It fires before device
// commands are sent so observers can reflect intended state immediately.
func (m *Manager) OnChange(fn func(scene store.Scene)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) GetScenes() []store.Scene {
	return m.store.GetScenes()
}

func (m *Manager) GetScene(id string) (store.Scene, error) {
	scene, ok := lo.Find(m.store.GetScenes(), func(s store.Scene) bool {
		return s.ID == id
	})
	if !ok {
		return store.Scene{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return scene, nil
}

func validTrigger(trigger string) bool {
	switch trigger {
	case TriggerNone, TriggerCameraOn, TriggerCameraOff:
		return true
	}
	return false
}

func (m *Manager) triggerInUse(trigger, excludeID string) bool {
	if trigger == TriggerNone {
		return false
	}
	for _, s := range m.store.GetScenes() {
		if s.ID != excludeID && s.Trigger == trigger {
			return true
		}
	}
	return false
}

func (m *Manager) CreateScene(name, trigger string, devices map[lights.DeviceID]lights.DeviceState, globalColor *lights.Color, globalKelvin *int) (store.Scene, error) {
	if !validTrigger(trigger) {
		return store.Scene{}, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}
	if m.triggerInUse(trigger, "") {
		return store.Scene{}, fmt.Errorf("%w: %q", ErrTriggerConflict, trigger)
	}

	scene := store.Scene{
		ID:           uuid.New().String(),
		Name:         name,
		Trigger:      trigger,
		Devices:      devices,
		GlobalColor:  globalColor,
		GlobalKelvin: globalKelvin,
	}

	if err := m.store.UpsertScene(scene); err != nil {
		return store.Scene{}, err
	}

	return scene, nil
}

func (m *Manager) UpdateScene(scene store.Scene) error {
	if !validTrigger(scene.Trigger) {
		return fmt.Errorf("%w: %q", ErrInvalidTrigger, scene.Trigger)
	}
	if m.triggerInUse(scene.Trigger, scene.ID) {
		return fmt.Errorf("%w: %q", ErrTriggerConflict, scene.Trigger)
	}
	return m.store.UpsertScene(scene)
}

func (m *Manager) DeleteScene(id string) error {
	if _, err := m.GetScene(id); err != nil {
		return err
	}
	return m.store.DeleteScene(id)
}

func (m *Manager) GetActiveScene() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ActivateScene marks the scene active and notifies the subscriber before
// any device command is sent; observers apply preset states optimistically.
// The fan-out itself is best-effort: per-device failures are logged and
// skipped, never rolled back, and the whole pass is bounded by
// activateTimeout.
func (m *Manager) ActivateScene(ctx context.Context, id string) error {
	scene, err := m.GetScene(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.active = id
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(scene)
	}

	ctx, cancel := context.WithTimeout(ctx, activateTimeout)
	defer cancel()

	for deviceID, state := range scene.Devices {
		if err := m.devices.SetDeviceState(ctx, deviceID, state); err != nil {
			m.logger.Warn("skipping device in scene", "scene", scene.Name, "device", deviceID, "err", err)
			continue
		}
	}

	return nil
}

// OnCameraStateChange maps a sensor edge to a trigger and activates the
// first matching scene. No match is a silent no-op.
func (m *Manager) OnCameraStateChange(ctx context.Context, cameraOn bool) {
	trigger := TriggerCameraOff
	if cameraOn {
		trigger = TriggerCameraOn
	}

	for _, scene := range m.store.GetScenes() {
		if scene.Trigger == trigger {
			if err := m.ActivateScene(ctx, scene.ID); err != nil {
				m.logger.Warn("trigger activation failed", "scene", scene.Name, "err", err)
			}
			return
		}
	}
}
