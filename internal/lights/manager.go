package lights

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
)

// Manager owns the brand->controller and id->device registries and routes
// commands by the brand embedded in the device identity. It never retries
// on a controller's behalf; reconnect policies live inside the controllers.
type Manager struct {
	mu          sync.RWMutex
	logger      *log.Logger
	controllers map[Brand]Controller
	devices     map[DeviceID]Device
}

func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		logger:      logger.WithPrefix("manager"),
		controllers: make(map[Brand]Controller),
		devices:     make(map[DeviceID]Device),
	}
}

func (m *Manager) RegisterController(c Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers[c.Brand()] = c
}

func (m *Manager) GetController(brand Brand) (Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[brand]
	return c, ok
}

func (m *Manager) controllerFor(id DeviceID) (Controller, error) {
	c, ok := m.GetController(id.Brand)
	if !ok {
		return nil, fmt.Errorf("%w: no controller for brand %q", ErrNotFound, id.Brand)
	}
	return c, nil
}

func (m *Manager) DiscoverAll(ctx context.Context) ([]Device, []error, error) {
	return m.DiscoverAllWithProgress(ctx, nil)
}

// DiscoverAllWithProgress runs discovery across all registered controllers
// concurrently. onDevices is called serially (under the aggregation lock)
// each time a controller finishes, with that controller's devices only.
//
// Per-brand failures are accumulated and returned alongside whatever was
// found; the hard error is non-nil only when nothing was found and at
// least one controller failed.
func (m *Manager) DiscoverAllWithProgress(ctx context.Context, onDevices func([]Device)) ([]Device, []error, error) {
	m.mu.RLock()
	controllers := lo.Values(m.controllers)
	m.mu.RUnlock()

	var (
		found []Device
		errs  []error
		aggMu sync.Mutex
		wg    sync.WaitGroup
	)

	for _, c := range controllers {
		wg.Add(1)
		go func(ctrl Controller) {
			defer wg.Done()
			devices, err := ctrl.Discover(ctx)
			aggMu.Lock()
			defer aggMu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ctrl.Brand(), err))
				return
			}
			found = append(found, devices...)
			if onDevices != nil && len(devices) > 0 {
				onDevices(devices)
			}
		}(c)
	}

	wg.Wait()

	m.mergeDevices(found)

	if len(errs) > 0 && len(found) == 0 {
		return nil, errs, fmt.Errorf("discovery failed: %w", errors.Join(errs...))
	}
	return found, errs, nil
}

// mergeDevices refreshes the registry from a discovery result. Rediscovery
// merges rather than replaces: user-assigned fields on an existing entry
// with the same identity are carried over.
func (m *Manager) mergeDevices(found []Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range found {
		if existing, ok := m.devices[d.ID]; ok {
			d.Room = existing.Room
		}
		m.devices[d.ID] = d
	}
}

func (m *Manager) SetDeviceState(ctx context.Context, id DeviceID, state DeviceState) error {
	ctrl, err := m.controllerFor(id)
	if err != nil {
		return err
	}
	m.logger.Debug("set state", "device", id, "on", state.On, "brightness", state.Brightness)
	if err := ctrl.SetState(ctx, id, state); err != nil {
		m.logger.Warn("set state failed", "device", id, "err", err)
		return err
	}
	return nil
}

func (m *Manager) GetDeviceState(ctx context.Context, id DeviceID) (DeviceState, error) {
	ctrl, err := m.controllerFor(id)
	if err != nil {
		return DeviceState{}, err
	}
	return ctrl.GetState(ctx, id)
}

func (m *Manager) TurnOn(ctx context.Context, id DeviceID) error {
	ctrl, err := m.controllerFor(id)
	if err != nil {
		return err
	}
	if err := ctrl.TurnOn(ctx, id); err != nil {
		m.logger.Warn("turn on failed", "device", id, "err", err)
		return err
	}
	return nil
}

func (m *Manager) TurnOff(ctx context.Context, id DeviceID) error {
	ctrl, err := m.controllerFor(id)
	if err != nil {
		return err
	}
	if err := ctrl.TurnOff(ctx, id); err != nil {
		m.logger.Warn("turn off failed", "device", id, "err", err)
		return err
	}
	return nil
}

func (m *Manager) GetDevices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := lo.Values(m.devices)
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].ID.Brand != devices[j].ID.Brand {
			return devices[i].ID.Brand < devices[j].ID.Brand
		}
		return devices[i].Name < devices[j].Name
	})
	return devices
}

func (m *Manager) GetDevice(id DeviceID) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

// SetDevices seeds the registry, typically from the persisted store at
// startup. Entries merge by identity like a rediscovery would.
func (m *Manager) SetDevices(devices []Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range devices {
		m.devices[d.ID] = d
	}
}

func (m *Manager) RemoveDevice(id DeviceID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, id)
}

func (m *Manager) SetDeviceRoom(id DeviceID, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	d.Room = room
	m.devices[id] = d
	return nil
}

func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.controllers {
		_ = c.Close()
	}
	return nil
}
