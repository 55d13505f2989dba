// Package app wires the orchestration core together and exposes the
// synchronous command surface consumed by UI and automation clients.
package app

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"glowctl/internal/discovery"
	"glowctl/internal/events"
	"glowctl/internal/lights"
	"glowctl/internal/scenes"
	"glowctl/internal/sensor"
	"glowctl/internal/store"
)

const (
	commandTimeout = 5 * time.Second
	scanTimeout    = 30 * time.Second
	bridgeTimeout  = 15 * time.Second
)

type Options struct {
	Logger *log.Logger
	Store  *store.Store
	Bus    *events.Bus
	// Probe samples the camera-in-use state. Nil leaves the monitor
	// without a loop (the platform collaborator was not wired in).
	Probe sensor.ProbeFunc
}

type Service struct {
	logger       *log.Logger
	store        *store.Store
	bus          *events.Bus
	lightManager *lights.Manager
	sceneManager *scenes.Manager
	monitor      *sensor.Monitor
	scanner      *discovery.Scanner

	lifxCtrl   *lights.LIFXController
	hueCtrl    *lights.HueController
	elgatoCtrl *lights.ElgatoController
	goveeCtrl  *lights.GoveeController
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}

	s := &Service{
		logger: logger,
		store:  opts.Store,
		bus:    bus,
	}

	s.lightManager = lights.NewManager(logger)

	s.lifxCtrl = lights.NewLIFXController(logger)
	s.hueCtrl = lights.NewHueController(logger)
	s.elgatoCtrl = lights.NewElgatoController(logger)
	s.goveeCtrl = lights.NewGoveeController(logger)

	s.lightManager.RegisterController(s.lifxCtrl)
	s.lightManager.RegisterController(s.hueCtrl)
	s.lightManager.RegisterController(s.elgatoCtrl)
	s.lightManager.RegisterController(s.goveeCtrl)

	s.scanner = discovery.NewScanner(logger, s.lightManager, s.elgatoCtrl)

	s.sceneManager = scenes.NewManager(logger, s.store, s.lightManager)
	s.sceneManager.OnChange(func(scene store.Scene) {
		s.bus.Emit(events.TopicSceneActive, scene)
	})

	settings := s.store.GetSettings()
	interval := time.Duration(settings.PollIntervalMs) * time.Millisecond
	if interval < 500*time.Millisecond {
		interval = time.Second
	}
	if opts.Probe != nil {
		s.monitor = sensor.NewMonitor(logger, interval, opts.Probe)
		s.monitor.OnChange(func(cameraOn bool) {
			s.bus.Emit(events.TopicCameraState, cameraOn)
			// ActivateScene bounds its own fan-out deadline.
			s.sceneManager.OnCameraStateChange(context.Background(), cameraOn)
		})
	}

	return s
}

// Start seeds state from the store and, if a probe was supplied, launches
// the sensor loop. Registered bridges get a warm-up discovery so known
// lights answer commands before the first full scan.
func (s *Service) Start(ctx context.Context) {
	for _, cred := range s.store.GetCredentials() {
		if err := s.hueCtrl.AddBridge(cred.IP, cred.Token); err != nil {
			s.logger.Warn("failed to add Hue bridge", "ip", cred.IP, "err", err)
		}
	}

	if len(s.store.GetCredentials()) > 0 {
		hueCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if discovered, _ := s.hueCtrl.Discover(hueCtx); len(discovered) > 0 {
			s.lightManager.SetDevices(discovered)
			s.logger.Info("loaded Hue lights from bridges", "count", len(discovered))
		}
		cancel()
	}

	s.lightManager.SetDevices(s.store.GetDevices())

	if s.monitor != nil {
		go s.monitor.Start(ctx)
	}
}

func (s *Service) Close() error {
	return s.lightManager.Close()
}

func (s *Service) Bus() *events.Bus {
	return s.bus
}

// --- Discovery ---

func (s *Service) DiscoverLights(ctx context.Context) discovery.Result {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	r := s.scanner.ScanAll(ctx, func(p discovery.ScanProgress) {
		s.bus.Emit(events.TopicScanProgress, p)
	})

	if err := s.store.SetDevices(s.lightManager.GetDevices()); err != nil {
		r.Errors = append(r.Errors, err.Error())
	}

	return r
}

func (s *Service) GetDevices() []lights.Device {
	return s.lightManager.GetDevices()
}

func (s *Service) RemoveDevice(id lights.DeviceID) error {
	s.lightManager.RemoveDevice(id)
	return s.store.SetDevices(s.lightManager.GetDevices())
}

func (s *Service) SetDeviceRoom(id lights.DeviceID, room string) error {
	if err := s.lightManager.SetDeviceRoom(id, room); err != nil {
		return err
	}
	return s.store.SetDevices(s.lightManager.GetDevices())
}

// --- Light control ---

func (s *Service) SetLightState(ctx context.Context, id lights.DeviceID, state lights.DeviceState) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return s.lightManager.SetDeviceState(ctx, id, state)
}

func (s *Service) GetLightState(ctx context.Context, id lights.DeviceID) (lights.DeviceState, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return s.lightManager.GetDeviceState(ctx, id)
}

func (s *Service) TurnOnLight(ctx context.Context, id lights.DeviceID) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return s.lightManager.TurnOn(ctx, id)
}

func (s *Service) TurnOffLight(ctx context.Context, id lights.DeviceID) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return s.lightManager.TurnOff(ctx, id)
}

// --- Scenes ---

func (s *Service) GetScenes() []store.Scene {
	return s.sceneManager.GetScenes()
}

func (s *Service) GetScene(id string) (store.Scene, error) {
	return s.sceneManager.GetScene(id)
}

type CreateSceneRequest struct {
	Name         string                                 `json:"name"`
	Trigger      string                                 `json:"trigger"`
	Devices      map[lights.DeviceID]lights.DeviceState `json:"devices"`
	GlobalColor  *lights.Color                          `json:"globalColor,omitempty"`
	GlobalKelvin *int                                   `json:"globalKelvin,omitempty"`
}

func (s *Service) CreateScene(req CreateSceneRequest) (store.Scene, error) {
	return s.sceneManager.CreateScene(req.Name, req.Trigger, req.Devices, req.GlobalColor, req.GlobalKelvin)
}

func (s *Service) UpdateScene(scene store.Scene) error {
	return s.sceneManager.UpdateScene(scene)
}

func (s *Service) DeleteScene(id string) error {
	return s.sceneManager.DeleteScene(id)
}

func (s *Service) ActivateScene(ctx context.Context, id string) error {
	return s.sceneManager.ActivateScene(ctx, id)
}

func (s *Service) GetActiveScene() string {
	return s.sceneManager.GetActiveScene()
}

// --- Sensor ---

func (s *Service) GetCameraState() bool {
	if s.monitor == nil {
		return false
	}
	return s.monitor.Value()
}

func (s *Service) CheckCameraNow() bool {
	if s.monitor == nil {
		return false
	}
	return s.monitor.CheckNow()
}

func (s *Service) SetMonitoringEnabled(enabled bool) {
	if s.monitor == nil {
		return
	}
	s.monitor.SetEnabled(enabled)
	s.bus.Emit(events.TopicMonitoring, enabled)
}

func (s *Service) IsMonitoringEnabled() bool {
	return s.monitor != nil && s.monitor.IsEnabled()
}

// --- Settings ---

func (s *Service) GetSettings() store.Settings {
	return s.store.GetSettings()
}

func (s *Service) UpdateSettings(settings store.Settings) error {
	if s.monitor != nil && settings.PollIntervalMs > 0 {
		s.monitor.SetInterval(time.Duration(settings.PollIntervalMs) * time.Millisecond)
	}
	return s.store.SetSettings(settings)
}

// --- Bridge pairing ---

func (s *Service) GetBridges() []store.BridgeCredential {
	return s.store.GetCredentials()
}

func (s *Service) DiscoverBridges(ctx context.Context) []discovery.DiscoveredHueBridge {
	ctx, cancel := context.WithTimeout(ctx, bridgeTimeout)
	defer cancel()
	bridges := s.scanner.DiscoverHueBridges(ctx)
	if bridges == nil {
		return []discovery.DiscoveredHueBridge{}
	}
	return bridges
}

// AddBridge registers a bridge the caller already holds a token for and
// persists the credential.
func (s *Service) AddBridge(ip, token string) error {
	if err := s.hueCtrl.AddBridge(ip, token); err != nil {
		return err
	}
	creds := append(s.store.GetCredentials(), store.BridgeCredential{
		ID:    uuid.New().String(),
		IP:    ip,
		Token: token,
	})
	return s.store.SetCredentials(creds)
}

// PairBridge runs the link-button handshake and, on success, registers
// and persists the credential. Failures carry typed reasons
// (lights.ErrLinkButtonNotPressed, lights.ErrUnreachable, ...).
func (s *Service) PairBridge(ctx context.Context, ip string) (string, error) {
	token, err := s.hueCtrl.Pair(ctx, ip)
	if err != nil {
		return "", err
	}
	if err := s.AddBridge(ip, token); err != nil {
		return "", err
	}
	return token, nil
}
