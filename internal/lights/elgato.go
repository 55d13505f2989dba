package lights

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mdlayher/keylight"
)

const (
	elgatoPort = 9123

	// Key Lights reject brightness below 3%.
	elgatoMinBrightness = 3

	elgatoMinKelvin  = 2900
	elgatoMaxKelvin  = 7000
	elgatoKelvinStep = 50
)

// ElgatoController drives Key Lights over their plain-HTTP LAN API.
// Devices are registered by address (found via mDNS or a subnet probe);
// the local part of the identity is the device IP.
type ElgatoController struct {
	mu      sync.RWMutex
	logger  *log.Logger
	clients map[DeviceID]*keylight.Client
	addrs   map[DeviceID]string
}

func NewElgatoController(logger *log.Logger) *ElgatoController {
	return &ElgatoController{
		logger:  logger.WithPrefix("elgato"),
		clients: make(map[DeviceID]*keylight.Client),
		addrs:   make(map[DeviceID]string),
	}
}

func (c *ElgatoController) Brand() Brand {
	return BrandElgato
}

// AddDevice registers a light by IP so the next Discover can probe it.
func (c *ElgatoController) AddDevice(ip string) {
	id := NewDeviceID(BrandElgato, ip)
	addr := elgatoBaseURL(ip)
	client, err := keylight.NewClient(addr, nil)
	if err != nil {
		c.logger.Warn("create client failed", "addr", addr, "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[id] = client
	c.addrs[id] = addr
	c.logger.Debug("device registered", "device", id)
}

func (c *ElgatoController) Discover(ctx context.Context) ([]Device, error) {
	c.mu.RLock()
	known := make(map[DeviceID]string, len(c.addrs))
	for id, addr := range c.addrs {
		known[id] = addr
	}
	c.mu.RUnlock()

	c.logger.Debug("discover", "known", len(known))

	var result []Device
	for id, addr := range known {
		client, err := keylight.NewClient(addr, nil)
		if err != nil {
			c.logger.Warn("create client failed", "device", id, "err", err)
			continue
		}
		info, err := client.AccessoryInfo(ctx)
		if err != nil {
			c.logger.Warn("accessory info failed", "device", id, "err", err)
			continue
		}

		c.mu.Lock()
		c.clients[id] = client
		c.mu.Unlock()

		result = append(result, Device{
			ID:              id,
			Name:            info.DisplayName,
			Model:           info.ProductName,
			LastIP:          id.Local,
			LastSeen:        time.Now(),
			SupportsColor:   false,
			SupportsKelvin:  true,
			MinKelvin:       elgatoMinKelvin,
			MaxKelvin:       elgatoMaxKelvin,
			KelvinStep:      elgatoKelvinStep,
			FirmwareVersion: info.FirmwareVersion,
		})
	}

	return result, nil
}

func (c *ElgatoController) SetState(ctx context.Context, id DeviceID, state DeviceState) error {
	client, err := c.getClient(id)
	if err != nil {
		return err
	}

	temp := DefaultKelvin
	if state.Kelvin != nil {
		temp = *state.Kelvin
	}
	if temp < elgatoMinKelvin {
		temp = elgatoMinKelvin
	}
	if temp > elgatoMaxKelvin {
		temp = elgatoMaxKelvin
	}

	// Round before clamping so 0.999 does not truncate to 99.
	brightness := int(math.Round(state.Brightness * 100))
	if brightness < elgatoMinBrightness {
		brightness = elgatoMinBrightness
	}
	if brightness > 100 {
		brightness = 100
	}

	ll := []*keylight.Light{
		{
			On:          state.On,
			Brightness:  brightness,
			Temperature: temp,
		},
	}

	if err := client.SetLights(ctx, ll); err != nil {
		c.logger.Warn("set lights failed, reconnecting", "device", id, "err", err)
		client, err = c.reconnect(id)
		if err != nil {
			return err
		}
		if err := client.SetLights(ctx, ll); err != nil {
			return fmt.Errorf("%w: set lights %s after reconnect: %v", ErrUnreachable, id, err)
		}
	}
	return nil
}

func (c *ElgatoController) GetState(ctx context.Context, id DeviceID) (DeviceState, error) {
	client, err := c.getClient(id)
	if err != nil {
		return DeviceState{}, err
	}

	ll, err := client.Lights(ctx)
	if err != nil {
		return DeviceState{}, fmt.Errorf("%w: lights %s: %v", ErrUnreachable, id, err)
	}

	if len(ll) == 0 {
		return DeviceState{}, fmt.Errorf("%w: no lights on device %s", ErrProtocol, id)
	}

	l := ll[0]
	kelvin := l.Temperature
	return DeviceState{
		On:         l.On,
		Brightness: float64(l.Brightness) / 100.0,
		Kelvin:     &kelvin,
	}, nil
}

func (c *ElgatoController) TurnOn(ctx context.Context, id DeviceID) error {
	return c.setPower(ctx, id, true)
}

func (c *ElgatoController) TurnOff(ctx context.Context, id DeviceID) error {
	return c.setPower(ctx, id, false)
}

func (c *ElgatoController) setPower(ctx context.Context, id DeviceID, on bool) error {
	client, err := c.getClient(id)
	if err != nil {
		return err
	}

	ll, err := client.Lights(ctx)
	if err != nil {
		c.logger.Warn("lights query failed, reconnecting", "device", id, "err", err)
		client, err = c.reconnect(id)
		if err != nil {
			return err
		}
		ll, err = client.Lights(ctx)
		if err != nil {
			return fmt.Errorf("%w: lights %s after reconnect: %v", ErrUnreachable, id, err)
		}
	}
	if len(ll) == 0 {
		return fmt.Errorf("%w: no lights on device %s", ErrProtocol, id)
	}

	ll[0].On = on
	if err := client.SetLights(ctx, ll); err != nil {
		return fmt.Errorf("%w: set lights %s: %v", ErrUnreachable, id, err)
	}
	c.logger.Debug("power set", "device", id, "on", on)
	return nil
}

func (c *ElgatoController) getClient(id DeviceID) (*keylight.Client, error) {
	c.mu.RLock()
	client, ok := c.clients[id]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}

	c.logger.Info("client not in cache, reconnecting", "device", id)
	return c.reconnect(id)
}

// reconnect rebuilds the client from the IP carried in the identity. Like
// the other session-oriented controllers this runs at most once per failed
// command (maxReconnectAttempts); the second failure surfaces.
func (c *ElgatoController) reconnect(id DeviceID) (*keylight.Client, error) {
	if id.Local == "" {
		return nil, fmt.Errorf("%w: device %s has no address", ErrNotFound, id)
	}

	addr := elgatoBaseURL(id.Local)
	client, err := keylight.NewClient(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: reconnect %s: %v", ErrUnreachable, id, err)
	}

	c.mu.Lock()
	c.clients[id] = client
	c.addrs[id] = addr
	c.mu.Unlock()

	c.logger.Debug("reconnected", "device", id)
	return client, nil
}

func (c *ElgatoController) Close() error {
	return nil
}

func elgatoBaseURL(ip string) string {
	return fmt.Sprintf("http://%s:%d", ip, elgatoPort)
}
