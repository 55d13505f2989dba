package lights

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.yhsif.com/lifxlan"
	"go.yhsif.com/lifxlan/light"
)

// maxReconnectAttempts is the session-repair budget for a failed command:
// one discovery re-run, one retry, then the error surfaces.
const maxReconnectAttempts = 1

const lifxDiscoverTimeout = 5 * time.Second

// LIFXController speaks the LIFX binary LAN protocol over UDP broadcast.
// Discovery is a timed broadcast listen deduplicated by hardware target;
// capability bits come from the product table keyed by the reported
// hardware version.
type LIFXController struct {
	mu      sync.RWMutex
	logger  *log.Logger
	devices map[DeviceID]lifxlan.Device
	lights  map[DeviceID]light.Device
}

func NewLIFXController(logger *log.Logger) *LIFXController {
	return &LIFXController{
		logger:  logger.WithPrefix("lifx"),
		devices: make(map[DeviceID]lifxlan.Device),
		lights:  make(map[DeviceID]light.Device),
	}
}

func (c *LIFXController) Brand() Brand {
	return BrandLIFX
}

func (c *LIFXController) Discover(ctx context.Context) ([]Device, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, lifxDiscoverTimeout)
	defer cancel()

	ch := make(chan lifxlan.Device)
	go func() {
		_ = lifxlan.Discover(discoverCtx, ch, "")
	}()

	seen := make(map[string]bool)
	var result []Device

	for raw := range ch {
		target := raw.Target().String()
		if seen[target] {
			continue
		}
		seen[target] = true

		labelCtx, labelCancel := context.WithTimeout(ctx, 2*time.Second)
		ld, err := light.Wrap(labelCtx, raw, false)
		labelCancel()
		if err != nil {
			continue
		}

		// Hardware version and firmware are best-effort; a light that
		// refuses to answer still gets registered.
		versionCtx, versionCancel := context.WithTimeout(ctx, 2*time.Second)
		_ = raw.GetHardwareVersion(versionCtx, nil)
		versionCancel()

		firmwareCtx, firmwareCancel := context.WithTimeout(ctx, 2*time.Second)
		_ = raw.GetFirmware(firmwareCtx, nil)
		firmwareCancel()

		supportsColor := true
		var minKelvin, maxKelvin int
		var productName string
		if product := raw.HardwareVersion().Parse(); product != nil {
			supportsColor = product.Features.Color.Get()
			productName = product.ProductName
			tr := product.Features.TemperatureRange
			if tr.Valid() {
				minKelvin = int(tr.Min())
				maxKelvin = int(tr.Max())
			}
		}

		var firmwareVersion string
		if fw := raw.Firmware(); fw.String() != lifxlan.EmptyFirmware {
			firmwareVersion = fmt.Sprintf("%d.%d", fw.Major, fw.Minor)
		}

		id := NewDeviceID(BrandLIFX, target)
		host, _, _ := net.SplitHostPort(raw.Target().String())
		if host == "" {
			host = target
		}

		c.mu.Lock()
		c.devices[id] = raw
		c.lights[id] = ld
		c.mu.Unlock()

		name := ld.Label().String()
		if name == lifxlan.EmptyLabel {
			name = fmt.Sprintf("LIFX %s", target)
		}

		result = append(result, Device{
			ID:              id,
			Name:            name,
			Model:           productName,
			LastIP:          host,
			LastSeen:        time.Now(),
			SupportsColor:   supportsColor,
			SupportsKelvin:  true,
			MinKelvin:       minKelvin,
			MaxKelvin:       maxKelvin,
			KelvinStep:      1,
			FirmwareVersion: firmwareVersion,
		})
	}

	return result, nil
}

func (c *LIFXController) SetState(ctx context.Context, id DeviceID, state DeviceState) error {
	ld, conn, err := c.dialWithRepair(ctx, id)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !state.On {
		if err := ld.SetLightPower(ctx, conn, lifxlan.PowerOff, 200*time.Millisecond, false); err != nil {
			return fmt.Errorf("%w: power off %s: %v", ErrUnreachable, id, err)
		}
		return nil
	}

	if err := ld.SetLightPower(ctx, conn, lifxlan.PowerOn, 200*time.Millisecond, false); err != nil {
		return fmt.Errorf("%w: power on %s: %v", ErrUnreachable, id, err)
	}

	color := stateToLIFXColor(state)
	if err := ld.SetColor(ctx, conn, &color, 200*time.Millisecond, false); err != nil {
		return fmt.Errorf("%w: set color %s: %v", ErrUnreachable, id, err)
	}
	return nil
}

func (c *LIFXController) GetState(ctx context.Context, id DeviceID) (DeviceState, error) {
	ld, err := c.getLight(ctx, id)
	if err != nil {
		return DeviceState{}, err
	}

	conn, err := ld.Dial()
	if err != nil {
		return DeviceState{}, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, id, err)
	}
	defer conn.Close()

	power, err := ld.GetPower(ctx, conn)
	if err != nil {
		return DeviceState{}, fmt.Errorf("%w: get power %s: %v", ErrUnreachable, id, err)
	}

	color, err := ld.GetColor(ctx, conn)
	if err != nil {
		return DeviceState{}, fmt.Errorf("%w: get color %s: %v", ErrUnreachable, id, err)
	}

	return lifxColorToState(power, color), nil
}

func (c *LIFXController) TurnOn(ctx context.Context, id DeviceID) error {
	return c.setPower(ctx, id, lifxlan.PowerOn)
}

func (c *LIFXController) TurnOff(ctx context.Context, id DeviceID) error {
	return c.setPower(ctx, id, lifxlan.PowerOff)
}

func (c *LIFXController) setPower(ctx context.Context, id DeviceID, power lifxlan.Power) error {
	ld, conn, err := c.dialWithRepair(ctx, id)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := ld.SetLightPower(ctx, conn, power, 200*time.Millisecond, false); err != nil {
		return fmt.Errorf("%w: set power %s: %v", ErrUnreachable, id, err)
	}
	c.logger.Debug("power set", "device", id, "on", power.On())
	return nil
}

// dialWithRepair opens a session to a known light. A dial failure triggers
// at most maxReconnectAttempts discovery re-runs before the error is
// surfaced to the caller.
func (c *LIFXController) dialWithRepair(ctx context.Context, id DeviceID) (light.Device, net.Conn, error) {
	ld, err := c.getLight(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	for attempt := 0; ; attempt++ {
		conn, err := ld.Dial()
		if err == nil {
			return ld, conn, nil
		}
		if attempt >= maxReconnectAttempts {
			return nil, nil, fmt.Errorf("%w: dial %s after re-discovery: %v", ErrUnreachable, id, err)
		}
		c.logger.Warn("dial failed, re-discovering", "device", id, "err", err)
		ld, err = c.rediscoverDevice(ctx, id)
		if err != nil {
			return nil, nil, err
		}
	}
}

// getLight retrieves a known light, or re-discovers if missing.
func (c *LIFXController) getLight(ctx context.Context, id DeviceID) (light.Device, error) {
	c.mu.RLock()
	ld, ok := c.lights[id]
	c.mu.RUnlock()
	if ok {
		return ld, nil
	}
	c.logger.Info("device not in cache, running discovery", "device", id)
	return c.rediscoverDevice(ctx, id)
}

func (c *LIFXController) rediscoverDevice(ctx context.Context, id DeviceID) (light.Device, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, lifxDiscoverTimeout)
	defer cancel()

	_, _ = c.Discover(discoverCtx)

	c.mu.RLock()
	ld, ok := c.lights[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device %s after re-discovery", ErrNotFound, id)
	}
	c.logger.Info("re-discovered device", "device", id)
	return ld, nil
}

func (c *LIFXController) Close() error {
	return nil
}

func stateToLIFXColor(state DeviceState) lifxlan.Color {
	kelvin := uint16(3500)
	if state.Kelvin != nil {
		kelvin = uint16(*state.Kelvin)
	}

	if state.Color != nil {
		return lifxlan.Color{
			Hue:        uint16(state.Color.H / 360.0 * math.MaxUint16),
			Saturation: uint16(state.Color.S * math.MaxUint16),
			Brightness: uint16(state.Brightness * math.MaxUint16),
			Kelvin:     kelvin,
		}
	}

	return lifxlan.Color{
		Hue:        0,
		Saturation: 0,
		Brightness: uint16(state.Brightness * math.MaxUint16),
		Kelvin:     kelvin,
	}
}

func lifxColorToState(power lifxlan.Power, color *lifxlan.Color) DeviceState {
	kelvin := int(color.Kelvin)
	state := DeviceState{
		On:         power.On(),
		Brightness: float64(color.Brightness) / math.MaxUint16,
		Kelvin:     &kelvin,
	}

	if color.Saturation > 0 {
		state.Color = &Color{
			H: float64(color.Hue) / math.MaxUint16 * 360.0,
			S: float64(color.Saturation) / math.MaxUint16,
			B: float64(color.Brightness) / math.MaxUint16,
		}
	}

	return state
}
