package lights

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	govee "github.com/swrm-io/go-vee"
)

// goveeSettleDelay is how long the background LAN listener gets to collect
// broadcast announcements before its registry is considered complete.
const goveeSettleDelay = 3 * time.Second

// GoveeController wraps the Govee LAN broadcast protocol. The underlying
// listener is started lazily exactly once and runs for the life of the
// process; discovery reads whatever the listener has registered after the
// settle delay.
type GoveeController struct {
	mu         sync.RWMutex
	logger     *log.Logger
	controller *govee.Controller
	deviceMap  map[DeviceID]*govee.Device
	started    bool
}

func NewGoveeController(logger *log.Logger) *GoveeController {
	// go-vee wants a *slog.Logger; keep it quiet below warnings.
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	return &GoveeController{
		logger:     logger.WithPrefix("govee"),
		controller: govee.NewController(slogger),
		deviceMap:  make(map[DeviceID]*govee.Device),
	}
}

func (c *GoveeController) Brand() Brand {
	return BrandGovee
}

func (c *GoveeController) ensureStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	go func() {
		if err := c.controller.Start(); err != nil {
			c.logger.Warn("listener exited", "err", err)
		}
	}()
	c.started = true
}

func (c *GoveeController) Discover(ctx context.Context) ([]Device, error) {
	c.ensureStarted()

	select {
	case <-time.After(goveeSettleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	devices := c.controller.Devices()
	var result []Device

	c.mu.Lock()
	for _, d := range devices {
		ip := d.IP()
		sku := d.SKU()
		id := NewDeviceID(BrandGovee, ip)
		c.deviceMap[id] = d
		result = append(result, Device{
			ID:             id,
			Name:           fmt.Sprintf("Govee %s (%s)", sku, ip),
			Model:          sku,
			LastIP:         ip,
			LastSeen:       time.Now(),
			SupportsColor:  true,
			SupportsKelvin: true,
		})
	}
	c.mu.Unlock()

	return result, nil
}

func (c *GoveeController) device(id DeviceID) (*govee.Device, error) {
	c.mu.RLock()
	dev, ok := c.deviceMap[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device %s, run discovery first", ErrNotFound, id)
	}
	return dev, nil
}

func (c *GoveeController) SetState(ctx context.Context, id DeviceID, state DeviceState) error {
	dev, err := c.device(id)
	if err != nil {
		return err
	}

	if !state.On {
		return dev.TurnOff()
	}

	if err := dev.TurnOn(); err != nil {
		return err
	}

	if err := dev.SetBrightness(govee.NewBrightness(uint(state.Brightness * 100))); err != nil {
		return err
	}

	if state.Color != nil {
		r, g, b := HSBToRGB(state.Color.H, state.Color.S, state.Color.B)
		return dev.SetColor(govee.Color{R: uint(r), G: uint(g), B: uint(b)})
	}

	if state.Kelvin != nil {
		return dev.SetColorKelvin(govee.NewColorKelvin(uint(*state.Kelvin)))
	}

	return nil
}

// GetState is synthetic: the broadcast protocol has no state query, so a
// known device reports on at full brightness.
func (c *GoveeController) GetState(_ context.Context, id DeviceID) (DeviceState, error) {
	if _, err := c.device(id); err != nil {
		return DeviceState{}, err
	}
	return DeviceState{On: true, Brightness: 1.0}, nil
}

func (c *GoveeController) TurnOn(_ context.Context, id DeviceID) error {
	dev, err := c.device(id)
	if err != nil {
		return err
	}
	return dev.TurnOn()
}

func (c *GoveeController) TurnOff(_ context.Context, id DeviceID) error {
	dev, err := c.device(id)
	if err != nil {
		return err
	}
	return dev.TurnOff()
}

func (c *GoveeController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.controller.Shutdown()
		c.started = false
	}
	return nil
}
