package lights

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openhue/openhue-go"
)

// HueBridge is the paired credential a bridge connection is built from:
// the bridge address and the opaque application key obtained by pairing.
type HueBridge struct {
	IP    string
	Token string
}

// HueController drives lights through one or more Hue bridges over the
// CLIP v2 HTTPS API. It has no independent discovery: bridges must be
// registered (address + token) before anything works, and Discover then
// rebuilds device descriptors from the bridge's light and device
// resources.
type HueController struct {
	mu      sync.RWMutex
	logger  *log.Logger
	bridges map[string]*hueConnection
}

type hueConnection struct {
	bridge  HueBridge
	client  *openhue.ClientWithResponses
	devices map[DeviceID]hueDeviceInfo
}

type hueDeviceInfo struct {
	lightID string
	name    string
}

func NewHueController(logger *log.Logger) *HueController {
	return &HueController{
		logger:  logger.WithPrefix("hue"),
		bridges: make(map[string]*hueConnection),
	}
}

func (c *HueController) Brand() Brand {
	return BrandHue
}

// NewHueHTTPClient returns a client that accepts the bridge's self-signed
// certificate. The CLIP v2 API is HTTPS-only.
func NewHueHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

func (c *HueController) AddBridge(ip, token string) error {
	apiURL := fmt.Sprintf("https://%s", ip)
	client, err := openhue.NewClientWithResponses(
		apiURL,
		openhue.WithHTTPClient(NewHueHTTPClient(0)),
		openhue.WithRequestEditorFn(func(ctx context.Context, req *http.Request) error {
			req.Header.Set("hue-application-key", token)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("create client for bridge %s: %w", ip, err)
	}

	c.mu.Lock()
	c.bridges[ip] = &hueConnection{
		bridge:  HueBridge{IP: ip, Token: token},
		client:  client,
		devices: make(map[DeviceID]hueDeviceInfo),
	}
	c.mu.Unlock()

	return nil
}

func (c *HueController) Discover(ctx context.Context) ([]Device, error) {
	c.mu.RLock()
	bridges := make([]*hueConnection, 0, len(c.bridges))
	for _, b := range c.bridges {
		bridges = append(bridges, b)
	}
	c.mu.RUnlock()

	c.logger.Debug("discover", "bridges", len(bridges))

	var result []Device

	for _, conn := range bridges {
		resp, err := conn.client.GetLightsWithResponse(ctx)
		if err != nil {
			c.logger.Warn("get lights failed", "bridge", conn.bridge.IP, "err", err)
			continue
		}
		if resp.JSON200 == nil || resp.JSON200.Data == nil {
			c.logger.Warn("bridge returned no light data", "bridge", conn.bridge.IP)
			continue
		}

		// The light's Owner.Rid points at the owning device resource,
		// which carries the product data (model, firmware). Best-effort.
		type hueDeviceMeta struct {
			modelName       string
			firmwareVersion string
		}
		deviceMeta := make(map[string]hueDeviceMeta)
		if devResp, err := conn.client.GetDevicesWithResponse(ctx); err == nil &&
			devResp.JSON200 != nil && devResp.JSON200.Data != nil {
			for _, hd := range *devResp.JSON200.Data {
				if hd.Id == nil || hd.ProductData == nil {
					continue
				}
				meta := hueDeviceMeta{}
				if v := hd.ProductData.ProductName; v != nil {
					meta.modelName = *v
				} else if v := hd.ProductData.ModelId; v != nil {
					meta.modelName = *v
				}
				if v := hd.ProductData.SoftwareVersion; v != nil {
					meta.firmwareVersion = *v
				}
				deviceMeta[*hd.Id] = meta
			}
		}

		for _, l := range *resp.JSON200.Data {
			if l.Id == nil {
				continue
			}
			id := NewDeviceID(BrandHue, *l.Id)
			name := "Hue Light"
			if l.Metadata != nil && l.Metadata.Name != nil {
				name = *l.Metadata.Name
			}

			c.mu.Lock()
			conn.devices[id] = hueDeviceInfo{
				lightID: *l.Id,
				name:    name,
			}
			c.mu.Unlock()

			// The mirek scale is reciprocal, so the schema maximum maps
			// to the Kelvin minimum and vice versa.
			var minKelvin, maxKelvin int
			if l.ColorTemperature != nil && l.ColorTemperature.MirekSchema != nil {
				if v := l.ColorTemperature.MirekSchema.MirekMaximum; v != nil && *v > 0 {
					minKelvin = mirekToKelvin(*v)
				}
				if v := l.ColorTemperature.MirekSchema.MirekMinimum; v != nil && *v > 0 {
					maxKelvin = mirekToKelvin(*v)
				}
			}

			var modelName, firmwareVersion string
			if l.Owner != nil && l.Owner.Rid != nil {
				if meta, ok := deviceMeta[*l.Owner.Rid]; ok {
					modelName = meta.modelName
					firmwareVersion = meta.firmwareVersion
				}
			}

			result = append(result, Device{
				ID:              id,
				Name:            name,
				Model:           modelName,
				LastIP:          conn.bridge.IP,
				LastSeen:        time.Now(),
				SupportsColor:   l.Color != nil,
				SupportsKelvin:  l.ColorTemperature != nil,
				MinKelvin:       minKelvin,
				MaxKelvin:       maxKelvin,
				KelvinStep:      1,
				FirmwareVersion: firmwareVersion,
			})
		}
		c.logger.Debug("bridge queried", "bridge", conn.bridge.IP, "lights", len(result))
	}

	return result, nil
}

func (c *HueController) findDevice(id DeviceID) (*hueConnection, hueDeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.bridges {
		if info, ok := conn.devices[id]; ok {
			return conn, info, true
		}
	}
	return nil, hueDeviceInfo{}, false
}

func (c *HueController) SetState(ctx context.Context, id DeviceID, state DeviceState) error {
	conn, info, ok := c.findDevice(id)
	if !ok {
		return fmt.Errorf("%w: device %s not connected", ErrNotFound, id)
	}

	on := openhue.On{On: &state.On}
	body := openhue.UpdateLightJSONRequestBody{
		On: &on,
	}

	brightness := openhue.Brightness(state.Brightness * 100.0)
	body.Dimming = &openhue.Dimming{Brightness: &brightness}

	// Hue takes chromaticity coordinates, not hue/saturation.
	if state.Color != nil {
		xy := hsbToXY(state.Color.H, state.Color.S, state.Color.B)
		x := float32(xy[0])
		y := float32(xy[1])
		body.Color = &openhue.Color{
			Xy: &openhue.GamutPosition{X: &x, Y: &y},
		}
	}

	if state.Kelvin != nil {
		mirek := kelvinToMirek(*state.Kelvin)
		body.ColorTemperature = &openhue.ColorTemperature{
			Mirek: &mirek,
		}
	}

	resp, err := conn.client.UpdateLightWithResponse(ctx, info.lightID, body)
	if err != nil {
		return fmt.Errorf("%w: update light %s: %v", ErrUnreachable, id, err)
	}
	if resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: bridge returned HTTP %d", ErrProtocol, resp.HTTPResponse.StatusCode)
	}
	return nil
}

func (c *HueController) GetState(ctx context.Context, id DeviceID) (DeviceState, error) {
	conn, info, ok := c.findDevice(id)
	if !ok {
		return DeviceState{}, fmt.Errorf("%w: device %s not connected", ErrNotFound, id)
	}

	resp, err := conn.client.GetLightWithResponse(ctx, info.lightID)
	if err != nil {
		return DeviceState{}, fmt.Errorf("%w: get light %s: %v", ErrUnreachable, id, err)
	}

	if resp.JSON200 == nil || resp.JSON200.Data == nil || len(*resp.JSON200.Data) == 0 {
		return DeviceState{}, fmt.Errorf("%w: no data for device %s", ErrProtocol, id)
	}

	l := (*resp.JSON200.Data)[0]
	state := DeviceState{Brightness: 1.0}

	if l.On != nil && l.On.On != nil {
		state.On = *l.On.On
	}
	if l.Dimming != nil && l.Dimming.Brightness != nil {
		state.Brightness = float64(*l.Dimming.Brightness) / 100.0
	}
	if l.ColorTemperature != nil && l.ColorTemperature.Mirek != nil {
		kelvin := mirekToKelvin(*l.ColorTemperature.Mirek)
		state.Kelvin = &kelvin
	}

	return state, nil
}

func (c *HueController) TurnOn(ctx context.Context, id DeviceID) error {
	return c.SetState(ctx, id, DeviceState{On: true, Brightness: 1.0})
}

func (c *HueController) TurnOff(ctx context.Context, id DeviceID) error {
	return c.SetState(ctx, id, DeviceState{On: false})
}

func (c *HueController) Close() error {
	return nil
}

// Pair performs the link-button handshake against a bridge and returns
// the application key to persist. The bridge rejects the request with a
// type-101 error until its physical button has been pressed.
func (c *HueController) Pair(ctx context.Context, ip string) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"devicetype":        "glowctl#daemon",
		"generateclientkey": true,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("https://%s/api", ip), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := NewHueHTTPClient(5 * time.Second).Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: bridge %s: %v", ErrUnreachable, ip, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("%w: read pairing response: %v", ErrUnreachable, err)
	}

	return parsePairResponse(body)
}

func parsePairResponse(body []byte) (string, error) {
	var results []struct {
		Success *struct {
			Username string `json:"username"`
		} `json:"success,omitempty"`
		Error *struct {
			Type        int    `json:"type"`
			Description string `json:"description"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPairResponse, err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidPairResponse)
	}

	if e := results[0].Error; e != nil {
		if e.Type == 101 {
			return "", ErrLinkButtonNotPressed
		}
		return "", fmt.Errorf("%w: %s", ErrInvalidPairResponse, e.Description)
	}

	if s := results[0].Success; s != nil && s.Username != "" {
		return s.Username, nil
	}

	return "", fmt.Errorf("%w: no username in payload", ErrInvalidPairResponse)
}

// kelvinToMirek converts colour temperature to the bridge's reciprocal
// mirek scale, clamped to the range Hue bridges accept.
func kelvinToMirek(kelvin int) int {
	if kelvin < 2000 {
		kelvin = 2000
	}
	if kelvin > 6535 {
		kelvin = 6535
	}
	return int(math.Round(1_000_000 / float64(kelvin)))
}

func mirekToKelvin(mirek int) int {
	if mirek <= 0 {
		return DefaultKelvin
	}
	return int(math.Round(1_000_000 / float64(mirek)))
}

// hsbToXY converts HSB to CIE xy chromaticity: gamma-corrected linear RGB
// through the Hue primaries matrix, then normalized. Zero input maps to
// the D65 white point.
func hsbToXY(h, s, b float64) [2]float64 {
	r, g, bl := HSBToRGB(h, s, b)
	rf := inverseGamma(float64(r) / 255.0)
	gf := inverseGamma(float64(g) / 255.0)
	bf := inverseGamma(float64(bl) / 255.0)

	x := rf*0.664511 + gf*0.154324 + bf*0.162028
	y := rf*0.283881 + gf*0.668433 + bf*0.047685
	z := rf*0.000088 + gf*0.072310 + bf*0.986039

	sum := x + y + z
	if sum == 0 {
		return [2]float64{0.3127, 0.3290}
	}
	return [2]float64{x / sum, y / sum}
}

func inverseGamma(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}
