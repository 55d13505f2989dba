package lights

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Brand string

const (
	BrandLIFX   Brand = "lifx"
	BrandHue    Brand = "hue"
	BrandElgato Brand = "elgato"
	BrandGovee  Brand = "govee"
)

const DefaultKelvin = 4000

// DeviceID identifies a device as an explicit (brand, local) pair. The
// local part is brand-specific: a LIFX hardware target, a Hue light
// resource ID, or an IP address for Elgato and Govee. On the wire and in
// the config file it serializes as "brand:local"; only the first colon is
// a separator, so colons inside the local part survive a round trip.
type DeviceID struct {
	Brand Brand
	Local string
}

func NewDeviceID(brand Brand, local string) DeviceID {
	return DeviceID{Brand: brand, Local: local}
}

func ParseDeviceID(s string) (DeviceID, error) {
	brand, local, ok := strings.Cut(s, ":")
	if !ok || brand == "" || local == "" {
		return DeviceID{}, fmt.Errorf("malformed device id %q", s)
	}
	return DeviceID{Brand: Brand(brand), Local: local}, nil
}

func (id DeviceID) String() string {
	return string(id.Brand) + ":" + id.Local
}

func (id DeviceID) IsZero() bool {
	return id.Brand == "" && id.Local == ""
}

func (id DeviceID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *DeviceID) UnmarshalText(b []byte) error {
	parsed, err := ParseDeviceID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

type Device struct {
	ID       DeviceID  `json:"id"`
	Name     string    `json:"name"`
	Model    string    `json:"model,omitempty"`
	LastIP   string    `json:"lastIp"`
	LastSeen time.Time `json:"lastSeen"`

	SupportsColor  bool `json:"supportsColor"`
	SupportsKelvin bool `json:"supportsKelvin"`
	// MinKelvin/MaxKelvin are the device's supported colour-temperature
	// range in Kelvin. Zero means the range is not known.
	MinKelvin  int `json:"minKelvin,omitempty"`
	MaxKelvin  int `json:"maxKelvin,omitempty"`
	KelvinStep int `json:"kelvinStep,omitempty"`

	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	// Room is the user-assigned room label for grouping (e.g. "Bedroom",
	// "Office"). It survives rediscovery of the same identity.
	Room string `json:"room,omitempty"`
}

type DeviceState struct {
	On         bool    `json:"on"`
	Brightness float64 `json:"brightness"`
	Color      *Color  `json:"color,omitempty"`
	Kelvin     *int    `json:"kelvin,omitempty"`
}

// Color is hue/saturation/brightness: H in [0,360), S and B in [0,1].
type Color struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
	B float64 `json:"b"`
}

func HSBToRGB(h, s, b float64) (r, g, bl uint8) {
	if s == 0 {
		v := uint8(b * 255)
		return v, v, v
	}

	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	hh := h / 60.0
	i := int(hh)
	ff := hh - float64(i)
	p := b * (1.0 - s)
	q := b * (1.0 - s*ff)
	t := b * (1.0 - s*(1.0-ff))

	var rr, gg, bb float64
	switch i {
	case 0:
		rr, gg, bb = b, t, p
	case 1:
		rr, gg, bb = q, b, p
	case 2:
		rr, gg, bb = p, b, t
	case 3:
		rr, gg, bb = p, q, b
	case 4:
		rr, gg, bb = t, p, b
	default:
		rr, gg, bb = b, p, q
	}

	return uint8(rr * 255), uint8(gg * 255), uint8(bb * 255)
}
