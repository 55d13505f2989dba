package lights

import "context"

// Controller is the capability contract every brand implements. There is
// no shared base type; each implementation owns its transport entirely,
// including any reconnect policy.
type Controller interface {
	Brand() Brand
	Discover(ctx context.Context) ([]Device, error)
	SetState(ctx context.Context, id DeviceID, state DeviceState) error
	GetState(ctx context.Context, id DeviceID) (DeviceState, error)
	TurnOn(ctx context.Context, id DeviceID) error
	TurnOff(ctx context.Context, id DeviceID) error
	Close() error
}
