package buildtrack

import (
	"context"
	"errors"
)

const KindFan = "fan"

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrNoState       = errors.New("no state reported yet")
)

// Device is a hub-reported device record.
type Device struct {
	RoomName string `hcl:"room-name"`
	RoomID   string `hcl:"room-id"`
	ID       string `hcl:"id"`
	Label    string `hcl:"label"`
	PinType  string `hcl:"pin-type,optional"`
	Kind     string `hcl:"kind,label"`
}

// DeviceState is the last state the hub reported for a device.
type DeviceState struct {
	State string `json:"state"`
	Speed int    `json:"speed"`
}

func (s DeviceState) On() bool {
	return s.State == "ON"
}

// Hub is the slice of the BuildTrack hub client the fan entity depends on.
type Hub interface {
	DevicesOfType(ctx context.Context, kind string) ([]Device, error)
	ListenDeviceState(ctx context.Context, id string) error
	IsDeviceOn(ctx context.Context, id string) (bool, error)
	DeviceState(ctx context.Context, id string) (DeviceState, error)
	// SwitchOn turns the device on. A nil speed leaves the hub at its default
	// or last speed.
	SwitchOn(ctx context.Context, id string, speed *int) error
	SwitchOff(ctx context.Context, id string) error
}
