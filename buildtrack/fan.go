package buildtrack

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	Integration         = "buildtrack"
	EventFanStateChange = "buildtrack_fan_state_change"

	DirectionClockwise = "Clockwise"

	fanSpeedCount = 100
)

// Feature is a fan capability bit as understood by fan-entity hosts.
type Feature uint32

const (
	FeatureSetSpeed Feature = 1 << iota
	FeatureOscillate
	FeatureDirection
	FeaturePresetMode
)

func (f Feature) Has(other Feature) bool {
	return f&other == other
}

// StateChange is the payload fired on the event bus after every fan command.
type StateChange struct {
	Integration string `json:"integration"`
	EntityName  string `json:"entity_name"`
	State       string `json:"state"`
}

// Fan exposes one BuildTrack fan device as a fan entity. It keeps no device
// state of its own; every read goes to the hub.
type Fan struct {
	hub Hub
	bus EventBus
	log *zap.SugaredLogger

	roomID   string
	id       string
	roomName string
	label    string
	pinType  string
}

type FanOption func(*Fan)

func WithLogger(log *zap.SugaredLogger) FanOption {
	return func(f *Fan) {
		f.log = log
	}
}

// NewFan binds a hub fan record and registers for its state updates.
func NewFan(ctx context.Context, hub Hub, bus EventBus, device Device, opts ...FanOption) (*Fan, error) {
	f := &Fan{
		hub:      hub,
		bus:      bus,
		log:      zap.S(),
		roomID:   device.RoomID,
		id:       device.ID,
		roomName: device.RoomName,
		label:    device.Label,
		pinType:  device.PinType,
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := hub.ListenDeviceState(ctx, f.id); err != nil {
		return nil, fmt.Errorf("listen to fan %s: %w", f.id, err)
	}

	return f, nil
}

func (f *Fan) ID() string      { return f.id }
func (f *Fan) RoomID() string  { return f.roomID }
func (f *Fan) PinType() string { return f.pinType }

// Name formulates the entity name from room and device label.
func (f *Fan) Name() string {
	return fmt.Sprintf("%s %s", f.roomName, f.label)
}

func (f *Fan) CurrentDirection() string {
	return DirectionClockwise
}

func (f *Fan) Oscillating() bool {
	return false
}

func (f *Fan) SupportedFeatures() Feature {
	return FeatureSetSpeed | FeaturePresetMode
}

func (f *Fan) SpeedCount() int {
	return fanSpeedCount
}

// ShouldPoll reports that the host has to poll this entity for state.
func (f *Fan) ShouldPoll() bool {
	return true
}

func (f *Fan) PresetModes() []string {
	return PresetModes()
}

func (f *Fan) IsOn(ctx context.Context) (bool, error) {
	on, err := f.hub.IsDeviceOn(ctx, f.id)
	if err != nil {
		return false, fmt.Errorf("fan %s state: %w", f.id, err)
	}
	return on, nil
}

func (f *Fan) Percentage(ctx context.Context) (int, error) {
	state, err := f.hub.DeviceState(ctx, f.id)
	if err != nil {
		return 0, fmt.Errorf("fan %s speed: %w", f.id, err)
	}
	return state.Speed, nil
}

// PresetMode returns the preset matching the current speed, or "" when the
// speed sits outside every preset band.
func (f *Fan) PresetMode(ctx context.Context) (string, error) {
	pct, err := f.Percentage(ctx)
	if err != nil {
		return "", err
	}
	mode, _ := PresetForPercentage(pct)
	return mode, nil
}

func (f *Fan) TurnOn(ctx context.Context) error {
	if err := f.hub.SwitchOn(ctx, f.id, nil); err != nil {
		return fmt.Errorf("switch on fan %s: %w", f.id, err)
	}
	f.fire("on")
	return nil
}

func (f *Fan) TurnOff(ctx context.Context) error {
	if err := f.hub.SwitchOff(ctx, f.id); err != nil {
		return fmt.Errorf("switch off fan %s: %w", f.id, err)
	}
	f.fire("off")
	return nil
}

// SetPercentage switches the fan on at pct. Range checks are the caller's.
func (f *Fan) SetPercentage(ctx context.Context, pct int) error {
	if err := f.hub.SwitchOn(ctx, f.id, &pct); err != nil {
		return fmt.Errorf("set fan %s speed to %d: %w", f.id, pct, err)
	}
	f.fire("percentage")
	return nil
}

// IncreaseSpeed raises the speed by step. A step past 100 is ignored.
//
// The read and the write are separate hub calls, so a change made elsewhere in
// between is overwritten.
func (f *Fan) IncreaseSpeed(ctx context.Context, step int) error {
	current, err := f.Percentage(ctx)
	if err != nil {
		return err
	}
	if current+step > 100 {
		f.log.Debugf("Ignoring speed increase of %d for %s at %d%%", step, f.Name(), current)
		return nil
	}
	return f.SetPercentage(ctx, current+step)
}

// DecreaseSpeed lowers the speed by step, with the same read-then-write race
// as IncreaseSpeed.
func (f *Fan) DecreaseSpeed(ctx context.Context, step int) error {
	current, err := f.Percentage(ctx)
	if err != nil {
		return err
	}
	if current+step < 0 {
		f.log.Debugf("Ignoring speed decrease of %d for %s at %d%%", step, f.Name(), current)
		return nil
	}
	return f.SetPercentage(ctx, current-step)
}

func (f *Fan) SetPresetMode(ctx context.Context, name string) error {
	pct, err := PresetPercentage(name)
	if err != nil {
		return err
	}
	return f.SetPercentage(ctx, pct)
}

func (f *Fan) fire(state string) {
	f.bus.Fire(EventFanStateChange, StateChange{
		Integration: Integration,
		EntityName:  f.Name(),
		State:       state,
	})
}
