package buildtrack

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTHub talks to a BuildTrack hub that mirrors its devices onto an MQTT
// broker. The device inventory is static and comes from configuration.
type MQTTHub struct {
	client  mqtt.Client
	prefix  string
	devices []Device

	mu        sync.RWMutex
	states    map[string]DeviceState
	listening map[string]bool
}

func NewMQTTHub(client mqtt.Client, prefix string, devices []Device) *MQTTHub {
	return &MQTTHub{
		client:    client,
		prefix:    prefix,
		devices:   devices,
		states:    map[string]DeviceState{},
		listening: map[string]bool{},
	}
}

type switchCommand struct {
	State string `json:"state"`
	Speed *int   `json:"speed,omitempty"`
}

func (h *MQTTHub) stateTopic(id string) string {
	return fmt.Sprintf("%s/devices/%s/state", h.prefix, id)
}

func (h *MQTTHub) commandTopic(id string) string {
	return fmt.Sprintf("%s/devices/%s/set", h.prefix, id)
}

func (h *MQTTHub) DevicesOfType(_ context.Context, kind string) ([]Device, error) {
	var devices []Device
	for _, d := range h.devices {
		if d.Kind == kind {
			devices = append(devices, d)
		}
	}
	return devices, nil
}

func (h *MQTTHub) known(id string) bool {
	for _, d := range h.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (h *MQTTHub) ListenDeviceState(ctx context.Context, id string) error {
	if !h.known(id) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	h.mu.Lock()
	if h.listening[id] {
		h.mu.Unlock()
		return nil
	}
	h.listening[id] = true
	h.mu.Unlock()

	topic := h.stateTopic(id)
	zap.S().Infof("Listening for BuildTrack device %s at topic %s", id, topic)

	token := h.client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
		h.handleState(id, msg.Payload())
	})
	if err := waitToken(ctx, token); err != nil {
		h.mu.Lock()
		delete(h.listening, id)
		h.mu.Unlock()
		return fmt.Errorf("subscribe to topic %s: %w", topic, err)
	}

	return nil
}

func (h *MQTTHub) handleState(id string, payload []byte) {
	var state DeviceState
	if err := json.Unmarshal(payload, &state); err != nil {
		zap.S().Errorf("Could not parse state %s for device %s", payload, id)
		return
	}

	h.mu.Lock()
	h.states[id] = state
	h.mu.Unlock()
}

func (h *MQTTHub) DeviceState(_ context.Context, id string) (DeviceState, error) {
	if !h.known(id) {
		return DeviceState{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	h.mu.RLock()
	state, found := h.states[id]
	h.mu.RUnlock()
	if !found {
		return DeviceState{}, fmt.Errorf("%w: %s", ErrNoState, id)
	}
	return state, nil
}

func (h *MQTTHub) IsDeviceOn(ctx context.Context, id string) (bool, error) {
	state, err := h.DeviceState(ctx, id)
	if err != nil {
		return false, err
	}
	return state.On(), nil
}

func (h *MQTTHub) SwitchOn(ctx context.Context, id string, speed *int) error {
	return h.publish(ctx, id, switchCommand{State: "ON", Speed: speed})
}

func (h *MQTTHub) SwitchOff(ctx context.Context, id string) error {
	return h.publish(ctx, id, switchCommand{State: "OFF"})
}

func (h *MQTTHub) publish(ctx context.Context, id string, cmd switchCommand) error {
	if !h.known(id) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	topic := h.commandTopic(id)
	if err := waitToken(ctx, h.client.Publish(topic, 0, false, payload)); err != nil {
		zap.S().Error(err)
		return fmt.Errorf("could not publish to topic %s: %w", topic, err)
	}
	return nil
}

// waitToken blocks until the token completes or ctx is done.
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
