package buildtrack

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return t.Wait() }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the hub and bus use.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	published  []published
	publishErr error
	subErr     error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr == nil {
		c.handlers[topic] = callback
	}
	return newFakeToken(c.subErr)
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.published = append(c.published, published{topic: topic, payload: b})
	return newFakeToken(c.publishErr)
}

func (c *fakeClient) deliver(topic string, payload string) {
	c.mu.Lock()
	handler := c.handlers[topic]
	c.mu.Unlock()
	handler(c, fakeMessage{topic: topic, payload: []byte(payload)})
}

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

func TestMQTTHubDevicesOfType(t *testing.T) {
	light := Device{ID: "77", Kind: "light"}
	hub := NewMQTTHub(newFakeClient(), "buildtrack", []Device{ceilingFan, light})

	fans, err := hub.DevicesOfType(context.Background(), KindFan)
	require.NoError(t, err)
	assert.Equal(t, []Device{ceilingFan}, fans)
}

func TestMQTTHubTracksState(t *testing.T) {
	client := newFakeClient()
	hub := NewMQTTHub(client, "buildtrack", []Device{ceilingFan})
	ctx := context.Background()

	_, err := hub.DeviceState(ctx, "3401")
	assert.ErrorIs(t, err, ErrNoState)

	require.NoError(t, hub.ListenDeviceState(ctx, "3401"))
	require.NoError(t, hub.ListenDeviceState(ctx, "3401"))
	assert.Len(t, client.handlers, 1)

	client.deliver("buildtrack/devices/3401/state", `{"state":"ON","speed":35}`)
	state, err := hub.DeviceState(ctx, "3401")
	require.NoError(t, err)
	assert.Equal(t, 35, state.Speed)
	on, err := hub.IsDeviceOn(ctx, "3401")
	require.NoError(t, err)
	assert.True(t, on)

	client.deliver("buildtrack/devices/3401/state", `not json`)
	state, err = hub.DeviceState(ctx, "3401")
	require.NoError(t, err)
	assert.Equal(t, 35, state.Speed)

	client.deliver("buildtrack/devices/3401/state", `{"state":"OFF","speed":35}`)
	on, err = hub.IsDeviceOn(ctx, "3401")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestMQTTHubUnknownDevice(t *testing.T) {
	hub := NewMQTTHub(newFakeClient(), "buildtrack", []Device{ceilingFan})
	ctx := context.Background()

	assert.ErrorIs(t, hub.ListenDeviceState(ctx, "999"), ErrUnknownDevice)
	_, err := hub.IsDeviceOn(ctx, "999")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.ErrorIs(t, hub.SwitchOff(ctx, "999"), ErrUnknownDevice)
}

func TestMQTTHubSubscribeError(t *testing.T) {
	client := newFakeClient()
	client.subErr = errors.New("not authorized")
	hub := NewMQTTHub(client, "buildtrack", []Device{ceilingFan})

	err := hub.ListenDeviceState(context.Background(), "3401")
	assert.ErrorIs(t, err, client.subErr)

	client.subErr = nil
	require.NoError(t, hub.ListenDeviceState(context.Background(), "3401"))
}

func TestMQTTHubSwitchCommands(t *testing.T) {
	client := newFakeClient()
	hub := NewMQTTHub(client, "buildtrack", []Device{ceilingFan})
	ctx := context.Background()

	speed := 50
	require.NoError(t, hub.SwitchOn(ctx, "3401", &speed))
	require.NoError(t, hub.SwitchOn(ctx, "3401", nil))
	require.NoError(t, hub.SwitchOff(ctx, "3401"))

	msgs := client.messages()
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, "buildtrack/devices/3401/set", m.topic)
	}
	assert.JSONEq(t, `{"state":"ON","speed":50}`, string(msgs[0].payload))
	assert.JSONEq(t, `{"state":"ON"}`, string(msgs[1].payload))
	assert.JSONEq(t, `{"state":"OFF"}`, string(msgs[2].payload))
}

func TestMQTTHubPublishError(t *testing.T) {
	client := newFakeClient()
	client.publishErr = errors.New("connection lost")
	hub := NewMQTTHub(client, "buildtrack", []Device{ceilingFan})

	err := hub.SwitchOff(context.Background(), "3401")
	assert.ErrorIs(t, err, client.publishErr)
}

func TestWaitTokenHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pending := &fakeToken{done: make(chan struct{})}
	assert.ErrorIs(t, waitToken(ctx, pending), context.Canceled)
}

func TestMQTTBusFire(t *testing.T) {
	client := newFakeClient()
	bus := NewMQTTBus(client, "buildtrack-bridge")

	bus.Fire(EventFanStateChange, StateChange{Integration: Integration, EntityName: "Bedroom Ceiling Fan", State: "on"})

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "buildtrack-bridge/events/buildtrack_fan_state_change", msgs[0].topic)

	var got StateChange
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "Bedroom Ceiling Fan", got.EntityName)
	assert.Equal(t, "on", got.State)
	assert.Equal(t, "buildtrack", got.Integration)
}

func TestMetricsBusCountsStateChanges(t *testing.T) {
	next := &recordingBus{}
	bus := NewMetricsBus(next)

	change := StateChange{Integration: Integration, EntityName: "Bedroom Ceiling Fan", State: "on"}
	bus.Fire(EventFanStateChange, change)
	bus.Fire(EventFanStateChange, change)
	bus.Fire("other_event", "ignored")

	assert.Len(t, next.events, 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(bus.changes.WithLabelValues("Bedroom Ceiling Fan", "on")))
	assert.Equal(t, 1, testutil.CollectAndCount(bus))
}
