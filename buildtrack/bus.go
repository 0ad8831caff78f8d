package buildtrack

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// EventBus is the host event bus. Firing never fails from the caller's side.
type EventBus interface {
	Fire(eventType string, data interface{})
}

// MQTTBus publishes events as JSON to <prefix>/events/<event type>.
type MQTTBus struct {
	client mqtt.Client
	prefix string
}

func NewMQTTBus(client mqtt.Client, prefix string) *MQTTBus {
	return &MQTTBus{client: client, prefix: prefix}
}

func (b *MQTTBus) Topic(eventType string) string {
	return fmt.Sprintf("%s/events/%s", b.prefix, eventType)
}

func (b *MQTTBus) Fire(eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		zap.S().Errorf("Could not encode %s event: %v", eventType, err)
		return
	}

	topic := b.Topic(eventType)
	// no wait: the publish completes in the background
	token := b.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			zap.S().Errorf("could not publish to topic %s: %v", topic, token.Error())
		}
	}()
}

// MetricsBus counts fan state changes before handing events to the next bus.
type MetricsBus struct {
	next    EventBus
	changes *prometheus.CounterVec
}

func NewMetricsBus(next EventBus) *MetricsBus {
	return &MetricsBus{
		next: next,
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildtrack_fan_state_changes_total",
			Help: "Fan commands accepted by the hub, by entity and resulting state",
		}, []string{"entity", "state"}),
	}
}

func (b *MetricsBus) Fire(eventType string, data interface{}) {
	if change, ok := data.(StateChange); ok {
		b.changes.WithLabelValues(change.EntityName, change.State).Inc()
	}
	b.next.Fire(eventType, data)
}

func (b *MetricsBus) Describe(ch chan<- *prometheus.Desc) {
	b.changes.Describe(ch)
}

func (b *MetricsBus) Collect(ch chan<- prometheus.Metric) {
	b.changes.Collect(ch)
}
