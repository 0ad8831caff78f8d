package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	caccessory "github.com/milinda/buildtrackbridge/accessory"
	"github.com/milinda/buildtrackbridge/buildtrack"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const commandTimeout = 10 * time.Second

// BridgedFan pairs a fan entity with the HomeKit accessory presenting it.
type BridgedFan struct {
	Fan       *buildtrack.Fan
	Accessory *caccessory.Fan
	Transport hc.Transport
}

type pollMetrics struct {
	speed      *prometheus.GaugeVec
	on         *prometheus.GaugeVec
	pollErrors *prometheus.CounterVec
}

func newPollMetrics() *pollMetrics {
	return &pollMetrics{
		speed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "buildtrack_fan_speed_percent",
			Help: "Last polled fan speed (0-100)",
		}, []string{"entity"}),
		on: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "buildtrack_fan_on",
			Help: "Last polled fan power (1=on, 0=off)",
		}, []string{"entity"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "buildtrack_fan_poll_errors_total",
			Help: "Failed fan state polls",
		}, []string{"entity"}),
	}
}

func (m *pollMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.speed, m.on, m.pollErrors}
}

// commandContext bounds one host command; the hub client has no deadline of its own.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

func newFanAccessory(fan *buildtrack.Fan) *caccessory.Fan {
	info := accessory.Info{
		Name:         fan.Name(),
		SerialNumber: fan.ID(),
		Manufacturer: "BuildTrack",
		Model:        fan.PinType(),
	}

	acc := caccessory.NewFan(info, fan.SpeedCount())

	acc.OnIdentify(func() {
		zap.S().Infof("Identifying accessory %s", fan.Name())
	})

	acc.Fan.On.OnValueRemoteUpdate(func(power bool) {
		ctx, cancel := commandContext()
		defer cancel()

		var err error
		if power {
			err = fan.TurnOn(ctx)
		} else {
			err = fan.TurnOff(ctx)
		}
		if err != nil {
			zap.S().Error(err)
		}
	})

	acc.Fan.Speed.OnValueRemoteUpdate(func(speed float64) {
		ctx, cancel := commandContext()
		defer cancel()

		if err := fan.SetPercentage(ctx, int(speed)); err != nil {
			zap.S().Error(err)
		}
	})

	return acc
}

func commandTopic(prefix string, fan *buildtrack.Fan, command string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, fan.ID(), command)
}

func parseStep(payload []byte) (int, error) {
	step, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return 0, fmt.Errorf("invalid step %q", payload)
	}
	return step, nil
}

// subscribeCommands exposes the preset and speed-step commands HomeKit has no
// characteristic for.
func subscribeCommands(client mqtt.Client, prefix string, fan *buildtrack.Fan) error {
	handlers := map[string]func(ctx context.Context, payload []byte) error{
		"preset_mode/set": func(ctx context.Context, payload []byte) error {
			return fan.SetPresetMode(ctx, strings.TrimSpace(string(payload)))
		},
		"percentage/set": func(ctx context.Context, payload []byte) error {
			pct, err := parseStep(payload)
			if err != nil {
				return err
			}
			return fan.SetPercentage(ctx, pct)
		},
		"speed/increase": func(ctx context.Context, payload []byte) error {
			step, err := parseStep(payload)
			if err != nil {
				return err
			}
			return fan.IncreaseSpeed(ctx, step)
		},
		"speed/decrease": func(ctx context.Context, payload []byte) error {
			step, err := parseStep(payload)
			if err != nil {
				return err
			}
			return fan.DecreaseSpeed(ctx, step)
		},
	}

	for command, handle := range handlers {
		topic := commandTopic(prefix, fan, command)

		zap.S().Infof("Accepting %s commands for %s at topic %s", command, fan.Name(), topic)

		if token := client.Subscribe(topic, 0, func(client mqtt.Client, msg mqtt.Message) {
			ctx, cancel := commandContext()
			defer cancel()

			if err := handle(ctx, msg.Payload()); err != nil {
				zap.S().Errorf("%s command for %s failed: %v", command, fan.Name(), err)
			}
		}); token.Wait() && token.Error() != nil {
			return fmt.Errorf("could not subscribe to topic %s: %w", topic, token.Error())
		}
	}

	return nil
}

// Poller refreshes the HomeKit characteristics from the hub, since fan
// entities ask to be polled.
type Poller struct {
	fans     []*BridgedFan
	client   mqtt.Client
	prefix   string
	interval time.Duration
	metrics  *pollMetrics
}

func (p *Poller) Run(ctx context.Context) {
	p.pollAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.pollAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, bf := range p.fans {
		if !bf.Fan.ShouldPoll() {
			continue
		}
		if err := p.poll(ctx, bf); err != nil {
			zap.S().Warnf("Polling %s failed: %v", bf.Fan.Name(), err)
			p.metrics.pollErrors.WithLabelValues(bf.Fan.Name()).Inc()
		}
	}
}

func (p *Poller) poll(ctx context.Context, bf *BridgedFan) error {
	name := bf.Fan.Name()

	on, err := bf.Fan.IsOn(ctx)
	if err != nil {
		return err
	}
	pct, err := bf.Fan.Percentage(ctx)
	if err != nil {
		return err
	}
	preset, err := bf.Fan.PresetMode(ctx)
	if err != nil {
		return err
	}

	bf.Accessory.Fan.On.SetValue(on)
	bf.Accessory.Fan.Speed.SetValue(float64(pct))

	if on {
		p.metrics.on.WithLabelValues(name).Set(1)
	} else {
		p.metrics.on.WithLabelValues(name).Set(0)
	}
	p.metrics.speed.WithLabelValues(name).Set(float64(pct))

	topic := commandTopic(p.prefix, bf.Fan, "preset_mode/state")
	if token := p.client.Publish(topic, 0, true, preset); token.Wait() && token.Error() != nil {
		return fmt.Errorf("could not publish to topic %s: %w", topic, token.Error())
	}

	return nil
}
