package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/brutella/hc"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mdp/qrterminal/v3"
	"github.com/milinda/buildtrackbridge/buildtrack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func createLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, error := config.Build()

	if error != nil {
		log.Panic("Cannot initialize logger.", error)
	}

	return logger
}

func connectMqtt(brokerUrl string, userName string, password string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(brokerUrl)

	if len(userName) > 0 && len(password) > 0 {
		opts.SetUsername(userName)
		opts.SetPassword(password)
	}

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	return client, nil
}

func startTransport(c *Configuration, bf *BridgedFan) error {
	var tConfig hc.Config
	if c.StorageDir != "" {
		tConfig = hc.Config{Pin: c.Pin, StoragePath: filepath.Join(c.StorageDir, bf.Fan.ID())}
	} else {
		tConfig = hc.Config{Pin: c.Pin}
	}

	transport, err := hc.NewIPTransport(tConfig, bf.Accessory.Accessory)
	if err != nil {
		return err
	}
	bf.Transport = transport

	go func() {
		uri, err := transport.XHMURI()
		if err != nil {
			zap.S().Warnf("No pairing code for %s: %v", bf.Fan.Name(), err)
		} else {
			png := fmt.Sprintf("%s.png", bf.Fan.ID())
			if err := qrcode.WriteFile(uri, qrcode.Medium, 256, png); err != nil {
				zap.S().Warnf("Could not write pairing code %s: %v", png, err)
			}
			zap.S().Infof("Pairing code for %s:", bf.Fan.Name())
			qrterminal.GenerateHalfBlock(uri, qrterminal.L, os.Stdout)
		}
		transport.Start()
	}()

	return nil
}

func serveMetrics(addr string, collectors ...prometheus.Collector) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		zap.S().Infof("Serving metrics at %s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			zap.S().Errorf("Metrics server stopped: %v", err)
		}
	}()
}

func initialize(ctx context.Context, c *Configuration) []*BridgedFan {
	mqttClient, err := connectMqtt(c.Broker.Url, c.Broker.UserName, c.Broker.Password)
	if err != nil {
		zap.S().Panicf("Cannot connect to MQTT broker at %s", c.Broker.Url)
	}

	hub := buildtrack.NewMQTTHub(mqttClient, c.Hub.Prefix, c.Devices)
	bus := buildtrack.NewMetricsBus(buildtrack.NewMQTTBus(mqttClient, c.Bridge.Prefix))

	fans, err := buildtrack.SetupFans(ctx, hub, bus)
	if err != nil {
		zap.S().Panic(err)
	}
	zap.S().Infof("Bridging %d BuildTrack fans", len(fans))

	var bridged []*BridgedFan
	for _, fan := range fans {
		bf := &BridgedFan{Fan: fan, Accessory: newFanAccessory(fan)}

		if err := startTransport(c, bf); err != nil {
			zap.S().Panic(err)
		}
		if err := subscribeCommands(mqttClient, c.Bridge.Prefix, fan); err != nil {
			zap.S().Panic(err)
		}

		bridged = append(bridged, bf)
	}

	interval, _ := c.Poll()
	metrics := newPollMetrics()
	poller := &Poller{
		fans:     bridged,
		client:   mqttClient,
		prefix:   c.Bridge.Prefix,
		interval: interval,
		metrics:  metrics,
	}
	go poller.Run(ctx)

	if *c.MetricsAddr != "" {
		serveMetrics(*c.MetricsAddr, append(metrics.Collectors(), bus)...)
	}

	return bridged
}

func main() {
	var config *Configuration
	var err error

	configPath := flag.String("config-path", "", "Configuration file path")
	flag.Parse()

	var logger = createLogger()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	if configPath != nil && len(*configPath) > 0 {
		config, err = ParseConfig(*configPath)
		if err != nil {
			zap.S().Panic(err)
		}
	} else {
		zap.S().Info("Using default configuration.")
		config = DefaultConfig()
	}

	zap.S().Infof("HomeKit pin: %s", config.Pin)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fans := initialize(ctx, config)

	hc.OnTermination(func() {
		cancel()
		for _, fan := range fans {
			<-fan.Transport.Stop()
		}

		time.Sleep(500 * time.Millisecond)
		os.Exit(1)
	})

	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	<-quitChannel

	zap.S().Info("buildtrack bridge exiting...")
}
