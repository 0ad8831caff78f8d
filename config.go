package main

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/milinda/buildtrackbridge/buildtrack"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultMetricsAddr  = ":9108"
	defaultHubPrefix    = "buildtrack"
	defaultBridgePrefix = "buildtrack-bridge"
)

type Configuration struct {
	Name         string              `hcl:"name"`
	Pin          string              `hcl:"pin"`
	StorageDir   string              `hcl:"storage-dir,optional"`
	PollInterval string              `hcl:"poll-interval,optional"`
	MetricsAddr  *string             `hcl:"metrics-addr,optional"`
	Broker       *Broker             `hcl:"broker,block"`
	Hub          *Topics             `hcl:"hub,block"`
	Bridge       *Topics             `hcl:"bridge,block"`
	Devices      []buildtrack.Device `hcl:"device,block"`
}

type Broker struct {
	Url      string `hcl:"url"`
	UserName string `hcl:"username,optional"`
	Password string `hcl:"password,optional"`
}

type Topics struct {
	Prefix string `hcl:"topic-prefix,optional"`
}

func ParseConfig(configPath string) (c *Configuration, err error) {
	var diags hcl.Diagnostics

	content, err := ioutil.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	file, diags := hclsyntax.ParseConfig(content, configPath, hcl.Pos{Line: 1, Column: 1})
	if diags != nil && diags.HasErrors() {
		return nil, fmt.Errorf("config parse: %w", diags)
	}

	c = &Configuration{}

	diags = gohcl.DecodeBody(file.Body, nil, c)
	if diags != nil && diags.HasErrors() {
		return nil, fmt.Errorf("config parse: %w", diags)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func DefaultConfig() *Configuration {
	c := &Configuration{
		Name: "homekit-buildtrack-bridge",
		Pin:  "865369",
		Broker: &Broker{
			Url:      "tcp://localhost:1883",
			UserName: "",
			Password: "",
		},
	}
	c.applyDefaults()
	return c
}

func (c *Configuration) applyDefaults() {
	if c.PollInterval == "" {
		c.PollInterval = defaultPollInterval.String()
	}
	if c.MetricsAddr == nil {
		addr := defaultMetricsAddr
		c.MetricsAddr = &addr
	}
	if c.Hub == nil {
		c.Hub = &Topics{}
	}
	if c.Hub.Prefix == "" {
		c.Hub.Prefix = defaultHubPrefix
	}
	if c.Bridge == nil {
		c.Bridge = &Topics{}
	}
	if c.Bridge.Prefix == "" {
		c.Bridge.Prefix = defaultBridgePrefix
	}
}

// Validate checks the fields the bridge cannot start without.
func (c *Configuration) Validate() error {
	if c.Broker == nil {
		return fmt.Errorf("config: broker block is required")
	}
	if _, err := c.Poll(); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("config: device %q has an empty id", d.Label)
		}
		if seen[d.ID] {
			return fmt.Errorf("config: duplicate device id %s", d.ID)
		}
		seen[d.ID] = true
	}

	return nil
}

// Poll returns the parsed poll interval.
func (c *Configuration) Poll() (time.Duration, error) {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("config: poll-interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: poll-interval must be positive, got %s", c.PollInterval)
	}
	return d, nil
}
