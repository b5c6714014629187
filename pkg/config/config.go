package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Bus         BusConfig         `yaml:"bus"`
	SPI         SPIConfig         `yaml:"spi"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	Ready       ReadyConfig       `yaml:"ready"`
	Console     ConsoleConfig     `yaml:"console"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Fit         FitConfig         `yaml:"fit"`
	Mock        MockConfig        `yaml:"mock"`
}

// BusConfig contains the register bus (I²C) configuration.
type BusConfig struct {
	Name    string `yaml:"name"`    // periph bus name, empty selects the first bus
	Address uint16 `yaml:"address"` // peripheral address
}

// SPIConfig contains the sample link configuration.
type SPIConfig struct {
	Port    string `yaml:"port"` // periph port name, empty selects the first port
	SpeedHz int64  `yaml:"speed_hz"`
	Mode    int    `yaml:"mode"`
}

// TriggerConfig contains the trigger line configuration.
type TriggerConfig struct {
	Pin   string        `yaml:"pin"`
	Pulse time.Duration `yaml:"pulse"`
}

// ReadyConfig contains the optional acquisition-complete line.
type ReadyConfig struct {
	Pin string `yaml:"pin"` // empty disables the ready line and falls back to the settle time
}

// ConsoleConfig contains the optional serial console of the peripheral.
type ConsoleConfig struct {
	Port     string `yaml:"port"` // empty disables the console monitor
	BaudRate int    `yaml:"baud_rate"`
}

// AcquisitionConfig contains acquisition protocol parameters.
type AcquisitionConfig struct {
	SettleMargin time.Duration `yaml:"settle_margin"` // added to the computed capture duration
}

// FitConfig contains curve fitting parameters.
type FitConfig struct {
	Method        string  `yaml:"method"`  // lm, nelder-mead or lbfgs
	Workers       int     `yaml:"workers"` // concurrent segment fits (1 = sequential)
	MaxIterations int     `yaml:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance"`
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	RC         float64 `yaml:"rc"`          // Simulated time constant (s)
	Amplitude  float64 `yaml:"amplitude"`   // Charged level as a fraction of full scale
	Offset     float64 `yaml:"offset"`      // Discharged level as a fraction of full scale
	NoiseLevel float64 `yaml:"noise_level"` // Gaussian noise (fraction of full scale)
	Seed       int64   `yaml:"seed"`        // Noise generator seed
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Name:    "",
			Address: 0x42,
		},
		SPI: SPIConfig{
			Port:    "",
			SpeedHz: 10_000_000,
			Mode:    3,
		},
		Trigger: TriggerConfig{
			Pin:   "GPIO16",
			Pulse: 10 * time.Millisecond,
		},
		Console: ConsoleConfig{
			BaudRate: 115200,
		},
		Acquisition: AcquisitionConfig{
			SettleMargin: 100 * time.Millisecond,
		},
		Fit: FitConfig{
			Method:        "lm",
			Workers:       1,
			MaxIterations: 1000,
			Tolerance:     1e-16,
		},
		Mock: MockConfig{
			RC:         0.01,
			Amplitude:  0.8,
			Offset:     0.05,
			NoiseLevel: 0.002,
			Seed:       1,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Bus.Address == 0 {
		c.Bus.Address = def.Bus.Address
	}

	if c.SPI.SpeedHz == 0 {
		c.SPI.SpeedHz = def.SPI.SpeedHz
	}

	if c.Trigger.Pin == "" {
		c.Trigger.Pin = def.Trigger.Pin
	}
	if c.Trigger.Pulse == 0 {
		c.Trigger.Pulse = def.Trigger.Pulse
	}

	if c.Console.BaudRate == 0 {
		c.Console.BaudRate = def.Console.BaudRate
	}

	if c.Acquisition.SettleMargin == 0 {
		c.Acquisition.SettleMargin = def.Acquisition.SettleMargin
	}

	if c.Fit.Method == "" {
		c.Fit.Method = def.Fit.Method
	}
	if c.Fit.Workers <= 0 {
		c.Fit.Workers = def.Fit.Workers
	}
	if c.Fit.MaxIterations == 0 {
		c.Fit.MaxIterations = def.Fit.MaxIterations
	}
	if c.Fit.Tolerance == 0 {
		c.Fit.Tolerance = def.Fit.Tolerance
	}

	if c.Mock.RC == 0 {
		c.Mock.RC = def.Mock.RC
	}
	if c.Mock.Amplitude == 0 {
		c.Mock.Amplitude = def.Mock.Amplitude
	}
}
