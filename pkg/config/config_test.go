package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, uint16(0x42), cfg.Bus.Address)
	assert.Equal(t, int64(10_000_000), cfg.SPI.SpeedHz)
	assert.Equal(t, 3, cfg.SPI.Mode)
	assert.Equal(t, "GPIO16", cfg.Trigger.Pin)
	assert.Equal(t, 10*time.Millisecond, cfg.Trigger.Pulse)
	assert.Empty(t, cfg.Ready.Pin)
	assert.Empty(t, cfg.Console.Port)
	assert.Equal(t, 115200, cfg.Console.BaudRate)
	assert.Equal(t, 100*time.Millisecond, cfg.Acquisition.SettleMargin)
	assert.Equal(t, "lm", cfg.Fit.Method)
	assert.Equal(t, 1, cfg.Fit.Workers)
	assert.Equal(t, 0.01, cfg.Mock.RC)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "GPIO16", cfg.Trigger.Pin)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
bus:
  name: "/dev/i2c-1"
  address: 0x43

spi:
  port: "/dev/spidev0.0"
  speed_hz: 5000000
  mode: 3

trigger:
  pin: "GPIO20"
  pulse: 5ms

ready:
  pin: "GPIO21"

console:
  port: "/dev/ttyACM0"
  baud_rate: 921600

acquisition:
  settle_margin: 250ms

fit:
  method: nelder-mead
  workers: 4
  max_iterations: 200
  tolerance: 1e-12

mock:
  rc: 0.002
  amplitude: 0.5
  offset: 0.1
  noise_level: 0.01
  seed: 42
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "/dev/i2c-1", cfg.Bus.Name)
	assert.Equal(t, uint16(0x43), cfg.Bus.Address)
	assert.Equal(t, "/dev/spidev0.0", cfg.SPI.Port)
	assert.Equal(t, int64(5000000), cfg.SPI.SpeedHz)
	assert.Equal(t, "GPIO20", cfg.Trigger.Pin)
	assert.Equal(t, 5*time.Millisecond, cfg.Trigger.Pulse)
	assert.Equal(t, "GPIO21", cfg.Ready.Pin)
	assert.Equal(t, "/dev/ttyACM0", cfg.Console.Port)
	assert.Equal(t, 921600, cfg.Console.BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Acquisition.SettleMargin)
	assert.Equal(t, "nelder-mead", cfg.Fit.Method)
	assert.Equal(t, 4, cfg.Fit.Workers)
	assert.Equal(t, 200, cfg.Fit.MaxIterations)
	assert.Equal(t, 1e-12, cfg.Fit.Tolerance)
	assert.Equal(t, 0.002, cfg.Mock.RC)
	assert.Equal(t, int64(42), cfg.Mock.Seed)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
trigger:
  pin: "GPIO5"
fit:
  workers: 0
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "GPIO5", cfg.Trigger.Pin)
	assert.Equal(t, 10*time.Millisecond, cfg.Trigger.Pulse) // default
	assert.Equal(t, uint16(0x42), cfg.Bus.Address)          // default
	assert.Equal(t, 1, cfg.Fit.Workers)                     // default
	assert.Equal(t, "lm", cfg.Fit.Method)                   // default
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Console.Port = "/dev/ttyUSB0"
	cfg.Fit.Workers = 8

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	// Load it back and verify
	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Console.Port)
	assert.Equal(t, 8, loaded.Fit.Workers)
	assert.Equal(t, cfg.Trigger.Pulse, loaded.Trigger.Pulse)
}
