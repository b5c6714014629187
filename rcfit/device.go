package main

import (
	"log"

	"github.com/itohio/gorc/pkg/acquire"
	"github.com/itohio/gorc/pkg/config"
	"github.com/itohio/gorc/pkg/picoscope"
)

// openDevice returns the simulated device with --mock, otherwise connects to
// the peripheral over the configured buses.
func openDevice(cfg *config.Config) (picoscope.Device, error) {
	if useMock {
		log.Printf("Using mock device (rc=%v)", cfg.Mock.RC)
		return picoscope.NewMock(&cfg.Mock), nil
	}

	dev := picoscope.NewPeriph(cfg)
	if err := dev.Connect(); err != nil {
		return nil, err
	}
	return dev, nil
}

// openSession opens the device, starts the optional console monitor and
// returns a session owning the device. The returned func stops the console.
func openSession(cfg *config.Config, stim acquire.Stimulus, timing acquire.Timing) (*acquire.Session, func(), error) {
	dev, err := openDevice(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := acquire.Options{
		Pulse:  cfg.Trigger.Pulse,
		Margin: cfg.Acquisition.SettleMargin,
	}

	closeConsole := func() {}
	if cfg.Console.Port != "" && !useMock {
		console := picoscope.NewConsole(cfg.Console.Port, cfg.Console.BaudRate)
		if err := console.Connect(); err != nil {
			log.Printf("Console monitor disabled: %v", err)
		} else {
			opts.Echo = console
			closeConsole = func() {
				if err := console.Close(); err != nil {
					log.Printf("Failed to close console: %v", err)
				}
			}
		}
	}

	session, err := acquire.Open(dev, stim, timing, opts)
	if err != nil {
		closeConsole()
		dev.Close()
		return nil, nil, err
	}
	return session, closeConsole, nil
}
