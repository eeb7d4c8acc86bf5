package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lowaak/bike-bridge/internal/ant"
	"github.com/lowaak/bike-bridge/internal/bike"
	"github.com/lowaak/bike-bridge/internal/ble"
	"github.com/lowaak/bike-bridge/internal/bridge"
	"github.com/lowaak/bike-bridge/internal/config"
	"github.com/lowaak/bike-bridge/internal/ridelog"
	"github.com/lowaak/bike-bridge/internal/security"
	"github.com/lowaak/bike-bridge/internal/serialport"
	"github.com/lowaak/bike-bridge/internal/telemetry"
	"github.com/lowaak/bike-bridge/internal/ui"
)

func main() {
	fs := pflag.NewFlagSet("bike-bridge", pflag.ExitOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// The log file rotates so a bridge left running for months does not
	// eat the disk.
	logger := log.New(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
	}, "", log.LstdFlags)
	logger.Printf("bike-bridge starting")

	mock, _ := fs.GetBool("mock")
	showUI, _ := fs.GetBool("ui")

	source, transport, port, err := buildCollaborators(logger, cfg, mock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		logger.Printf("startup error: %v", err)
		os.Exit(1)
	}

	rideLog, err := ridelog.NewWriter(logger, cfg.RideLogDir)
	if err != nil {
		logger.Printf("ride logging disabled: %v", err)
		rideLog = nil
	}

	gate := security.NewGate(logger, security.SystemClock(), cfg.Whitelist, cfg.AllowedOpcodes, cfg.RateLimitInterval)
	translator := bike.NewTranslator(logger, cfg.BikeLimits)
	aggregator := telemetry.NewAggregator(logger)

	b := bridge.New(logger, bridge.Options{
		Gate:          gate,
		Translator:    translator,
		Aggregator:    aggregator,
		Source:        source,
		Transport:     transport,
		Port:          port,
		RideLog:       rideLog,
		CycleInterval: cfg.CycleInterval,
	})

	if err := transport.Start(cfg.DeviceName); err != nil {
		fmt.Fprintf(os.Stderr, "BLE startup error: %v\n", err)
		logger.Printf("BLE startup error: %v", err)
		os.Exit(1)
	}
	if err := b.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "bridge startup error: %v\n", err)
		logger.Printf("bridge startup error: %v", err)
		os.Exit(1)
	}

	if showUI {
		runWithDashboard(logger, b, gate)
	} else {
		waitForSignal(logger)
	}

	b.Stop()
	logger.Printf("bike-bridge stopped")
}

// buildCollaborators picks real or simulated hardware ends. --mock
// replaces all three; otherwise the ANT+ source still falls back to
// simulation when no stick port is configured.
func buildCollaborators(logger *log.Logger, cfg *config.Config, mock bool) (ant.Source, ble.Transport, serialport.Port, error) {
	if mock {
		return ant.NewSimulatedSource(logger, 0), ble.NewMockTransport(logger), serialport.NewMockPort(logger), nil
	}

	var source ant.Source
	if cfg.AntStickPort == "" {
		logger.Printf("no ANT+ stick configured, using simulated telemetry")
		source = ant.NewSimulatedSource(logger, 0)
	} else {
		stick, err := ant.OpenStick(logger, cfg.AntStickPort)
		if err != nil {
			return nil, nil, nil, err
		}
		source = stick
	}

	port, err := serialport.Open(logger, cfg.SerialPort, cfg.SerialBaud)
	if err != nil {
		return nil, nil, nil, err
	}

	return source, ble.NewPeripheral(logger), port, nil
}

func runWithDashboard(logger *log.Logger, b *bridge.Bridge, gate *security.Gate) {
	dash := ui.NewDashboard(logger)

	// A signal still closes the dashboard cleanly when the user never
	// presses Escape.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		dash.Stop()
	}()

	if err := dash.Run(b, gate); err != nil {
		logger.Printf("dashboard error: %v", err)
	}
}

func waitForSignal(logger *log.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Printf("received %v, shutting down", sig)
}
