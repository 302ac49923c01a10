package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	serverURL     = flag.String("server", "ws://localhost:9000/ws", "CSMS WebSocket base URL")
	stationID     = flag.String("id", "ST-001", "station id")
	vendor        = flag.String("vendor", "EVPower", "charge point vendor")
	model         = flag.String("model", "SimulatorV1", "charge point model")
	serial        = flag.String("serial", "SIM-001", "serial number")
	firmware      = flag.String("firmware", "1.0.0", "firmware version")
	connectors    = flag.Int("connectors", 2, "number of connectors")
	chargeRateW   = flag.Int64("rate", 22000, "simulated charge rate in watts")
	meterInterval = flag.Duration("meter-interval", 30*time.Second, "meter values interval")
	verbose       = flag.Bool("verbose", false, "verbose logging")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sim := NewSimulator(SimulatorConfig{
		ServerURL:       *serverURL,
		StationID:       *stationID,
		Vendor:          *vendor,
		Model:           *model,
		SerialNumber:    *serial,
		FirmwareVersion: *firmware,
		ConnectorCount:  *connectors,
		ChargeRateW:     *chargeRateW,
		MeterInterval:   *meterInterval,
	}, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down simulator")
		sim.Stop()
	}()

	if err := sim.Connect(); err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}
	if err := sim.Run(); err != nil {
		logger.Fatal("simulator failed", zap.Error(err))
	}
}
